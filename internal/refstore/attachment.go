package refstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/roach88/papersync/internal/syncerr"
)

// Attachment is a downloaded source document.
type Attachment struct {
	Key  string
	Data []byte
}

// Fingerprint is the hex SHA-256 of the attachment bytes.
func (a *Attachment) Fingerprint() string {
	sum := sha256.Sum256(a.Data)
	return hex.EncodeToString(sum[:])
}

// Attachment downloads the first stored PDF child of itemKey. A missing
// child or file is a not_found error: the file may still be syncing.
func (c *Client) Attachment(ctx context.Context, itemKey string) (*Attachment, error) {
	key, err := c.pdfAttachmentKey(ctx, itemKey)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, "download attachment", request{method: http.MethodGet, path: "/items/" + key + "/file"})
	if err != nil {
		return nil, err
	}
	if len(resp.body) == 0 {
		return nil, syncerr.New(syncerr.KindNotFound, "download attachment", "attachment "+key+" has no file yet")
	}
	return &Attachment{Key: key, Data: resp.body}, nil
}

func (c *Client) pdfAttachmentKey(ctx context.Context, itemKey string) (string, error) {
	var children []apiItem
	if _, err := c.getJSON(ctx, "list attachments", "/items/"+itemKey+"/children", nil, &children); err != nil {
		return "", err
	}
	for _, ch := range children {
		d := ch.Data
		if d.ItemType == "attachment" && d.ContentType == "application/pdf" &&
			(d.LinkMode == "imported_file" || d.LinkMode == "imported_url") {
			return ch.Key, nil
		}
	}
	return "", syncerr.New(syncerr.KindNotFound, "list attachments", "item "+itemKey+" has no stored PDF")
}
