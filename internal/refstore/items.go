package refstore

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/papersync/internal/record"
)

// maxBatch is the API's item-key limit per request.
const maxBatch = 50

// Changes is the result of one poll.
type Changes struct {
	// Versions maps changed top-level item keys to their current version.
	Versions map[string]int64
	// Deleted lists item keys removed from the library.
	Deleted []string
	// LibraryVersion is the new watermark.
	LibraryVersion int64
}

// Keys returns the changed item keys in sorted order.
func (c *Changes) Keys() []string {
	keys := make([]string, 0, len(c.Versions))
	for k := range c.Versions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Item is a reference item with its extracted metadata.
type Item struct {
	Key      string
	Version  int64
	ItemType string
	// Tags holds every tag on the item, workflow tags included.
	Tags     []string
	Metadata record.Metadata
}

// HasTag reports whether the item carries tag.
func (it Item) HasTag(tag string) bool {
	for _, t := range it.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

type apiItem struct {
	Key     string  `json:"key"`
	Version int64   `json:"version"`
	Data    apiData `json:"data"`
	Meta    struct {
		ParsedDate string `json:"parsedDate"`
	} `json:"meta"`
}

type apiData struct {
	Key         string       `json:"key,omitempty"`
	Version     int64        `json:"version,omitempty"`
	ItemType    string       `json:"itemType"`
	ParentItem  string       `json:"parentItem,omitempty"`
	Title       string       `json:"title,omitempty"`
	Creators    []apiCreator `json:"creators,omitempty"`
	Date        string       `json:"date,omitempty"`
	DOI         string       `json:"DOI,omitempty"`
	URL         string       `json:"url,omitempty"`
	Extra       string       `json:"extra,omitempty"`
	Tags        []apiTag     `json:"tags"`
	ContentType string       `json:"contentType,omitempty"`
	LinkMode    string       `json:"linkMode,omitempty"`
}

type apiCreator struct {
	CreatorType string `json:"creatorType"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	Name        string `json:"name,omitempty"`
}

type apiTag struct {
	Tag string `json:"tag"`
}

// LibraryVersion returns the current library version without listing items.
func (c *Client) LibraryVersion(ctx context.Context) (int64, error) {
	resp, err := c.do(ctx, "library version", request{
		method: http.MethodGet,
		path:   "/items",
		query:  url.Values{"limit": {"0"}},
	})
	if err != nil {
		return 0, err
	}
	return lastModified(resp.header), nil
}

// PollChanges lists top-level items changed and items deleted since the
// given library version.
func (c *Client) PollChanges(ctx context.Context, since int64) (*Changes, error) {
	q := url.Values{"format": {"versions"}, "since": {strconv.FormatInt(since, 10)}}
	var versions map[string]int64
	resp, err := c.getJSON(ctx, "poll changes", "/items/top", q, &versions)
	if err != nil {
		return nil, err
	}
	changes := &Changes{Versions: versions, LibraryVersion: lastModified(resp.header)}
	if changes.Versions == nil {
		changes.Versions = map[string]int64{}
	}

	var deleted struct {
		Items []string `json:"items"`
	}
	if _, err := c.getJSON(ctx, "poll deletions", "/deleted", url.Values{"since": {strconv.FormatInt(since, 10)}}, &deleted); err != nil {
		return nil, err
	}
	changes.Deleted = deleted.Items
	sort.Strings(changes.Deleted)
	return changes, nil
}

// Items fetches full items for keys, in batches. Keys the library no
// longer has are absent from the result.
func (c *Client) Items(ctx context.Context, keys []string) ([]Item, error) {
	var out []Item
	for start := 0; start < len(keys); start += maxBatch {
		end := min(start+maxBatch, len(keys))
		var batch []apiItem
		q := url.Values{"itemKey": {strings.Join(keys[start:end], ",")}}
		if _, err := c.getJSON(ctx, "fetch items", "/items", q, &batch); err != nil {
			return nil, err
		}
		for _, it := range batch {
			out = append(out, c.toItem(it))
		}
	}
	return out, nil
}

func (c *Client) toItem(it apiItem) Item {
	tags := make([]string, 0, len(it.Data.Tags))
	for _, t := range it.Data.Tags {
		tags = append(tags, t.Tag)
	}
	return Item{
		Key:      it.Key,
		Version:  it.Version,
		ItemType: it.Data.ItemType,
		Tags:     tags,
		Metadata: extractMetadata(it, c.cfg.InboxTag, c.cfg.ReadTag),
	}
}

// skipTypes are item types that never carry a readable paper.
var skipTypes = map[string]bool{
	"attachment": true, "note": true, "annotation": true,
	"book": true, "bookSection": true,
	"webpage": true, "blogPost": true, "forumPost": true,
	"presentation": true, "document": true,
	"letter": true, "email": true, "map": true,
	"artwork": true, "film": true, "tvBroadcast": true, "radioBroadcast": true,
	"podcast": true, "audioRecording": true, "videoRecording": true,
	"encyclopediaArticle": true, "dictionaryEntry": true,
	"case": true, "statute": true, "bill": true, "hearing": true,
	"patent": true, "computerProgram": true,
	"interview": true, "instantMessage": true,
}

// Trackable reports whether item is a paper that should enter the
// pipeline: a paper-like type that has not already been read.
func (c *Client) Trackable(item Item) bool {
	if skipTypes[item.ItemType] {
		return false
	}
	return c.cfg.ReadTag == "" || !item.HasTag(c.cfg.ReadTag)
}

// extractMetadata derives the record metadata of an item. Workflow tags
// are dropped from Tags.
func extractMetadata(it apiItem, workflowTags ...string) record.Metadata {
	d := it.Data
	title := strings.TrimSpace(d.Title)
	if title == "" {
		title = "Untitled"
	}
	// translator-added journal suffix: "Title | Science"
	if i := strings.LastIndex(title, " | "); i > 0 {
		title = strings.TrimSpace(title[:i])
	}
	// author prefix: "Amodei — Title"
	if prefix, rest, ok := strings.Cut(title, " — "); ok && creatorPrefix(prefix, d.Creators) {
		title = strings.TrimSpace(rest)
	}

	authors := creatorNames(d.Creators, true)
	if len(authors) == 0 {
		authors = creatorNames(d.Creators, false)
	}

	skip := make(map[string]bool, len(workflowTags))
	for _, t := range workflowTags {
		skip[t] = true
	}
	var tags []string
	for _, t := range d.Tags {
		if !skip[t.Tag] {
			tags = append(tags, t.Tag)
		}
	}

	date := d.Date
	if pd := it.Meta.ParsedDate; len(pd) >= 4 {
		date = pd
	}

	return record.Metadata{
		Title:    title,
		Authors:  authors,
		Date:     date,
		Tags:     tags,
		DOI:      d.DOI,
		URL:      d.URL,
		ItemType: d.ItemType,
		Citekey:  citationKey(d.Extra),
		Version:  it.Version,
	}
}

func creatorNames(creators []apiCreator, authorsOnly bool) []string {
	var names []string
	for _, c := range creators {
		if authorsOnly && c.CreatorType != "author" {
			continue
		}
		switch {
		case c.LastName != "":
			names = append(names, c.LastName)
		case c.Name != "":
			names = append(names, c.Name)
		default:
			names = append(names, "Unknown")
		}
	}
	return names
}

func creatorPrefix(prefix string, creators []apiCreator) bool {
	p := strings.ToLower(strings.TrimSpace(prefix))
	fields := strings.Fields(p)
	if len(fields) == 0 {
		return false
	}
	last := fields[len(fields)-1]
	for _, c := range creators {
		for _, n := range []string{c.LastName, c.Name} {
			n = strings.ToLower(n)
			if n != "" && (n == p || n == last) {
				return true
			}
		}
	}
	return false
}

// citationKey reads a Better BibTeX "Citation Key:" line from extra.
func citationKey(extra string) string {
	for _, line := range strings.Split(extra, "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "Citation Key:"); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

func lastModified(h http.Header) int64 {
	v, _ := strconv.ParseInt(h.Get("Last-Modified-Version"), 10, 64)
	return v
}
