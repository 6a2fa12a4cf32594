package orchestrator

import (
	"context"
	"time"

	"github.com/roach88/papersync/internal/annotate"
	"github.com/roach88/papersync/internal/device"
	"github.com/roach88/papersync/internal/journal"
	"github.com/roach88/papersync/internal/record"
	"github.com/roach88/papersync/internal/refstore"
	"github.com/roach88/papersync/internal/vault"
)

// RefStore is the reference store surface the lifecycle uses.
type RefStore interface {
	LibraryVersion(ctx context.Context) (int64, error)
	PollChanges(ctx context.Context, since int64) (*refstore.Changes, error)
	Items(ctx context.Context, keys []string) ([]refstore.Item, error)
	Trackable(item refstore.Item) bool
	Attachment(ctx context.Context, itemKey string) (*refstore.Attachment, error)
	WriteAnnotations(ctx context.Context, attachmentKey string, excerpts []record.Excerpt) (int, error)
	AddTag(ctx context.Context, itemKey, tag string) error
	ReplaceTag(ctx context.Context, itemKey, oldTag, newTag string) error
}

// Device is the device store surface the lifecycle uses.
type Device interface {
	EnsureFolders(ctx context.Context) error
	List(ctx context.Context, folder device.Folder) ([]string, error)
	Upload(ctx context.Context, folder device.Folder, name string, pdf []byte) error
	Exists(ctx context.Context, folder device.Folder, name string) (bool, error)
	Download(ctx context.Context, folder device.Folder, name string) ([]byte, error)
	Move(ctx context.Context, name string, from, to device.Folder) error
}

// Vault holds the derived artifacts.
type Vault interface {
	WriteNote(n vault.Note) (bool, error)
	WritePDF(citekey string, data []byte) (bool, error)
	AppendLog(citekey, title string, date time.Time) (bool, error)
	UpdateLogTitle(citekey, title string) (bool, error)
	Rename(oldKey, newKey string) error
}

// Annotator places highlights on a source document.
type Annotator interface {
	Annotate(ctx context.Context, src []byte, excerpts []record.Excerpt) (*annotate.Result, error)
}

// Journal receives one row per committed step. A nil Journal disables it.
type Journal interface {
	BeginRun(ctx context.Context, run journal.Run) error
	FinishRun(ctx context.Context, runID string, at time.Time, totals journal.Totals) error
	Append(ctx context.Context, e journal.Entry) error
}
