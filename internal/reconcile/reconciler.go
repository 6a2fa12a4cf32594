package reconcile

import (
	"fmt"
	"log/slog"

	"github.com/roach88/papersync/internal/record"
	"github.com/roach88/papersync/internal/vault"
)

// Artifacts is the part of the note vault the reconciler rewrites.
type Artifacts interface {
	Rename(oldKey, newKey string) error
	WriteNote(n vault.Note) (bool, error)
	UpdateLogTitle(citekey, title string) (bool, error)
}

// Reconciler applies metadata changes to records and their artifacts.
type Reconciler struct {
	Artifacts Artifacts
	Logger    *slog.Logger
	// DryRun computes outcomes without touching the vault.
	DryRun bool
}

// Outcome describes what applying one change did, or would do.
type Outcome struct {
	ExternalID   string `json:"external_id"`
	OldCitekey   string `json:"old_citekey"`
	NewCitekey   string `json:"new_citekey"`
	TitleChanged bool   `json:"title_changed"`
	// ArtifactsUpdated is set when the record had derived artifacts that
	// were renamed or rewritten.
	ArtifactsUpdated bool `json:"artifacts_updated"`
}

// Renamed reports whether the citekey changed.
func (o Outcome) Renamed() bool {
	return o.OldCitekey != o.NewCitekey
}

// Apply folds ch into rec. taken reports citekeys held by other records.
// Artifacts are renamed before the note is refreshed, so the note always
// lives under the record's current citekey.
func (r Reconciler) Apply(rec *record.DocumentRecord, ch Change, taken func(string) bool) (Outcome, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	out := Outcome{
		ExternalID:   rec.ExternalID,
		OldCitekey:   rec.Citekey,
		TitleChanged: ch.Has("title"),
	}
	newKey := record.ResolveCollision(record.DeriveCitekey(ch.After), func(k string) bool {
		return k != rec.Citekey && taken(k)
	})
	out.NewCitekey = newKey

	hasArtifacts := rec.Progress.NoteWritten || rec.Progress.Annotated
	if out.Renamed() && hasArtifacts {
		if !r.DryRun {
			if err := r.Artifacts.Rename(rec.Citekey, newKey); err != nil {
				return out, fmt.Errorf("rename %s: %w", rec.Citekey, err)
			}
		}
		out.ArtifactsUpdated = true
	}

	rec.Citekey = newKey
	rec.Metadata = ch.After
	rec.VersionWatermark = ch.After.Version

	if rec.Progress.NoteWritten {
		if !r.DryRun {
			if _, err := r.Artifacts.WriteNote(vault.NoteFor(rec)); err != nil {
				return out, fmt.Errorf("refresh note %s: %w", newKey, err)
			}
			if out.TitleChanged {
				if _, err := r.Artifacts.UpdateLogTitle(newKey, rec.Metadata.Title); err != nil {
					return out, fmt.Errorf("update reading log %s: %w", newKey, err)
				}
			}
		}
		out.ArtifactsUpdated = true
	}

	logger.Info("reconciled metadata",
		"external_id", rec.ExternalID,
		"fields", ch.Fields,
		"citekey", newKey,
		"renamed", out.Renamed(),
		"dry_run", r.DryRun)
	return out, nil
}
