// Package reconcile computes what changed in the reference store since the
// last run and folds metadata edits into tracked records and their derived
// artifacts.
package reconcile

import (
	"slices"
	"sort"

	"github.com/roach88/papersync/internal/record"
	"github.com/roach88/papersync/internal/refstore"
)

// ChangeSet is the typed diff of one poll, computed once per run.
type ChangeSet struct {
	// LibraryVersion is the watermark to store once the run commits.
	LibraryVersion int64
	// New holds trackable items that have no record yet.
	New []refstore.Item
	// Changed holds tracked items whose metadata differs from the record.
	Changed []Change
	// Removed lists tracked external ids deleted from the reference store.
	Removed []string
}

// Empty reports whether the poll found nothing to act on.
func (cs ChangeSet) Empty() bool {
	return len(cs.New) == 0 && len(cs.Changed) == 0 && len(cs.Removed) == 0
}

// Change is one tracked item's metadata edit.
type Change struct {
	ExternalID string
	Before     record.Metadata
	After      record.Metadata
	// Fields names the differing metadata fields in a fixed order.
	Fields []string
}

// Has reports whether field changed.
func (c Change) Has(field string) bool {
	return slices.Contains(c.Fields, field)
}

// Tracked looks up records by external id.
type Tracked interface {
	Get(externalID string) (*record.DocumentRecord, bool)
}

// Diff classifies polled items against tracked records. Items that are
// neither tracked nor trackable are ignored; version-only bumps are not
// changes.
func Diff(tracked Tracked, changes *refstore.Changes, items []refstore.Item, trackable func(refstore.Item) bool) ChangeSet {
	cs := ChangeSet{LibraryVersion: changes.LibraryVersion}

	sorted := append([]refstore.Item(nil), items...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	for _, it := range sorted {
		rec, ok := tracked.Get(it.Key)
		if !ok {
			if trackable(it) {
				cs.New = append(cs.New, it)
			}
			continue
		}
		if fields := changedFields(rec.Metadata, it.Metadata); len(fields) > 0 {
			cs.Changed = append(cs.Changed, Change{
				ExternalID: it.Key,
				Before:     rec.Metadata,
				After:      it.Metadata,
				Fields:     fields,
			})
		}
	}

	for _, id := range changes.Deleted {
		if _, ok := tracked.Get(id); ok {
			cs.Removed = append(cs.Removed, id)
		}
	}
	sort.Strings(cs.Removed)
	return cs
}

func changedFields(a, b record.Metadata) []string {
	var fields []string
	add := func(name string, differs bool) {
		if differs {
			fields = append(fields, name)
		}
	}
	add("title", a.Title != b.Title)
	add("authors", !slices.Equal(a.Authors, b.Authors))
	add("date", a.Date != b.Date)
	add("tags", !slices.Equal(a.Tags, b.Tags))
	add("doi", a.DOI != b.DOI)
	add("url", a.URL != b.URL)
	add("item_type", a.ItemType != b.ItemType)
	add("citekey", a.Citekey != b.Citekey)
	return fields
}
