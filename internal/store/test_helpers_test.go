package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/papersync/internal/record"
)

var fixedNow = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

// createTestStore returns a store rooted in a fresh temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	return New(path, WithClock(func() time.Time { return fixedNow }))
}

func createTestRecord(id, citekey string) *record.DocumentRecord {
	rec := record.New(id, record.Metadata{Title: "Paper " + id, Authors: []string{"Smith"}, Version: 3}, fixedNow)
	rec.Citekey = citekey
	return rec
}
