package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/roach88/papersync/internal/record"
	"github.com/roach88/papersync/internal/syncerr"
)

// Schema version tracking:
// 0 - unversioned file: a bare map of external_id -> record
// 1 - versioned envelope with watermark and creation sequence
const currentSchemaVersion = 1

// ErrNewerSchema is returned by Load for a file written by a newer release.
// Such a file is left in place rather than backed up and discarded.
var ErrNewerSchema = errors.New("state schema version is newer than supported")

// State is the persisted document.
type State struct {
	SchemaVersion int                                `json:"schema_version"`
	Watermark     int64                              `json:"watermark"`
	NextSeq       int64                              `json:"next_seq"`
	Documents     map[string]*record.DocumentRecord `json:"documents"`
}

func emptyState() *State {
	return &State{
		SchemaVersion: currentSchemaVersion,
		Documents:     map[string]*record.DocumentRecord{},
	}
}

// Store is the Record Store. It is not safe for concurrent use; runs are
// serialized by Lock.
type Store struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
	state  *State

	// Recovered is set when Load moved a corrupt file aside.
	Recovered  bool
	BackupPath string
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for recovery warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the clock used to name corrupt-file backups.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a Store for the state file at path. Nothing is read until Load.
func New(path string, opts ...Option) *Store {
	s := &Store{
		path:   path,
		logger: slog.Default(),
		now:    time.Now,
		state:  emptyState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the state file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the state file and returns the records keyed by external id.
// A missing file yields an empty store. A file that cannot be decoded or
// validated is backed up and an empty store is returned.
func (s *Store) Load() (map[string]*record.DocumentRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.state = emptyState()
		return s.state.Documents, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	st, decodeErr := decode(data)
	if decodeErr != nil {
		if errors.Is(decodeErr, ErrNewerSchema) {
			return nil, decodeErr
		}
		if err := s.backupCorrupt(decodeErr); err != nil {
			return nil, err
		}
		s.state = emptyState()
		return s.state.Documents, nil
	}

	s.state = st
	return s.state.Documents, nil
}

// decode parses and validates raw state, migrating older layouts.
func decode(data []byte) (*State, error) {
	var probe struct {
		SchemaVersion *int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, syncerr.Wrap(syncerr.KindIntegrity, "store.decode", err)
	}

	if probe.SchemaVersion == nil {
		migrated, err := migrateV0(data)
		if err != nil {
			return nil, syncerr.Wrap(syncerr.KindIntegrity, "store.migrate", err)
		}
		data = migrated
	} else if *probe.SchemaVersion > currentSchemaVersion {
		return nil, fmt.Errorf("%w: %d > %d", ErrNewerSchema, *probe.SchemaVersion, currentSchemaVersion)
	}

	if err := validateSchema(data); err != nil {
		return nil, syncerr.Wrap(syncerr.KindIntegrity, "store.validate", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, syncerr.Wrap(syncerr.KindIntegrity, "store.decode", err)
	}
	if st.Documents == nil {
		st.Documents = map[string]*record.DocumentRecord{}
	}
	for id, rec := range st.Documents {
		if rec.ExternalID != id {
			return nil, syncerr.New(syncerr.KindIntegrity, "store.validate",
				fmt.Sprintf("record keyed %q carries external_id %q", id, rec.ExternalID))
		}
		if rec.Seq >= st.NextSeq {
			st.NextSeq = rec.Seq + 1
		}
	}
	return &st, nil
}

// migrateV0 wraps a bare record map in the versioned envelope, assigning
// creation order by queued_at then external id.
func migrateV0(data []byte) ([]byte, error) {
	var docs map[string]*record.DocumentRecord
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for id, rec := range docs {
		if rec == nil {
			return nil, fmt.Errorf("record %q is null", id)
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := docs[ids[i]], docs[ids[j]]
		if !a.QueuedAt.Equal(b.QueuedAt) {
			return a.QueuedAt.Before(b.QueuedAt)
		}
		return ids[i] < ids[j]
	})

	st := emptyState()
	for _, id := range ids {
		rec := docs[id]
		rec.Seq = st.NextSeq
		st.NextSeq++
		if rec.Excerpts == nil {
			rec.Excerpts = []record.Excerpt{}
		}
		st.Documents[id] = rec
	}
	return json.Marshal(st)
}

func (s *Store) backupCorrupt(cause error) error {
	backup := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
	if err := os.Rename(s.path, backup); err != nil {
		return fmt.Errorf("back up corrupt state: %w", err)
	}
	s.Recovered = true
	s.BackupPath = backup
	s.logger.Warn("state file corrupt; backed up and starting empty",
		"path", s.path, "backup", backup, "error", cause)
	return nil
}

// Records returns the loaded records in creation order.
func (s *Store) Records() []*record.DocumentRecord {
	out := make([]*record.DocumentRecord, 0, len(s.state.Documents))
	for _, rec := range s.state.Documents {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].ExternalID < out[j].ExternalID
	})
	return out
}

// Get returns the record for externalID.
func (s *Store) Get(externalID string) (*record.DocumentRecord, bool) {
	rec, ok := s.state.Documents[externalID]
	return rec, ok
}

// Watermark returns the reference-store version of the last successful poll.
func (s *Store) Watermark() int64 {
	return s.state.Watermark
}

// SetWatermark updates the watermark in memory; persist with SaveAll.
func (s *Store) SetWatermark(v int64) {
	s.state.Watermark = v
}

// Add registers a new record, assigning its creation sequence. It fails if
// a record with the same external id already exists.
func (s *Store) Add(rec *record.DocumentRecord) error {
	if _, exists := s.state.Documents[rec.ExternalID]; exists {
		return fmt.Errorf("record %s already tracked", rec.ExternalID)
	}
	rec.Seq = s.state.NextSeq
	s.state.NextSeq++
	s.state.Documents[rec.ExternalID] = rec
	return nil
}

// Remove drops a record from tracking; persist with SaveAll.
func (s *Store) Remove(externalID string) bool {
	if _, ok := s.state.Documents[externalID]; !ok {
		return false
	}
	delete(s.state.Documents, externalID)
	return true
}

// CitekeyTaken reports whether any record other than exceptID holds key.
func (s *Store) CitekeyTaken(key, exceptID string) bool {
	for id, rec := range s.state.Documents {
		if id != exceptID && rec.Citekey == key {
			return true
		}
	}
	return false
}

// SaveOne stores rec and durably writes the whole state.
func (s *Store) SaveOne(rec *record.DocumentRecord) error {
	if rec.ExternalID == "" {
		return errors.New("save record: empty external_id")
	}
	if _, ok := s.state.Documents[rec.ExternalID]; !ok {
		if err := s.Add(rec); err != nil {
			return err
		}
	} else {
		s.state.Documents[rec.ExternalID] = rec
	}
	return s.write()
}

// SaveAll replaces the stored records with records (keeping existing
// creation order where known) and durably writes the state.
func (s *Store) SaveAll(records map[string]*record.DocumentRecord) error {
	if records != nil {
		for id, rec := range records {
			if rec.ExternalID != id {
				return fmt.Errorf("save all: record keyed %q carries external_id %q", id, rec.ExternalID)
			}
		}
		existing := s.state.Documents
		s.state.Documents = map[string]*record.DocumentRecord{}
		ids := make([]string, 0, len(records))
		for id := range records {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			rec := records[id]
			if prev, ok := existing[id]; ok {
				rec.Seq = prev.Seq
				s.state.Documents[id] = rec
				continue
			}
			if err := s.Add(rec); err != nil {
				return err
			}
		}
	}
	return s.write()
}

// write marshals the state to a temp file beside the target and renames it
// into place.
func (s *Store) write() error {
	s.state.SchemaVersion = currentSchemaVersion
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp state: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}
