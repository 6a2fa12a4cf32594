package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// HistoryEntry is a journal row as read back.
type HistoryEntry struct {
	Seq int64
	Entry
}

// History returns every step recorded for a document, matched by external
// id or citekey, ordered by seq.
//
// Returns an empty slice (not nil) if nothing was recorded.
func (j *Journal) History(ctx context.Context, key string) ([]HistoryEntry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, run_id, external_id, citekey, step, from_status, to_status, outcome, detail, recorded_at
		FROM transitions
		WHERE external_id = ? OR citekey = ?
		ORDER BY seq ASC
	`, key, key)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	history := []HistoryEntry{}
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return history, nil
}

// CountRun returns the number of steps recorded in a run.
func (j *Journal) CountRun(ctx context.Context, runID string) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transitions WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count run: %w", err)
	}
	return n, nil
}

func scanHistory(rows *sql.Rows) (HistoryEntry, error) {
	var h HistoryEntry
	var recorded string
	if err := rows.Scan(&h.Seq, &h.RunID, &h.ExternalID, &h.Citekey, &h.Step,
		&h.FromStatus, &h.ToStatus, &h.Outcome, &h.Detail, &recorded); err != nil {
		return HistoryEntry{}, fmt.Errorf("scan history: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, recorded)
	if err != nil {
		return HistoryEntry{}, fmt.Errorf("parse recorded_at: %w", err)
	}
	h.RecordedAt = t
	return h, nil
}
