package journal

import (
	"context"
	"fmt"
	"time"
)

// Run identifies one orchestrator invocation.
type Run struct {
	ID        string
	Mode      string
	DryRun    bool
	StartedAt time.Time
}

// Entry is one committed step for one document.
type Entry struct {
	RunID      string
	ExternalID string
	Citekey    string
	Step       string
	FromStatus string
	ToStatus   string
	Outcome    string
	Detail     string
	RecordedAt time.Time
}

// Totals are the per-run outcome counts stored when a run finishes.
type Totals struct {
	Succeeded int
	Skipped   int
	Degraded  int
}

// BeginRun inserts a run row. Re-inserting the same id is a no-op.
func (j *Journal) BeginRun(ctx context.Context, run Run) error {
	dry := 0
	if run.DryRun {
		dry = 1
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, mode, dry_run, started_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, run.ID, run.Mode, dry, formatTime(run.StartedAt))
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// FinishRun stamps the run's end time and totals.
func (j *Journal) FinishRun(ctx context.Context, runID string, at time.Time, totals Totals) error {
	_, err := j.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, succeeded = ?, skipped = ?, degraded = ?
		WHERE id = ?
	`, formatTime(at), totals.Succeeded, totals.Skipped, totals.Degraded, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// Append records a committed step. The referenced run must exist.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO transitions
		(run_id, external_id, citekey, step, from_status, to_status, outcome, detail, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		e.RunID,
		e.ExternalID,
		e.Citekey,
		e.Step,
		e.FromStatus,
		e.ToStatus,
		e.Outcome,
		e.Detail,
		formatTime(e.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("append transition: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
