package orchestrator

import (
	"github.com/roach88/papersync/internal/reconcile"
	"github.com/roach88/papersync/internal/record"
)

// DocOutcome summarizes what a run did to one record.
type DocOutcome string

const (
	OutcomeSucceeded DocOutcome = "succeeded"
	OutcomeDegraded  DocOutcome = "degraded"
	OutcomeSkipped   DocOutcome = "skipped"
	OutcomeDeferred  DocOutcome = "deferred"
	// OutcomePlanned marks dry-run entries.
	OutcomePlanned   DocOutcome = "planned"
)

// DocResult is one record's line in the run summary.
type DocResult struct {
	ExternalID string        `json:"external_id"`
	Citekey    string        `json:"citekey"`
	Status     record.Status `json:"status"`
	Outcome    DocOutcome    `json:"outcome"`
	// Steps lists the steps committed, or planned in a dry run.
	Steps    []string `json:"steps"`
	Degraded []string `json:"degraded,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Summary is the report of one run.
type Summary struct {
	RunID  string `json:"run_id"`
	Mode   Mode   `json:"mode"`
	DryRun bool   `json:"dry_run"`

	// Initialized is set on a first run that only recorded the library
	// version.
	Initialized bool  `json:"initialized,omitempty"`
	Watermark   int64 `json:"watermark"`

	Tracked    []string            `json:"tracked"`
	Reconciled []reconcile.Outcome `json:"reconciled"`
	Removed    []string            `json:"removed"`
	Documents  []DocResult         `json:"documents"`

	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Degraded  int `json:"degraded"`
	Deferred  int `json:"deferred"`
}

func newSummary(runID string, mode Mode, dryRun bool) *Summary {
	return &Summary{
		RunID:      runID,
		Mode:       mode,
		DryRun:     dryRun,
		Tracked:    []string{},
		Reconciled: []reconcile.Outcome{},
		Removed:    []string{},
		Documents:  []DocResult{},
	}
}

func (s *Summary) add(d DocResult) {
	switch d.Outcome {
	case OutcomeSucceeded:
		s.Succeeded++
	case OutcomeDegraded:
		s.Degraded++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeDeferred:
		s.Deferred++
	}
	s.Documents = append(s.Documents, d)
}
