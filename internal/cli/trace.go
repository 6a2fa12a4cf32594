package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/papersync/internal/journal"
)

// TraceResult is the history of one paper.
type TraceResult struct {
	Key     string       `json:"key"`
	Entries []TraceEntry `json:"entries"`
}

// TraceEntry is one committed step.
type TraceEntry struct {
	Seq        int64     `json:"seq"`
	RunID      string    `json:"run_id"`
	Citekey    string    `json:"citekey"`
	Step       string    `json:"step"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "trace <citekey|zotero-key>",
		Short: "Show the recorded lifecycle history of a paper",
		Long: `Print every step the journal recorded for a paper, oldest first. Steps
are matched by Zotero item key or by any citekey the paper has had.

Examples:
  papersync trace vaswani_attention_2017
  papersync trace ABCD1234 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			newLogger(cmd.ErrOrStderr(), rootOpts.Verbose)
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			j, err := openJournal(cfg)
			if err != nil {
				return err
			}
			defer j.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			history, err := j.History(ctx, args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "cannot read journal", err)
			}

			result := TraceResult{Key: args[0], Entries: make([]TraceEntry, 0, len(history))}
			for _, h := range history {
				result.Entries = append(result.Entries, traceEntry(h))
			}
			return rootOpts.formatter(cmd).Success(result, func(w io.Writer) { renderTrace(w, result) })
		},
	}
}

func traceEntry(h journal.HistoryEntry) TraceEntry {
	return TraceEntry{
		Seq:        h.Seq,
		RunID:      h.RunID,
		Citekey:    h.Citekey,
		Step:       h.Step,
		FromStatus: h.FromStatus,
		ToStatus:   h.ToStatus,
		Outcome:    h.Outcome,
		Detail:     h.Detail,
		RecordedAt: h.RecordedAt,
	}
}

func renderTrace(w io.Writer, r TraceResult) {
	if len(r.Entries) == 0 {
		fmt.Fprintf(w, "no history for %s\n", r.Key)
		return
	}
	for _, e := range r.Entries {
		from := e.FromStatus
		if from == "" {
			from = "-"
		}
		line := fmt.Sprintf("%s  %-16s %-19s -> %-19s %-7s %s",
			e.RecordedAt.UTC().Format(time.RFC3339), e.Step, from, e.ToStatus, e.Outcome, e.Citekey)
		if e.Detail != "" {
			line += "  " + e.Detail
		}
		fmt.Fprintln(w, line)
	}
}
