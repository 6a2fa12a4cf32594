package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/papersync/internal/record"
)

// StatusRow is one tracked paper in status output.
type StatusRow struct {
	Seq        int64         `json:"seq"`
	Citekey    string        `json:"citekey"`
	ExternalID string        `json:"external_id"`
	Status     record.Status `json:"status"`
	Title      string        `json:"title"`
	Excerpts   int           `json:"excerpts"`
	Degraded   []string      `json:"degraded,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List tracked papers and their lifecycle status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.openApp(cmd, readOnly)
			if err != nil {
				return err
			}
			defer a.Close()

			rows := []StatusRow{}
			for _, rec := range a.store.Records() {
				rows = append(rows, StatusRow{
					Seq:        rec.Seq,
					Citekey:    rec.Citekey,
					ExternalID: rec.ExternalID,
					Status:     rec.Status,
					Title:      rec.Metadata.Title,
					Excerpts:   len(rec.Excerpts),
					Degraded:   rec.Progress.Degraded,
				})
			}
			return rootOpts.formatter(cmd).Success(rows, func(w io.Writer) { renderStatus(w, rows) })
		},
	}
}

func renderStatus(w io.Writer, rows []StatusRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "no papers tracked")
		return
	}
	counts := map[record.Status]int{}
	for _, r := range rows {
		counts[r.Status]++
		line := fmt.Sprintf("%-20s %-32s %s", r.Status, r.Citekey, r.Title)
		if len(r.Degraded) > 0 {
			line += " (degraded: " + strings.Join(r.Degraded, ", ") + ")"
		}
		fmt.Fprintln(w, line)
	}
	var parts []string
	for _, s := range record.Statuses {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", s, n))
		}
	}
	fmt.Fprintf(w, "%d tracked: %s\n", len(rows), strings.Join(parts, ", "))
}
