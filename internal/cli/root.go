package cli

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/papersync/internal/config"
	"github.com/roach88/papersync/internal/orchestrator"
	"github.com/roach88/papersync/internal/syncerr"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Seams for tests; nil selects the production value.
	LookupEnv     func(string) (string, bool)
	Collaborators func(cfg *config.Config, logger *slog.Logger) (orchestrator.RefStore, orchestrator.Device)
	RunIDs        orchestrator.RunIDGenerator
	Now           func() time.Time
	Retry         *syncerr.RetryPolicy
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the papersync command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "papersync",
		Short: "Sync papers between Zotero, a reMarkable tablet and a notes vault",
		Long: `papersync moves new Zotero papers onto a reMarkable tablet, and once a
paper is read, turns its highlights into an annotated PDF and a note in the
vault, writes the highlights back to Zotero and archives the document.

Run it periodically (cron, launchd, systemd timer); each run is a single
pass that picks up where the previous one stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default "+config.DefaultPath()+")")

	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewReprocessCommand(opts))
	cmd.AddCommand(NewRefreshCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))
	cmd.AddCommand(NewUntrackCommand(opts))

	return cmd
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}
