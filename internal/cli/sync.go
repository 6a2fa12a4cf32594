package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/papersync/internal/annotate"
	"github.com/roach88/papersync/internal/merge"
	"github.com/roach88/papersync/internal/orchestrator"
	"github.com/roach88/papersync/internal/syncerr"
	"github.com/roach88/papersync/internal/vault"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one full sync pass",
		Long: `Poll Zotero for changes, upload new papers to the device, and process
every paper that was moved to the Read folder.

Examples:
  papersync sync
  papersync sync --dry-run --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLifecycle(cmd, rootOpts, orchestrator.Request{Mode: orchestrator.ModeSync, DryRun: dryRun})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would happen without changing anything")
	return cmd
}

// NewReprocessCommand creates the reprocess command.
func NewReprocessCommand(rootOpts *RootOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "reprocess <title-substring>",
		Short: "Re-run processing for already processed papers",
		Long: `Re-extract highlights and rewrite the note, annotated PDF and Zotero
annotations of every processed paper whose title contains the argument
(case-insensitive). Use after adding highlights to an archived document.

Example:
  papersync reprocess "attention is all"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLifecycle(cmd, rootOpts, orchestrator.Request{
				Mode: orchestrator.ModeReprocess, DryRun: dryRun, Title: args[0],
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would happen without changing anything")
	return cmd
}

// NewRefreshCommand creates the refresh command.
func NewRefreshCommand(rootOpts *RootOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Re-read metadata of tracked papers and update notes",
		Long: `Fetch current Zotero metadata for every tracked paper. Changed titles,
authors, dates or tags are folded into the records; a changed citekey
renames the note and PDF and repoints the reading log.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLifecycle(cmd, rootOpts, orchestrator.Request{Mode: orchestrator.ModeRefresh, DryRun: dryRun})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would happen without changing anything")
	return cmd
}

func runLifecycle(cmd *cobra.Command, opts *RootOptions, req orchestrator.Request) error {
	mode := exclusiveWithCredentials
	if req.DryRun {
		mode = planning
	}
	a, err := opts.openApp(cmd, mode)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	refs, dev := opts.collaborators(cfg, a.logger)
	retry := syncerr.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(a.logger),
		orchestrator.WithClock(opts.now),
		orchestrator.WithRetryPolicy(retry),
		orchestrator.WithTags(orchestrator.Tags{Inbox: cfg.Zotero.TagInbox, Read: cfg.Zotero.TagRead}),
		orchestrator.WithImportExisting(cfg.Sync.ImportExisting),
		orchestrator.WithMergeOptions(merge.Options{
			LineTolerance:   cfg.Merge.LineTolerance,
			HorizontalGap:   cfg.Merge.HorizontalGap,
			MaxOverlapWords: cfg.Merge.MaxOverlapWords,
		}),
	}
	if a.journal != nil {
		orchOpts = append(orchOpts, orchestrator.WithJournal(a.journal))
	}
	if opts.RunIDs != nil {
		orchOpts = append(orchOpts, orchestrator.WithRunIDs(opts.RunIDs))
	}

	orch := orchestrator.New(a.store, refs, dev,
		vault.New(cfg.Vault.Path, cfg.Vault.PapersFolder, vault.WithLogger(a.logger)),
		annotate.Annotator{Logger: a.logger},
		orchOpts...)

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum, runErr := orch.Run(ctx, req)
	if sum != nil {
		if err := opts.formatter(cmd).Success(sum, func(w io.Writer) { renderSummary(w, sum) }); err != nil {
			return err
		}
	}

	switch {
	case runErr != nil && syncerr.IsAuth(runErr):
		return WrapExitError(ExitCommandError,
			"authentication failed; check zotero.api_key, or re-pair the device with rmapi", runErr)
	case runErr != nil:
		return WrapExitError(ExitCommandError, fmt.Sprintf("%s run aborted", req.Mode), runErr)
	case sum.Skipped > 0:
		return NewExitError(ExitSkipped, fmt.Sprintf("%d paper(s) skipped; see the log for details", sum.Skipped))
	}
	return nil
}

func renderSummary(w io.Writer, s *orchestrator.Summary) {
	header := fmt.Sprintf("%s run %s", s.Mode, s.RunID)
	if s.DryRun {
		header += " (dry run: nothing was changed)"
	}
	fmt.Fprintln(w, header)

	if s.Initialized {
		fmt.Fprintf(w, "  first run: recorded library version %d; only papers added from now on are synced\n", s.Watermark)
	}
	for _, key := range s.Tracked {
		fmt.Fprintf(w, "  new       %s\n", key)
	}
	for _, rc := range s.Reconciled {
		if rc.Renamed() {
			fmt.Fprintf(w, "  renamed   %s -> %s\n", rc.OldCitekey, rc.NewCitekey)
		} else {
			fmt.Fprintf(w, "  updated   %s\n", rc.NewCitekey)
		}
	}
	for _, id := range s.Removed {
		fmt.Fprintf(w, "  removed   %s (deleted in Zotero, still tracked; papersync untrack to forget it)\n", id)
	}
	for _, d := range s.Documents {
		line := fmt.Sprintf("  %-9s %s [%s]", d.Outcome, d.Citekey, d.Status)
		if len(d.Steps) > 0 {
			line += " " + strings.Join(d.Steps, " > ")
		}
		if len(d.Degraded) > 0 {
			line += " (degraded: " + strings.Join(d.Degraded, ", ") + ")"
		}
		if d.Error != "" {
			line += ": " + d.Error
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "succeeded %d, skipped %d, degraded %d, waiting %d\n",
		s.Succeeded, s.Skipped, s.Degraded, s.Deferred)
}
