package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/papersync/internal/bundle"
	"github.com/roach88/papersync/internal/journal"
	"github.com/roach88/papersync/internal/merge"
	"github.com/roach88/papersync/internal/reconcile"
	"github.com/roach88/papersync/internal/record"
	"github.com/roach88/papersync/internal/refstore"
	"github.com/roach88/papersync/internal/store"
	"github.com/roach88/papersync/internal/syncerr"
	"github.com/roach88/papersync/internal/textnorm"
)

// Mode selects what a run does.
type Mode string

const (
	// ModeSync polls for changes and advances every record.
	ModeSync Mode = "sync"
	// ModeReprocess re-runs processing for processed records matched by
	// title.
	ModeReprocess Mode = "reprocess"
	// ModeRefresh re-reads metadata of every tracked record and reconciles
	// it. Nothing else moves.
	ModeRefresh Mode = "refresh"
)

// Request is one invocation.
type Request struct {
	Mode   Mode
	DryRun bool
	// Title selects ModeReprocess targets by case-insensitive substring.
	Title string
}

// Tags are the workflow tags set on reference items.
type Tags struct {
	Inbox string
	Read  string
}

// Orchestrator runs the lifecycle against one loaded Store.
type Orchestrator struct {
	store     *store.Store
	refs      RefStore
	device    Device
	vault     Vault
	annotator Annotator

	journal        Journal
	logger         *slog.Logger
	now            func() time.Time
	ids            RunIDGenerator
	retry          syncerr.RetryPolicy
	tags           Tags
	importExisting bool
	extractor      bundle.Extractor
	merger         merge.Merger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithJournal records committed steps in j.
func WithJournal(j Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithRunIDs(g RunIDGenerator) Option {
	return func(o *Orchestrator) { o.ids = g }
}

// WithRetryPolicy sets the policy for transient collaborator failures.
func WithRetryPolicy(p syncerr.RetryPolicy) Option {
	return func(o *Orchestrator) { o.retry = p }
}

func WithTags(t Tags) Option {
	return func(o *Orchestrator) { o.tags = t }
}

// WithImportExisting makes a first run track the whole library instead of
// only recording its version.
func WithImportExisting(v bool) Option {
	return func(o *Orchestrator) { o.importExisting = v }
}

// WithMergeOptions tunes the excerpt merger.
func WithMergeOptions(opts merge.Options) Option {
	return func(o *Orchestrator) { o.merger = merge.Merger{Options: opts} }
}

// New wires an Orchestrator. st must already be loaded.
func New(st *store.Store, refs RefStore, dev Device, v Vault, ann Annotator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     st,
		refs:      refs,
		device:    dev,
		vault:     v,
		annotator: ann,
		logger:    slog.Default(),
		now:       time.Now,
		ids:       UUIDv7Generator{},
		retry:     syncerr.DefaultRetryPolicy(),
		tags:      Tags{Inbox: "inbox", Read: "read"},
		merger:    merge.Merger{Options: merge.DefaultOptions()},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.extractor = bundle.Extractor{Logger: o.logger}
	return o
}

// run is the state of one invocation.
type run struct {
	o       *Orchestrator
	id      string
	dryRun  bool
	logger  *slog.Logger
	summary *Summary

	readSet    map[string]bool
	readLoaded bool
}

// Run executes req. The returned summary is valid even when err is non-nil
// and reflects what happened before the run aborted.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Summary, error) {
	if req.Mode == "" {
		req.Mode = ModeSync
	}
	id := o.ids.Generate()
	r := &run{
		o:       o,
		id:      id,
		dryRun:  req.DryRun,
		logger:  o.logger.With("run_id", id),
		summary: newSummary(id, req.Mode, req.DryRun),
	}
	r.logger.Info("run started", "mode", req.Mode, "dry_run", req.DryRun)

	if o.journal != nil && !r.dryRun {
		if err := o.journal.BeginRun(ctx, journal.Run{
			ID: id, Mode: string(req.Mode), DryRun: req.DryRun, StartedAt: o.now(),
		}); err != nil {
			r.logger.Warn("journal unavailable for this run", "error", err)
		}
		defer r.finishJournal(ctx)
	}

	var err error
	switch req.Mode {
	case ModeSync:
		err = r.sync(ctx)
	case ModeReprocess:
		err = r.reprocess(ctx, req.Title)
	case ModeRefresh:
		err = r.refresh(ctx)
	default:
		err = fmt.Errorf("unknown mode %q", req.Mode)
	}

	if !r.summary.Initialized {
		r.summary.Watermark = o.store.Watermark()
	}
	s := r.summary
	r.logger.Info("run finished",
		"succeeded", s.Succeeded, "skipped", s.Skipped,
		"degraded", s.Degraded, "deferred", s.Deferred,
		"tracked", len(s.Tracked), "reconciled", len(s.Reconciled), "removed", len(s.Removed))
	return s, err
}

func (r *run) finishJournal(ctx context.Context) {
	s := r.summary
	totals := journal.Totals{Succeeded: s.Succeeded, Skipped: s.Skipped, Degraded: s.Degraded}
	if err := r.o.journal.FinishRun(context.WithoutCancel(ctx), r.id, r.o.now(), totals); err != nil {
		r.logger.Warn("journal finish failed", "error", err)
	}
}

// retry runs a collaborator call under the retry policy.
func (r *run) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.o.retry.Do(ctx, fn)
}

func (r *run) sync(ctx context.Context) error {
	if !r.dryRun {
		if err := r.retry(ctx, r.o.device.EnsureFolders); err != nil {
			return fmt.Errorf("prepare device folders: %w", err)
		}
	}

	cs, err := r.poll(ctx)
	if err != nil {
		return err
	}

	var planned []*record.DocumentRecord
	if cs != nil {
		if err := r.reconcile(ctx, cs.Changed); err != nil {
			return err
		}
		r.reportRemoved(cs.Removed)
		if planned, err = r.track(ctx, cs.New); err != nil {
			return err
		}
	}

	if err := r.lifecycle(ctx, append(r.o.store.Records(), planned...)); err != nil {
		return err
	}

	if cs != nil && !r.dryRun && cs.LibraryVersion != r.o.store.Watermark() {
		r.o.store.SetWatermark(cs.LibraryVersion)
		if err := r.o.store.SaveAll(nil); err != nil {
			return fmt.Errorf("save watermark: %w", err)
		}
	}
	return nil
}

// poll returns the typed change set since the stored watermark. A first
// run without import_existing only records the library version and
// returns nil.
func (r *run) poll(ctx context.Context) (*reconcile.ChangeSet, error) {
	since := r.o.store.Watermark()
	if since == 0 && !r.o.importExisting {
		var version int64
		if err := r.retry(ctx, func(ctx context.Context) (err error) {
			version, err = r.o.refs.LibraryVersion(ctx)
			return err
		}); err != nil {
			return nil, fmt.Errorf("read library version: %w", err)
		}
		r.summary.Initialized = true
		r.summary.Watermark = version
		r.logger.Info("first run; recording library version without importing", "version", version)
		if !r.dryRun {
			r.o.store.SetWatermark(version)
			if err := r.o.store.SaveAll(nil); err != nil {
				return nil, fmt.Errorf("save watermark: %w", err)
			}
		}
		return nil, nil
	}

	var changes *refstore.Changes
	if err := r.retry(ctx, func(ctx context.Context) (err error) {
		changes, err = r.o.refs.PollChanges(ctx, since)
		return err
	}); err != nil {
		return nil, fmt.Errorf("poll changes: %w", err)
	}
	items, err := r.items(ctx, changes.Keys())
	if err != nil {
		return nil, err
	}
	cs := reconcile.Diff(r.o.store, changes, items, r.o.refs.Trackable)
	r.logger.Info("polled reference store",
		"since", since, "version", cs.LibraryVersion,
		"new", len(cs.New), "changed", len(cs.Changed), "removed", len(cs.Removed))
	return &cs, nil
}

func (r *run) items(ctx context.Context, keys []string) ([]refstore.Item, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	var items []refstore.Item
	if err := r.retry(ctx, func(ctx context.Context) (err error) {
		items, err = r.o.refs.Items(ctx, keys)
		return err
	}); err != nil {
		return nil, fmt.Errorf("fetch items: %w", err)
	}
	return items, nil
}

// reconcile folds metadata edits into records. A failed rename skips only
// that record; the record keeps its old metadata and is diffed again on
// the next run.
func (r *run) reconcile(ctx context.Context, changes []reconcile.Change) error {
	rc := reconcile.Reconciler{Artifacts: r.o.vault, Logger: r.logger, DryRun: r.dryRun}
	for _, ch := range changes {
		rec, ok := r.o.store.Get(ch.ExternalID)
		if !ok {
			continue
		}
		target := rec.Clone()
		out, err := rc.Apply(target, ch, func(k string) bool {
			return r.o.store.CitekeyTaken(k, ch.ExternalID)
		})
		if err != nil {
			r.logger.Warn("metadata reconciliation failed; will retry next run",
				"external_id", ch.ExternalID, "error", err)
			r.summary.add(DocResult{
				ExternalID: rec.ExternalID, Citekey: rec.Citekey, Status: rec.Status,
				Outcome: OutcomeSkipped, Steps: []string{}, Error: err.Error(),
			})
			continue
		}
		r.summary.Reconciled = append(r.summary.Reconciled, out)
		if r.dryRun {
			continue
		}
		if err := r.commit(ctx, target, stepReconcile, rec.Status, strings.Join(ch.Fields, ",")); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) reportRemoved(ids []string) {
	for _, id := range ids {
		rec, _ := r.o.store.Get(id)
		r.logger.Warn("item deleted from reference store; still tracked",
			"external_id", id, "citekey", rec.Citekey)
		r.summary.Removed = append(r.summary.Removed, id)
	}
}

// track creates queued records for new items. In a dry run the records are
// returned for planning instead of being stored.
func (r *run) track(ctx context.Context, items []refstore.Item) ([]*record.DocumentRecord, error) {
	var planned []*record.DocumentRecord
	claimed := map[string]bool{}
	for _, it := range items {
		rec := record.New(it.Key, it.Metadata, r.o.now())
		rec.Citekey = record.ResolveCollision(record.DeriveCitekey(it.Metadata), func(k string) bool {
			return claimed[k] || r.o.store.CitekeyTaken(k, it.Key)
		})
		claimed[rec.Citekey] = true
		r.summary.Tracked = append(r.summary.Tracked, rec.Citekey)

		if r.dryRun {
			planned = append(planned, rec)
			continue
		}
		if err := r.o.store.Add(rec); err != nil {
			return nil, err
		}
		if err := r.commit(ctx, rec, stepTrack, "", ""); err != nil {
			return nil, err
		}
		r.logger.Info("tracking new paper", "external_id", rec.ExternalID, "citekey", rec.Citekey)
	}
	return planned, nil
}

// reprocess resets processed records whose title contains title and runs
// them through processing again.
func (r *run) reprocess(ctx context.Context, title string) error {
	needle := textnorm.Fold(title)
	if needle == "" {
		return fmt.Errorf("reprocess: empty title")
	}
	var targets []*record.DocumentRecord
	for _, rec := range r.o.store.Records() {
		if rec.Status == record.StatusProcessed && strings.Contains(textnorm.Fold(rec.Metadata.Title), needle) {
			targets = append(targets, rec)
		}
	}
	if len(targets) == 0 {
		return fmt.Errorf("reprocess: no processed paper matches %q", title)
	}

	for i, rec := range targets {
		if r.dryRun {
			rec = rec.Clone()
		}
		if err := rec.Reprocess(); err != nil {
			return err
		}
		if !r.dryRun {
			if err := r.commit(ctx, rec, stepReprocess, record.StatusProcessed, ""); err != nil {
				return err
			}
		}
		targets[i] = rec
	}
	return r.lifecycle(ctx, targets)
}

// refresh re-reads every tracked item and reconciles differences. The
// watermark is left alone so the next sync still sees new items.
func (r *run) refresh(ctx context.Context) error {
	recs := r.o.store.Records()
	keys := make([]string, len(recs))
	for i, rec := range recs {
		keys[i] = rec.ExternalID
	}
	items, err := r.items(ctx, keys)
	if err != nil {
		return err
	}
	changes := &refstore.Changes{LibraryVersion: r.o.store.Watermark()}
	cs := reconcile.Diff(r.o.store, changes, items, func(refstore.Item) bool { return false })
	return r.reconcile(ctx, cs.Changed)
}

// commit persists rec and journals the step.
func (r *run) commit(ctx context.Context, rec *record.DocumentRecord, stepName string, from record.Status, detail string) error {
	if err := r.o.store.SaveOne(rec); err != nil {
		return fmt.Errorf("save %s after %s: %w", rec.ExternalID, stepName, err)
	}
	r.journalStep(ctx, rec, stepName, from, ResultSuccess, detail)
	return nil
}

func (r *run) journalStep(ctx context.Context, rec *record.DocumentRecord, stepName string, from record.Status, kind ResultKind, detail string) {
	if r.o.journal == nil || r.dryRun {
		return
	}
	err := r.o.journal.Append(ctx, journal.Entry{
		RunID:      r.id,
		ExternalID: rec.ExternalID,
		Citekey:    rec.Citekey,
		Step:       stepName,
		FromStatus: string(from),
		ToStatus:   string(rec.Status),
		Outcome:    string(kind),
		Detail:     detail,
		RecordedAt: r.o.now(),
	})
	if err != nil {
		r.logger.Warn("journal append failed", "external_id", rec.ExternalID, "step", stepName, "error", err)
	}
}
