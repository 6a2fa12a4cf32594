package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/papersync/internal/device"
	"github.com/roach88/papersync/internal/record"
	"github.com/roach88/papersync/internal/refstore"
	"github.com/roach88/papersync/internal/syncerr"
	"github.com/roach88/papersync/internal/vault"
)

const (
	stepTrack           = "track"
	stepReconcile       = "reconcile"
	stepReprocess       = "reprocess"
	stepUpload          = "upload"
	stepConfirmUpload   = "confirm_upload"
	stepDetectRead      = "detect_read"
	stepStartProcessing = "start_processing"
	stepExtract         = "extract"
	stepAnnotate        = "annotate"
	stepWriteNote       = "write_note"
	stepWriteBack       = "write_back"
	stepArchive         = "archive"
	stepFinish          = "finish"
	stepPark            = "await_attachment"
)

// maxSteps bounds the steps one record may take in a run.
const maxSteps = 16

// lifecycle advances recs in order. Only a fatal result stops the loop.
func (r *run) lifecycle(ctx context.Context, recs []*record.DocumentRecord) error {
	if err := r.loadReadSet(ctx, recs); err != nil {
		return err
	}
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.dryRun {
			if steps := r.plan(rec); len(steps) > 0 {
				r.summary.add(DocResult{
					ExternalID: rec.ExternalID, Citekey: rec.Citekey, Status: rec.Status,
					Outcome: OutcomePlanned, Steps: steps,
				})
			}
			continue
		}
		res, err := r.drive(ctx, rec)
		if res.Outcome != "" {
			r.summary.add(res)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// loadReadSet lists the device's Read folder once, when some record is
// waiting to be read.
func (r *run) loadReadSet(ctx context.Context, recs []*record.DocumentRecord) error {
	if r.readLoaded {
		return nil
	}
	waiting := false
	for _, rec := range recs {
		if rec.Status == record.StatusOnDevice {
			waiting = true
			break
		}
	}
	if !waiting {
		return nil
	}

	var names []string
	err := r.retry(ctx, func(ctx context.Context) (err error) {
		names, err = r.o.device.List(ctx, device.FolderRead)
		return err
	})
	if res := resultOf(err); res.Kind == ResultFatal {
		return fmt.Errorf("list read folder: %w", err)
	} else if err != nil {
		r.logger.Warn("could not list read folder; read detection postponed", "error", err)
	}
	r.readSet = make(map[string]bool, len(names))
	for _, n := range names {
		r.readSet[n] = true
	}
	r.readLoaded = true
	return nil
}

// drive executes rec's steps until it waits, fails or completes.
func (r *run) drive(ctx context.Context, rec *record.DocumentRecord) (DocResult, error) {
	res := DocResult{ExternalID: rec.ExternalID, Steps: []string{}}
	finish := func(outcome DocOutcome) DocResult {
		res.Citekey = rec.Citekey
		res.Status = rec.Status
		res.Outcome = outcome
		res.Degraded = rec.Progress.Degraded
		return res
	}

	for range maxSteps {
		s, ok := r.next(rec)
		if !ok {
			break
		}
		from := rec.Status
		// Steps mutate a working copy; the record only changes once a step
		// has fully succeeded.
		work := rec.Clone()
		err := r.retry(ctx, func(ctx context.Context) error {
			return s.run(ctx, work)
		})

		switch result := resultOf(err); result.Kind {
		case ResultSuccess:
			*rec = *work
			if err := r.commit(ctx, rec, s.name, from, ""); err != nil {
				return finish(OutcomeSkipped), err
			}
			res.Steps = append(res.Steps, s.name)
			r.logger.Debug("step committed", "citekey", rec.Citekey, "step", s.name, "status", rec.Status)
			continue

		case ResultWait:
			r.logger.Info("waiting for source attachment", "citekey", rec.Citekey, "step", s.name)
			if rec.Status == record.StatusProcessing {
				if err := rec.Advance(record.StatusAwaitingAttachment, r.o.now()); err != nil {
					return finish(OutcomeSkipped), err
				}
				if err := r.commit(ctx, rec, stepPark, from, result.Err.Error()); err != nil {
					return finish(OutcomeSkipped), err
				}
				res.Steps = append(res.Steps, stepPark)
			}
			return finish(OutcomeDeferred), nil

		case ResultFatal:
			r.journalStep(ctx, rec, s.name, from, result.Kind, err.Error())
			res.Error = err.Error()
			return finish(OutcomeSkipped), fmt.Errorf("%s %s: %w", s.name, rec.Citekey, err)

		default:
			r.logger.Warn("step failed; skipping paper for this run",
				"citekey", rec.Citekey, "step", s.name, "result", result.Kind, "error", err)
			r.journalStep(ctx, rec, s.name, from, result.Kind, err.Error())
			res.Error = err.Error()
			return finish(OutcomeSkipped), nil
		}
	}

	if len(res.Steps) == 0 {
		return DocResult{}, nil
	}
	if rec.Status == record.StatusProcessed && rec.Degraded() {
		return finish(OutcomeDegraded), nil
	}
	return finish(OutcomeSucceeded), nil
}

// next picks the step that moves rec forward, if any can run now.
func (r *run) next(rec *record.DocumentRecord) (step, bool) {
	switch rec.Status {
	case record.StatusQueued:
		return step{stepUpload, r.upload}, true
	case record.StatusUploading:
		return step{stepConfirmUpload, r.confirmUpload}, true
	case record.StatusOnDevice:
		if r.readSet[deviceName(rec)] {
			return step{stepDetectRead, r.detectRead}, true
		}
	case record.StatusReadDetected, record.StatusAwaitingAttachment:
		return step{stepStartProcessing, r.startProcessing}, true
	case record.StatusProcessing:
		p := rec.Progress
		switch {
		case !p.Extracted:
			return step{stepExtract, r.extract}, true
		case !p.Annotated:
			return step{stepAnnotate, r.annotate}, true
		case !p.NoteWritten:
			return step{stepWriteNote, r.writeNote}, true
		case !p.WrittenBack:
			return step{stepWriteBack, r.writeBack}, true
		case !p.Archived:
			return step{stepArchive, r.archive}, true
		default:
			return step{stepFinish, r.finish}, true
		}
	}
	return step{}, false
}

// plan lists the steps rec would take, without running any of them.
func (r *run) plan(rec *record.DocumentRecord) []string {
	processing := func(p record.Progress) []string {
		var steps []string
		if !p.Extracted {
			steps = append(steps, stepExtract)
		}
		if !p.Annotated {
			steps = append(steps, stepAnnotate)
		}
		if !p.NoteWritten {
			steps = append(steps, stepWriteNote)
		}
		if !p.WrittenBack {
			steps = append(steps, stepWriteBack)
		}
		if !p.Archived {
			steps = append(steps, stepArchive)
		}
		return append(steps, stepFinish)
	}

	switch rec.Status {
	case record.StatusQueued:
		return []string{stepUpload, stepConfirmUpload}
	case record.StatusUploading:
		return []string{stepConfirmUpload}
	case record.StatusOnDevice:
		if r.readSet[deviceName(rec)] {
			return append([]string{stepDetectRead, stepStartProcessing}, processing(rec.Progress)...)
		}
	case record.StatusReadDetected, record.StatusAwaitingAttachment:
		return append([]string{stepStartProcessing}, processing(rec.Progress)...)
	case record.StatusProcessing:
		return processing(rec.Progress)
	}
	return nil
}

// deviceName is the document name on the device: the one recorded at
// upload, else the sanitized title.
func deviceName(rec *record.DocumentRecord) string {
	if rec.DeviceDocumentID != "" {
		return rec.DeviceDocumentID
	}
	if n := device.SanitizeName(rec.Metadata.Title); n != "" {
		return n
	}
	return rec.Citekey
}

func (r *run) attachment(ctx context.Context, rec *record.DocumentRecord) (*refstore.Attachment, error) {
	att, err := r.o.refs.Attachment(ctx, rec.ExternalID)
	if syncerr.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %v", errNoAttachment, err)
	}
	return att, err
}

func (r *run) upload(ctx context.Context, rec *record.DocumentRecord) error {
	att, err := r.attachment(ctx, rec)
	if err != nil {
		return err
	}
	name := deviceName(rec)
	if err := r.o.device.Upload(ctx, device.FolderInbox, name, att.Data); err != nil {
		return err
	}
	if err := rec.Advance(record.StatusUploading, r.o.now()); err != nil {
		return err
	}
	rec.AttachmentID = att.Key
	rec.ContentFingerprint = att.Fingerprint()
	rec.DeviceDocumentID = name
	rec.DeviceFolder = string(device.FolderInbox)
	return nil
}

// confirmUpload checks the device independently of the upload's own
// result. A document that cannot be found is uploaded again once; if it is
// still missing the step fails as transient and the record stays in
// uploading.
func (r *run) confirmUpload(ctx context.Context, rec *record.DocumentRecord) error {
	name := deviceName(rec)
	present, err := r.o.device.Exists(ctx, device.FolderInbox, name)
	if err != nil {
		return err
	}
	if !present {
		r.logger.Warn("uploaded document not on device; uploading again", "citekey", rec.Citekey, "name", name)
		att, err := r.attachment(ctx, rec)
		if err != nil {
			return err
		}
		if err := r.o.device.Upload(ctx, device.FolderInbox, name, att.Data); err != nil {
			return err
		}
		if present, err = r.o.device.Exists(ctx, device.FolderInbox, name); err != nil {
			return err
		}
		if !present {
			return syncerr.Transient("confirm_upload", fmt.Errorf("%q not found on device after upload", name), 0)
		}
	}
	if err := r.o.refs.AddTag(ctx, rec.ExternalID, r.o.tags.Inbox); err != nil {
		return err
	}
	return rec.Advance(record.StatusOnDevice, r.o.now())
}

func (r *run) detectRead(_ context.Context, rec *record.DocumentRecord) error {
	if err := rec.Advance(record.StatusReadDetected, r.o.now()); err != nil {
		return err
	}
	rec.DeviceFolder = string(device.FolderRead)
	return nil
}

func (r *run) startProcessing(_ context.Context, rec *record.DocumentRecord) error {
	return rec.Advance(record.StatusProcessing, r.o.now())
}

func (r *run) extract(ctx context.Context, rec *record.DocumentRecord) error {
	folder := device.Folder(rec.DeviceFolder)
	if folder == "" {
		folder = device.FolderRead
	}
	data, err := r.o.device.Download(ctx, folder, deviceName(rec))
	if err != nil {
		return err
	}
	res, err := r.o.extractor.Extract(data)
	if err != nil {
		return syncerr.Wrap(syncerr.KindIntegrity, "extract", err)
	}
	rec.Excerpts = r.o.merger.Merge(res.Pages, res.Fragments)
	rec.Engagement = record.ComputeEngagement(rec.Excerpts, len(res.Pages))
	rec.Progress.Extracted = true
	r.logger.Info("extracted highlights",
		"citekey", rec.Citekey, "fragments", len(res.Fragments),
		"discarded", res.Discarded, "excerpts", len(rec.Excerpts),
		"engagement", rec.Engagement.Score)
	return nil
}

func (r *run) annotate(ctx context.Context, rec *record.DocumentRecord) error {
	att, err := r.attachment(ctx, rec)
	if err != nil {
		return err
	}
	if fp := att.Fingerprint(); rec.ContentFingerprint != "" && fp != rec.ContentFingerprint {
		r.logger.Warn("source attachment replaced since upload",
			"citekey", rec.Citekey, "was", rec.ContentFingerprint, "now", fp)
	}

	res, err := r.o.annotator.Annotate(ctx, att.Data, rec.Excerpts)
	if err != nil {
		return err
	}
	if _, err := r.o.vault.WritePDF(rec.Citekey, res.PDF); err != nil {
		return fmt.Errorf("write annotated pdf: %w", err)
	}

	rec.AttachmentID = att.Key
	rec.ContentFingerprint = att.Fingerprint()
	rec.Excerpts = res.Excerpts
	for _, reason := range res.Degraded {
		rec.MarkDegraded(reason)
	}
	rec.Progress.Annotated = true
	return nil
}

func (r *run) writeNote(_ context.Context, rec *record.DocumentRecord) error {
	if _, err := r.o.vault.WriteNote(vault.NoteFor(rec)); err != nil {
		return fmt.Errorf("write note: %w", err)
	}
	if _, err := r.o.vault.AppendLog(rec.Citekey, rec.Metadata.Title, rec.ReadAt); err != nil {
		return fmt.Errorf("append reading log: %w", err)
	}
	rec.Progress.NoteWritten = true
	return nil
}

func (r *run) writeBack(ctx context.Context, rec *record.DocumentRecord) error {
	if rec.AttachmentID == "" {
		return errors.New("write back: no attachment recorded")
	}
	n, err := r.o.refs.WriteAnnotations(ctx, rec.AttachmentID, rec.Excerpts)
	if err != nil {
		return err
	}
	if err := r.o.refs.ReplaceTag(ctx, rec.ExternalID, r.o.tags.Inbox, r.o.tags.Read); err != nil {
		return err
	}
	r.logger.Info("wrote annotations back", "citekey", rec.Citekey, "annotations", n)
	rec.Progress.WrittenBack = true
	return nil
}

func (r *run) archive(ctx context.Context, rec *record.DocumentRecord) error {
	from := device.Folder(rec.DeviceFolder)
	if from != device.FolderSaved {
		if from == "" {
			from = device.FolderRead
		}
		if err := r.o.device.Move(ctx, deviceName(rec), from, device.FolderSaved); err != nil {
			return err
		}
	}
	rec.DeviceFolder = string(device.FolderSaved)
	rec.Progress.Archived = true
	return nil
}

func (r *run) finish(_ context.Context, rec *record.DocumentRecord) error {
	if err := rec.Advance(record.StatusProcessed, r.o.now()); err != nil {
		return err
	}
	r.logger.Info("paper processed", "citekey", rec.Citekey, "degraded", rec.Progress.Degraded)
	return nil
}
