// Package orchestrator drives tracked papers through their lifecycle.
//
// A run polls the reference store once, folds the typed change set into the
// record store (new items are tracked, metadata edits are reconciled,
// deletions are reported), then walks every record in creation order and
// executes its next steps until the record waits on the outside world.
//
// # Steps
//
// Each step is a small function over one record. The driver retries
// transient failures with the configured RetryPolicy, persists the record
// and appends a journal row after every successful step, and tags the
// outcome:
//
//   - success: the record moved forward; the driver looks for the next step
//   - wait: an external precondition is missing (no attachment yet)
//   - retry: transient failures outlived the retry budget; next run retries
//   - skip: any other per-document failure
//   - fatal: authentication failed or the run was cancelled; the run aborts
//
// # Dry run
//
// A dry run performs the reads (poll, item fetch, device listing) and
// reports the steps each record would take. Nothing is uploaded, moved,
// written or saved.
package orchestrator
