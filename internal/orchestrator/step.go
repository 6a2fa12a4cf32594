package orchestrator

import (
	"context"
	"errors"

	"github.com/roach88/papersync/internal/record"
	"github.com/roach88/papersync/internal/syncerr"
)

// ResultKind tags the outcome of one step.
type ResultKind string

const (
	ResultSuccess ResultKind = "success"
	ResultWait    ResultKind = "wait"
	ResultRetry   ResultKind = "retry"
	ResultSkip    ResultKind = "skip"
	ResultFatal   ResultKind = "fatal"
)

// StepResult is what the driver acts on after a step.
type StepResult struct {
	Kind ResultKind
	Err  error
}

// errNoAttachment parks a record until the reference store has its PDF.
var errNoAttachment = errors.New("source attachment not available yet")

type stepFunc func(ctx context.Context, rec *record.DocumentRecord) error

type step struct {
	name string
	run  stepFunc
}

// resultOf classifies the final error of a step, after retries.
func resultOf(err error) StepResult {
	switch {
	case err == nil:
		return StepResult{Kind: ResultSuccess}
	case errors.Is(err, errNoAttachment):
		return StepResult{Kind: ResultWait, Err: err}
	case syncerr.IsAuth(err):
		return StepResult{Kind: ResultFatal, Err: err}
	// Collaborator timeouts arrive wrapped as transient and must not be
	// mistaken for cancellation of the run.
	case syncerr.IsTransient(err):
		return StepResult{Kind: ResultRetry, Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StepResult{Kind: ResultFatal, Err: err}
	default:
		return StepResult{Kind: ResultSkip, Err: err}
	}
}
