// Package syncerr classifies collaborator and pipeline failures so the
// orchestrator can decide between retrying, skipping and aborting a run.
package syncerr

import (
	"errors"
	"fmt"
	"time"
)

// Kind categorizes an error.
type Kind string

const (
	// KindTransient covers network failures, timeouts, 429 and 5xx. Retried
	// with backoff, then downgraded to a per-document skip.
	KindTransient Kind = "transient"

	// KindAuth covers 401/403-class failures. Aborts the run, never retried.
	KindAuth Kind = "auth"

	// KindNotFound is a definitive absence reported by a collaborator.
	KindNotFound Kind = "not_found"

	// KindIntegrity covers corrupt or malformed local data.
	KindIntegrity Kind = "integrity"

	// KindPartial is a degraded but non-blocking outcome.
	KindPartial Kind = "partial"

	// KindConflict is a lock held by a live process.
	KindConflict Kind = "conflict"
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error

	// RetryAfter is a server-provided delay hint; zero when none was given.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Transient creates a retryable error carrying an optional delay hint.
func Transient(op string, err error, retryAfter time.Duration) *Error {
	return &Error{Kind: KindTransient, Op: op, Err: err, RetryAfter: retryAfter}
}

// KindOf returns the kind of the first classified error in err's chain,
// or "" when err is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsAuth reports whether err is an authentication or authorization failure.
func IsAuth(err error) bool { return KindOf(err) == KindAuth }

// IsNotFound reports whether err is a definitive absence.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsConflict reports whether err is a live lock conflict.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsIntegrity reports whether err is a local data integrity failure.
func IsIntegrity(err error) bool { return KindOf(err) == KindIntegrity }

// RetryAfterHint returns the server-provided delay carried by err, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var e *Error
	if errors.As(err, &e) && e.RetryAfter > 0 {
		return e.RetryAfter, true
	}
	return 0, false
}
