package record

import (
	"errors"
	"fmt"
	"time"
)

// forward lists the permitted transitions. awaiting_attachment -> processing
// is the retry edge for a record parked while its attachment was missing.
var forward = map[Status][]Status{
	StatusQueued:             {StatusUploading},
	StatusUploading:          {StatusOnDevice},
	StatusOnDevice:           {StatusReadDetected},
	StatusReadDetected:       {StatusProcessing},
	StatusProcessing:         {StatusAwaitingAttachment, StatusProcessed},
	StatusAwaitingAttachment: {StatusProcessing},
	StatusProcessed:          {},
}

// TransitionError reports a rejected status change.
type TransitionError struct {
	ExternalID string
	From       Status
	To         Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("record %s: transition %s -> %s not permitted", e.ExternalID, e.From, e.To)
}

// IsTransitionError reports whether err is a rejected status change.
func IsTransitionError(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}

// CanAdvance reports whether from -> to is a forward transition.
func CanAdvance(from, to Status) bool {
	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Advance moves the record to status to, stamping the lifecycle timestamps.
func (r *DocumentRecord) Advance(to Status, now time.Time) error {
	if !CanAdvance(r.Status, to) {
		return &TransitionError{ExternalID: r.ExternalID, From: r.Status, To: to}
	}
	r.Status = to
	switch to {
	case StatusReadDetected:
		r.ReadAt = now.UTC()
	case StatusProcessed:
		r.ProcessedAt = now.UTC()
	}
	return nil
}

// Reprocess resets a processed record to processing. Identifiers, device
// location and metadata are kept; excerpts and sub-step progress are dropped
// so the pipeline runs again from extraction.
func (r *DocumentRecord) Reprocess() error {
	if r.Status != StatusProcessed {
		return &TransitionError{ExternalID: r.ExternalID, From: r.Status, To: StatusProcessing}
	}
	r.Status = StatusProcessing
	r.Excerpts = []Excerpt{}
	r.Progress = Progress{}
	r.Engagement = Engagement{}
	r.ProcessedAt = time.Time{}
	return nil
}
