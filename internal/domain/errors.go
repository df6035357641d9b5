package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors for simple conditions without extra context.
var (
	ErrDraftNotFound     = errors.New("draft not found")
	ErrServiceNotFound   = errors.New("service not found")
	ErrDocumentNotFound  = errors.New("document slot not found")
	ErrAlreadySubmitted  = errors.New("draft already has a confirmed submission")
	ErrSessionExpired    = errors.New("session expired")
	ErrSubmitInFlight    = errors.New("submission already in flight")
	ErrPlanChangeOutside = errors.New("plan can only be changed from the plan-selection step")
)

// ValidationError carries per-field hard errors for one step. It is
// recovered locally: it blocks advancing and never reaches the network layer.
type ValidationError struct {
	StepID      string
	FieldErrors map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("step %q has invalid fields: %s", e.StepID, sortedKeys(e.FieldErrors))
}

// SoftWarningError reports unacknowledged soft warnings for a step. The
// same input is accepted once the user explicitly confirms each warning key.
type SoftWarningError struct {
	StepID   string
	Warnings map[string]string // warning key -> message
}

func (e *SoftWarningError) Error() string {
	return fmt.Sprintf("step %q has unacknowledged warnings: %s", e.StepID, sortedKeys(e.Warnings))
}

func sortedKeys(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}

// StepError is returned when a step movement is not allowed.
type StepError struct {
	Op     string // advance, retreat, jump
	Step   int
	Reason string
}

func (e *StepError) Error() string {
	return fmt.Sprintf("cannot %s at step %d: %s", e.Op, e.Step, e.Reason)
}

// TransitionError is returned when a lifecycle event is not valid from the
// draft's current status.
type TransitionError struct {
	Event   Event
	Current Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("event %q is not valid from state %q", e.Event, e.Current)
}

// UploadError is a recoverable failure of one document upload. The slot
// keeps its key and may be re-attempted; other documents and step
// navigation are unaffected.
type UploadError struct {
	DocumentKey string
	Err         error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload for document %q failed: %v", e.DocumentKey, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// SubmissionError is a recoverable failure of the terminal submit call.
// The draft returns to the review step and a retry generates a fresh
// submission id.
type SubmissionError struct {
	SubmissionID string
	Err          error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission %s failed: %v", e.SubmissionID, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }
