package domain

import "time"

// Status represents the lifecycle state of a wizard draft.
type Status string

const (
	StatusEditing    Status = "editing"
	StatusSubmitting Status = "submitting"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// Event represents an action that triggers a draft lifecycle transition.
// Step movement within the editing state is not an Event; it is governed
// by the step rules on Draft (Advance/Retreat/Jump).
type Event string

const (
	EventBeginSubmit     Event = "begin_submit"
	EventSubmitSucceeded Event = "submit_succeeded"
	EventSubmitFailed    Event = "submit_failed"
	EventResumeEditing   Event = "resume_editing"
)

// Transition defines a valid lifecycle change: an event moves a draft from Src to Dst.
type Transition struct {
	Event Event
	Src   Status
	Dst   Status
}

// Transitions defines all valid draft lifecycle changes.
// This is domain knowledge consumed by the FSM adapter. A failed submission
// is not terminal: the draft returns to the review step and may retry
// (begin_submit from failed) or be edited further (resume_editing).
var Transitions = []Transition{
	{Event: EventBeginSubmit, Src: StatusEditing, Dst: StatusSubmitting},
	{Event: EventBeginSubmit, Src: StatusFailed, Dst: StatusSubmitting},
	{Event: EventSubmitSucceeded, Src: StatusSubmitting, Dst: StatusSucceeded},
	{Event: EventSubmitFailed, Src: StatusSubmitting, Dst: StatusFailed},
	{Event: EventResumeEditing, Src: StatusFailed, Dst: StatusEditing},
}

// UploadStatus tracks one document slot's upload lifecycle.
type UploadStatus string

const (
	UploadPending   UploadStatus = "pending"
	UploadInFlight  UploadStatus = "in_flight"
	UploadSucceeded UploadStatus = "succeeded"
	UploadFailed    UploadStatus = "failed"
)

// UploadedDocument is the state of one logical upload slot within a draft.
// Generation increments on every new upload for the same key; a completion
// carrying a stale generation must not overwrite a newer selection.
type UploadedDocument struct {
	Key        string       `json:"key"`
	Filename   string       `json:"filename"`
	RemoteID   string       `json:"remote_id,omitempty"`
	RemoteURL  string       `json:"remote_url,omitempty"`
	Status     UploadStatus `json:"status"`
	Generation int          `json:"generation"`
	Error      string       `json:"error,omitempty"`
}

// Draft is the mutable aggregate for one wizard session.
type Draft struct {
	ID           string
	ServiceID    string
	PlanID       string
	UserEmail    string
	UserName     string
	CurrentStep  int // 1-based index into the resolved step list
	Frontier     int // highest step ever reached; steps below it have passed validation
	Status       Status
	Fields       map[string]any
	Documents    map[string]UploadedDocument
	Acknowledged map[string]bool // soft-warning keys the user has confirmed
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewDraft creates a draft positioned on step 1 in the editing state.
func NewDraft(id, serviceID, planID, userEmail, userName string) Draft {
	now := time.Now().UTC()
	return Draft{
		ID:           id,
		ServiceID:    serviceID,
		PlanID:       planID,
		UserEmail:    userEmail,
		UserName:     userName,
		CurrentStep:  1,
		Frontier:     1,
		Status:       StatusEditing,
		Fields:       make(map[string]any),
		Documents:    make(map[string]UploadedDocument),
		Acknowledged: make(map[string]bool),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Editable reports whether the draft may still be mutated by the user.
func (d *Draft) Editable() bool {
	return d.Status == StatusEditing || d.Status == StatusFailed
}

// Advance moves to the next step. The caller must have validated the current
// step first; this only enforces bounds and lifecycle state.
func (d *Draft) Advance(totalSteps int) error {
	if !d.Editable() {
		return &StepError{Op: "advance", Step: d.CurrentStep, Reason: "draft is " + string(d.Status)}
	}
	if d.CurrentStep >= totalSteps {
		return &StepError{Op: "advance", Step: d.CurrentStep, Reason: "already on the final step"}
	}
	d.CurrentStep++
	if d.CurrentStep > d.Frontier {
		d.Frontier = d.CurrentStep
	}
	return nil
}

// Retreat moves to the previous step. Always permitted while editable;
// the target step was valid when it was left and stays editable.
func (d *Draft) Retreat() error {
	if !d.Editable() {
		return &StepError{Op: "retreat", Step: d.CurrentStep, Reason: "draft is " + string(d.Status)}
	}
	if d.CurrentStep <= 1 {
		return &StepError{Op: "retreat", Step: d.CurrentStep, Reason: "already on the first step"}
	}
	d.CurrentStep--
	return nil
}

// Jump moves directly to an already-reached step (e.g. clicking a completed
// step indicator). Jumping past the frontier is rejected: those steps have
// not been validated yet.
func (d *Draft) Jump(target int) error {
	if !d.Editable() {
		return &StepError{Op: "jump", Step: d.CurrentStep, Reason: "draft is " + string(d.Status)}
	}
	if target < 1 || target > d.Frontier {
		return &StepError{Op: "jump", Step: target, Reason: "step has not been reached yet"}
	}
	d.CurrentStep = target
	return nil
}

// SubmissionRecord is the confirmation of the single accepted submission for
// a draft. A draft never produces two confirmed submission ids.
type SubmissionRecord struct {
	SubmissionID string
	DraftID      string
	ServiceID    string
	PlanID       string
	ConfirmedAt  time.Time
}

// SubmissionPayload is the body sent to the external submission endpoint.
type SubmissionPayload struct {
	SubmissionID string            `json:"submissionId"`
	Plan         string            `json:"plan"`
	UserEmail    string            `json:"userEmail"`
	FormData     map[string]any    `json:"formData"`
	Documents    []DocumentPayload `json:"documents"`
	Status       string            `json:"status"`
}

// DocumentPayload is a completed upload as it appears in the submission body.
type DocumentPayload struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	FileURL  string `json:"fileUrl"`
}

// PaymentSuccessful is the status constant the fulfillment backend expects
// on every submission body.
const PaymentSuccessful = "PAYMENT_SUCCESSFUL"
