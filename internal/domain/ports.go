package domain

import "context"

// DraftRepository defines the persistence contract for wizard drafts.
type DraftRepository interface {
	Create(ctx context.Context, draft Draft) error
	Get(ctx context.Context, id string) (Draft, error)

	// Update persists the draft's editing state: plan, step cursor,
	// frontier, status, field values, and acknowledgments. Document
	// slots are deliberately excluded; they are owned by StageUpload and
	// CompleteUpload, so writing back a draft snapshot can never undo an
	// upload that completed after the snapshot was read.
	Update(ctx context.Context, draft Draft) error

	Delete(ctx context.Context, id string) error

	// StageUpload marks a document slot in flight under a freshly bumped
	// generation and returns that generation. The bump happens inside
	// the store, atomically against concurrent completions for the same
	// slot.
	StageUpload(ctx context.Context, draftID, key, filename string) (int, error)

	// BeginSubmit atomically flips an editable draft into the submitting
	// state. It returns false when the draft is already submitting, which
	// is the idempotency guard against duplicate-click double submission.
	BeginSubmit(ctx context.Context, id string) (bool, error)

	// FinishSubmit records the outcome of a submit attempt as a
	// status-only write, applied only while the draft is still
	// submitting. Fields and documents are untouched, so an upload the
	// worker completed during the terminal POST survives.
	FinishSubmit(ctx context.Context, id string, status Status) error

	// CompleteUpload applies an upload outcome to one document slot, but
	// only when the stored slot still carries the given generation. A stale
	// completion (the user re-selected a file while this upload was in
	// flight) returns false and leaves the newer slot untouched. A missing
	// draft also returns false: the session was dismissed mid-upload and
	// the completion is dropped, never applied.
	CompleteUpload(ctx context.Context, draftID, key string, generation int, doc UploadedDocument) (bool, error)
}

// SubmissionRepository stores confirmed submissions. At most one confirmed
// record may exist per draft.
type SubmissionRepository interface {
	Save(ctx context.Context, rec SubmissionRecord) error
	GetByDraft(ctx context.Context, draftID string) (SubmissionRecord, error)
}

// Catalog supplies service definitions. Implementations may reload their
// backing store; a ServiceDefinition value, once returned, is immutable.
type Catalog interface {
	Service(id string) (ServiceDefinition, error)
	Services() []ServiceDefinition
}

// UploadRequest is handed to the external upload service.
type UploadRequest struct {
	SpoolPath string // local path of the spooled file content
	Filename  string // the user's original filename, for display
	Category  string // category label required by the upload service
}

// UploadResult is the stable descriptor of a completed upload.
type UploadResult struct {
	ID           string
	FileURL      string
	OriginalName string
}

// Uploader dispatches one file to the external upload service.
type Uploader interface {
	Upload(ctx context.Context, req UploadRequest) (UploadResult, error)
}

// UploadJob describes one asynchronous upload to perform.
type UploadJob struct {
	DraftID    string
	Key        string
	Generation int
	SpoolPath  string
	Filename   string
	Category   string
}

// UploadQueue enqueues upload jobs for asynchronous processing.
type UploadQueue interface {
	Enqueue(ctx context.Context, job UploadJob) error
}

// SubmissionReceipt is the confirmation echoed by the submission endpoint.
type SubmissionReceipt struct {
	SubmissionID string
	Status       string
}

// Submitter performs the single terminal call to the per-vertical
// submission endpoint.
type Submitter interface {
	Submit(ctx context.Context, serviceID string, payload SubmissionPayload) (SubmissionReceipt, error)
}

// TransitionValidator checks draft lifecycle transitions against Transitions.
type TransitionValidator interface {
	Apply(ctx context.Context, current Status, event Event) (Status, error)
}

// Session is the verified identity of the signed-in user, passed into the
// wizard explicitly instead of read from ambient storage.
type Session struct {
	Email string
	Name  string
}

// SessionVerifier resolves a bearer credential into a Session and issues
// continuation tokens so a login redirect can return the user to the same
// service and plan.
type SessionVerifier interface {
	Verify(ctx context.Context, token string) (Session, error)
	Continuation(serviceID, planID string) (string, error)

	// Resume decodes a continuation token back into the service and plan
	// it names.
	Resume(token string) (serviceID, planID string, err error)
}
