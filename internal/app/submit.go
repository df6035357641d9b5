package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/filingdesk/filingdesk/internal/domain"
)

// acknowledgedWarningsField carries the soft-warning keys the user
// confirmed into the submission body, so fulfillment staff can see the
// warning was shown before the application was sent.
const acknowledgedWarningsField = "_acknowledgedWarnings"

// Submit performs the single terminal submission for a draft.
//
// Preconditions: the draft is on its final (review) step, every step
// validates under the current plan, and every required document upload has
// succeeded. The editing->submitting flip is atomic in the repository, so
// a duplicate click while a submit is in flight is a no-op
// (ErrSubmitInFlight) and exactly one network call is made.
//
// Each attempt generates a fresh submission id: a failed attempt is
// presumed not durably recorded, and its id is never reused. On success
// the confirmation is stored; a draft never produces two confirmed ids.
func (s *WizardService) Submit(ctx context.Context, draftID string) (domain.SubmissionRecord, error) {
	draft, err := s.drafts.Get(ctx, draftID)
	if err != nil {
		return domain.SubmissionRecord{}, err
	}

	switch draft.Status {
	case domain.StatusSucceeded:
		// Idempotent: return the already-confirmed record, no second call.
		return s.submissions.GetByDraft(ctx, draftID)
	case domain.StatusSubmitting:
		return domain.SubmissionRecord{}, domain.ErrSubmitInFlight
	}

	schema, err := s.resolve(ctx, draft)
	if err != nil {
		return domain.SubmissionRecord{}, err
	}

	if draft.CurrentStep != schema.TotalSteps() {
		return domain.SubmissionRecord{}, &domain.StepError{
			Op:     "submit",
			Step:   draft.CurrentStep,
			Reason: "not on the review step",
		}
	}

	if err := validateAllSteps(schema, draft); err != nil {
		return domain.SubmissionRecord{}, err
	}
	if err := checkRequiredDocuments(schema, draft); err != nil {
		return domain.SubmissionRecord{}, err
	}

	// The lifecycle FSM authorizes the transition; the repository makes it
	// atomic against a concurrent Submit on the same draft.
	if _, err := s.validator.Apply(ctx, draft.Status, domain.EventBeginSubmit); err != nil {
		return domain.SubmissionRecord{}, err
	}
	flipped, err := s.drafts.BeginSubmit(ctx, draftID)
	if err != nil {
		return domain.SubmissionRecord{}, fmt.Errorf("locking draft for submit: %w", err)
	}
	if !flipped {
		return domain.SubmissionRecord{}, domain.ErrSubmitInFlight
	}
	draft.Status = domain.StatusSubmitting

	// Snapshot the payload now: an upload completing after this point is
	// correctly excluded from this attempt.
	submissionID := uuid.NewString()
	payload := assemblePayload(submissionID, schema, draft)

	// Either outcome is recorded as a status-only write: an upload the
	// worker completed while the POST was running must survive, and the
	// snapshot read above predates it.
	receipt, submitErr := s.submitter.Submit(ctx, draft.ServiceID, payload)
	if submitErr != nil {
		// Return control to the review step so the user can correct and
		// retry; the in-flight guard is released by the status change.
		next, err := s.validator.Apply(ctx, draft.Status, domain.EventSubmitFailed)
		if err != nil {
			return domain.SubmissionRecord{}, err
		}
		if err := s.drafts.FinishSubmit(ctx, draftID, next); err != nil {
			return domain.SubmissionRecord{}, fmt.Errorf("recording submit failure: %w", err)
		}
		return domain.SubmissionRecord{}, &domain.SubmissionError{SubmissionID: submissionID, Err: submitErr}
	}

	next, err := s.validator.Apply(ctx, draft.Status, domain.EventSubmitSucceeded)
	if err != nil {
		return domain.SubmissionRecord{}, err
	}
	if err := s.drafts.FinishSubmit(ctx, draftID, next); err != nil {
		return domain.SubmissionRecord{}, fmt.Errorf("recording submit success: %w", err)
	}

	record := domain.SubmissionRecord{
		SubmissionID: submissionID,
		DraftID:      draft.ID,
		ServiceID:    draft.ServiceID,
		PlanID:       draft.PlanID,
		ConfirmedAt:  time.Now().UTC(),
	}
	if err := s.submissions.Save(ctx, record); err != nil {
		return domain.SubmissionRecord{}, fmt.Errorf("saving submission record: %w", err)
	}

	slog.InfoContext(ctx, "submission confirmed",
		"draft", draft.ID,
		"service", draft.ServiceID,
		"plan", draft.PlanID,
		"submission_id", submissionID,
		"echoed_id", receipt.SubmissionID,
	)
	return record, nil
}

func validateAllSteps(schema domain.ResolvedSchema, draft domain.Draft) error {
	for _, step := range schema.Steps {
		res := domain.ValidateStep(step, draft.Fields, draft.Acknowledged)
		if len(res.FieldErrors) > 0 {
			return &domain.ValidationError{StepID: step.ID, FieldErrors: res.FieldErrors}
		}
		if len(res.Warnings) > 0 {
			return &domain.SoftWarningError{StepID: step.ID, Warnings: res.Warnings}
		}
	}
	return nil
}

// checkRequiredDocuments is the review-step boundary: submit is blocked
// while a required slot has no succeeded upload, or while any upload for a
// required slot is still pending or in flight. A repeatable required slot
// demands one succeeded upload per entry of the step's group, keyed by
// entry index. The payload assembly below never fakes a document that has
// not succeeded; this gate ensures the user cannot submit past a
// known-required upload that is missing or still running.
func checkRequiredDocuments(schema domain.ResolvedSchema, draft domain.Draft) error {
	blocked := make(map[string]string)
	for _, step := range schema.Steps {
		for _, spec := range step.Documents {
			if !spec.Required {
				continue
			}
			if spec.Repeat {
				for i := 0; i < groupEntryCount(step, draft.Fields); i++ {
					key := fmt.Sprintf("%s_%d", spec.Key, i)
					switch draft.Documents[key].Status {
					case domain.UploadSucceeded:
					case domain.UploadPending, domain.UploadInFlight:
						blocked[key] = fmt.Sprintf("%s is still uploading", spec.Label)
					default:
						blocked[key] = fmt.Sprintf("%s has not been uploaded", spec.Label)
					}
				}
				continue
			}
			succeeded, unfinished := uploadTally(spec, draft)
			switch {
			case unfinished > 0:
				blocked[spec.Key] = fmt.Sprintf("%s is still uploading", spec.Label)
			case succeeded == 0:
				blocked[spec.Key] = fmt.Sprintf("%s has not been uploaded", spec.Label)
			}
		}
	}
	if len(blocked) > 0 {
		return &domain.ValidationError{StepID: "review", FieldErrors: blocked}
	}
	return nil
}

// groupEntryCount reads the size of the step's repeatable group, which
// fixes how many per-entry uploads a repeat slot demands. A step without a
// group field (or an empty group) demands none; the group's own floor is
// enforced by field validation.
func groupEntryCount(step domain.StepSpec, fields map[string]any) int {
	for _, f := range step.Fields {
		if f.Kind != domain.KindGroup {
			continue
		}
		if entries, ok := fields[f.Key].([]any); ok {
			return len(entries)
		}
	}
	return 0
}

func uploadTally(spec domain.DocumentSpec, draft domain.Draft) (succeeded, unfinished int) {
	for key, doc := range draft.Documents {
		if !spec.Matches(key) {
			continue
		}
		switch doc.Status {
		case domain.UploadSucceeded:
			succeeded++
		case domain.UploadPending, domain.UploadInFlight:
			unfinished++
		}
	}
	return succeeded, unfinished
}

// assemblePayload builds the submission body from the draft as it exists
// right now: active fields only, succeeded documents only.
func assemblePayload(submissionID string, schema domain.ResolvedSchema, draft domain.Draft) domain.SubmissionPayload {
	formData := make(map[string]any)
	for _, step := range schema.Steps {
		for _, f := range step.Fields {
			if value, ok := draft.Fields[f.Key]; ok {
				formData[f.Key] = value
			}
		}
	}

	if len(draft.Acknowledged) > 0 {
		acked := make([]string, 0, len(draft.Acknowledged))
		for key := range draft.Acknowledged {
			acked = append(acked, key)
		}
		sort.Strings(acked)
		formData[acknowledgedWarningsField] = acked
	}

	docs := completedDocuments(schema, draft)
	payload := domain.SubmissionPayload{
		SubmissionID: submissionID,
		Plan:         draft.PlanID,
		UserEmail:    draft.UserEmail,
		FormData:     formData,
		Documents:    make([]domain.DocumentPayload, 0, len(docs)),
		Status:       domain.PaymentSuccessful,
	}
	for _, doc := range docs {
		payload.Documents = append(payload.Documents, domain.DocumentPayload{
			ID:       doc.RemoteID,
			Filename: doc.Filename,
			FileURL:  doc.RemoteURL,
		})
	}
	return payload
}
