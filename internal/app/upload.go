package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/filingdesk/filingdesk/internal/domain"
)

// BeginUpload stages a user-selected file and dispatches it to the async
// upload queue. The repository bumps the key's generation so a
// still-running upload for the same key is logically superseded: its
// completion will carry a stale generation and be dropped. Uploads for
// different keys run independently.
func (s *WizardService) BeginUpload(ctx context.Context, draftID, key, filename string, content io.Reader) (domain.Draft, error) {
	draft, err := s.drafts.Get(ctx, draftID)
	if err != nil {
		return domain.Draft{}, err
	}
	if !draft.Editable() {
		return domain.Draft{}, &domain.StepError{Op: "upload", Step: draft.CurrentStep, Reason: "draft is " + string(draft.Status)}
	}

	schema, err := s.resolve(ctx, draft)
	if err != nil {
		return domain.Draft{}, err
	}

	spec, ok := documentSpec(schema, key)
	if !ok {
		return domain.Draft{}, domain.ErrDocumentNotFound
	}

	spoolPath, err := spool(s.spoolDir, content)
	if err != nil {
		return domain.Draft{}, fmt.Errorf("spooling upload: %w", err)
	}

	generation, err := s.drafts.StageUpload(ctx, draftID, key, filename)
	if err != nil {
		return domain.Draft{}, fmt.Errorf("staging upload: %w", err)
	}
	draft.Documents[key] = domain.UploadedDocument{
		Key:        key,
		Filename:   filename,
		Status:     domain.UploadInFlight,
		Generation: generation,
	}

	job := domain.UploadJob{
		DraftID:    draftID,
		Key:        key,
		Generation: generation,
		SpoolPath:  spoolPath,
		Filename:   filename,
		Category:   spec.Category,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return domain.Draft{}, fmt.Errorf("enqueuing upload job: %w", err)
	}

	return draft, nil
}

// CompleteUpload applies a successful upload result. The write is
// conditional on the job's generation still being current; a stale result
// (the user re-selected a file meanwhile) or a dismissed draft drops it.
func (s *WizardService) CompleteUpload(ctx context.Context, job domain.UploadJob, result domain.UploadResult) error {
	doc := domain.UploadedDocument{
		Key:        job.Key,
		Filename:   result.OriginalName,
		RemoteID:   result.ID,
		RemoteURL:  result.FileURL,
		Status:     domain.UploadSucceeded,
		Generation: job.Generation,
	}
	if doc.Filename == "" {
		doc.Filename = job.Filename
	}

	applied, err := s.drafts.CompleteUpload(ctx, job.DraftID, job.Key, job.Generation, doc)
	if err != nil {
		return fmt.Errorf("completing upload: %w", err)
	}
	if !applied {
		slog.InfoContext(ctx, "dropped superseded upload result",
			"draft", job.DraftID, "key", job.Key, "generation", job.Generation)
	}
	return nil
}

// FailUpload marks a document slot failed. The key stays re-attemptable;
// a retry with the same key overwrites this entry rather than appending.
func (s *WizardService) FailUpload(ctx context.Context, job domain.UploadJob, cause error) error {
	doc := domain.UploadedDocument{
		Key:        job.Key,
		Filename:   job.Filename,
		Status:     domain.UploadFailed,
		Generation: job.Generation,
		Error:      cause.Error(),
	}

	applied, err := s.drafts.CompleteUpload(ctx, job.DraftID, job.Key, job.Generation, doc)
	if err != nil {
		return fmt.Errorf("recording upload failure: %w", err)
	}
	if !applied {
		slog.InfoContext(ctx, "dropped superseded upload failure",
			"draft", job.DraftID, "key", job.Key, "generation", job.Generation)
	}
	return nil
}

// ListCompleted returns only the draft's succeeded documents, in the order
// their slots are declared by the active schema. Pending, in-flight, and
// failed slots are omitted, never faked.
func (s *WizardService) ListCompleted(ctx context.Context, draftID string) ([]domain.UploadedDocument, error) {
	draft, err := s.drafts.Get(ctx, draftID)
	if err != nil {
		return nil, err
	}
	schema, err := s.resolve(ctx, draft)
	if err != nil {
		return nil, err
	}
	return completedDocuments(schema, draft), nil
}

func completedDocuments(schema domain.ResolvedSchema, draft domain.Draft) []domain.UploadedDocument {
	keys := make([]string, 0, len(draft.Documents))
	for key := range draft.Documents {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var out []domain.UploadedDocument
	for _, step := range schema.Steps {
		for _, spec := range step.Documents {
			for _, key := range keys {
				doc := draft.Documents[key]
				if spec.Matches(key) && doc.Status == domain.UploadSucceeded {
					out = append(out, doc)
				}
			}
		}
	}
	return out
}

func documentSpec(schema domain.ResolvedSchema, key string) (domain.DocumentSpec, bool) {
	for _, step := range schema.Steps {
		for _, spec := range step.Documents {
			if spec.Matches(key) {
				return spec, true
			}
		}
	}
	return domain.DocumentSpec{}, false
}

func spool(dir string, content io.Reader) (string, error) {
	f, err := os.CreateTemp(dir, "upload-*")
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(f, content); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
