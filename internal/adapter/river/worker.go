package river

import (
	"context"
	"log/slog"
	"os"

	"github.com/riverqueue/river"

	"github.com/filingdesk/filingdesk/internal/domain"
)

// UploadRecorder is the slice of the application service the worker needs
// to report upload outcomes back onto the draft.
type UploadRecorder interface {
	CompleteUpload(ctx context.Context, job domain.UploadJob, result domain.UploadResult) error
	FailUpload(ctx context.Context, job domain.UploadJob, cause error) error
}

// UploadWorker processes document upload jobs from the River queue: it
// pushes the spooled file to the upload service and records the outcome
// on the owning draft's document slot.
type UploadWorker struct {
	river.WorkerDefaults[UploadJobArgs]

	uploader domain.Uploader
	recorder UploadRecorder
}

// NewUploadWorker creates a worker that uploads via the given gateway and
// records outcomes through the recorder.
func NewUploadWorker(uploader domain.Uploader, recorder UploadRecorder) *UploadWorker {
	return &UploadWorker{uploader: uploader, recorder: recorder}
}

// Work processes a single upload job. The spool file is removed once the
// outcome is recorded, whichever way the upload went.
func (w *UploadWorker) Work(ctx context.Context, job *river.Job[UploadJobArgs]) error {
	slog.InfoContext(ctx, "processing upload",
		"draft", job.Args.DraftID,
		"key", job.Args.Key,
		"generation", job.Args.Generation,
		"job_id", job.ID,
	)

	dj := domain.UploadJob{
		DraftID:    job.Args.DraftID,
		Key:        job.Args.Key,
		Generation: job.Args.Generation,
		SpoolPath:  job.Args.SpoolPath,
		Filename:   job.Args.Filename,
		Category:   job.Args.Category,
	}
	defer removeSpool(ctx, dj.SpoolPath)

	result, err := w.uploader.Upload(ctx, domain.UploadRequest{
		SpoolPath: dj.SpoolPath,
		Filename:  dj.Filename,
		Category:  dj.Category,
	})
	if err != nil {
		slog.WarnContext(ctx, "upload failed",
			"draft", dj.DraftID, "key", dj.Key, "error", err)
		return w.recorder.FailUpload(ctx, dj, err)
	}

	return w.recorder.CompleteUpload(ctx, dj, result)
}

func removeSpool(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.WarnContext(ctx, "removing spool file", "path", path, "error", err)
	}
}
