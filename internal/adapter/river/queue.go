package river

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/riverqueue/river"

	"github.com/filingdesk/filingdesk/internal/domain"
)

// Compile-time check: Queue implements domain.UploadQueue.
var _ domain.UploadQueue = (*Queue)(nil)

// UploadJobArgs carries everything the worker needs to push one spooled
// file to the upload service. River serializes this as JSON into its job
// table, so a restart picks up unfinished uploads from where they were.
type UploadJobArgs struct {
	DraftID    string `json:"draft_id"`
	Key        string `json:"key"`
	Generation int    `json:"generation"`
	SpoolPath  string `json:"spool_path"`
	Filename   string `json:"filename"`
	Category   string `json:"category"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (UploadJobArgs) Kind() string { return "document.upload" }

// Client is the River client type parameterized for SQLite (*sql.Tx).
type Client = river.Client[*sql.Tx]

// Queue implements domain.UploadQueue by enqueuing River jobs.
type Queue struct {
	client *Client
}

// NewQueue creates an upload queue backed by the given River client.
func NewQueue(client *Client) *Queue {
	return &Queue{client: client}
}

// Enqueue inserts one upload job. The job runs at most once: a transport
// failure is reported back onto the document slot, where the user retries
// explicitly, rather than replayed blindly against a possibly superseded
// generation.
func (q *Queue) Enqueue(ctx context.Context, job domain.UploadJob) error {
	_, err := q.client.Insert(ctx, UploadJobArgs{
		DraftID:    job.DraftID,
		Key:        job.Key,
		Generation: job.Generation,
		SpoolPath:  job.SpoolPath,
		Filename:   job.Filename,
		Category:   job.Category,
	}, &river.InsertOpts{MaxAttempts: 1})
	if err != nil {
		return fmt.Errorf("enqueuing upload job: %w", err)
	}
	return nil
}
