package river_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	goriver "github.com/riverqueue/river"

	_ "modernc.org/sqlite"

	riveradapter "github.com/filingdesk/filingdesk/internal/adapter/river"
	"github.com/filingdesk/filingdesk/internal/domain"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbPath := t.TempDir() + "/river_test.db"
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		t.Fatalf("setting WAL: %v", err)
	}

	return db
}

type stubUploader struct {
	result domain.UploadResult
	err    error
}

func (u *stubUploader) Upload(_ context.Context, _ domain.UploadRequest) (domain.UploadResult, error) {
	return u.result, u.err
}

type recordingService struct {
	mu        sync.Mutex
	completed []domain.UploadResult
	failed    []error
}

func (r *recordingService) CompleteUpload(_ context.Context, _ domain.UploadJob, result domain.UploadResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, result)
	return nil
}

func (r *recordingService) FailUpload(_ context.Context, _ domain.UploadJob, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, cause)
	return nil
}

func spoolFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spool")
	if err := os.WriteFile(path, []byte("content"), 0o644); err != nil {
		t.Fatalf("writing spool file: %v", err)
	}
	return path
}

func TestQueue_UploadProcessedAndRecorded(t *testing.T) {
	db := setupTestDB(t)
	uploader := &stubUploader{result: domain.UploadResult{ID: "r-1", FileURL: "https://files/r-1", OriginalName: "pan.pdf"}}
	recorder := &recordingService{}

	client, err := riveradapter.Setup(context.Background(), db, uploader, recorder)
	if err != nil {
		t.Fatalf("river setup: %v", err)
	}

	// Subscribe before starting so we don't miss events.
	subscribeChan, subscribeCancel := client.Subscribe(goriver.EventKindJobCompleted)
	defer subscribeCancel()

	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("river start: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Stop(stopCtx); err != nil {
			t.Errorf("river stop: %v", err)
		}
	})

	spool := spoolFile(t)
	queue := riveradapter.NewQueue(client)
	job := domain.UploadJob{
		DraftID: "d-1", Key: "pan_card", Generation: 1,
		SpoolPath: spool, Filename: "pan.pdf", Category: "identity",
	}
	if err := queue.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case event := <-subscribeChan:
		if event.Job.Kind != "document.upload" {
			t.Errorf("job kind = %q, want document.upload", event.Job.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job completion")
	}

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.completed) != 1 {
		t.Fatalf("completed = %d, want 1", len(recorder.completed))
	}
	if recorder.completed[0].ID != "r-1" {
		t.Errorf("result id = %q, want r-1", recorder.completed[0].ID)
	}
	if _, err := os.Stat(spool); !os.IsNotExist(err) {
		t.Error("spool file should be removed after processing")
	}
}

func TestQueue_FailureRecordedNotRetried(t *testing.T) {
	db := setupTestDB(t)
	uploader := &stubUploader{err: errors.New("upstream unavailable")}
	recorder := &recordingService{}

	client, err := riveradapter.Setup(context.Background(), db, uploader, recorder)
	if err != nil {
		t.Fatalf("river setup: %v", err)
	}

	subscribeChan, subscribeCancel := client.Subscribe(goriver.EventKindJobCompleted)
	defer subscribeCancel()

	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("river start: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Stop(stopCtx); err != nil {
			t.Errorf("river stop: %v", err)
		}
	})

	queue := riveradapter.NewQueue(client)
	job := domain.UploadJob{
		DraftID: "d-1", Key: "pan_card", Generation: 1,
		SpoolPath: spoolFile(t), Filename: "pan.pdf", Category: "identity",
	}
	if err := queue.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case <-subscribeChan:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job completion")
	}

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.failed) != 1 {
		t.Fatalf("failed = %d, want 1", len(recorder.failed))
	}
	if len(recorder.completed) != 0 {
		t.Errorf("completed = %d, want 0", len(recorder.completed))
	}
}
