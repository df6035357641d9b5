package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/filingdesk/filingdesk/internal/domain"

	_ "modernc.org/sqlite" // Register SQLite driver.
)

//go:embed migrations/*.sql
var migrations embed.FS

// Compile-time checks.
var (
	_ domain.DraftRepository      = (*DraftRepository)(nil)
	_ domain.SubmissionRepository = (*SubmissionRepository)(nil)
)

// DraftRepository implements domain.DraftRepository using SQLite.
type DraftRepository struct {
	db *sql.DB
}

// New opens a SQLite database, runs migrations, and returns a ready repository.
func New(dataSourceName string) (*DraftRepository, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection keeps :memory: databases coherent and avoids
	// SQLITE_BUSY when sharing the file with the job queue.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	return NewFromDB(db)
}

// NewFromDB wraps an existing database connection, runs migrations, and
// returns a ready repository. Use this when the *sql.DB has been
// pre-configured (e.g., with otelsql instrumentation).
func NewFromDB(db *sql.DB) (*DraftRepository, error) {
	if err := runMigrations(db); err != nil {
		return nil, err
	}
	return &DraftRepository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *DraftRepository) Close() error {
	return r.db.Close()
}

// DB returns the underlying database connection for use by other adapters
// (e.g., river and the submission repository).
func (r *DraftRepository) DB() *sql.DB {
	return r.db
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}

const timeFormat = "2006-01-02T15:04:05Z"

func (r *DraftRepository) Create(ctx context.Context, d domain.Draft) error {
	fields, documents, acknowledged, err := encodeState(d)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO drafts (id, service_id, plan_id, user_email, user_name,
		                     current_step, frontier, status, fields, documents,
		                     acknowledged, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ServiceID, d.PlanID, d.UserEmail, d.UserName,
		d.CurrentStep, d.Frontier, string(d.Status), fields, documents,
		acknowledged,
		d.CreatedAt.Format(timeFormat),
		d.UpdatedAt.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting draft: %w", err)
	}
	return nil
}

func (r *DraftRepository) Get(ctx context.Context, id string) (domain.Draft, error) {
	return scanDraft(r.db.QueryRowContext(ctx,
		`SELECT id, service_id, plan_id, user_email, user_name, current_step,
		        frontier, status, fields, documents, acknowledged, created_at, updated_at
		 FROM drafts WHERE id = ?`, id,
	))
}

// Update writes everything except the documents column: upload slots are
// owned by StageUpload and CompleteUpload, so a draft snapshot read before
// a worker completion cannot stomp the completed slot on write-back.
func (r *DraftRepository) Update(ctx context.Context, d domain.Draft) error {
	fields, err := json.Marshal(d.Fields)
	if err != nil {
		return fmt.Errorf("encoding fields: %w", err)
	}
	acknowledged, err := json.Marshal(d.Acknowledged)
	if err != nil {
		return fmt.Errorf("encoding acknowledgments: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE drafts SET plan_id = ?, current_step = ?, frontier = ?, status = ?,
		        fields = ?, acknowledged = ?, updated_at = ?
		 WHERE id = ?`,
		d.PlanID, d.CurrentStep, d.Frontier, string(d.Status),
		string(fields), string(acknowledged),
		time.Now().UTC().Format(timeFormat), d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating draft: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrDraftNotFound
	}
	return nil
}

func (r *DraftRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM drafts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting draft: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrDraftNotFound
	}
	return nil
}

// StageUpload bumps the slot's generation and marks it in flight inside a
// transaction, so a re-selection racing a worker completion for the same
// key always ends up with one coherent winner.
func (r *DraftRepository) StageUpload(ctx context.Context, draftID, key, filename string) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT documents FROM drafts WHERE id = ?`, draftID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrDraftNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("reading documents: %w", err)
	}

	var documents map[string]domain.UploadedDocument
	if err := json.Unmarshal([]byte(raw), &documents); err != nil {
		return 0, fmt.Errorf("decoding documents: %w", err)
	}
	if documents == nil {
		documents = make(map[string]domain.UploadedDocument)
	}

	generation := documents[key].Generation + 1
	documents[key] = domain.UploadedDocument{
		Key:        key,
		Filename:   filename,
		Status:     domain.UploadInFlight,
		Generation: generation,
	}

	encoded, err := json.Marshal(documents)
	if err != nil {
		return 0, fmt.Errorf("encoding documents: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE drafts SET documents = ?, updated_at = ? WHERE id = ?`,
		string(encoded), time.Now().UTC().Format(timeFormat), draftID,
	)
	if err != nil {
		return 0, fmt.Errorf("writing documents: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing staged upload: %w", err)
	}
	return generation, nil
}

// BeginSubmit flips an editable draft into submitting in a single
// conditional UPDATE. The WHERE clause is the idempotency guard: two
// concurrent submits race on it and exactly one wins.
func (r *DraftRepository) BeginSubmit(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE drafts SET status = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(domain.StatusSubmitting),
		time.Now().UTC().Format(timeFormat),
		id,
		string(domain.StatusEditing), string(domain.StatusFailed),
	)
	if err != nil {
		return false, fmt.Errorf("locking draft: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 1 {
		return true, nil
	}

	// Distinguish "already submitting" from "no such draft".
	var status string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM drafts WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, domain.ErrDraftNotFound
	}
	if err != nil {
		return false, fmt.Errorf("checking draft status: %w", err)
	}
	return false, nil
}

// FinishSubmit records a submit outcome as a status-only conditional
// write. The WHERE clause pins it to the submitting draft that holds the
// guard; nothing else on the row changes, so an upload completion applied
// during the terminal POST survives. A dismissed draft reports
// ErrDraftNotFound.
func (r *DraftRepository) FinishSubmit(ctx context.Context, id string, status domain.Status) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE drafts SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(status),
		time.Now().UTC().Format(timeFormat),
		id, string(domain.StatusSubmitting),
	)
	if err != nil {
		return fmt.Errorf("recording submit outcome: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrDraftNotFound
	}
	return nil
}

// CompleteUpload applies an upload outcome inside a transaction, but only
// while the slot still carries the job's generation. A missing draft or a
// newer generation returns false: the result is stale and dropped.
func (r *DraftRepository) CompleteUpload(ctx context.Context, draftID, key string, generation int, doc domain.UploadedDocument) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT documents FROM drafts WHERE id = ?`, draftID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil // draft dismissed mid-upload; drop the result
	}
	if err != nil {
		return false, fmt.Errorf("reading documents: %w", err)
	}

	var documents map[string]domain.UploadedDocument
	if err := json.Unmarshal([]byte(raw), &documents); err != nil {
		return false, fmt.Errorf("decoding documents: %w", err)
	}

	current, ok := documents[key]
	if !ok || current.Generation != generation {
		return false, nil // superseded by a newer selection
	}
	documents[key] = doc

	encoded, err := json.Marshal(documents)
	if err != nil {
		return false, fmt.Errorf("encoding documents: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE drafts SET documents = ?, updated_at = ? WHERE id = ?`,
		string(encoded), time.Now().UTC().Format(timeFormat), draftID,
	)
	if err != nil {
		return false, fmt.Errorf("writing documents: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing upload result: %w", err)
	}
	return true, nil
}

func encodeState(d domain.Draft) (fields, documents, acknowledged string, err error) {
	f, err := json.Marshal(d.Fields)
	if err != nil {
		return "", "", "", fmt.Errorf("encoding fields: %w", err)
	}
	docs, err := json.Marshal(d.Documents)
	if err != nil {
		return "", "", "", fmt.Errorf("encoding documents: %w", err)
	}
	ack, err := json.Marshal(d.Acknowledged)
	if err != nil {
		return "", "", "", fmt.Errorf("encoding acknowledgments: %w", err)
	}
	return string(f), string(docs), string(ack), nil
}

func scanDraft(row *sql.Row) (domain.Draft, error) {
	var d domain.Draft
	var status, fields, documents, acknowledged, createdAt, updatedAt string

	err := row.Scan(&d.ID, &d.ServiceID, &d.PlanID, &d.UserEmail, &d.UserName,
		&d.CurrentStep, &d.Frontier, &status, &fields, &documents,
		&acknowledged, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Draft{}, domain.ErrDraftNotFound
		}
		return domain.Draft{}, fmt.Errorf("scanning draft: %w", err)
	}

	d.Status = domain.Status(status)
	if err := json.Unmarshal([]byte(fields), &d.Fields); err != nil {
		return domain.Draft{}, fmt.Errorf("decoding fields: %w", err)
	}
	if err := json.Unmarshal([]byte(documents), &d.Documents); err != nil {
		return domain.Draft{}, fmt.Errorf("decoding documents: %w", err)
	}
	if err := json.Unmarshal([]byte(acknowledged), &d.Acknowledged); err != nil {
		return domain.Draft{}, fmt.Errorf("decoding acknowledgments: %w", err)
	}
	if d.Fields == nil {
		d.Fields = make(map[string]any)
	}
	if d.Documents == nil {
		d.Documents = make(map[string]domain.UploadedDocument)
	}
	if d.Acknowledged == nil {
		d.Acknowledged = make(map[string]bool)
	}
	d.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	d.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)

	return d, nil
}

// SubmissionRepository implements domain.SubmissionRepository on the same
// database as the drafts.
type SubmissionRepository struct {
	db *sql.DB
}

// NewSubmissionRepository wraps an already-migrated database connection.
func NewSubmissionRepository(db *sql.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

func (r *SubmissionRepository) Save(ctx context.Context, rec domain.SubmissionRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO submissions (submission_id, draft_id, service_id, plan_id, confirmed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.SubmissionID, rec.DraftID, rec.ServiceID, rec.PlanID,
		rec.ConfirmedAt.Format(timeFormat),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadySubmitted
		}
		return fmt.Errorf("inserting submission: %w", err)
	}
	return nil
}

func (r *SubmissionRepository) GetByDraft(ctx context.Context, draftID string) (domain.SubmissionRecord, error) {
	var rec domain.SubmissionRecord
	var confirmedAt string

	err := r.db.QueryRowContext(ctx,
		`SELECT submission_id, draft_id, service_id, plan_id, confirmed_at
		 FROM submissions WHERE draft_id = ?`, draftID,
	).Scan(&rec.SubmissionID, &rec.DraftID, &rec.ServiceID, &rec.PlanID, &confirmedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SubmissionRecord{}, domain.ErrDraftNotFound
	}
	if err != nil {
		return domain.SubmissionRecord{}, fmt.Errorf("scanning submission: %w", err)
	}

	rec.ConfirmedAt, _ = time.Parse(timeFormat, confirmedAt)
	return rec, nil
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
