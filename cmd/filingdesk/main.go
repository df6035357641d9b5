package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"

	"github.com/filingdesk/filingdesk/internal/adapter/auth"
	"github.com/filingdesk/filingdesk/internal/adapter/fsm"
	"github.com/filingdesk/filingdesk/internal/adapter/gateway"
	"github.com/filingdesk/filingdesk/internal/adapter/otel"
	"github.com/filingdesk/filingdesk/internal/adapter/river"
	"github.com/filingdesk/filingdesk/internal/adapter/sqlite"
	"github.com/filingdesk/filingdesk/internal/app"
	"github.com/filingdesk/filingdesk/internal/catalog"
	"github.com/filingdesk/filingdesk/internal/domain"

	handler "github.com/filingdesk/filingdesk/internal/adapter/http"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	port := envOrDefault("PORT", "8080")
	dbPath := envOrDefault("DATABASE_PATH", "filingdesk.db")
	catalogDir := os.Getenv("CATALOG_DIR")
	spoolDir := envOrDefault("SPOOL_DIR", os.TempDir())
	uploadURL := envOrDefault("UPLOAD_SERVICE_URL", "http://localhost:9080")
	submissionURL := envOrDefault("SUBMISSION_BASE_URL", "http://localhost:9090/submissions")
	authSecret := os.Getenv("AUTH_SECRET")
	if authSecret == "" {
		return errors.New("AUTH_SECRET is required")
	}

	ctx := context.Background()

	// --- Observability ---
	providers, err := otel.Setup(ctx, otel.ConfigFromEnv())
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Printf("otel shutdown: %v", err)
		}
	}()

	// --- Adapters (out) ---
	db, err := otel.OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	repo, err := sqlite.NewFromDB(db)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	drafts := otel.NewTracingRepository(repo)
	submissions := sqlite.NewSubmissionRepository(db)

	store, err := catalog.New(catalogDir)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}

	uploader := otel.NewTracingUploader(gateway.NewUploadClient(uploadURL))
	submitter := otel.NewTracingSubmitter(gateway.NewSubmitClient(submissionURL))
	sessions := auth.NewVerifier(authSecret, 30*time.Minute)

	// --- Application + job queue ---
	// The queue client and the service reference each other: the service
	// enqueues jobs, the worker reports outcomes back through the service.
	var svc *app.WizardService
	recorder := &serviceRecorder{svc: &svc}

	client, err := river.Setup(ctx, db, uploader, recorder)
	if err != nil {
		return fmt.Errorf("river: %w", err)
	}

	svc = app.NewWizardService(
		drafts,
		submissions,
		store,
		river.NewQueue(client),
		submitter,
		fsm.New(),
		spoolDir,
	)

	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("river start: %w", err)
	}

	// Catalog hot reload runs until shutdown.
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if catalogDir != "" {
		go func() {
			if err := store.Watch(watchCtx); err != nil {
				slog.Warn("catalog watcher stopped", "error", err)
			}
		}()
	}

	// --- Adapters (in) ---
	router := chi.NewMux()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestID)
	router.Use(otelchi.Middleware("filingdesk", otelchi.WithChiRoutes(router)))

	api := humachi.New(router, huma.DefaultConfig("filingdesk", "0.1.0"))
	handler.Register(api, svc, sessions)

	// --- Server ---
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown.
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("filingdesk listening on :%s", port)
		log.Printf("API docs: http://localhost:%s/docs", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server: %w", err)
	case <-done:
	}
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	if err := client.Stop(shutdownCtx); err != nil {
		log.Printf("river stop: %v", err)
	}

	log.Println("stopped")
	return nil
}

// serviceRecorder defers the queue worker's service reference until the
// service exists; River workers are registered before the service is built.
type serviceRecorder struct {
	svc **app.WizardService
}

func (r *serviceRecorder) CompleteUpload(ctx context.Context, job domain.UploadJob, result domain.UploadResult) error {
	return (*r.svc).CompleteUpload(ctx, job, result)
}

func (r *serviceRecorder) FailUpload(ctx context.Context, job domain.UploadJob, cause error) error {
	return (*r.svc).FailUpload(ctx, job, cause)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
