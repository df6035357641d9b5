package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/filingdesk/filingdesk/internal/domain"
)

const tracerName = "github.com/filingdesk/filingdesk/internal/adapter/otel"

// TracingRepository wraps a domain.DraftRepository with OpenTelemetry tracing.
// Each method creates a span with semantic attributes and records errors.
type TracingRepository struct {
	next   domain.DraftRepository
	tracer trace.Tracer
}

// Compile-time check: TracingRepository implements domain.DraftRepository.
var _ domain.DraftRepository = (*TracingRepository)(nil)

// NewTracingRepository creates a tracing decorator around the given repository.
func NewTracingRepository(next domain.DraftRepository) *TracingRepository {
	return &TracingRepository{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (r *TracingRepository) Create(ctx context.Context, draft domain.Draft) error {
	ctx, span := r.tracer.Start(ctx, "DraftRepository.Create",
		trace.WithAttributes(
			attribute.String("draft.id", draft.ID),
			attribute.String("draft.service", draft.ServiceID),
			attribute.String("draft.plan", draft.PlanID),
		),
	)
	defer span.End()

	err := r.next.Create(ctx, draft)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *TracingRepository) Get(ctx context.Context, id string) (domain.Draft, error) {
	ctx, span := r.tracer.Start(ctx, "DraftRepository.Get",
		trace.WithAttributes(attribute.String("draft.id", id)),
	)
	defer span.End()

	draft, err := r.next.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return draft, err
}

func (r *TracingRepository) Update(ctx context.Context, draft domain.Draft) error {
	ctx, span := r.tracer.Start(ctx, "DraftRepository.Update",
		trace.WithAttributes(
			attribute.String("draft.id", draft.ID),
			attribute.String("draft.status", string(draft.Status)),
			attribute.Int("draft.step", draft.CurrentStep),
		),
	)
	defer span.End()

	err := r.next.Update(ctx, draft)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *TracingRepository) Delete(ctx context.Context, id string) error {
	ctx, span := r.tracer.Start(ctx, "DraftRepository.Delete",
		trace.WithAttributes(attribute.String("draft.id", id)),
	)
	defer span.End()

	err := r.next.Delete(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *TracingRepository) StageUpload(ctx context.Context, draftID, key, filename string) (int, error) {
	ctx, span := r.tracer.Start(ctx, "DraftRepository.StageUpload",
		trace.WithAttributes(
			attribute.String("draft.id", draftID),
			attribute.String("document.key", key),
		),
	)
	defer span.End()

	generation, err := r.next.StageUpload(ctx, draftID, key, filename)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int("document.generation", generation))
	}
	return generation, err
}

func (r *TracingRepository) FinishSubmit(ctx context.Context, id string, status domain.Status) error {
	ctx, span := r.tracer.Start(ctx, "DraftRepository.FinishSubmit",
		trace.WithAttributes(
			attribute.String("draft.id", id),
			attribute.String("draft.status", string(status)),
		),
	)
	defer span.End()

	err := r.next.FinishSubmit(ctx, id, status)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *TracingRepository) BeginSubmit(ctx context.Context, id string) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "DraftRepository.BeginSubmit",
		trace.WithAttributes(attribute.String("draft.id", id)),
	)
	defer span.End()

	ok, err := r.next.BeginSubmit(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Bool("submit.won_guard", ok))
	}
	return ok, err
}

func (r *TracingRepository) CompleteUpload(ctx context.Context, draftID, key string, generation int, doc domain.UploadedDocument) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "DraftRepository.CompleteUpload",
		trace.WithAttributes(
			attribute.String("draft.id", draftID),
			attribute.String("document.key", key),
			attribute.Int("document.generation", generation),
		),
	)
	defer span.End()

	applied, err := r.next.CompleteUpload(ctx, draftID, key, generation, doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Bool("upload.applied", applied))
	}
	return applied, err
}
