package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/filingdesk/filingdesk/internal/domain"
)

// TracingUploader wraps a domain.Uploader with OpenTelemetry tracing.
type TracingUploader struct {
	next   domain.Uploader
	tracer trace.Tracer
}

// Compile-time check: TracingUploader implements domain.Uploader.
var _ domain.Uploader = (*TracingUploader)(nil)

// NewTracingUploader creates a tracing decorator around the given uploader.
func NewTracingUploader(next domain.Uploader) *TracingUploader {
	return &TracingUploader{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (u *TracingUploader) Upload(ctx context.Context, req domain.UploadRequest) (domain.UploadResult, error) {
	ctx, span := u.tracer.Start(ctx, "Uploader.Upload",
		trace.WithAttributes(
			attribute.String("upload.filename", req.Filename),
			attribute.String("upload.category", req.Category),
		),
	)
	defer span.End()

	result, err := u.next.Upload(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.String("upload.remote_id", result.ID))
	}
	return result, err
}

// TracingSubmitter wraps a domain.Submitter with OpenTelemetry tracing.
type TracingSubmitter struct {
	next   domain.Submitter
	tracer trace.Tracer
}

// Compile-time check: TracingSubmitter implements domain.Submitter.
var _ domain.Submitter = (*TracingSubmitter)(nil)

// NewTracingSubmitter creates a tracing decorator around the given submitter.
func NewTracingSubmitter(next domain.Submitter) *TracingSubmitter {
	return &TracingSubmitter{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (s *TracingSubmitter) Submit(ctx context.Context, serviceID string, payload domain.SubmissionPayload) (domain.SubmissionReceipt, error) {
	ctx, span := s.tracer.Start(ctx, "Submitter.Submit",
		trace.WithAttributes(
			attribute.String("submission.id", payload.SubmissionID),
			attribute.String("submission.service", serviceID),
			attribute.String("submission.plan", payload.Plan),
			attribute.Int("submission.documents", len(payload.Documents)),
		),
	)
	defer span.End()

	receipt, err := s.next.Submit(ctx, serviceID, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.String("submission.status", receipt.Status))
	}
	return receipt, err
}
