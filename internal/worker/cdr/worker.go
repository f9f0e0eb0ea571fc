package cdr

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/pbx-autodialer/internal/app"
	cdrsvc "github.com/acme/pbx-autodialer/internal/service/cdr"
	apperrors "github.com/acme/pbx-autodialer/pkg/errors"
)

// Worker consumes call detail reports from Kafka and feeds them to the
// reconciler.
type Worker struct {
	container *app.Container
}

// New creates a new CDR worker.
func New(container *app.Container) *Worker {
	return &Worker{container: container}
}

// Run processes CDR events until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	cfg := w.container.Config
	groupID := cfg.Kafka.ConsumerGroupID + "-cdr"
	reader := w.container.Kafka.NewReader(cfg.Kafka.CDRTopic, groupID)
	defer reader.Close()

	service := w.container.Services().CDR
	logger := w.container.Logger.Named("cdrworker")
	tracer := otel.Tracer("autodialer.cdrworker")

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("fetch message", zap.Error(err))
			continue
		}

		report, err := cdrsvc.ParseReportJSON(msg.Value)
		if err != nil {
			logger.Error("decode payload", zap.Error(err),
				zap.Int64("offset", msg.Offset))
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		mctx, span := tracer.Start(ctx, "cdr.ingest", trace.WithAttributes(
			attribute.String("call.uuid", report.CallUUID),
			attribute.Int("call.billsec", report.BillSeconds),
		))

		_, err = service.Ingest(mctx, report)
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrInvalidInput):
			// Uncorrelatable reports cannot succeed on redelivery
			// either; drop them.
			span.RecordError(err)
			logger.Warn("dropping uncorrelatable cdr",
				zap.String("call_uuid", report.CallUUID),
				zap.Error(err))
		default:
			span.RecordError(err)
			span.End()
			logger.Error("ingest cdr",
				zap.String("call_uuid", report.CallUUID),
				zap.Error(err))
			// Leave the message uncommitted for redelivery.
			continue
		}

		if err := reader.CommitMessages(mctx, msg); err != nil {
			span.RecordError(err)
			logger.Error("commit message", zap.Error(err))
		}
		span.End()
	}
}
