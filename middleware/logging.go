package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/export/queue"
)

// Logging returns middleware that logs message processing start and end.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, m *queue.Message, next Handler) error {
		logger.Info("export processing started",
			slog.String("job_id", m.JobID.String()),
			slog.String("tenant_id", m.TenantID),
			slog.Duration("queued_for", time.Since(m.EnqueuedAt)),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("export processing failed",
				slog.String("job_id", m.JobID.String()),
				slog.String("tenant_id", m.TenantID),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("export processing completed",
				slog.String("job_id", m.JobID.String()),
				slog.String("tenant_id", m.TenantID),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
