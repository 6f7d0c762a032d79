package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/export/queue"
)

// Timeout returns middleware that enforces a processing deadline. A zero
// or negative d disables the deadline. When the deadline is exceeded the
// context is cancelled and the handler should return
// context.DeadlineExceeded.
func Timeout(d time.Duration, logger *slog.Logger) Middleware {
	return func(ctx context.Context, m *queue.Message, next Handler) error {
		if d > 0 {
			logger.Debug("export timeout set",
				slog.String("job_id", m.JobID.String()),
				slog.Duration("timeout", d),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
