package middleware

import (
	"context"

	"github.com/xraph/export/queue"
	"github.com/xraph/export/scope"
)

// Scope returns middleware that restores the tenant and actor of the
// message into the context, so handlers see the same scope as the
// original caller.
func Scope() Middleware {
	return func(ctx context.Context, m *queue.Message, next Handler) error {
		ctx = scope.Restore(ctx, m.TenantID, m.ActorID)
		return next(ctx)
	}
}
