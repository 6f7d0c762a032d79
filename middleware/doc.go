// Package middleware provides composable middleware for queue message
// processing.
//
// A [Middleware] is a function that wraps a message handler. Middleware are
// composed into a chain using [Chain] and applied before each queued export
// is processed. They are applied right-to-left: the first middleware in the
// slice is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging]: logs job ID, tenant, duration, and outcome of each message
//   - [Recover]: catches panics and converts them to errors
//   - [Timeout]: cancels the processing context after a configured duration
//   - [Tracing]: wraps processing in an OpenTelemetry span
//   - [Metrics]: records per-message duration and outcome counters
//   - [Scope]: restores the tenant and actor of the message into context
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, m *queue.Message, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., circuit breaker, rate limiting).
package middleware
