package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/export/queue"
)

// tracerName is the instrumentation scope name for export tracing.
const tracerName = "github.com/xraph/export"

// Tracing returns middleware that wraps processing in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used
// and this middleware becomes a pass-through with zero overhead.
//
// Span attributes include: export.job.id, export.tenant.id, export.actor.id,
// export.format and export.delivery.type.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, m *queue.Message, next Handler) error {
		attrs := []attribute.KeyValue{
			attribute.String("export.job.id", m.JobID.String()),
			attribute.String("export.tenant.id", m.TenantID),
			attribute.String("export.actor.id", m.ActorID),
		}
		if m.Filters != nil {
			attrs = append(attrs,
				attribute.String("export.format", string(m.Filters.Format)),
				attribute.String("export.delivery.type", string(m.Filters.Delivery.Type)),
			)
		}

		ctx, span := tracer.Start(ctx, "export.job.process",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
