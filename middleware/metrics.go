package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/export/queue"
)

// meterName is the instrumentation scope name for export metrics.
const meterName = "github.com/xraph/export"

// Metrics returns middleware that records per-message processing metrics
// using the global OTel MeterProvider. If no MeterProvider is configured,
// noop instruments are used and this middleware becomes a pass-through.
//
// Instruments:
//   - export.process.duration (Float64Histogram): processing time in seconds,
//     with attributes: tenant_id, format, status ("ok" or "error")
//   - export.process.executions (Int64Counter): total processed messages,
//     with attributes: tenant_id, format, status ("ok" or "error")
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// OTel instruments are safe for concurrent use. On error, the API
	// returns noop instruments.
	duration, dErr := meter.Float64Histogram(
		"export.process.duration",
		metric.WithDescription("Duration of queued export processing in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr

	executions, eErr := meter.Int64Counter(
		"export.process.executions",
		metric.WithDescription("Total number of processed export messages"),
		metric.WithUnit("{execution}"),
	)
	_ = eErr

	return func(ctx context.Context, m *queue.Message, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		format := ""
		if m.Filters != nil {
			format = string(m.Filters.Format)
		}

		attrs := metric.WithAttributes(
			attribute.String("tenant_id", m.TenantID),
			attribute.String("format", format),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return err
	}
}
