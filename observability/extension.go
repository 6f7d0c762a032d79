package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/export/ext"
	"github.com/xraph/export/job"
)

// meterName is the instrumentation scope name for export lifecycle metrics.
const meterName = "github.com/xraph/export/observability"

// Compile-time interface checks.
var (
	_ ext.Extension         = (*MetricsExtension)(nil)
	_ ext.ExportQueued      = (*MetricsExtension)(nil)
	_ ext.ExportStarted     = (*MetricsExtension)(nil)
	_ ext.ExportReady       = (*MetricsExtension)(nil)
	_ ext.ExportFailed      = (*MetricsExtension)(nil)
	_ ext.DeliveryCompleted = (*MetricsExtension)(nil)
	_ ext.DeliveryFailed    = (*MetricsExtension)(nil)
	_ ext.DeliveryScheduled = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics via OTel counters.
// Register it as an engine extension to automatically track queued,
// started, ready and failed exports together with webhook outcomes.
//
// Every counter carries the attributes tenant_id and format; the ready
// counter also carries path ("sync" or "async").
type MetricsExtension struct {
	ExportQueued      metric.Int64Counter
	ExportStarted     metric.Int64Counter
	ExportReady       metric.Int64Counter
	ExportFailed      metric.Int64Counter
	ExportRecords     metric.Int64Counter
	ExportDuration    metric.Float64Histogram
	DeliveryCompleted metric.Int64Counter
	DeliveryFailed    metric.Int64Counter
	DeliveryScheduled metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. On instrument errors the OTel API returns noop instruments.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	duration, _ := meter.Float64Histogram(
		"export.job.duration",
		metric.WithDescription("Time from start of processing to a stored artifact"),
		metric.WithUnit("s"),
	)

	return &MetricsExtension{
		ExportQueued:      counter("export.job.queued", "Exports accepted onto the delivery queue"),
		ExportStarted:     counter("export.job.started", "Queued exports picked up by a worker"),
		ExportReady:       counter("export.job.ready", "Exports with a stored artifact and download link"),
		ExportFailed:      counter("export.job.failed", "Asynchronous exports that failed terminally"),
		ExportRecords:     counter("export.job.records", "Session records written to artifacts"),
		ExportDuration:    duration,
		DeliveryCompleted: counter("export.delivery.completed", "Successful webhook deliveries"),
		DeliveryFailed:    counter("export.delivery.failed", "Webhook deliveries that exhausted their attempts"),
		DeliveryScheduled: counter("export.delivery.scheduled", "Recurring webhook deliveries registered"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func jobAttrs(j *job.Job, extra ...attribute.KeyValue) metric.MeasurementOption {
	attrs := append([]attribute.KeyValue{
		attribute.String("tenant_id", j.TenantID),
		attribute.String("format", string(j.Format)),
	}, extra...)
	return metric.WithAttributes(attrs...)
}

// ── Export lifecycle hooks ──────────────────────────

// OnExportQueued implements ext.ExportQueued.
func (m *MetricsExtension) OnExportQueued(ctx context.Context, j *job.Job) error {
	m.ExportQueued.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnExportStarted implements ext.ExportStarted.
func (m *MetricsExtension) OnExportStarted(ctx context.Context, j *job.Job) error {
	m.ExportStarted.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnExportReady implements ext.ExportReady.
func (m *MetricsExtension) OnExportReady(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	path := "async"
	if j.Status == job.StatusCompleted {
		path = "sync"
	}
	attrs := jobAttrs(j, attribute.String("path", path))
	m.ExportReady.Add(ctx, 1, attrs)
	m.ExportRecords.Add(ctx, int64(j.RecordCount), attrs)
	m.ExportDuration.Record(ctx, elapsed.Seconds(), attrs)
	return nil
}

// OnExportFailed implements ext.ExportFailed.
func (m *MetricsExtension) OnExportFailed(ctx context.Context, j *job.Job, _ error) error {
	m.ExportFailed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// ── Delivery lifecycle hooks ────────────────────────

// OnDeliveryCompleted implements ext.DeliveryCompleted.
func (m *MetricsExtension) OnDeliveryCompleted(ctx context.Context, j *job.Job, _ int) error {
	m.DeliveryCompleted.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnDeliveryFailed implements ext.DeliveryFailed.
func (m *MetricsExtension) OnDeliveryFailed(ctx context.Context, j *job.Job, _ int, _ error) error {
	m.DeliveryFailed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnDeliveryScheduled implements ext.DeliveryScheduled.
func (m *MetricsExtension) OnDeliveryScheduled(ctx context.Context, j *job.Job, _ string) error {
	m.DeliveryScheduled.Add(ctx, 1, jobAttrs(j))
	return nil
}
