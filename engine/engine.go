package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"time"

	"github.com/xraph/export"
	"github.com/xraph/export/analytics"
	"github.com/xraph/export/artifact"
	"github.com/xraph/export/audit"
	"github.com/xraph/export/cron"
	"github.com/xraph/export/ext"
	"github.com/xraph/export/id"
	"github.com/xraph/export/job"
	"github.com/xraph/export/queue"
	"github.com/xraph/export/scope"
	"github.com/xraph/export/webhook"
)

// ScheduleRequest asks the scheduler for a recurring webhook delivery.
type ScheduleRequest = cron.Request

// Scheduler registers recurring deliveries. *cron.Scheduler satisfies it.
type Scheduler interface {
	Schedule(ctx context.Context, req ScheduleRequest) error
}

// Deliverer pushes a payload to a tenant webhook. *webhook.Dispatcher
// satisfies it.
type Deliverer interface {
	Dispatch(ctx context.Context, req webhook.Request) webhook.Result
}

// Compile-time checks.
var (
	_ Scheduler = (*cron.Scheduler)(nil)
	_ Deliverer = (*webhook.Dispatcher)(nil)
)

// Deps are the collaborators the engine orchestrates. Scheduler and
// Extensions are optional, the rest are required.
type Deps struct {
	Analytics analytics.Repository
	Jobs      job.Repository
	Audit     audit.Recorder
	Artifacts *artifact.Store
	Queue     queue.DeliveryQueue
	Webhooks  Deliverer
	Scheduler Scheduler

	Extensions *ext.Registry
}

// AuthContext identifies the caller of CreateExportJob.
type AuthContext struct {
	ActorID string
}

// CreateResult is returned by CreateExportJob. Status is job.StatusReady
// for inline exports and job.StatusQueued otherwise.
type CreateResult struct {
	Status      job.Status  `json:"status"`
	JobID       id.ExportID `json:"jobId"`
	DownloadURL string      `json:"downloadUrl,omitempty"`
	RecordCount int         `json:"recordCount,omitempty"`
	ExpiresAt   *time.Time  `json:"expiresAt,omitempty"`
	ETASeconds  int         `json:"etaSeconds,omitempty"`
}

// ProcessResult is returned by ProcessQueuedJob.
type ProcessResult struct {
	JobID          id.ExportID        `json:"jobId"`
	Status         job.Status         `json:"status"`
	RecordCount    int                `json:"recordCount"`
	DownloadURL    string             `json:"downloadUrl"`
	DeliveryStatus job.DeliveryStatus `json:"deliveryStatus"`
}

// StatusView is the tenant-facing view of a job.
type StatusView struct {
	JobID         id.ExportID   `json:"jobId"`
	Status        job.Status    `json:"status"`
	Format        export.Format `json:"format"`
	RecordCount   int           `json:"recordCount"`
	DownloadURL   string        `json:"downloadUrl,omitempty"`
	ExpiresAt     *time.Time    `json:"expiresAt,omitempty"`
	ETASeconds    int           `json:"etaSeconds,omitempty"`
	FailureReason string        `json:"failureReason,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
	CompletedAt   *time.Time    `json:"completedAt,omitempty"`

	Delivery DeliveryView `json:"delivery"`
}

// DeliveryView summarizes the delivery state of a job.
type DeliveryView struct {
	Type          export.DeliveryType `json:"type"`
	Target        string              `json:"target,omitempty"`
	Schedule      string              `json:"schedule,omitempty"`
	Status        job.DeliveryStatus  `json:"status"`
	Attempts      int                 `json:"attempts"`
	LastAttemptAt *time.Time          `json:"lastAttemptAt,omitempty"`
}

// DeliveryPayload is the JSON body pushed to tenant webhooks.
type DeliveryPayload struct {
	JobID       string        `json:"jobId"`
	TenantID    string        `json:"tenantId"`
	Status      job.Status    `json:"status"`
	Format      export.Format `json:"format"`
	RecordCount int           `json:"recordCount"`
	DownloadURL string        `json:"downloadUrl"`
	ExpiresAt   *time.Time    `json:"expiresAt,omitempty"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
}

// Engine decides between inline and queued exports, drives the job state
// machine and hands finished artifacts to the delivery collaborators.
type Engine struct {
	analytics  analytics.Repository
	jobs       job.Repository
	trail      *audit.Trail
	history    audit.Repository
	artifacts  *artifact.Store
	queue      queue.DeliveryQueue
	webhooks   Deliverer
	scheduler  Scheduler
	extensions *ext.Registry

	config    export.Config
	auditOpts []audit.Option
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default thresholds. Zero fields fall back to
// export.DefaultConfig.
func WithConfig(c export.Config) Option {
	return func(e *Engine) { e.config = mergeConfig(c) }
}

// WithLogger sets the logger used by the engine and its audit trail.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithExtension registers an extension. A registry is created when Deps
// did not provide one.
func WithExtension(x ext.Extension) Option {
	return func(e *Engine) {
		if e.extensions == nil {
			e.extensions = ext.NewRegistry(e.logger)
		}
		e.extensions.Register(x)
	}
}

// WithAuditDetails limits the audit trail to the listed details.
func WithAuditDetails(details ...audit.Detail) Option {
	return func(e *Engine) {
		e.auditOpts = append(e.auditOpts, audit.WithDetails(details...))
	}
}

// New validates deps and builds an Engine. A missing required collaborator
// yields an error wrapping export.ErrMissingDependency.
func New(deps Deps, opts ...Option) (*Engine, error) {
	switch {
	case deps.Analytics == nil:
		return nil, fmt.Errorf("%w: analytics repository", export.ErrMissingDependency)
	case deps.Jobs == nil:
		return nil, fmt.Errorf("%w: job repository", export.ErrMissingDependency)
	case deps.Audit == nil:
		return nil, fmt.Errorf("%w: audit recorder", export.ErrMissingDependency)
	case deps.Artifacts == nil:
		return nil, fmt.Errorf("%w: artifact store", export.ErrMissingDependency)
	case deps.Queue == nil:
		return nil, fmt.Errorf("%w: delivery queue", export.ErrMissingDependency)
	case deps.Webhooks == nil:
		return nil, fmt.Errorf("%w: webhook dispatcher", export.ErrMissingDependency)
	}

	e := &Engine{
		analytics:  deps.Analytics,
		jobs:       deps.Jobs,
		artifacts:  deps.Artifacts,
		queue:      deps.Queue,
		webhooks:   deps.Webhooks,
		scheduler:  deps.Scheduler,
		extensions: deps.Extensions,
		config:     export.DefaultConfig(),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.extensions == nil {
		e.extensions = ext.NewRegistry(e.logger)
	}

	trailOpts := append([]audit.Option{
		audit.WithLogger(e.logger),
		audit.WithClock(e.now),
	}, e.auditOpts...)
	e.trail = audit.NewTrail(deps.Audit, trailOpts...)
	if r, ok := deps.Audit.(audit.Repository); ok {
		e.history = r
	}

	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() export.Config { return e.config }

// Extensions returns the extension registry.
func (e *Engine) Extensions() *ext.Registry { return e.extensions }

// Logger returns the engine's logger.
func (e *Engine) Logger() *slog.Logger { return e.logger }

// ──────────────────────────────────────────────────
// Create
// ──────────────────────────────────────────────────

// CreateExportJob exports inline when the estimate is small enough and
// queues the job otherwise. filters are expected to be validated already.
//
// Errors on the inline path propagate unchanged and leave no job behind.
// A delivery error after the artifact is stored is returned together with
// the result of the completed job.
func (e *Engine) CreateExportJob(ctx context.Context, tenantID string, filters *export.Filters, auth AuthContext) (*CreateResult, error) {
	if tenantID == "" {
		return nil, export.NewValidationError("tenantId", "required")
	}
	if filters == nil {
		return nil, export.NewValidationError("filters", "required")
	}
	if err := e.checkDelivery(filters.Delivery); err != nil {
		return nil, err
	}

	actorID := auth.ActorID
	if actorID == "" {
		_, actorID = scope.Capture(ctx)
	}

	estimate, err := e.analytics.EstimateSessionCount(ctx, tenantID, filters)
	if err != nil {
		return nil, err
	}

	jobID := id.NewExportID()
	if e.inline(estimate) {
		e.logger.Info("export: exporting inline",
			slog.String("job_id", jobID.String()),
			slog.String("tenant_id", tenantID),
			slog.Int("estimated_count", estimate.Count),
		)
		return e.runInline(ctx, jobID, tenantID, actorID, filters, estimate)
	}

	return e.enqueue(ctx, jobID, tenantID, actorID, filters, estimate)
}

// inline reports whether an estimate qualifies for the synchronous path.
// An unknown duration does not force the queue.
func (e *Engine) inline(est analytics.Estimate) bool {
	if est.Count > e.config.SyncLimit {
		return false
	}
	return est.EstimatedDuration <= 0 || est.EstimatedDuration <= e.config.SyncDuration
}

// ETA returns the etaSeconds reported for a queued job of count records.
func (e *Engine) ETA(count int) int {
	batches := math.Ceil(float64(count) / float64(e.config.SyncLimit))
	// Clamp before multiplying so huge counts cannot overflow the duration.
	if maxBatches := math.Ceil(float64(e.config.ETACap) / float64(e.config.ETAStep)); batches > maxBatches {
		batches = maxBatches
	}
	eta := time.Duration(batches) * e.config.ETAStep
	if eta > e.config.ETACap {
		eta = e.config.ETACap
	}
	return int(eta / time.Second)
}

func (e *Engine) runInline(ctx context.Context, jobID id.ExportID, tenantID, actorID string, filters *export.Filters, est analytics.Estimate) (*CreateResult, error) {
	start := e.now()

	art, err := e.produce(ctx, jobID, tenantID, actorID, filters)
	if err != nil {
		return nil, err
	}

	j := e.newJob(jobID, tenantID, actorID, filters)
	j.Status = job.StatusCompleted
	j.EstimatedCount = est.Count
	applyArtifact(j, art)

	if err := e.jobs.Create(ctx, j); err != nil {
		return nil, err
	}

	e.record(ctx, j, audit.DetailSyncReady, string(j.Status), map[string]any{
		"artifactPath": art.ArtifactPath,
		"checksum":     art.Checksum,
		"size":         art.Size,
	})

	delivered, derr := e.deliver(ctx, j, art)
	if delivered != nil {
		j = delivered
	}
	e.extensions.EmitExportReady(ctx, j, e.now().Sub(start))

	res := &CreateResult{
		Status:      job.StatusReady,
		JobID:       j.ID,
		DownloadURL: j.DownloadURL,
		RecordCount: j.RecordCount,
		ExpiresAt:   j.ExpiresAt,
	}
	if derr != nil {
		return res, derr
	}
	return res, nil
}

func (e *Engine) enqueue(ctx context.Context, jobID id.ExportID, tenantID, actorID string, filters *export.Filters, est analytics.Estimate) (*CreateResult, error) {
	j := e.newJob(jobID, tenantID, actorID, filters)
	j.Status = job.StatusQueued
	j.EstimatedCount = est.Count
	j.ETASeconds = e.ETA(est.Count)

	if err := e.jobs.Create(ctx, j); err != nil {
		return nil, err
	}

	e.record(ctx, j, audit.DetailAsyncEnqueued, string(j.Status), map[string]any{
		"estimatedCount": est.Count,
		"etaSeconds":     j.ETASeconds,
	})

	f := *filters
	msg := &queue.Message{
		JobID:      jobID,
		TenantID:   tenantID,
		Filters:    &f,
		ActorID:    actorID,
		EnqueuedAt: e.now().UTC(),
	}
	if err := e.queue.Enqueue(ctx, msg); err != nil {
		e.fail(ctx, j, fmt.Errorf("enqueue: %w", err))
		return nil, fmt.Errorf("export: enqueue job %s: %w", jobID, err)
	}

	e.logger.Info("export: job queued",
		slog.String("job_id", jobID.String()),
		slog.String("tenant_id", tenantID),
		slog.Int("estimated_count", est.Count),
		slog.Int("eta_seconds", j.ETASeconds),
	)
	e.extensions.EmitExportQueued(ctx, j)

	return &CreateResult{
		Status:     job.StatusQueued,
		JobID:      jobID,
		ETASeconds: j.ETASeconds,
	}, nil
}

// ──────────────────────────────────────────────────
// Process
// ──────────────────────────────────────────────────

// ProcessQueuedJob runs a queued export to completion. A processing
// failure marks the job failed and is returned wrapped. Delivery failures
// are recorded on the job and never fail it.
func (e *Engine) ProcessQueuedJob(ctx context.Context, jobID id.ExportID, tenantID string, filters *export.Filters, actorID string) (*ProcessResult, error) {
	if jobID.IsNil() {
		return nil, export.NewValidationError("jobId", "required")
	}
	if tenantID == "" {
		return nil, export.NewValidationError("tenantId", "required")
	}
	if filters == nil {
		return nil, export.NewValidationError("filters", "required")
	}

	start := e.now()

	j, err := e.jobs.Update(ctx, jobID, tenantID, job.Patch{Status: job.Ptr(job.StatusProcessing)})
	if err != nil {
		return nil, fmt.Errorf("export: start job %s: %w", jobID, err)
	}
	if actorID == "" {
		actorID = j.ActorID
	}

	e.record(ctx, j, audit.DetailAsyncProcessing, string(j.Status), nil)
	e.extensions.EmitExportStarted(ctx, j)

	art, err := e.produce(ctx, jobID, tenantID, actorID, filters)
	if err != nil {
		e.fail(ctx, j, err)
		return nil, fmt.Errorf("export: process job %s: %w", jobID, err)
	}

	completedAt := art.CompletedAt
	expiresAt := art.ExpiresAt
	ready, err := e.jobs.Update(ctx, jobID, tenantID, job.Patch{
		Status:       job.Ptr(job.StatusReady),
		RecordCount:  job.Ptr(art.RecordCount),
		DownloadURL:  job.Ptr(art.DownloadURL),
		ArtifactPath: job.Ptr(art.ArtifactPath),
		ExpiresAt:    &expiresAt,
		CompletedAt:  &completedAt,
	})
	if err != nil {
		e.fail(ctx, j, err)
		return nil, fmt.Errorf("export: finish job %s: %w", jobID, err)
	}
	j = ready

	e.record(ctx, j, audit.DetailAsyncReady, string(j.Status), map[string]any{
		"artifactPath": art.ArtifactPath,
		"checksum":     art.Checksum,
		"size":         art.Size,
	})

	delivered, derr := e.deliver(ctx, j, art)
	if delivered != nil {
		j = delivered
	}

	elapsed := e.now().Sub(start)
	e.logger.Info("export: job ready",
		slog.String("job_id", jobID.String()),
		slog.String("tenant_id", tenantID),
		slog.Int("record_count", j.RecordCount),
		slog.Duration("elapsed", elapsed),
	)
	e.extensions.EmitExportReady(ctx, j, elapsed)

	res := &ProcessResult{
		JobID:          j.ID,
		Status:         j.Status,
		RecordCount:    j.RecordCount,
		DownloadURL:    j.DownloadURL,
		DeliveryStatus: j.DeliveryStatus,
	}
	if derr != nil {
		return res, derr
	}
	return res, nil
}

// produce fetches, normalizes and stores the artifact for a job. A panic
// in a collaborator is returned as an error so the job can be failed.
func (e *Engine) produce(ctx context.Context, jobID id.ExportID, tenantID, actorID string, filters *export.Filters) (_ *artifact.Artifact, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("export: panic while producing artifact",
				slog.String("job_id", jobID.String()),
				slog.String("tenant_id", tenantID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("%w: %v", export.ErrProducePanic, r)
		}
	}()

	raw, err := e.analytics.FetchSessions(ctx, tenantID, filters)
	if err != nil {
		return nil, err
	}
	return e.artifacts.StoreArtifact(ctx, artifact.Request{
		TenantID: tenantID,
		JobID:    jobID,
		Format:   filters.Format,
		Sessions: analytics.Normalize(raw),
		Filters:  filters,
		ActorID:  actorID,
	})
}

// fail marks j failed. Storage errors here are logged since the original
// failure is what the caller needs to see.
func (e *Engine) fail(ctx context.Context, j *job.Job, cause error) {
	reason := cause.Error()
	failed, err := e.jobs.Update(ctx, j.ID, j.TenantID, job.Patch{
		Status:        job.Ptr(job.StatusFailed),
		FailureReason: &reason,
	})
	if err != nil {
		e.logger.Error("export: failed to mark job failed",
			slog.String("job_id", j.ID.String()),
			slog.String("tenant_id", j.TenantID),
			slog.String("cause", reason),
			slog.String("error", err.Error()),
		)
		failed = j.Clone()
		failed.Status = job.StatusFailed
		failed.FailureReason = reason
	}

	e.logger.Error("export: job failed",
		slog.String("job_id", j.ID.String()),
		slog.String("tenant_id", j.TenantID),
		slog.String("error", reason),
	)
	_ = e.trail.Record(ctx, &audit.Entry{
		JobID:        failed.ID,
		TenantID:     failed.TenantID,
		ActorID:      failed.ActorID,
		Status:       string(job.StatusFailed),
		StatusDetail: audit.DetailAsyncFailed,
		Filters:      filtersOf(failed),
		Error:        reason,
	})
	e.extensions.EmitExportFailed(ctx, failed, cause)
}

// ──────────────────────────────────────────────────
// Delivery
// ──────────────────────────────────────────────────

// checkDelivery rejects delivery modes the engine was not wired for.
func (e *Engine) checkDelivery(d export.Delivery) error {
	if d.Scheduled() && e.scheduler == nil {
		return export.ErrSchedulerNotConfigured
	}
	return nil
}

// deliver routes a finished artifact according to the job's delivery
// block and returns the job as last persisted. Only configuration and
// scheduler failures produce an error.
func (e *Engine) deliver(ctx context.Context, j *job.Job, art *artifact.Artifact) (*job.Job, error) {
	d := j.Filters.Delivery
	switch {
	case d.Type != export.DeliveryWebhook:
		return j, nil
	case d.Scheduled():
		return e.schedule(ctx, j, art)
	default:
		return e.dispatch(ctx, j, art), nil
	}
}

func (e *Engine) schedule(ctx context.Context, j *job.Job, art *artifact.Artifact) (*job.Job, error) {
	d := j.Filters.Delivery

	err := e.checkDelivery(d)
	if err == nil {
		err = e.scheduler.Schedule(ctx, ScheduleRequest{
			TenantID:   j.TenantID,
			JobID:      j.ID,
			Cron:       d.Schedule,
			WebhookURL: d.WebhookURL,
			Payload:    payloadFor(j, art),
		})
	}
	if err != nil {
		updated := e.updateDelivery(ctx, j, job.Patch{DeliveryStatus: job.Ptr(job.DeliveryFailed)})
		e.record(ctx, updated, audit.DetailWebhookDeliveryError, string(job.DeliveryFailed), map[string]any{
			"schedule":   d.Schedule,
			"webhookUrl": d.WebhookURL,
		}, err.Error())
		e.extensions.EmitDeliveryFailed(ctx, updated, 0, err)
		return updated, err
	}

	updated := e.updateDelivery(ctx, j, job.Patch{DeliveryStatus: job.Ptr(job.DeliveryScheduled)})
	e.record(ctx, updated, audit.DetailWebhookScheduled, string(job.DeliveryScheduled), map[string]any{
		"schedule":   d.Schedule,
		"webhookUrl": d.WebhookURL,
	})
	e.logger.Info("export: webhook scheduled",
		slog.String("job_id", j.ID.String()),
		slog.String("tenant_id", j.TenantID),
		slog.String("schedule", d.Schedule),
	)
	e.extensions.EmitDeliveryScheduled(ctx, updated, d.Schedule)
	return updated, nil
}

func (e *Engine) dispatch(ctx context.Context, j *job.Job, art *artifact.Artifact) *job.Job {
	d := j.Filters.Delivery
	res := e.webhooks.Dispatch(ctx, webhook.Request{
		TenantID: j.TenantID,
		JobID:    j.ID,
		URL:      d.WebhookURL,
		Payload:  payloadFor(j, art),
	})

	status := job.DeliveryDelivered
	if !res.Success {
		status = job.DeliveryFailed
	}
	patch := job.Patch{
		DeliveryStatus:   &status,
		DeliveryAttempts: job.Ptr(res.Attempts),
	}
	if !res.LastAttemptAt.IsZero() {
		at := res.LastAttemptAt
		patch.DeliveryLastAttemptAt = &at
	}
	updated := e.updateDelivery(ctx, j, patch)

	meta := map[string]any{
		"webhookUrl": d.WebhookURL,
		"attempts":   res.Attempts,
		"statusCode": res.StatusCode,
	}
	if !res.DeliveryID.IsNil() {
		meta["deliveryId"] = res.DeliveryID.String()
	}

	if res.Success {
		e.record(ctx, updated, audit.DetailWebhookDelivered, string(status), meta)
		e.extensions.EmitDeliveryCompleted(ctx, updated, res.Attempts)
		return updated
	}

	e.record(ctx, updated, audit.DetailWebhookFailed, string(status), meta, res.Error)
	e.record(ctx, updated, audit.DetailWebhookDeliveryError, string(status), nil, res.Error)
	e.logger.Warn("export: webhook delivery failed",
		slog.String("job_id", j.ID.String()),
		slog.String("tenant_id", j.TenantID),
		slog.Int("attempts", res.Attempts),
		slog.String("error", res.Error),
	)
	e.extensions.EmitDeliveryFailed(ctx, updated, res.Attempts, errors.New(res.Error))
	return updated
}

// updateDelivery persists delivery fields. On a storage error the change
// is applied to a copy so callers still see the outcome.
func (e *Engine) updateDelivery(ctx context.Context, j *job.Job, p job.Patch) *job.Job {
	updated, err := e.jobs.Update(ctx, j.ID, j.TenantID, p)
	if err == nil {
		return updated
	}
	e.logger.Error("export: failed to persist delivery state",
		slog.String("job_id", j.ID.String()),
		slog.String("tenant_id", j.TenantID),
		slog.String("error", err.Error()),
	)
	cp := j.Clone()
	p.Status = nil
	_ = p.Apply(cp, e.now())
	return cp
}

func payloadFor(j *job.Job, art *artifact.Artifact) DeliveryPayload {
	status := j.Status
	if status == job.StatusCompleted {
		status = job.StatusReady
	}
	p := DeliveryPayload{
		JobID:       j.ID.String(),
		TenantID:    j.TenantID,
		Status:      status,
		Format:      j.Format,
		RecordCount: art.RecordCount,
		DownloadURL: art.DownloadURL,
	}
	expiresAt := art.ExpiresAt
	completedAt := art.CompletedAt
	p.ExpiresAt = &expiresAt
	p.CompletedAt = &completedAt
	return p
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// GetJobStatus returns the job as seen by tenantID, or nil when the job
// does not exist for that tenant.
func (e *Engine) GetJobStatus(ctx context.Context, tenantID string, jobID id.ExportID) (*StatusView, error) {
	if tenantID == "" {
		return nil, export.NewValidationError("tenantId", "required")
	}
	j, err := e.jobs.FindByID(ctx, tenantID, jobID)
	if errors.Is(err, export.ErrJobNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return viewOf(j), nil
}

// ListJobs returns tenantID's jobs, newest first.
func (e *Engine) ListJobs(ctx context.Context, tenantID string, opts job.ListOpts) ([]*StatusView, error) {
	if tenantID == "" {
		return nil, export.NewValidationError("tenantId", "required")
	}
	jobs, err := e.jobs.ListByTenant(ctx, tenantID, opts)
	if err != nil {
		return nil, err
	}
	views := make([]*StatusView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, viewOf(j))
	}
	return views, nil
}

// History returns the audit trail of a job in recording order. It needs an
// audit collaborator that can also read entries back.
func (e *Engine) History(ctx context.Context, tenantID string, jobID id.ExportID) ([]*audit.Entry, error) {
	if e.history == nil {
		return nil, fmt.Errorf("%w: audit repository", export.ErrMissingDependency)
	}
	return e.history.ListByJob(ctx, tenantID, jobID)
}

func viewOf(j *job.Job) *StatusView {
	v := &StatusView{
		JobID:         j.ID,
		Status:        j.Status,
		Format:        j.Format,
		RecordCount:   j.RecordCount,
		DownloadURL:   j.DownloadURL,
		ExpiresAt:     j.ExpiresAt,
		FailureReason: j.FailureReason,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
		CompletedAt:   j.CompletedAt,
		Delivery: DeliveryView{
			Type:          j.DeliveryType,
			Target:        j.DeliveryTarget,
			Schedule:      j.DeliverySchedule,
			Status:        j.DeliveryStatus,
			Attempts:      j.DeliveryAttempts,
			LastAttemptAt: j.DeliveryLastAttemptAt,
		},
	}
	if j.Status == job.StatusQueued || j.Status == job.StatusProcessing {
		v.ETASeconds = j.ETASeconds
	}
	return v
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (e *Engine) newJob(jobID id.ExportID, tenantID, actorID string, filters *export.Filters) *job.Job {
	j := job.New(jobID, tenantID, actorID, *filters)
	now := e.now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now
	return j
}

func applyArtifact(j *job.Job, art *artifact.Artifact) {
	completedAt := art.CompletedAt
	expiresAt := art.ExpiresAt
	j.RecordCount = art.RecordCount
	j.DownloadURL = art.DownloadURL
	j.ArtifactPath = art.ArtifactPath
	j.CompletedAt = &completedAt
	j.ExpiresAt = &expiresAt
}

// record appends an audit entry for j. Audit failures are logged by the
// trail and never undo a transition that is already persisted.
func (e *Engine) record(ctx context.Context, j *job.Job, detail audit.Detail, status string, meta map[string]any, errMsg ...string) {
	entry := &audit.Entry{
		JobID:        j.ID,
		TenantID:     j.TenantID,
		ActorID:      j.ActorID,
		Status:       status,
		StatusDetail: detail,
		Filters:      filtersOf(j),
		RecordCount:  j.RecordCount,
		Metadata:     meta,
	}
	if len(errMsg) > 0 {
		entry.Error = errMsg[0]
	}
	_ = e.trail.Record(ctx, entry)
}

func filtersOf(j *job.Job) *export.Filters {
	f := j.Filters
	return &f
}

func mergeConfig(c export.Config) export.Config {
	d := export.DefaultConfig()
	if c.SyncLimit <= 0 {
		c.SyncLimit = d.SyncLimit
	}
	if c.SyncDuration <= 0 {
		c.SyncDuration = d.SyncDuration
	}
	if c.ETACap <= 0 {
		c.ETACap = d.ETACap
	}
	if c.ETAStep <= 0 {
		c.ETAStep = d.ETAStep
	}
	if c.ArtifactTTL <= 0 {
		c.ArtifactTTL = d.ArtifactTTL
	}
	if c.DownloadBaseURL == "" {
		c.DownloadBaseURL = d.DownloadBaseURL
	}
	if c.WebhookMaxAttempts <= 0 {
		c.WebhookMaxAttempts = d.WebhookMaxAttempts
	}
	if c.WebhookBackoff <= 0 {
		c.WebhookBackoff = d.WebhookBackoff
	}
	if c.WebhookTimeout <= 0 {
		c.WebhookTimeout = d.WebhookTimeout
	}
	if c.QueueName == "" {
		c.QueueName = d.QueueName
	}
	return c
}
