package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/export/artifact"
	"github.com/xraph/export/backoff"
	"github.com/xraph/export/blob"
	"github.com/xraph/export/blob/local"
	blobmemory "github.com/xraph/export/blob/memory"
	"github.com/xraph/export/blob/s3"
	"github.com/xraph/export/cron"
	"github.com/xraph/export/engine"
	"github.com/xraph/export/ext"
	"github.com/xraph/export/observability"
	"github.com/xraph/export/queue"
	memqueue "github.com/xraph/export/queue/memory"
	redisqueue "github.com/xraph/export/queue/redis"
	"github.com/xraph/export/store"
	"github.com/xraph/export/store/memory"
	"github.com/xraph/export/store/postgres"
	redisstore "github.com/xraph/export/store/redis"
	"github.com/xraph/export/webhook"
	"github.com/xraph/export/worker"
)

// app holds the wired components of one exportd process.
type app struct {
	settings *settings
	logger   *slog.Logger

	store      store.Store
	redis      goredis.UniversalClient
	signer     *artifact.Signer
	artifacts  *artifact.Store
	queue      queue.DeliveryQueue
	dispatcher *webhook.Dispatcher
	scheduler  *cron.Scheduler
	extensions *ext.Registry
	engine     *engine.Engine

	closers []func() error
}

// newApp wires every component described by s. The caller must Close the
// returned app.
func newApp(ctx context.Context, s *settings, logger *slog.Logger) (_ *app, err error) {
	a := &app{settings: s, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err = a.openStore(ctx); err != nil {
		return nil, err
	}

	bucket, err := a.openBucket(ctx)
	if err != nil {
		return nil, err
	}
	a.signer, err = artifact.NewSigner([]byte(s.Signing.Secret), s.Engine.DownloadBaseURL)
	if err != nil {
		return nil, err
	}
	a.artifacts = artifact.NewStore(bucket, a.signer,
		artifact.WithTTL(s.Engine.ArtifactTTL),
		artifact.WithLogger(logger),
	)

	if err = a.openQueue(); err != nil {
		return nil, err
	}
	if err = a.newDispatcher(); err != nil {
		return nil, err
	}

	a.extensions = ext.NewRegistry(logger)
	a.extensions.Register(observability.NewMetricsExtension())

	deps := engine.Deps{
		Analytics:  a.store,
		Jobs:       a.store,
		Audit:      a.store,
		Artifacts:  a.artifacts,
		Queue:      a.queue,
		Webhooks:   a.dispatcher,
		Extensions: a.extensions,
	}
	if s.Scheduler.Enabled {
		a.scheduler = cron.NewScheduler(a.store,
			cron.WithFire(a.fire),
			cron.WithTickInterval(s.Scheduler.TickInterval),
			cron.WithLockTTL(s.Scheduler.LockTTL),
			cron.WithLogger(logger),
		)
		deps.Scheduler = a.scheduler
	}

	a.engine, err = engine.New(deps,
		engine.WithConfig(s.Engine),
		engine.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) redisClient() (goredis.UniversalClient, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	opts, err := goredis.ParseURL(a.settings.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.url: %w", err)
	}
	client := goredis.NewClient(opts)
	a.redis = client
	a.closers = append(a.closers, client.Close)
	return client, nil
}

func (a *app) openStore(ctx context.Context) error {
	ss := a.settings.Store
	switch ss.Driver {
	case driverMemory:
		a.store = memory.New()
	case driverPostgres:
		pg, err := postgres.New(ctx, ss.DSN,
			postgres.WithLogger(a.logger),
			postgres.WithEstimateRate(ss.EstimateRate),
		)
		if err != nil {
			return err
		}
		a.store = pg
	case driverRedis:
		client, err := a.redisClient()
		if err != nil {
			return err
		}
		a.store = redisstore.New(client, redisstore.WithLogger(a.logger))
	default:
		return fmt.Errorf("store.driver: unknown driver %q", ss.Driver)
	}
	a.closers = append(a.closers, a.store.Close)

	if err := a.store.Ping(ctx); err != nil {
		return fmt.Errorf("store ping: %w", err)
	}
	if ss.AutoMigrate {
		if err := a.store.Migrate(ctx); err != nil {
			return fmt.Errorf("store migrate: %w", err)
		}
	}
	return nil
}

func (a *app) openBucket(ctx context.Context) (blob.Bucket, error) {
	bs := a.settings.Blob
	switch bs.Driver {
	case driverMemory:
		return blobmemory.New(), nil
	case driverLocal:
		b, err := local.New(bs.Root)
		if err != nil {
			return nil, err
		}
		return b, nil
	case driverS3:
		b, err := s3.New(ctx, bs.S3)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("blob.driver: unknown driver %q", bs.Driver)
	}
}

func (a *app) openQueue() error {
	qs := a.settings.Queue
	switch qs.Driver {
	case driverMemory:
		q := memqueue.New(memqueue.WithLogger(a.logger))
		a.queue = q
		a.closers = append(a.closers, q.Close)
	case driverRedis:
		client, err := a.redisClient()
		if err != nil {
			return err
		}
		q := redisqueue.New(client, a.settings.Engine.QueueName,
			redisqueue.WithCodec(queue.GetCodec(qs.Codec)),
			redisqueue.WithLogger(a.logger),
		)
		a.queue = q
		a.closers = append(a.closers, q.Close)
	default:
		return fmt.Errorf("queue.driver: unknown driver %q", qs.Driver)
	}
	return nil
}

func (a *app) newDispatcher() error {
	ws := a.settings.Webhook
	strategy, err := backoff.ByName(ws.Backoff, a.settings.Engine.WebhookBackoff, ws.BackoffMax)
	if err != nil {
		return fmt.Errorf("webhook.backoff: %w", err)
	}

	opts := []webhook.Option{
		webhook.WithMaxAttempts(a.settings.Engine.WebhookMaxAttempts),
		webhook.WithBackoff(strategy),
		webhook.WithTimeout(a.settings.Engine.WebhookTimeout),
		webhook.WithLogger(a.logger),
	}
	if ws.RateLimit > 0 || ws.MaxConcurrency > 0 {
		opts = append(opts, webhook.WithLimiter(webhook.NewLimiter(webhook.TenantLimit{
			RateLimit:      ws.RateLimit,
			RateBurst:      ws.RateBurst,
			MaxConcurrency: ws.MaxConcurrency,
		})))
	}

	secrets := webhook.StaticSecrets{Tenants: ws.Secrets, Default: ws.Secret}
	a.dispatcher = webhook.NewDispatcher(secrets, opts...)
	return nil
}

// fire delivers one occurrence of a recurring webhook.
func (a *app) fire(ctx context.Context, entry *cron.Entry) error {
	res := a.dispatcher.Dispatch(ctx, webhook.Request{
		TenantID: entry.TenantID,
		JobID:    entry.JobID,
		URL:      entry.WebhookURL,
		Payload:  entry.Payload,
	})
	if !res.Success {
		return fmt.Errorf("deliver schedule %s: %s", entry.ID, res.Error)
	}
	return nil
}

// newRuntime builds the worker runtime draining the app's queue.
func (a *app) newRuntime() *worker.Runtime {
	w := worker.New(a.engine,
		worker.WithLogger(a.logger),
		worker.WithProcessTimeout(a.settings.Engine.ProcessTimeout),
	)
	return worker.NewRuntime(a.queue, w,
		worker.WithExtensions(a.extensions),
		worker.WithRuntimeLogger(a.logger),
	)
}

// Close releases every opened resource, in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
