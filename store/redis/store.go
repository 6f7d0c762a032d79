package redis

import (
	"context"
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/export/analytics"
	"github.com/xraph/export/audit"
	"github.com/xraph/export/cron"
	"github.com/xraph/export/job"
)

// Compile-time interface checks.
var (
	_ job.Repository       = (*Store)(nil)
	_ audit.Repository     = (*Store)(nil)
	_ cron.Store           = (*Store)(nil)
	_ analytics.Repository = (*Store)(nil)
	_ analytics.Loader     = (*Store)(nil)
)

// maxTxRetries bounds optimistic transaction retries under contention.
const maxTxRetries = 10

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.UniversalClient { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

// watch runs fn in an optimistic transaction on keys, retrying when a
// watched key changes before EXEC.
func (s *Store) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for range maxTxRetries {
		err := s.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return redis.TxFailedErr
}

// hashGetter and getter are the read commands shared by *redis.Tx and the
// client, so helpers can run inside or outside a transaction.
type (
	hashGetter interface {
		HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	}
	getter interface {
		Get(ctx context.Context, key string) *redis.StringCmd
	}
)

func isRedisNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
