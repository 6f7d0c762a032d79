package store

import (
	"context"

	"github.com/xraph/export/analytics"
	"github.com/xraph/export/audit"
	"github.com/xraph/export/cron"
	"github.com/xraph/export/job"
)

// Store is the aggregate persistence interface.
// A single backend (postgres, redis, memory) implements all of them.
type Store interface {
	job.Repository
	audit.Repository
	cron.Store
	analytics.Repository
	analytics.Loader

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
