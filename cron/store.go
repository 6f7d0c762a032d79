package cron

import (
	"context"
	"time"

	"github.com/xraph/export/id"
)

// Store defines the persistence contract for schedule entries.
type Store interface {
	// CreateSchedule persists a new entry.
	CreateSchedule(ctx context.Context, entry *Entry) error

	// GetSchedule retrieves an entry owned by tenantID. Returns
	// export.ErrScheduleNotFound when it does not exist for that tenant.
	GetSchedule(ctx context.Context, tenantID string, entryID id.ScheduleID) (*Entry, error)

	// ListSchedules returns the entries of tenantID, or of every tenant
	// when tenantID is empty, ordered by creation.
	ListSchedules(ctx context.Context, tenantID string) ([]*Entry, error)

	// UpdateSchedule replaces an entry (Enabled, NextRunAt, LastRunAt).
	UpdateSchedule(ctx context.Context, entry *Entry) error

	// DeleteSchedule removes an entry owned by tenantID.
	DeleteSchedule(ctx context.Context, tenantID string, entryID id.ScheduleID) error

	// AcquireScheduleLock attempts to lock an entry for workerID. Returns
	// true if the lock was acquired. The lock expires after ttl.
	AcquireScheduleLock(ctx context.Context, entryID id.ScheduleID, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// ReleaseScheduleLock releases a lock held by workerID.
	ReleaseScheduleLock(ctx context.Context, entryID id.ScheduleID, workerID id.WorkerID) error
}
