package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/export"
	"github.com/xraph/export/cron"
	"github.com/xraph/export/id"
)

// CreateSchedule persists a new schedule entry.
func (s *Store) CreateSchedule(ctx context.Context, entry *cron.Entry) error {
	eID := entry.ID.String()
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("export/redis: encode schedule: %w", err)
	}

	created, err := s.client.SetNX(ctx, scheduleKey(eID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("export/redis: create schedule: %w", err)
	}
	if !created {
		return export.ErrJobAlreadyExists
	}
	if err := s.client.ZAdd(ctx, scheduleIDsKey, redis.Z{Score: 0, Member: eID}).Err(); err != nil {
		return fmt.Errorf("export/redis: index schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves an entry owned by tenantID.
func (s *Store) GetSchedule(ctx context.Context, tenantID string, entryID id.ScheduleID) (*cron.Entry, error) {
	e, err := getSchedule(ctx, s.client, scheduleKey(entryID.String()))
	if err != nil {
		return nil, err
	}
	if e.TenantID != tenantID {
		return nil, export.ErrScheduleNotFound
	}
	return e, nil
}

// ListSchedules returns the entries of tenantID, or all entries when
// tenantID is empty, in ID order.
func (s *Store) ListSchedules(ctx context.Context, tenantID string) ([]*cron.Entry, error) {
	ids, err := s.client.ZRangeByLex(ctx, scheduleIDsKey, &redis.ZRangeBy{Min: "-", Max: "+"}).Result()
	if err != nil {
		return nil, fmt.Errorf("export/redis: list schedules: %w", err)
	}

	entries := make([]*cron.Entry, 0, len(ids))
	for _, eID := range ids {
		e, getErr := getSchedule(ctx, s.client, scheduleKey(eID))
		if getErr != nil {
			continue // index entry without a value
		}
		if tenantID != "" && e.TenantID != tenantID {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// UpdateSchedule replaces the mutable fields of an entry. The stored lock
// is carried over so an update never releases another worker's lock.
func (s *Store) UpdateSchedule(ctx context.Context, entry *cron.Entry) error {
	key := scheduleKey(entry.ID.String())
	return s.watch(ctx, func(tx *redis.Tx) error {
		cur, err := getSchedule(ctx, tx, key)
		if err != nil {
			return err
		}

		next := entry.Clone()
		next.TenantID = cur.TenantID
		next.CreatedAt = cur.CreatedAt
		next.UpdatedAt = time.Now().UTC()
		next.LockedBy = cur.LockedBy
		next.LockedUntil = cur.LockedUntil
		return putSchedule(ctx, tx, key, next)
	}, key)
}

// DeleteSchedule removes an entry owned by tenantID.
func (s *Store) DeleteSchedule(ctx context.Context, tenantID string, entryID id.ScheduleID) error {
	eID := entryID.String()
	key := scheduleKey(eID)
	return s.watch(ctx, func(tx *redis.Tx) error {
		cur, err := getSchedule(ctx, tx, key)
		if err != nil {
			return err
		}
		if cur.TenantID != tenantID {
			return export.ErrScheduleNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.ZRem(ctx, scheduleIDsKey, eID)
			return nil
		})
		if err != nil {
			return fmt.Errorf("export/redis: delete schedule: %w", err)
		}
		return nil
	}, key)
}

// AcquireScheduleLock attempts to lock an entry for workerID. It succeeds
// when the entry is unlocked, the lock expired, or workerID already holds it.
func (s *Store) AcquireScheduleLock(ctx context.Context, entryID id.ScheduleID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	key := scheduleKey(entryID.String())
	wID := workerID.String()

	var acquired bool
	err := s.watch(ctx, func(tx *redis.Tx) error {
		acquired = false
		e, err := getSchedule(ctx, tx, key)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if e.LockedBy != "" && e.LockedBy != wID && e.LockedUntil != nil && e.LockedUntil.After(now) {
			// Held by another worker.
			return nil
		}

		until := now.Add(ttl)
		e.LockedBy = wID
		e.LockedUntil = &until
		if err := putSchedule(ctx, tx, key, e); err != nil {
			return err
		}
		acquired = true
		return nil
	}, key)
	if err != nil {
		return false, err
	}
	return acquired, nil
}

// ReleaseScheduleLock releases a lock held by workerID. Releasing a lock
// held by someone else, or of a deleted entry, is a no-op.
func (s *Store) ReleaseScheduleLock(ctx context.Context, entryID id.ScheduleID, workerID id.WorkerID) error {
	key := scheduleKey(entryID.String())
	return s.watch(ctx, func(tx *redis.Tx) error {
		e, err := getSchedule(ctx, tx, key)
		if err != nil {
			if errors.Is(err, export.ErrScheduleNotFound) {
				return nil
			}
			return err
		}
		if e.LockedBy != workerID.String() {
			return nil
		}
		e.LockedBy = ""
		e.LockedUntil = nil
		return putSchedule(ctx, tx, key, e)
	}, key)
}

// ── helpers ──

func getSchedule(ctx context.Context, c getter, key string) (*cron.Entry, error) {
	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if isRedisNil(err) {
			return nil, export.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("export/redis: get schedule: %w", err)
	}
	var e cron.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("export/redis: decode schedule: %w", err)
	}
	return &e, nil
}

func putSchedule(ctx context.Context, tx *redis.Tx, key string, e *cron.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("export/redis: encode schedule: %w", err)
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("export/redis: put schedule: %w", err)
	}
	return nil
}
