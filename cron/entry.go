package cron

import (
	"encoding/json"
	"time"

	"github.com/xraph/export"
	"github.com/xraph/export/id"
)

// Entry is a recurring webhook delivery registered for an export job.
type Entry struct {
	export.Entity

	ID          id.ScheduleID   `json:"id"`
	TenantID    string          `json:"tenantId"`
	JobID       id.ExportID     `json:"jobId"`
	Schedule    string          `json:"schedule"`
	WebhookURL  string          `json:"webhookUrl"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	LastRunAt   *time.Time      `json:"lastRunAt,omitempty"`
	NextRunAt   *time.Time      `json:"nextRunAt,omitempty"`
	LockedBy    string          `json:"lockedBy,omitempty"`
	LockedUntil *time.Time      `json:"lockedUntil,omitempty"`
	Enabled     bool            `json:"enabled"`
}

// Due reports whether the entry should fire at now.
func (e *Entry) Due(now time.Time) bool {
	return e.Enabled && e.NextRunAt != nil && !e.NextRunAt.After(now)
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	c := *e
	if e.Payload != nil {
		c.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	c.LastRunAt = cloneTime(e.LastRunAt)
	c.NextRunAt = cloneTime(e.NextRunAt)
	c.LockedUntil = cloneTime(e.LockedUntil)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
