package audit

import (
	"context"

	"github.com/xraph/export/id"
)

// Recorder is the write side of the audit trail. It is the only audit
// capability the engine needs.
type Recorder interface {
	// Record appends a fully-formed entry.
	Record(ctx context.Context, e *Entry) error
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
//
// Example bridging to an external audit backend:
//
//	audit.RecorderFunc(func(ctx context.Context, e *audit.Entry) error {
//	    return siem.Send(ctx, e.TenantID, string(e.StatusDetail), e)
//	})
type RecorderFunc func(ctx context.Context, e *Entry) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, e *Entry) error {
	return f(ctx, e)
}

// Repository is a Recorder that can also read entries back.
type Repository interface {
	Recorder

	// ListByJob returns the entries of a job owned by tenantID in the
	// order they were recorded.
	ListByJob(ctx context.Context, tenantID string, jobID id.ExportID) ([]*Entry, error)
}
