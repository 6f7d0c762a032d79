package job

import (
	"context"

	"github.com/xraph/export/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Status filters by job status. Empty means all statuses.
	Status Status
}

// Repository defines the persistence contract for export jobs.
type Repository interface {
	// Create persists a new job. It returns export.ErrJobAlreadyExists when
	// the ID is taken.
	Create(ctx context.Context, j *Job) error

	// Update applies patch to the job owned by tenantID and returns the
	// updated job. It returns export.ErrJobNotFound when the job does not
	// exist for that tenant.
	Update(ctx context.Context, jobID id.ExportID, tenantID string, patch Patch) (*Job, error)

	// FindByID retrieves a job owned by tenantID. It returns
	// export.ErrJobNotFound when the job is missing or owned by another
	// tenant.
	FindByID(ctx context.Context, tenantID string, jobID id.ExportID) (*Job, error)

	// ListByTenant returns a tenant's jobs, newest first.
	ListByTenant(ctx context.Context, tenantID string, opts ListOpts) ([]*Job, error)
}
