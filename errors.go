package export

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore         = errors.New("export: no store configured")
	ErrStoreClosed     = errors.New("export: store closed")
	ErrMigrationFailed = errors.New("export: migration failed")

	// Not found errors.
	ErrJobNotFound      = errors.New("export: job not found")
	ErrScheduleNotFound = errors.New("export: schedule entry not found")
	ErrObjectNotFound   = errors.New("export: artifact object not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("export: job already exists")

	// Configuration errors. These are fatal and never retried.
	ErrSchedulerNotConfigured = errors.New("export: webhook schedule requested but no scheduler configured")
	ErrMissingDependency      = errors.New("export: missing required dependency")

	// Validation errors.
	ErrValidation        = errors.New("export: validation failed")
	ErrUnsupportedFormat = errors.New("export: unsupported format")

	// Processing errors.
	ErrProducePanic = errors.New("export: panic while producing artifact")

	// Signed URL errors.
	ErrURLExpired          = errors.New("export: download url expired")
	ErrSignatureMismatch   = errors.New("export: download url signature mismatch")
	ErrQueueClosed         = errors.New("export: queue closed")
	ErrInvalidStatusChange = errors.New("export: invalid job status transition")
)

// ValidationError reports malformed or missing caller input. It always
// matches ErrValidation under errors.Is and is surfaced to callers as a
// client error; it never reaches the job state machine.
type ValidationError struct {
	Field  string
	Reason string

	// Err optionally names a more specific sentinel, such as
	// ErrUnsupportedFormat.
	Err error
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "export: validation failed: " + e.Reason
	}
	return fmt.Sprintf("export: validation failed: %s: %s", e.Field, e.Reason)
}

// Is makes every ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Unwrap returns the specific sentinel, if any.
func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
