package catalog

import (
	"errors"
	"fmt"
)

// Classification sentinels. API handlers map these to response statuses with
// errors.Is; the more specific validation errors in validator.go each wrap
// ErrInvalid so callers can match either the exact rule or the class.
var (
	// ErrInvalid marks a rejected webhook definition: a field-validation
	// failure or SQL that failed dry validation.
	ErrInvalid = errors.New("invalid webhook definition")

	// ErrWebhookNotFound is returned when no webhook matches the given id or
	// source path.
	ErrWebhookNotFound = errors.New("webhook not found")

	// ErrDuplicateSourcePath is returned when a registration or update would
	// claim a source path that another webhook already owns.
	ErrDuplicateSourcePath = errors.New("source_path already registered")

	// ErrReferenceTableNotFound is returned when no reference table metadata
	// row matches the given id.
	ErrReferenceTableNotFound = errors.New("reference table not found")

	// ErrUDFNotFound is returned when no user-defined function metadata row
	// matches the given id.
	ErrUDFNotFound = errors.New("user-defined function not found")

	// ErrNilEngine is returned by NewStore when no engine is supplied.
	ErrNilEngine = errors.New("engine cannot be nil")
)

// newValidationError builds a field-validation sentinel wrapping ErrInvalid.
func newValidationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalid, msg)
}
