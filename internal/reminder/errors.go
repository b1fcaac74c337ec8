package reminder

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every *ValidationError via errors.Is.
	ErrValidation = errors.New("validation failed")
	// ErrTerminalRecord is returned when scheduling fields of a sent reminder would change.
	ErrTerminalRecord = errors.New("reminder already sent; it can only be viewed")
	ErrNotFound       = errors.New("reminder not found")
	// ErrConflict means the stored record changed since it was loaded. Reload and retry.
	ErrConflict = errors.New("reminder was modified concurrently")
)

// ValidationError names the offending input field.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

func invalidf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Err: fmt.Errorf(format, args...)}
}

// DeliveryError reports a failed notification for a firing that is already committed.
type DeliveryError struct {
	ReminderID string
	Occurrence int
	Err        error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver reminder %s occurrence %d: %v", e.ReminderID, e.Occurrence, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
