package engine

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrProviderNotFound   = fmt.Errorf("%w: provider not found", ErrInvalidInput)
	ErrDurationNotAllowed = fmt.Errorf("%w: duration not allowed", ErrInvalidInput)
	// ErrStoreUnavailable wraps read-model failures. Callers fail closed.
	ErrStoreUnavailable = errors.New("availability data unavailable")
)

// ValidationError names the offending request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func unavailable(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, what, err)
}
