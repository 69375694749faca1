package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrStructuredLeak  = errors.New("unrendered structured value in prose")
	ErrInvalidTable    = errors.New("invalid reference table")
	ErrUnknownCategory = errors.New("unknown category")
	ErrInvalidReport   = errors.New("invalid report")
	ErrNotFound        = errors.New("not found")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
