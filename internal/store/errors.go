package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrCycleDetected = errors.New("cycle detected")
	ErrHasDependents = errors.New("has dependents")
)

// ValidationError reports a malformed or out-of-range field. It is returned
// by value and matched with errors.As at the call site.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
