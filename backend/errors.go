package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrTaskNotFound is returned when no task matches an id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrStorageCorrupt marks a durable payload that could not be decoded.
	// Loaders log it and carry on with an empty set.
	ErrStorageCorrupt = errors.New("storage corrupt")
)

// ValidationError rejects a task definition or ignore list before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// AmbiguousRefError is returned when an id prefix matches more than one task.
type AmbiguousRefError struct {
	Ref string
}

func (e *AmbiguousRefError) Error() string {
	return fmt.Sprintf("task reference %q is ambiguous", e.Ref)
}
