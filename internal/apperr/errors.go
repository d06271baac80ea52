// Package apperr defines the error taxonomy shared by the index components.
package apperr

import (
	"context"
	"errors"
)

var (
	// ErrNotFound reports an unknown project, path or record.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable reports missing or corrupt backing storage. Callers
	// treat it as "index absent" and schedule a full rebuild.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrProvider reports an embedding provider failure or timeout. Data that
	// was already persisted stays servable.
	ErrProvider = errors.New("embedding provider error")
	// ErrValidation reports malformed input such as a bad source entry.
	ErrValidation = errors.New("validation error")
	// ErrUnavailable reports an optional collaborator (e.g. version control)
	// that cannot be consulted.
	ErrUnavailable = errors.New("unavailable")
	ErrConflict    = errors.New("conflict")
)

// Retryable reports whether err is a transient failure worth retrying:
// provider failures and deadline expiries.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrProvider)
}

// Fatal reports whether err must abort a multi-entity operation rather than
// being logged and skipped.
func Fatal(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrProvider) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
