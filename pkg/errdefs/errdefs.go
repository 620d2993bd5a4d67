// Package errdefs defines the error taxonomy shared by all engine packages.
//
// Core operations never raise uncaught faults across their interface; they
// return one of these sentinels (usually wrapped with context via %w) so
// callers and the API layer can map failures to retry behavior and status
// codes without string matching.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the referenced grid, worker, function, or task
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState indicates the operation is illegal from the entity's
	// current lifecycle state.
	ErrInvalidState = errors.New("invalid state")

	// ErrResourceExhausted indicates a reservation exceeds a worker's
	// availability. Retryable without side effects.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrConflictingClaim indicates the task has already been claimed by
	// another worker. Retryable with a fresh claim.
	ErrConflictingClaim = errors.New("conflicting claim")

	// ErrNoTask indicates no pending task is available for the polling
	// worker. Not an error condition for the caller; poll again later.
	ErrNoTask = errors.New("no task available")

	// ErrDownstream indicates a deployment adapter call failed. Logged,
	// non-fatal to the core transaction.
	ErrDownstream = errors.New("downstream failure")
)

// NotFound wraps ErrNotFound with an entity kind and identifier
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// InvalidState wraps ErrInvalidState with the rejected transition context
func InvalidState(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidState)...)
}

// IsNotFound reports whether err is or wraps ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidState reports whether err is or wraps ErrInvalidState
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsResourceExhausted reports whether err is or wraps ErrResourceExhausted
func IsResourceExhausted(err error) bool {
	return errors.Is(err, ErrResourceExhausted)
}

// IsConflictingClaim reports whether err is or wraps ErrConflictingClaim
func IsConflictingClaim(err error) bool {
	return errors.Is(err, ErrConflictingClaim)
}

// IsNoTask reports whether err is or wraps ErrNoTask
func IsNoTask(err error) bool {
	return errors.Is(err, ErrNoTask)
}

// IsRetryable reports whether the caller may safely retry the operation
func IsRetryable(err error) bool {
	return errors.Is(err, ErrResourceExhausted) || errors.Is(err, ErrConflictingClaim)
}
