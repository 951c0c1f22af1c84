package memory

import "errors"

var (
	// ErrNotFound is returned when a record or user is unknown.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput is returned for malformed ids, empty content, or
	// embedding dimension mismatches.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDependencyTimeout is returned when a remote dependency (embedding,
	// scoring, store round trip) exceeded its budget.
	ErrDependencyTimeout = errors.New("dependency timed out")

	// ErrDependencyFailure is returned for non-timeout remote dependency
	// failures.
	ErrDependencyFailure = errors.New("dependency failed")

	// ErrInvariantViolation is returned when a write would break the
	// single-latest-version or tier/forgotten invariant. Never repaired
	// silently; the operation fails.
	ErrInvariantViolation = errors.New("invariant violation")
)
