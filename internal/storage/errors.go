package storage

import "errors"

// Storage errors shared by all backends.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyClosed is returned by conditional position closes that
	// affected zero rows: another writer closed the position first.
	// Callers treat it as a silent no-op, not a failure.
	ErrAlreadyClosed = errors.New("position already closed")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
