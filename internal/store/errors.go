package store

import "errors"

var (
	// ErrNotFound indicates the requested job does not exist.
	ErrNotFound = errors.New("job not found")

	// ErrStateConflict indicates an operation was attempted from a
	// status that does not permit it.
	ErrStateConflict = errors.New("invalid job state for operation")

	// ErrDuplicate indicates a non-failed job already exists for the book.
	ErrDuplicate = errors.New("book already queued or converted")
)
