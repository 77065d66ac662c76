package gov

import "errors"

var (
	// ErrNotFound is returned when a thread id or proposal id is unknown.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a record with the same key already exists.
	ErrConflict = errors.New("already exists")
	// ErrValidation marks externally supplied data that is missing required fields.
	ErrValidation = errors.New("validation failed")
	// ErrReadOnly is returned by vote entry points when voting is disabled.
	ErrReadOnly = errors.New("voting disabled")
)
