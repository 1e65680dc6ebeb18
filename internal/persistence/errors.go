package persistence

import "errors"

var (
	// ErrStoreNotFound is returned when the store file does not exist.
	ErrStoreNotFound = errors.New("task store not found")

	// ErrStoreCorruption is returned when the store content stays unparsable
	// after retrying, or parses into an invalid graph.
	ErrStoreCorruption = errors.New("task store corrupted")

	// ErrNotOwner is returned when a report targets a task the reporter is
	// not allowed to change.
	ErrNotOwner = errors.New("task not owned by reporter")

	// ErrInvalidTransition is returned when a report asks for a status change
	// the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)
