package scheduler

import "errors"

var (
	// ErrDependencyCycle means the remaining tasks block each other.
	ErrDependencyCycle = errors.New("dependency cycle")

	// ErrErrorDependency means remaining tasks are blocked by a task that
	// exhausted its retries.
	ErrErrorDependency = errors.New("blocked by failed dependency")

	// ErrMaxRetriesExceeded means a task failed MaxAttempts times.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrInvalidGraph is returned for duplicate IDs, empty IDs, unknown
	// statuses and self-referencing tasks.
	ErrInvalidGraph = errors.New("invalid task graph")

	// ErrInvalidInsertion is returned when dynamically added tasks cannot be
	// merged into the live graph.
	ErrInvalidInsertion = errors.New("invalid task insertion")
)
