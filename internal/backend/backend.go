package backend

import (
	"context"
	"errors"
	"fmt"
)

// ErrMissingExecutor is returned by Available when the executor cannot be
// reached at all, e.g. its binary is not installed.
var ErrMissingExecutor = errors.New("executor unavailable")

// Executor runs a single task attempt. A returned error means the executor
// could not be invoked; a task that ran and failed is reported through
// Response.Success instead.
type Executor interface {
	// Execute runs the task described by req and blocks until it finishes.
	Execute(ctx context.Context, req Request) (Response, error)

	// Available checks that the executor can be invoked.
	Available() error

	// Name identifies the executor in logs and metrics.
	Name() string
}

// New creates an executor based on the provided configuration.
func New(cfg Config, pm *ProcessManager) (Executor, error) {
	switch cfg.Type {
	case "", "command":
		return NewCommandExecutor(cfg, pm)
	case "claude":
		return NewClaudeExecutor(cfg, pm)
	default:
		return nil, fmt.Errorf("unknown executor type: %s", cfg.Type)
	}
}

// Func adapts an in-process function to the Executor interface.
type Func func(ctx context.Context, req Request) (Response, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Available reports whether f is set.
func (f Func) Available() error {
	if f == nil {
		return fmt.Errorf("%w: nil function", ErrMissingExecutor)
	}
	return nil
}

// Name returns "func".
func (f Func) Name() string {
	return "func"
}
