package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

// Outcome is how a run halted.
type Outcome string

const (
	OutcomeDone      Outcome = "done"      // Every task completed
	OutcomeDeadlock  Outcome = "deadlock"  // Pending work can never become ready
	OutcomeFailed    Outcome = "failed"    // Only permanently errored tasks remain
	OutcomeCancelled Outcome = "cancelled" // Stopped by Cancel or context
	OutcomeFatal     Outcome = "fatal"     // Store or executor unusable
)

// Halt reasons other than the deadlock classifications.
const (
	ReasonStoreCorruption = "store_corruption"
	ReasonStoreNotFound   = "store_not_found"
	ReasonStoreWrite      = "store_write"
	ReasonMissingExecutor = "missing_executor"
	ReasonInvalidGraph    = "invalid_graph"
	ReasonMaxRetries      = "max_retries_exceeded"
)

var (
	// ErrCancelled is wrapped by the HaltError of a cancelled run.
	ErrCancelled = errors.New("run cancelled")

	// ErrAlreadyRunning is returned when Start or Resume is called while a
	// run is active.
	ErrAlreadyRunning = errors.New("orchestrator already running")
)

// HaltError describes why a run stopped without completing. It unwraps to
// the sentinel for the condition, e.g. scheduler.ErrDependencyCycle or
// persistence.ErrStoreCorruption.
type HaltError struct {
	Kind    Outcome
	Reason  string   // Deadlock reason or fatal cause
	TaskIDs []string // Offending tasks, if any
	Err     error
}

func (e *HaltError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Reason != "" && e.Reason != string(e.Kind) {
		fmt.Fprintf(&b, " (%s)", e.Reason)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if len(e.TaskIDs) > 0 {
		fmt.Fprintf(&b, " [tasks: %s]", strings.Join(e.TaskIDs, ", "))
	}
	return b.String()
}

func (e *HaltError) Unwrap() error {
	return e.Err
}
