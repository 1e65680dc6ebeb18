package orchestrator

import (
	"time"

	"github.com/aristath/taskflow/internal/scheduler"
)

// Result is returned by Start and Resume once the run halts.
type Result struct {
	Outcome Outcome
	Reason  string
	TaskIDs []string
	Err     error // *HaltError unless Outcome is done
	RunID   string
	Summary Summary
}

// Summary describes the graph at halt and the work the run did.
type Summary struct {
	Total        int
	Completed    int
	InProgress   int
	Pending      int
	Errored      int
	ErroredTasks []string

	Dispatches int
	Retries    int
	Failures   int
	Elapsed    time.Duration
}

// Summarize counts tasks by status.
func Summarize(tasks []scheduler.Task) Summary {
	c := scheduler.Counts(tasks)
	return Summary{
		Total:        len(tasks),
		Completed:    c[scheduler.StatusCompleted],
		InProgress:   c[scheduler.StatusInProgress],
		Pending:      c[scheduler.StatusPending],
		Errored:      c[scheduler.StatusError],
		ErroredTasks: scheduler.Failed(tasks),
	}
}

func (r *run) summary() Summary {
	s := Summarize(r.last)
	s.Dispatches = r.dispatches
	s.Retries = r.retries
	s.Failures = r.failures
	s.Elapsed = time.Since(r.started)
	return s
}
