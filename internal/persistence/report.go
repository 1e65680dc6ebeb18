package persistence

import (
	"context"
	"fmt"

	"github.com/aristath/taskflow/internal/scheduler"
)

// Report is a worker's self-report about its own assigned task.
type Report struct {
	TaskID string           // The reporter's assigned task
	Status scheduler.Status // completed, error, or empty to only insert tasks
	Insert []scheduler.Task // New tasks to add to the live graph
}

// ApplyReport returns tasks with the report applied. A worker may only touch
// its own task, which must currently be in progress, and may only move it to
// completed or error. Inserted tasks go through scheduler.Insert, so the
// whole batch is rejected if any reference is unresolvable.
func ApplyReport(tasks []scheduler.Task, r Report) ([]scheduler.Task, error) {
	idx := scheduler.Index(tasks)
	i, ok := idx[r.TaskID]
	if !ok {
		return nil, fmt.Errorf("%w: task %q not found", ErrNotOwner, r.TaskID)
	}
	if tasks[i].Status != scheduler.StatusInProgress {
		return nil, fmt.Errorf("%w: task %q is %s, not in_progress", ErrNotOwner, r.TaskID, tasks[i].Status)
	}

	if r.Status != "" && (!r.Status.Terminal() || !scheduler.CanTransition(tasks[i].Status, r.Status)) {
		return nil, fmt.Errorf("%w: worker cannot set %q", ErrInvalidTransition, r.Status)
	}

	next, err := scheduler.Insert(tasks, r.Insert)
	if err != nil {
		return nil, err
	}
	if r.Status != "" {
		next[i].Status = r.Status
	}
	return next, nil
}

// SubmitReport applies a worker report to the store with a fresh
// read-modify-write.
func SubmitReport(ctx context.Context, store TaskStore, r Report) error {
	return store.Update(ctx, func(tasks []scheduler.Task) ([]scheduler.Task, error) {
		return ApplyReport(tasks, r)
	})
}
