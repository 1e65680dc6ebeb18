package scheduler

import (
	"fmt"
	"sort"
	"strings"
)

// Reason classifies why a graph cannot make progress.
type Reason string

const (
	ReasonNone            Reason = "none"
	ReasonCycle           Reason = "cycle"
	ReasonErrorDependency Reason = "error_dependency"
)

// Deadlock is the result of Detect.
type Deadlock struct {
	Deadlocked bool
	Reason     Reason
	Blocked    []Task   // Pending tasks that can never become ready
	Failed     []string // Error tasks referenced by blocked tasks
	Cycle      []string // Tasks on a dependency cycle, if any
}

// Detect reports whether the graph is stuck: nothing is in progress, nothing
// is ready, and pending work remains.
//
// The reason is error_dependency when any blocked task waits on a task in
// error (errors never revert, so they are exhausted blockers), otherwise
// cycle. The classification only changes the diagnostic.
func Detect(tasks []Task) Deadlock {
	none := Deadlock{Reason: ReasonNone}

	var blocked []Task
	for _, t := range tasks {
		switch t.Status {
		case StatusInProgress:
			return none
		case StatusPending:
			blocked = append(blocked, t.Clone())
		}
	}
	if len(blocked) == 0 || len(ReadyTasks(tasks)) > 0 {
		return none
	}

	status := make(map[string]Status, len(tasks))
	for _, t := range tasks {
		status[t.ID] = t.Status
	}

	failedSet := make(map[string]struct{})
	for _, t := range blocked {
		for _, depID := range t.BlockedBy {
			if status[depID] == StatusError {
				failedSet[depID] = struct{}{}
			}
		}
	}

	d := Deadlock{
		Deadlocked: true,
		Blocked:    blocked,
		Cycle:      CycleMembers(tasks),
	}
	if len(failedSet) > 0 {
		d.Reason = ReasonErrorDependency
		for id := range failedSet {
			d.Failed = append(d.Failed, id)
		}
		sort.Strings(d.Failed)
	} else {
		d.Reason = ReasonCycle
	}
	return d
}

// BlockedIDs returns the IDs of the blocked tasks.
func (d Deadlock) BlockedIDs() []string {
	ids := make([]string, len(d.Blocked))
	for i, t := range d.Blocked {
		ids[i] = t.ID
	}
	return ids
}

// Err converts a deadlock into the matching sentinel error, or nil.
func (d Deadlock) Err() error {
	if !d.Deadlocked {
		return nil
	}
	switch d.Reason {
	case ReasonErrorDependency:
		return fmt.Errorf("%w: %s blocked by %s", ErrErrorDependency,
			strings.Join(d.BlockedIDs(), ", "), strings.Join(d.Failed, ", "))
	default:
		ids := d.Cycle
		if len(ids) == 0 {
			ids = d.BlockedIDs()
		}
		return fmt.Errorf("%w among %s", ErrDependencyCycle, strings.Join(ids, ", "))
	}
}

// Failed returns the IDs of tasks in error, in graph order.
func Failed(tasks []Task) []string {
	var ids []string
	for _, t := range tasks {
		if t.Status == StatusError {
			ids = append(ids, t.ID)
		}
	}
	return ids
}
