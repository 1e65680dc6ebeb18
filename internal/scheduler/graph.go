package scheduler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gammazero/toposort"
)

// Normalize returns a copy of tasks with defaults applied: empty status
// becomes pending, nil BlockedBy becomes empty and duplicate dependency
// references are collapsed.
func Normalize(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	for i, t := range tasks {
		cp := t.Clone()
		if cp.Status == "" {
			cp.Status = StatusPending
		}
		cp.BlockedBy = dedupe(cp.BlockedBy)
		out[i] = cp
	}
	return out
}

// Validate checks the structural invariants of a graph: non-empty unique IDs,
// known statuses, non-negative attempts and no task blocked by itself. Cycles
// between distinct tasks are allowed here; they surface as a deadlock at run
// time.
func Validate(tasks []Task) error {
	seen := make(map[string]struct{}, len(tasks))
	for i, t := range tasks {
		if strings.TrimSpace(t.ID) == "" {
			return fmt.Errorf("%w: task at index %d has empty id", ErrInvalidGraph, i)
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("%w: duplicate task id %q", ErrInvalidGraph, t.ID)
		}
		seen[t.ID] = struct{}{}

		if !t.Status.Valid() {
			return fmt.Errorf("%w: task %q has unknown status %q", ErrInvalidGraph, t.ID, t.Status)
		}
		if t.Attempt < 0 {
			return fmt.Errorf("%w: task %q has negative attempt %d", ErrInvalidGraph, t.ID, t.Attempt)
		}
		for _, depID := range t.BlockedBy {
			if depID == t.ID {
				return fmt.Errorf("%w: task %q is blocked by itself", ErrInvalidGraph, t.ID)
			}
		}
	}
	return nil
}

// Order returns task IDs in dependency order using gammazero/toposort.
// Unknown dependency references are ignored. Returns ErrDependencyCycle if
// the known edges contain a cycle.
func Order(tasks []Task) ([]string, error) {
	known := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		known[t.ID] = struct{}{}
	}

	var edges []toposort.Edge
	for _, t := range tasks {
		linked := false
		for _, depID := range t.BlockedBy {
			if _, ok := known[depID]; !ok {
				continue
			}
			// Edge (dep, task) means dep must come before task
			edges = append(edges, toposort.Edge{depID, t.ID})
			linked = true
		}
		if !linked {
			edges = append(edges, toposort.Edge{nil, t.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDependencyCycle, err)
	}

	order := make([]string, 0, len(tasks))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	if len(order) != len(tasks) {
		return nil, fmt.Errorf("%w: ordering lost %d of %d tasks", ErrDependencyCycle, len(tasks)-len(order), len(tasks))
	}
	return order, nil
}

// Insert merges worker-added tasks into the live graph.
//
// Insertion is atomic per batch: every added task must have a new unique ID,
// must not be blocked by itself, and every blockedBy reference must name a
// task that already exists or is part of the same batch. A batch that would
// place any added task on a dependency cycle is rejected. Added tasks always
// start pending with attempt 0.
func Insert(existing, added []Task) ([]Task, error) {
	if len(added) == 0 {
		return CloneTasks(existing), nil
	}

	known := make(map[string]struct{}, len(existing)+len(added))
	for _, t := range existing {
		known[t.ID] = struct{}{}
	}

	batch := make(map[string]struct{}, len(added))
	for _, t := range added {
		if strings.TrimSpace(t.ID) == "" {
			return nil, fmt.Errorf("%w: added task has empty id", ErrInvalidInsertion)
		}
		if _, dup := known[t.ID]; dup {
			return nil, fmt.Errorf("%w: task id %q already exists", ErrInvalidInsertion, t.ID)
		}
		if _, dup := batch[t.ID]; dup {
			return nil, fmt.Errorf("%w: task id %q added twice", ErrInvalidInsertion, t.ID)
		}
		if t.Status != "" && t.Status != StatusPending {
			return nil, fmt.Errorf("%w: added task %q must be pending, got %q", ErrInvalidInsertion, t.ID, t.Status)
		}
		batch[t.ID] = struct{}{}
	}

	for _, t := range added {
		for _, depID := range t.BlockedBy {
			if depID == t.ID {
				return nil, fmt.Errorf("%w: task %q is blocked by itself", ErrInvalidInsertion, t.ID)
			}
			_, inGraph := known[depID]
			_, inBatch := batch[depID]
			if !inGraph && !inBatch {
				return nil, fmt.Errorf("%w: task %q is blocked by unknown task %q", ErrInvalidInsertion, t.ID, depID)
			}
		}
	}

	merged := CloneTasks(existing)
	for _, t := range Normalize(added) {
		t.Status = StatusPending
		t.Attempt = 0
		merged = append(merged, t)
	}

	if _, err := Order(merged); err != nil {
		var onCycle []string
		for _, id := range CycleMembers(merged) {
			if _, ok := batch[id]; ok {
				onCycle = append(onCycle, id)
			}
		}
		if len(onCycle) > 0 {
			return nil, fmt.Errorf("%w: would create cycle through %s", ErrInvalidInsertion, strings.Join(onCycle, ", "))
		}
	}

	return merged, nil
}

// CycleMembers returns the IDs of tasks that lie on a dependency cycle (or
// on a path between cycles), sorted. Completed tasks and unknown references
// are not part of any cycle.
func CycleMembers(tasks []Task) []string {
	deps := make(map[string][]string)
	for _, t := range tasks {
		if t.Status == StatusCompleted {
			continue
		}
		deps[t.ID] = nil
	}
	for _, t := range tasks {
		if _, ok := deps[t.ID]; !ok {
			continue
		}
		for _, depID := range t.BlockedBy {
			if _, ok := deps[depID]; ok {
				deps[t.ID] = append(deps[t.ID], depID)
			}
		}
	}

	// Repeatedly strip sources (no remaining deps) and sinks (nothing
	// remaining depends on them); what is left sits on a cycle.
	alive := make(map[string]bool, len(deps))
	for id := range deps {
		alive[id] = true
	}
	for changed := true; changed; {
		changed = false
		dependents := make(map[string]int, len(alive))
		for id := range alive {
			for _, depID := range deps[id] {
				if alive[depID] {
					dependents[depID]++
				}
			}
		}
		for id := range alive {
			remaining := 0
			for _, depID := range deps[id] {
				if alive[depID] {
					remaining++
				}
			}
			if remaining == 0 || dependents[id] == 0 {
				delete(alive, id)
				changed = true
			}
		}
	}

	members := make([]string, 0, len(alive))
	for id := range alive {
		members = append(members, id)
	}
	sort.Strings(members)
	return members
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
