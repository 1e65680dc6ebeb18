package scheduler

// ReadyTasks returns the pending tasks whose dependencies are all completed,
// in graph order.
//
// A dependency ID that does not name any task in the graph does not block.
// Tasks in progress or in error are never ready. The function is pure and
// evaluated against a full snapshot every time; it keeps no queue.
func ReadyTasks(tasks []Task) []Task {
	status := make(map[string]Status, len(tasks))
	for _, t := range tasks {
		status[t.ID] = t.Status
	}

	ready := []Task{}
	for _, t := range tasks {
		if t.Status != StatusPending {
			continue
		}
		if dependenciesMet(t, status) {
			ready = append(ready, t.Clone())
		}
	}
	return ready
}

func dependenciesMet(t Task, status map[string]Status) bool {
	for _, depID := range t.BlockedBy {
		st, known := status[depID]
		if !known {
			continue
		}
		if st != StatusCompleted {
			return false
		}
	}
	return true
}

// Dependency is a single blockedBy edge.
type Dependency struct {
	TaskID    string
	DependsOn string
}

// UnknownDependencies lists blockedBy references that name no task in the
// graph. Callers log these; they never block scheduling.
func UnknownDependencies(tasks []Task) []Dependency {
	known := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		known[t.ID] = struct{}{}
	}

	var unknown []Dependency
	for _, t := range tasks {
		for _, depID := range t.BlockedBy {
			if _, ok := known[depID]; !ok {
				unknown = append(unknown, Dependency{TaskID: t.ID, DependsOn: depID})
			}
		}
	}
	return unknown
}

// CompletedDependencies returns the IDs in t.BlockedBy that are completed.
func CompletedDependencies(t Task, tasks []Task) []string {
	status := make(map[string]Status, len(tasks))
	for _, other := range tasks {
		status[other.ID] = other.Status
	}

	done := []string{}
	for _, depID := range t.BlockedBy {
		if status[depID] == StatusCompleted {
			done = append(done, depID)
		}
	}
	return done
}
