package scheduler

// Status represents the persisted lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"     // Waiting for dependencies or a retry
	StatusInProgress Status = "in_progress" // Assigned to a running worker
	StatusCompleted  Status = "completed"   // Finished successfully
	StatusError      Status = "error"       // Retries exhausted, never reverts
)

// MaxAttempts is the number of times a task may be executed before it is
// permanently marked StatusError.
const MaxAttempts = 3

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusError:
		return true
	}
	return false
}

// Terminal reports whether s is completed or error.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Task is a unit of work in the persisted task graph.
type Task struct {
	ID        string   `json:"id"`
	Content   string   `json:"content"`
	Status    Status   `json:"status"`
	BlockedBy []string `json:"blockedBy"`
	Attempt   int      `json:"attempt"`
}

// CanTransition reports whether moving a task from one status to another is
// allowed. Status only moves forward, except in_progress -> pending which is
// used by resume and by the retry policy.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusInProgress || to == StatusError
	case StatusInProgress:
		return to == StatusPending || to == StatusCompleted || to == StatusError
	}
	return false
}

// Clone returns a deep copy of the task. A nil BlockedBy becomes an empty
// slice so the task always serializes as "blockedBy": [].
func (t Task) Clone() Task {
	cp := t
	cp.BlockedBy = append([]string{}, t.BlockedBy...)
	return cp
}

// CloneTasks deep-copies a task list.
func CloneTasks(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}

// Index maps task IDs to their position in tasks.
func Index(tasks []Task) map[string]int {
	idx := make(map[string]int, len(tasks))
	for i, t := range tasks {
		idx[t.ID] = i
	}
	return idx
}

// Find returns the task with the given ID.
func Find(tasks []Task, id string) (Task, bool) {
	for _, t := range tasks {
		if t.ID == id {
			return t.Clone(), true
		}
	}
	return Task{}, false
}

// AllCompleted reports whether every task is completed. An empty graph counts
// as completed.
func AllCompleted(tasks []Task) bool {
	for _, t := range tasks {
		if t.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// Counts tallies tasks by status.
func Counts(tasks []Task) map[Status]int {
	counts := make(map[Status]int, 4)
	for _, t := range tasks {
		counts[t.Status]++
	}
	return counts
}
