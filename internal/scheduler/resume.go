package scheduler

// ResetInterrupted moves every in_progress task back to pending, keeping its
// attempt counter. It is a blanket pass over the whole list, so any number
// of simultaneously interrupted tasks is handled. Returns the new list and
// the IDs that were reset.
func ResetInterrupted(tasks []Task) ([]Task, []string) {
	out := CloneTasks(tasks)
	var reset []string
	for i := range out {
		if out[i].Status == StatusInProgress {
			out[i].Status = StatusPending
			reset = append(reset, out[i].ID)
		}
	}
	return out, reset
}

// FailExhausted moves pending tasks that have no attempts left to error.
// This happens when the final attempt was interrupted and reset on resume.
func FailExhausted(tasks []Task) ([]Task, []string) {
	out := CloneTasks(tasks)
	var failed []string
	for i := range out {
		if out[i].Status == StatusPending && Exhausted(out[i]) {
			out[i].Status = StatusError
			failed = append(failed, out[i].ID)
		}
	}
	return out, failed
}
