package scheduler

// MarkInProgress returns t assigned to a worker. The attempt counter is
// incremented at dispatch time so an interrupted attempt still counts toward
// the retry budget.
func MarkInProgress(t Task) Task {
	cp := t.Clone()
	cp.Status = StatusInProgress
	cp.Attempt++
	return cp
}

// Exhausted reports whether t has used its whole retry budget.
func Exhausted(t Task) bool {
	return t.Attempt >= MaxAttempts
}

// ApplyOutcome returns t after a dispatch resolved. Success completes the
// task. A failure sends it back to pending while attempts remain, and to
// error once the MaxAttempts-th attempt has failed. No backoff is applied;
// a retried task is ready again on the next scheduling pass.
func ApplyOutcome(t Task, success bool) Task {
	cp := t.Clone()
	switch {
	case success:
		cp.Status = StatusCompleted
	case Exhausted(cp):
		cp.Status = StatusError
	default:
		cp.Status = StatusPending
	}
	return cp
}
