package orchestrator

import (
	"github.com/aristath/taskflow/internal/scheduler"
)

// decision is a status the loop assigned to a task.
type decision struct {
	status  scheduler.Status
	attempt int
}

// ledger remembers every decision the loop made and which tasks are in
// flight. Every write starts from a fresh read and is passed through merge,
// so a stale whole-file write by another party cannot undo orchestrator-owned
// fields. It is only used from the loop goroutine.
type ledger struct {
	decisions map[string]decision
	inflight  map[string]DispatchRecord
	committed map[string]bool // In-flight tasks whose in_progress has been written
}

func newLedger() *ledger {
	return &ledger{
		decisions: make(map[string]decision),
		inflight:  make(map[string]DispatchRecord),
		committed: make(map[string]bool),
	}
}

func (l *ledger) decide(t scheduler.Task) {
	l.decisions[t.ID] = decision{status: t.Status, attempt: t.Attempt}
}

// assign records a new dispatch for t. The task becomes in_progress with
// its attempt counter incremented at the next merge.
func (l *ledger) assign(t scheduler.Task, rec DispatchRecord) {
	l.inflight[t.ID] = rec
	l.decisions[t.ID] = decision{status: scheduler.StatusInProgress, attempt: rec.Attempt}
}

// release forgets the dispatch for id.
func (l *ledger) release(id string) {
	delete(l.inflight, id)
	delete(l.committed, id)
}

// forget drops a task's dispatch and decision, leaving its stored status to
// whatever the store says.
func (l *ledger) forget(id string) {
	l.release(id)
	delete(l.decisions, id)
}

func (l *ledger) markCommitted() {
	for id := range l.inflight {
		l.committed[id] = true
	}
}

// repair describes the corrections merge had to make.
type repair struct {
	restored  []string // In-flight tasks put back to in_progress
	reapplied []string // Decided tasks whose status was overwritten
	orphaned  []string // in_progress tasks with no worker, returned to pending
	exhausted []string // Pending tasks with no attempts left, moved to error
}

func (r repair) changed() bool {
	return len(r.restored)+len(r.reapplied)+len(r.orphaned)+len(r.exhausted) > 0
}

// merge overlays the ledger onto a freshly read graph:
//   - an in-flight task may be completed or errored by its own worker, but
//     if it reads as pending a stale writer regressed it and it is restored
//   - a decided task that is not in flight gets its decided status back
//   - an in_progress task with no dispatch behind it returns to pending
//   - a pending task that has used every attempt becomes error
//   - attempt counts never decrease
//
// The returned graph is a copy; tasks is not modified.
func (l *ledger) merge(tasks []scheduler.Task) ([]scheduler.Task, repair) {
	out := scheduler.CloneTasks(tasks)
	var rep repair

	for i := range out {
		t := &out[i]
		d, decided := l.decisions[t.ID]
		if decided && d.attempt > t.Attempt {
			t.Attempt = d.attempt
		}

		if rec, ok := l.inflight[t.ID]; ok {
			if rec.Attempt > t.Attempt {
				t.Attempt = rec.Attempt
			}
			if t.Status == scheduler.StatusPending {
				t.Status = scheduler.StatusInProgress
				if l.committed[t.ID] {
					rep.restored = append(rep.restored, t.ID)
				}
			}
			continue
		}

		if decided && t.Status != d.status {
			t.Status = d.status
			rep.reapplied = append(rep.reapplied, t.ID)
		}

		if t.Status == scheduler.StatusInProgress {
			t.Status = scheduler.StatusPending
			rep.orphaned = append(rep.orphaned, t.ID)
			l.decide(*t)
		}

		if t.Status == scheduler.StatusPending && scheduler.Exhausted(*t) {
			t.Status = scheduler.StatusError
			rep.exhausted = append(rep.exhausted, t.ID)
			l.decide(*t)
		}
	}

	return out, rep
}

// view is tasks as the scheduler should see them. A task in flight counts
// as in_progress whatever its worker already wrote, so dependents wait for
// the executor's response.
func (l *ledger) view(tasks []scheduler.Task) []scheduler.Task {
	out := scheduler.CloneTasks(tasks)
	for i := range out {
		if _, ok := l.inflight[out[i].ID]; ok {
			out[i].Status = scheduler.StatusInProgress
		}
	}
	return out
}

// resolve determines the final status of a resolved dispatch against a fresh
// read of its task. The attempt failed if the executor said so or the worker
// self-reported error; the response wins over a self-reported completion.
func resolve(current scheduler.Task, rec DispatchRecord, res dispatchResult) (scheduler.Task, string) {
	t := current.Clone()
	if rec.Attempt > t.Attempt {
		t.Attempt = rec.Attempt
	}

	failure := ""
	switch {
	case !res.response.Success && res.transport:
		failure = "executor_error"
	case !res.response.Success:
		failure = "unsuccessful"
	case current.Status == scheduler.StatusError:
		failure = "self_reported"
	}

	return scheduler.ApplyOutcome(t, failure == ""), failure
}
