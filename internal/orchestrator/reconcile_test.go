package orchestrator

import (
	"testing"
	"time"

	"github.com/aristath/taskflow/internal/backend"
	"github.com/aristath/taskflow/internal/scheduler"
)

func TestLedgerMerge(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(l *ledger)
		stored     scheduler.Task
		wantStatus scheduler.Status
		wantAtt    int
		check      func(t *testing.T, rep repair)
	}{
		{
			name: "in flight regressed to pending is restored",
			setup: func(l *ledger) {
				l.assign(scheduler.Task{ID: "t1"}, DispatchRecord{TaskID: "t1", Attempt: 2})
				l.markCommitted()
			},
			stored:     scheduler.Task{ID: "t1", Status: scheduler.StatusPending, Attempt: 1},
			wantStatus: scheduler.StatusInProgress,
			wantAtt:    2,
			check: func(t *testing.T, rep repair) {
				if len(rep.restored) != 1 {
					t.Errorf("expected one restored task, got %v", rep.restored)
				}
			},
		},
		{
			name: "new dispatch is not a repair",
			setup: func(l *ledger) {
				l.assign(scheduler.Task{ID: "t1"}, DispatchRecord{TaskID: "t1", Attempt: 1})
			},
			stored:     scheduler.Task{ID: "t1", Status: scheduler.StatusPending},
			wantStatus: scheduler.StatusInProgress,
			wantAtt:    1,
			check: func(t *testing.T, rep repair) {
				if rep.changed() {
					t.Errorf("expected no repair, got %+v", rep)
				}
			},
		},
		{
			name: "self reported completion in flight is kept",
			setup: func(l *ledger) {
				l.assign(scheduler.Task{ID: "t1"}, DispatchRecord{TaskID: "t1", Attempt: 1})
				l.markCommitted()
			},
			stored:     scheduler.Task{ID: "t1", Status: scheduler.StatusCompleted, Attempt: 1},
			wantStatus: scheduler.StatusCompleted,
			wantAtt:    1,
		},
		{
			name: "decided status is reapplied",
			setup: func(l *ledger) {
				l.decide(scheduler.Task{ID: "t1", Status: scheduler.StatusCompleted, Attempt: 1})
			},
			stored:     scheduler.Task{ID: "t1", Status: scheduler.StatusPending},
			wantStatus: scheduler.StatusCompleted,
			wantAtt:    1,
			check: func(t *testing.T, rep repair) {
				if len(rep.reapplied) != 1 {
					t.Errorf("expected one reapplied task, got %v", rep.reapplied)
				}
			},
		},
		{
			name:       "orphaned in_progress returns to pending",
			stored:     scheduler.Task{ID: "t1", Status: scheduler.StatusInProgress, Attempt: 1},
			wantStatus: scheduler.StatusPending,
			wantAtt:    1,
			check: func(t *testing.T, rep repair) {
				if len(rep.orphaned) != 1 {
					t.Errorf("expected one orphaned task, got %v", rep.orphaned)
				}
			},
		},
		{
			name:       "exhausted pending becomes error",
			stored:     scheduler.Task{ID: "t1", Status: scheduler.StatusPending, Attempt: scheduler.MaxAttempts},
			wantStatus: scheduler.StatusError,
			wantAtt:    scheduler.MaxAttempts,
		},
		{
			name: "attempt never decreases",
			setup: func(l *ledger) {
				l.decide(scheduler.Task{ID: "t1", Status: scheduler.StatusPending, Attempt: 2})
			},
			stored:     scheduler.Task{ID: "t1", Status: scheduler.StatusPending, Attempt: 0},
			wantStatus: scheduler.StatusPending,
			wantAtt:    2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLedger()
			if tt.setup != nil {
				tt.setup(l)
			}
			stored := []scheduler.Task{tt.stored}
			merged, rep := l.merge(stored)

			if merged[0].Status != tt.wantStatus || merged[0].Attempt != tt.wantAtt {
				t.Errorf("expected %s attempt %d, got %s attempt %d", tt.wantStatus, tt.wantAtt, merged[0].Status, merged[0].Attempt)
			}
			if stored[0].Status != tt.stored.Status || stored[0].Attempt != tt.stored.Attempt {
				t.Error("merge modified its input")
			}
			if tt.check != nil {
				tt.check(t, rep)
			}
		})
	}
}

func TestLedgerView(t *testing.T) {
	l := newLedger()
	l.assign(scheduler.Task{ID: "a"}, DispatchRecord{TaskID: "a", Attempt: 1})

	tasks := []scheduler.Task{
		{ID: "a", Status: scheduler.StatusCompleted, Attempt: 1},
		{ID: "b", Status: scheduler.StatusPending, BlockedBy: []string{"a"}},
	}
	if ready := scheduler.ReadyTasks(l.view(tasks)); len(ready) != 0 {
		t.Errorf("expected dependents of an in-flight task to wait, got %v", ready)
	}
	if tasks[0].Status != scheduler.StatusCompleted {
		t.Error("view modified its input")
	}

	l.release("a")
	if ready := scheduler.ReadyTasks(l.view(tasks)); len(ready) != 1 || ready[0].ID != "b" {
		t.Errorf("expected b ready once a resolved, got %v", ready)
	}
}

func TestResolve(t *testing.T) {
	rec := DispatchRecord{TaskID: "t1", Attempt: 1, StartedAt: time.Now()}
	inProgress := scheduler.Task{ID: "t1", Status: scheduler.StatusInProgress, Attempt: 1}

	tests := []struct {
		name        string
		current     scheduler.Task
		rec         DispatchRecord
		result      dispatchResult
		wantStatus  scheduler.Status
		wantFailure string
	}{
		{
			name:       "success",
			current:    inProgress,
			rec:        rec,
			result:     dispatchResult{response: backend.Response{Success: true}},
			wantStatus: scheduler.StatusCompleted,
		},
		{
			name:        "unsuccessful retries",
			current:     inProgress,
			rec:         rec,
			result:      dispatchResult{response: backend.Response{ErrorMessage: "no"}},
			wantStatus:  scheduler.StatusPending,
			wantFailure: "unsuccessful",
		},
		{
			name:        "transport error retries",
			current:     inProgress,
			rec:         rec,
			result:      dispatchResult{response: backend.Response{ErrorMessage: "executor error"}, transport: true},
			wantStatus:  scheduler.StatusPending,
			wantFailure: "executor_error",
		},
		{
			name:        "self reported error",
			current:     scheduler.Task{ID: "t1", Status: scheduler.StatusError, Attempt: 1},
			rec:         rec,
			result:      dispatchResult{response: backend.Response{Success: true}},
			wantStatus:  scheduler.StatusPending,
			wantFailure: "self_reported",
		},
		{
			name:        "response overrides self reported completion",
			current:     scheduler.Task{ID: "t1", Status: scheduler.StatusCompleted, Attempt: 1},
			rec:         rec,
			result:      dispatchResult{response: backend.Response{}},
			wantStatus:  scheduler.StatusPending,
			wantFailure: "unsuccessful",
		},
		{
			name:        "final attempt errors",
			current:     scheduler.Task{ID: "t1", Status: scheduler.StatusInProgress, Attempt: 3},
			rec:         DispatchRecord{TaskID: "t1", Attempt: 3},
			result:      dispatchResult{response: backend.Response{}},
			wantStatus:  scheduler.StatusError,
			wantFailure: "unsuccessful",
		},
		{
			name:       "stale attempt is raised to the dispatch",
			current:    scheduler.Task{ID: "t1", Status: scheduler.StatusPending, Attempt: 0},
			rec:        DispatchRecord{TaskID: "t1", Attempt: 2},
			result:     dispatchResult{response: backend.Response{Success: true}},
			wantStatus: scheduler.StatusCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, failure := resolve(tt.current, tt.rec, tt.result)
			if got.Status != tt.wantStatus {
				t.Errorf("expected %s, got %s", tt.wantStatus, got.Status)
			}
			if failure != tt.wantFailure {
				t.Errorf("expected failure %q, got %q", tt.wantFailure, failure)
			}
			if got.Attempt < tt.rec.Attempt {
				t.Errorf("expected attempt >= %d, got %d", tt.rec.Attempt, got.Attempt)
			}
		})
	}
}
