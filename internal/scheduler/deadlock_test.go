package scheduler

import (
	"errors"
	"reflect"
	"testing"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name        string
		tasks       []Task
		deadlocked  bool
		reason      Reason
		wantBlocked []string
		wantFailed  []string
		wantCycle   []string
	}{
		{
			name:   "all completed is not a deadlock",
			tasks:  []Task{{ID: "t1", Status: StatusCompleted}},
			reason: ReasonNone,
		},
		{
			name: "work in progress is not a deadlock",
			tasks: []Task{
				{ID: "t1", Status: StatusInProgress},
				{ID: "t2", Status: StatusPending, BlockedBy: []string{"t1"}},
			},
			reason: ReasonNone,
		},
		{
			name:   "ready work is not a deadlock",
			tasks:  []Task{{ID: "t1", Status: StatusPending}},
			reason: ReasonNone,
		},
		{
			name: "two task cycle",
			tasks: []Task{
				{ID: "t1", Status: StatusPending, BlockedBy: []string{"t2"}},
				{ID: "t2", Status: StatusPending, BlockedBy: []string{"t1"}},
			},
			deadlocked:  true,
			reason:      ReasonCycle,
			wantBlocked: []string{"t1", "t2"},
			wantCycle:   []string{"t1", "t2"},
		},
		{
			name: "cycle with downstream task",
			tasks: []Task{
				{ID: "a", Status: StatusPending, BlockedBy: []string{"c"}},
				{ID: "b", Status: StatusPending, BlockedBy: []string{"a"}},
				{ID: "c", Status: StatusPending, BlockedBy: []string{"b"}},
				{ID: "d", Status: StatusPending, BlockedBy: []string{"c"}},
			},
			deadlocked:  true,
			reason:      ReasonCycle,
			wantBlocked: []string{"a", "b", "c", "d"},
			wantCycle:   []string{"a", "b", "c"},
		},
		{
			name: "blocked by exhausted task",
			tasks: []Task{
				{ID: "t1", Status: StatusError, Attempt: 3},
				{ID: "t2", Status: StatusPending, BlockedBy: []string{"t1"}},
				{ID: "t3", Status: StatusPending, BlockedBy: []string{"t2"}},
			},
			deadlocked:  true,
			reason:      ReasonErrorDependency,
			wantBlocked: []string{"t2", "t3"},
			wantFailed:  []string{"t1"},
			wantCycle:   []string{},
		},
		{
			name: "only errors remain is not a deadlock",
			tasks: []Task{
				{ID: "t1", Status: StatusCompleted},
				{ID: "t2", Status: StatusError, Attempt: 3},
			},
			reason: ReasonNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Detect(tt.tasks)
			if d.Deadlocked != tt.deadlocked {
				t.Fatalf("Deadlocked = %v, want %v", d.Deadlocked, tt.deadlocked)
			}
			if d.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", d.Reason, tt.reason)
			}
			if !tt.deadlocked {
				if d.Err() != nil {
					t.Errorf("Err() = %v, want nil", d.Err())
				}
				return
			}
			if got := d.BlockedIDs(); !reflect.DeepEqual(got, tt.wantBlocked) {
				t.Errorf("Blocked = %v, want %v", got, tt.wantBlocked)
			}
			if !reflect.DeepEqual(d.Failed, tt.wantFailed) {
				t.Errorf("Failed = %v, want %v", d.Failed, tt.wantFailed)
			}
			if !reflect.DeepEqual(d.Cycle, tt.wantCycle) {
				t.Errorf("Cycle = %v, want %v", d.Cycle, tt.wantCycle)
			}
		})
	}
}

func TestDeadlockErr(t *testing.T) {
	cycle := Detect([]Task{
		{ID: "t1", Status: StatusPending, BlockedBy: []string{"t2"}},
		{ID: "t2", Status: StatusPending, BlockedBy: []string{"t1"}},
	})
	if !errors.Is(cycle.Err(), ErrDependencyCycle) {
		t.Errorf("cycle Err() = %v, want ErrDependencyCycle", cycle.Err())
	}

	failed := Detect([]Task{
		{ID: "t1", Status: StatusError, Attempt: 3},
		{ID: "t2", Status: StatusPending, BlockedBy: []string{"t1"}},
	})
	if !errors.Is(failed.Err(), ErrErrorDependency) {
		t.Errorf("error dependency Err() = %v, want ErrErrorDependency", failed.Err())
	}
}

func TestFailed(t *testing.T) {
	tasks := []Task{
		{ID: "a", Status: StatusError},
		{ID: "b", Status: StatusCompleted},
		{ID: "c", Status: StatusError},
	}
	if got := Failed(tasks); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("Failed() = %v, want [a c]", got)
	}
}
