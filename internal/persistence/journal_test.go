package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// testJournal creates an in-memory journal and registers cleanup.
func testJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := NewMemoryJournal(context.Background())
	if err != nil {
		t.Fatalf("failed to create test journal: %v", err)
	}
	t.Cleanup(func() {
		j.Close()
	})
	return j
}

func TestJournalRecordAndQuery(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()

	runID, err := j.StartRun(ctx, "/tmp/tasks.json")
	if err != nil {
		t.Fatalf("failed to start run: %v", err)
	}

	started := time.Now()
	attempts := []Attempt{
		{RunID: runID, TaskID: "t1", Attempt: 1, StartedAt: started, Duration: 1500 * time.Millisecond, Success: false, Error: "exit status 1"},
		{RunID: runID, TaskID: "t1", Attempt: 2, StartedAt: started.Add(2 * time.Second), Duration: 200 * time.Millisecond, Success: true},
		{RunID: runID, TaskID: "t2", Attempt: 1, StartedAt: started, Duration: time.Second, Success: true},
	}
	for _, a := range attempts {
		if err := j.Record(ctx, a); err != nil {
			t.Fatalf("failed to record: %v", err)
		}
	}

	got, err := j.RunAttempts(ctx, runID)
	if err != nil {
		t.Fatalf("failed to query run: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(got))
	}
	if got[0].Error != "exit status 1" || got[0].Success {
		t.Errorf("unexpected first attempt: %+v", got[0])
	}
	if got[0].Duration != 1500*time.Millisecond {
		t.Errorf("expected 1.5s duration, got %v", got[0].Duration)
	}
	if got[0].StartedAt.UnixNano() != started.UnixNano() {
		t.Errorf("start time not preserved")
	}

	history, err := j.TaskHistory(ctx, "t1")
	if err != nil {
		t.Fatalf("failed to query history: %v", err)
	}
	if len(history) != 2 || history[1].Attempt != 2 || !history[1].Success {
		t.Errorf("unexpected history: %+v", history)
	}
}

func TestJournalEmptyHistory(t *testing.T) {
	j := testJournal(t)

	history, err := j.TaskHistory(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if history == nil || len(history) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", history)
	}
}

func TestJournalRuns(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()

	first, err := j.StartRun(ctx, "tasks.json")
	if err != nil {
		t.Fatalf("failed to start run: %v", err)
	}
	if err := j.FinishRun(ctx, first, "deadlock", "cycle"); err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}
	time.Sleep(time.Millisecond)
	second, err := j.StartRun(ctx, "tasks.json")
	if err != nil {
		t.Fatalf("failed to start run: %v", err)
	}

	runs, err := j.Runs(ctx, "tasks.json")
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != second {
		t.Errorf("expected newest run first")
	}
	if !runs[0].FinishedAt.IsZero() {
		t.Errorf("active run should have zero FinishedAt")
	}
	if runs[1].Outcome != "deadlock" || runs[1].Reason != "cycle" {
		t.Errorf("unexpected finished run: %+v", runs[1])
	}

	if err := j.FinishRun(ctx, "missing", "done", ""); err == nil {
		t.Error("expected error finishing unknown run")
	}
}

func TestOpenJournalOnDisk(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "journal.db")

	j, err := OpenJournal(ctx, path)
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	runID, err := j.StartRun(ctx, "tasks.json")
	if err != nil {
		t.Fatalf("failed to start run: %v", err)
	}
	if err := j.Record(ctx, Attempt{RunID: runID, TaskID: "t1", Attempt: 1, StartedAt: time.Now(), Success: true}); err != nil {
		t.Fatalf("failed to record: %v", err)
	}
	j.Close()

	// Reopen and confirm persistence
	j, err = OpenJournal(ctx, path)
	if err != nil {
		t.Fatalf("failed to reopen journal: %v", err)
	}
	defer j.Close()

	got, err := j.RunAttempts(ctx, runID)
	if err != nil {
		t.Fatalf("failed to query: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 attempt after reopen, got %d", len(got))
	}
}
