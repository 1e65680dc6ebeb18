package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aristath/taskflow/internal/backend"
	"github.com/aristath/taskflow/internal/orchestrator"
	"github.com/aristath/taskflow/internal/persistence"
	"github.com/aristath/taskflow/internal/scheduler"
)

// syncBuffer is shared by stdout and stderr, which are written from the
// event printer and the run loop concurrently.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// project is a temp directory with a config file pointing the store, the
// journal and the executor inside it.
type project struct {
	dir    string
	config string
	store  string
}

func newProject(t *testing.T, script string) project {
	t.Helper()
	t.Setenv(backend.EnvStorePath, "")
	dir := t.TempDir()

	worker := filepath.Join(dir, "worker.sh")
	if err := os.WriteFile(worker, []byte("#!/bin/bash\ncat >/dev/null\n"+script), 0755); err != nil {
		t.Fatalf("failed to write worker: %v", err)
	}

	p := project{
		dir:    dir,
		config: filepath.Join(dir, "config.yaml"),
		store:  filepath.Join(dir, "tasks.json"),
	}
	cfg := fmt.Sprintf(`store:
  path: %s
  journal_path: %s
  read_backoff: 1ms
executor:
  type: command
  command: %s
orchestrator:
  grace_period: 1s
`, p.store, filepath.Join(dir, "journal.db"), worker)
	if err := os.WriteFile(p.config, []byte(cfg), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return p
}

func (p project) writeTasks(t *testing.T, json string) string {
	t.Helper()
	path := filepath.Join(p.dir, "graph.json")
	if err := os.WriteFile(path, []byte(json), 0644); err != nil {
		t.Fatalf("failed to write graph: %v", err)
	}
	return path
}

func (p project) run(t *testing.T, args ...string) (int, string) {
	t.Helper()
	var out syncBuffer
	code := execute(context.Background(), append([]string{"--config", p.config}, args...), &out, &out)
	return code, out.String()
}

func (p project) tasks(t *testing.T) map[string]scheduler.Task {
	t.Helper()
	store, err := persistence.NewFileStore(p.store)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	tasks, err := store.Read(context.Background())
	if err != nil {
		t.Fatalf("failed to read store: %v", err)
	}
	out := make(map[string]scheduler.Task)
	for _, tk := range tasks {
		out[tk.ID] = tk
	}
	return out
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: 0},
		{name: "plain error", err: errors.New("bad flag"), want: 1},
		{name: "fatal", err: &orchestrator.HaltError{Kind: orchestrator.OutcomeFatal}, want: 1},
		{name: "deadlock", err: &orchestrator.HaltError{Kind: orchestrator.OutcomeDeadlock}, want: 2},
		{name: "failed", err: &orchestrator.HaltError{Kind: orchestrator.OutcomeFailed}, want: 3},
		{name: "cancelled", err: &orchestrator.HaltError{Kind: orchestrator.OutcomeCancelled}, want: 130},
		{name: "wrapped", err: fmt.Errorf("run: %w", &orchestrator.HaltError{Kind: orchestrator.OutcomeFailed}), want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("expected exit code %d, got %d", tt.want, got)
			}
		})
	}
}

func TestRunAndStatus(t *testing.T) {
	p := newProject(t, "exit 0\n")
	graph := p.writeTasks(t, `[
		{"id": "a", "content": "first"},
		{"id": "b", "content": "second", "blockedBy": ["a"]}
	]`)

	code, out := p.run(t, "run", graph)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d:\n%s", code, out)
	}
	if !strings.Contains(out, "Run done") {
		t.Errorf("expected summary in output:\n%s", out)
	}
	for id, tk := range p.tasks(t) {
		if tk.Status != scheduler.StatusCompleted {
			t.Errorf("task %s: expected completed, got %s", id, tk.Status)
		}
	}

	code, out = p.run(t, "status")
	if code != 0 {
		t.Fatalf("status: expected exit 0, got %d:\n%s", code, out)
	}
	if !strings.Contains(out, "2/2 completed") || !strings.Contains(out, "Last run") {
		t.Errorf("unexpected status output:\n%s", out)
	}

	code, out = p.run(t, "status", "--task", "b")
	if code != 0 || !strings.Contains(out, "attempt 1") {
		t.Errorf("expected history for b, got %d:\n%s", code, out)
	}
}

func TestRunExitCodes(t *testing.T) {
	tests := []struct {
		name   string
		script string
		graph  string
		want   int
	}{
		{
			name:   "deadlock on cycle",
			script: "exit 0\n",
			graph:  `[{"id": "x", "blockedBy": ["y"]}, {"id": "y", "blockedBy": ["x"]}]`,
			want:   exitDeadlock,
		},
		{
			name:   "failed after retries",
			script: "echo broken >&2\nexit 1\n",
			graph:  `[{"id": "x"}]`,
			want:   exitFailed,
		},
		{
			name:   "invalid graph",
			script: "exit 0\n",
			graph:  `[{"id": "x"}, {"id": "x"}]`,
			want:   exitFatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProject(t, tt.script)
			code, out := p.run(t, "run", p.writeTasks(t, tt.graph))
			if code != tt.want {
				t.Errorf("expected exit %d, got %d:\n%s", tt.want, code, out)
			}
		})
	}
}

func TestRunRefusesExistingStore(t *testing.T) {
	p := newProject(t, "exit 0\n")
	graph := p.writeTasks(t, `[{"id": "a"}]`)

	if code, out := p.run(t, "run", graph); code != 0 {
		t.Fatalf("first run: expected exit 0, got %d:\n%s", code, out)
	}
	code, out := p.run(t, "run", graph)
	if code != exitFatal || !strings.Contains(out, "already exists") {
		t.Errorf("expected refusal, got %d:\n%s", code, out)
	}
	if code, out := p.run(t, "run", "--force", graph); code != 0 {
		t.Errorf("forced run: expected exit 0, got %d:\n%s", code, out)
	}
}

func TestResumeWithoutStore(t *testing.T) {
	p := newProject(t, "exit 0\n")
	code, out := p.run(t, "resume")
	if code != exitFatal || !strings.Contains(out, "store_not_found") {
		t.Errorf("expected fatal store_not_found, got %d:\n%s", code, out)
	}
}

func TestReport(t *testing.T) {
	seed := func(t *testing.T, p project) {
		t.Helper()
		store, err := persistence.NewFileStore(p.store)
		if err != nil {
			t.Fatalf("failed to open store: %v", err)
		}
		if err := store.Write(context.Background(), []scheduler.Task{
			{ID: "t1", Content: "one", Status: scheduler.StatusInProgress, Attempt: 1},
			{ID: "t2", Content: "two", Status: scheduler.StatusPending},
		}); err != nil {
			t.Fatalf("failed to seed store: %v", err)
		}
	}

	t.Run("status and insert", func(t *testing.T) {
		p := newProject(t, "exit 0\n")
		seed(t, p)

		code, out := p.run(t, "report", "--task", "t1", "--status", "completed",
			"--insert", `[{"id": "t1b", "content": "follow up", "blockedBy": ["t1"]}]`)
		if code != 0 {
			t.Fatalf("expected exit 0, got %d:\n%s", code, out)
		}
		tasks := p.tasks(t)
		if tasks["t1"].Status != scheduler.StatusCompleted {
			t.Errorf("expected t1 completed, got %s", tasks["t1"].Status)
		}
		if tk, ok := tasks["t1b"]; !ok || tk.Status != scheduler.StatusPending {
			t.Errorf("expected t1b pending, got %+v", tk)
		}
	})

	t.Run("environment", func(t *testing.T) {
		p := newProject(t, "exit 0\n")
		seed(t, p)
		t.Setenv(backend.EnvTaskID, "t1")
		t.Setenv(backend.EnvStorePath, p.store)

		var out bytes.Buffer
		code := execute(context.Background(), []string{"--config", filepath.Join(p.dir, "missing.yaml"), "report", "--status", "error"}, &out, &out)
		if code != 0 {
			t.Fatalf("expected exit 0, got %d:\n%s", code, out.String())
		}
		if got := p.tasks(t)["t1"].Status; got != scheduler.StatusError {
			t.Errorf("expected t1 error, got %s", got)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		tests := []struct {
			name string
			args []string
		}{
			{name: "not in progress", args: []string{"--task", "t2", "--status", "completed"}},
			{name: "invalid status", args: []string{"--task", "t1", "--status", "pending"}},
			{name: "unknown dependency", args: []string{"--task", "t1", "--insert", `[{"id": "n", "blockedBy": ["ghost"]}]`}},
			{name: "nothing to report", args: []string{"--task", "t1"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				p := newProject(t, "exit 0\n")
				seed(t, p)
				t.Setenv(backend.EnvTaskID, "")

				code, out := p.run(t, append([]string{"report"}, tt.args...)...)
				if code != exitFatal {
					t.Errorf("expected exit 1, got %d:\n%s", code, out)
				}
				if got := p.tasks(t)["t1"].Status; got != scheduler.StatusInProgress {
					t.Errorf("expected t1 unchanged, got %s", got)
				}
			})
		}
	})
}

func TestParseInsert(t *testing.T) {
	file := filepath.Join(t.TempDir(), "insert.json")
	if err := os.WriteFile(file, []byte(`[{"id": "f1"}]`), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		value   string
		wantIDs []string
		wantErr bool
	}{
		{name: "empty", value: ""},
		{name: "inline", value: `[{"id": "a"}, {"id": "b", "blockedBy": ["a"]}]`, wantIDs: []string{"a", "b"}},
		{name: "file", value: "@" + file, wantIDs: []string{"f1"}},
		{name: "missing file", value: "@" + file + ".missing", wantErr: true},
		{name: "not an array", value: `{"id": "a"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks, err := parseInsert(tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if len(tasks) != len(tt.wantIDs) {
				t.Fatalf("expected %d tasks, got %d", len(tt.wantIDs), len(tasks))
			}
			for i, id := range tt.wantIDs {
				if tasks[i].ID != id {
					t.Errorf("task %d: expected %s, got %s", i, id, tasks[i].ID)
				}
			}
		})
	}
}

func TestInitWritesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	var out bytes.Buffer
	if code := execute(context.Background(), []string{"--config", path, "init", "--executor", "command"}, &out, &out); code != 0 {
		t.Fatalf("expected exit 0, got %d:\n%s", code, out.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if !strings.Contains(string(data), "type: command") {
		t.Errorf("expected command executor in config:\n%s", data)
	}

	out.Reset()
	if code := execute(context.Background(), []string{"--config", path, "init"}, &out, &out); code != exitFatal {
		t.Errorf("expected refusal to overwrite, got %d", code)
	}
}
