package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// Environment variables exported to every executor subprocess so it can
// report its own status with `taskflow report`.
const (
	EnvStorePath = "TASKFLOW_STORE"
	EnvTaskID    = "TASKFLOW_TASK_ID"
	EnvAttempt   = "TASKFLOW_ATTEMPT"
)

// CommandExecutor runs an arbitrary program once per attempt. The request is
// written to its stdin as JSON. Exit status 0 means success unless the
// program prints a JSON Response to stdout that says otherwise.
type CommandExecutor struct {
	command string
	args    []string
	workDir string
	env     []string
	timeout time.Duration
	procMgr *ProcessManager
}

// NewCommandExecutor creates a command executor. The ProcessManager is
// optional; if nil, subprocesses are not tracked.
func NewCommandExecutor(cfg Config, procMgr *ProcessManager) (*CommandExecutor, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("command executor requires a command")
	}
	return &CommandExecutor{
		command: cfg.Command,
		args:    append([]string(nil), cfg.Args...),
		workDir: cfg.WorkDir,
		env:     append([]string(nil), cfg.Env...),
		timeout: cfg.Timeout,
		procMgr: procMgr,
	}, nil
}

// Name returns the command path.
func (e *CommandExecutor) Name() string {
	return e.command
}

// Available checks that the command resolves on PATH.
func (e *CommandExecutor) Available() error {
	if _, err := exec.LookPath(e.command); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMissingExecutor, e.command, err)
	}
	return nil
}

// Execute runs the command for req.
func (e *CommandExecutor) Execute(parent context.Context, req Request) (Response, error) {
	ctx, cancel := withAttemptTimeout(parent, e.timeout)
	defer cancel()

	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	cmd := newCommand(ctx, e.command, e.args...)
	cmd.Dir = e.workDir
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Env = taskEnv(e.env, req)

	res, err := runCommand(ctx, cmd, e.procMgr)
	if err != nil {
		if timedOut(parent, ctx) {
			return Response{Success: false, ErrorMessage: fmt.Sprintf("timed out after %s", e.timeout)}, nil
		}
		return Response{}, err
	}
	if res.exitCode != 0 {
		return Response{Success: false, ErrorMessage: res.failureMessage()}, nil
	}
	if reported, ok := parseResponse(res.stdout); ok {
		return reported, nil
	}
	return Response{Success: true}, nil
}

// withAttemptTimeout derives the per-attempt context.
func withAttemptTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(parent, timeout)
	}
	return context.WithCancel(parent)
}

// timedOut reports whether ctx expired on its own deadline while the parent
// is still live. That is a failed attempt, not an executor outage.
func timedOut(parent, ctx context.Context) bool {
	return parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// taskEnv builds the subprocess environment: the parent's, then extra
// configured entries, then the task identification variables.
func taskEnv(extra []string, req Request) []string {
	env := append(os.Environ(), extra...)
	env = append(env,
		EnvTaskID+"="+req.TaskID,
		EnvAttempt+"="+strconv.Itoa(req.Attempt),
	)
	if req.StorePath != "" {
		env = append(env, EnvStorePath+"="+req.StorePath)
	}
	return env
}

// parseResponse looks for a Response object on the last non-empty line of
// stdout. Programs that print anything else are judged by exit status.
func parseResponse(stdout []byte) (Response, bool) {
	lines := bytes.Split(bytes.TrimSpace(stdout), []byte("\n"))
	last := bytes.TrimSpace(lines[len(lines)-1])
	if len(last) == 0 || last[0] != '{' {
		return Response{}, false
	}

	var raw struct {
		Success      *bool  `json:"success"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.Unmarshal(last, &raw); err != nil || raw.Success == nil {
		return Response{}, false
	}
	return Response{Success: *raw.Success, ErrorMessage: raw.ErrorMessage}, true
}
