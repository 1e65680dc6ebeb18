package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/google/uuid"
)

// ClaudeExecutor runs each attempt as a one-shot Claude Code CLI session.
// The agent is told how to report its own status; the CLI's JSON result
// decides success.
type ClaudeExecutor struct {
	binary       string
	extraArgs    []string
	workDir      string
	model        string
	systemPrompt string
	env          []string
	timeout      time.Duration
	procMgr      *ProcessManager
}

// claudeResult is the JSON document printed by `claude -p --output-format json`.
type claudeResult struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	IsError   bool   `json:"is_error"`
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
}

// NewClaudeExecutor creates a Claude Code executor. The ProcessManager is
// optional; if nil, subprocesses are not tracked.
func NewClaudeExecutor(cfg Config, procMgr *ProcessManager) (*ClaudeExecutor, error) {
	binary := cfg.Command
	if binary == "" {
		binary = "claude"
	}
	return &ClaudeExecutor{
		binary:       binary,
		extraArgs:    append([]string(nil), cfg.Args...),
		workDir:      cfg.WorkDir,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		env:          append([]string(nil), cfg.Env...),
		timeout:      cfg.Timeout,
		procMgr:      procMgr,
	}, nil
}

// Name returns "claude".
func (e *ClaudeExecutor) Name() string {
	return "claude"
}

// Available checks that the claude binary resolves on PATH.
func (e *ClaudeExecutor) Available() error {
	if _, err := exec.LookPath(e.binary); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMissingExecutor, e.binary, err)
	}
	return nil
}

// Execute runs one Claude session for req. Every attempt gets a fresh
// session so a retry never inherits a failed conversation.
func (e *ClaudeExecutor) Execute(parent context.Context, req Request) (Response, error) {
	ctx, cancel := withAttemptTimeout(parent, e.timeout)
	defer cancel()

	cmd := newCommand(ctx, e.binary, e.buildArgs(RenderPrompt(req), uuid.NewString())...)
	cmd.Dir = e.workDir
	cmd.Env = taskEnv(e.env, req)

	res, err := runCommand(ctx, cmd, e.procMgr)
	if err != nil {
		if timedOut(parent, ctx) {
			return Response{Success: false, ErrorMessage: fmt.Sprintf("timed out after %s", e.timeout)}, nil
		}
		return Response{}, err
	}

	result, parseErr := parseClaudeResult(res.stdout)
	if res.exitCode != 0 {
		msg := res.failureMessage()
		if parseErr == nil && result.Result != "" {
			msg = fmt.Sprintf("exit status %d: %s", res.exitCode, result.Result)
		}
		return Response{Success: false, ErrorMessage: msg}, nil
	}
	if parseErr != nil {
		return Response{Success: false, ErrorMessage: fmt.Sprintf("failed to parse claude output: %v", parseErr)}, nil
	}
	if result.IsError {
		msg := result.Result
		if msg == "" {
			msg = "claude reported an error"
			if result.Subtype != "" {
				msg += ": " + result.Subtype
			}
		}
		return Response{Success: false, ErrorMessage: msg}, nil
	}
	return Response{Success: true}, nil
}

// buildArgs constructs the command-line arguments for the claude CLI.
func (e *ClaudeExecutor) buildArgs(prompt, sessionID string) []string {
	args := append([]string(nil), e.extraArgs...)
	args = append(args, "-p", prompt, "--output-format", "json", "--session-id", sessionID)

	if e.model != "" {
		args = append(args, "--model", e.model)
	}
	if e.systemPrompt != "" {
		args = append(args, "--system-prompt", e.systemPrompt)
	}
	return args
}

// parseClaudeResult decodes the CLI's JSON output.
func parseClaudeResult(data []byte) (claudeResult, error) {
	var cr claudeResult
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return cr, fmt.Errorf("empty output")
	}
	if err := json.Unmarshal(data, &cr); err != nil {
		return cr, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return cr, nil
}
