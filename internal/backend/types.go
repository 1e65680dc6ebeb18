package backend

import "time"

// Request is the payload handed to an executor for one task attempt.
type Request struct {
	TaskID                     string   `json:"taskId"`
	Content                    string   `json:"content"`
	CompletedDependencyContext []string `json:"completedDependencyContext"`
	Attempt                    int      `json:"attempt,omitempty"`
	StorePath                  string   `json:"storePath,omitempty"`

	// Instructions tells the executor how to report its own task's status
	// to the task store before returning.
	Instructions string `json:"instructions,omitempty"`
}

// Response is the normalized outcome of one executor call.
type Response struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Config defines the configuration for an executor.
type Config struct {
	Type         string   // "command" or "claude"
	Command      string   // Binary to run; defaults to "claude" for the claude type
	Args         []string // Extra arguments placed before any generated ones
	WorkDir      string
	Model        string
	SystemPrompt string
	Timeout      time.Duration // Per-attempt limit, zero means none
	Env          []string      // Extra KEY=VALUE entries for the subprocess
}
