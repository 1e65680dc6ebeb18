package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// StoreConfig locates the task store and the dispatch journal.
type StoreConfig struct {
	Path        string   `json:"path,omitempty" yaml:"path,omitempty"`                 // Task store JSON file
	JournalPath string   `json:"journal_path,omitempty" yaml:"journal_path,omitempty"` // SQLite journal; "-" disables
	ReadRetries int      `json:"read_retries,omitempty" yaml:"read_retries,omitempty"` // Retries after an unparsable read
	ReadBackoff Duration `json:"read_backoff,omitempty" yaml:"read_backoff,omitempty"` // Initial retry interval
}

// ExecutorConfig selects and configures the executor used for every dispatch.
type ExecutorConfig struct {
	Type         string   `json:"type,omitempty" yaml:"type,omitempty"`       // "command" or "claude"
	Command      string   `json:"command,omitempty" yaml:"command,omitempty"` // Binary to run
	Args         []string `json:"args,omitempty" yaml:"args,omitempty"`       // Extra arguments on every invocation
	Model        string   `json:"model,omitempty" yaml:"model,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Timeout      Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"` // Per-attempt limit
	WorkDir      string   `json:"work_dir,omitempty" yaml:"work_dir,omitempty"`
}

// OrchestratorConfig tunes the scheduling loop.
type OrchestratorConfig struct {
	GracePeriod Duration `json:"grace_period,omitempty" yaml:"grace_period,omitempty"` // Wait for stragglers on cancel
	MetricsAddr string   `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty"` // Prometheus listen address
}

// Config is the top-level configuration.
type Config struct {
	Store        StoreConfig        `json:"store" yaml:"store"`
	Executor     ExecutorConfig     `json:"executor" yaml:"executor"`
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator"`
}

// Duration is a time.Duration written as a Go duration string ("5s", "250ms")
// in both JSON and YAML.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.parse(s)
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration at line %d: %w", node.Line, err)
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}
