package config

import (
	"path/filepath"
	"time"
)

// Dir is the conventional directory for project and global configuration.
const Dir = ".taskflow"

// DefaultConfig returns the default configuration: a project-local store and
// journal, and the Claude Code executor.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path:        filepath.Join(Dir, "tasks.json"),
			JournalPath: filepath.Join(Dir, "journal.db"),
			ReadRetries: 5,
			ReadBackoff: Duration(20 * time.Millisecond),
		},
		Executor: ExecutorConfig{
			Type:    "claude",
			Command: "claude",
		},
		Orchestrator: OrchestratorConfig{
			GracePeriod: Duration(5 * time.Second),
		},
	}
}
