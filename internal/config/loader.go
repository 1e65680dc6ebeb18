package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed files return an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.taskflow/config.{json,yaml,yml}
// Project: .taskflow/config.{json,yaml,yml} (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	return Load(findConfig(filepath.Join(homeDir, Dir)), findConfig(Dir))
}

// findConfig returns the first config file present in dir, or the JSON path
// if none exists so that Load treats it as missing.
func findConfig(dir string) string {
	for _, name := range []string{"config.json", "config.yaml", "config.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return filepath.Join(dir, "config.json")
}

// mergeConfigFile reads a JSON or YAML config file and merges its non-zero
// fields into base. Missing files are silently skipped.
func mergeConfigFile(base *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &loaded); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &loaded); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	merge(base, &loaded)
	return nil
}

// merge overlays every non-zero field of src onto dst.
func merge(dst, src *Config) {
	setString(&dst.Store.Path, src.Store.Path)
	setString(&dst.Store.JournalPath, src.Store.JournalPath)
	if src.Store.ReadRetries != 0 {
		dst.Store.ReadRetries = src.Store.ReadRetries
	}
	if src.Store.ReadBackoff != 0 {
		dst.Store.ReadBackoff = src.Store.ReadBackoff
	}

	// A new executor type resets the command so the old binary is not reused
	if src.Executor.Type != "" && src.Executor.Type != dst.Executor.Type {
		dst.Executor = ExecutorConfig{Type: src.Executor.Type}
		if src.Executor.Type == "claude" {
			dst.Executor.Command = "claude"
		}
	}
	setString(&dst.Executor.Command, src.Executor.Command)
	if src.Executor.Args != nil {
		dst.Executor.Args = append([]string(nil), src.Executor.Args...)
	}
	setString(&dst.Executor.Model, src.Executor.Model)
	setString(&dst.Executor.SystemPrompt, src.Executor.SystemPrompt)
	setString(&dst.Executor.WorkDir, src.Executor.WorkDir)
	if src.Executor.Timeout != 0 {
		dst.Executor.Timeout = src.Executor.Timeout
	}

	if src.Orchestrator.GracePeriod != 0 {
		dst.Orchestrator.GracePeriod = src.Orchestrator.GracePeriod
	}
	setString(&dst.Orchestrator.MetricsAddr, src.Orchestrator.MetricsAddr)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// JournalEnabled reports whether the dispatch journal should be opened.
func (c *Config) JournalEnabled() bool {
	return c.Store.JournalPath != "" && c.Store.JournalPath != "-"
}
