package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSaveCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "config.json")

	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}
}

func TestSaveJSONFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("saved config is not JSON: %v", err)
	}
	if raw["orchestrator"]["grace_period"] != "5s" {
		t.Errorf("expected durations as strings, got %v", raw["orchestrator"]["grace_period"])
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			cfg := DefaultConfig()
			cfg.Store.Path = "/data/tasks.json"
			cfg.Store.JournalPath = "-"
			cfg.Executor = ExecutorConfig{
				Type:    "command",
				Command: "worker",
				Args:    []string{"-v"},
				Timeout: Duration(90 * time.Second),
			}
			cfg.Orchestrator.MetricsAddr = "127.0.0.1:9100"

			if err := Save(cfg, path); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			loaded, err := Load("", path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if loaded.Store.Path != cfg.Store.Path || loaded.Store.JournalPath != "-" {
				t.Errorf("store mismatch: %+v", loaded.Store)
			}
			if loaded.Executor.Command != "worker" || loaded.Executor.Timeout != cfg.Executor.Timeout {
				t.Errorf("executor mismatch: %+v", loaded.Executor)
			}
			if loaded.Orchestrator.MetricsAddr != cfg.Orchestrator.MetricsAddr {
				t.Errorf("metrics addr mismatch: %q", loaded.Orchestrator.MetricsAddr)
			}
		})
	}
}

func TestSaveYAMLFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")

	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	if !strings.Contains(string(data), "grace_period: 5s") {
		t.Errorf("expected YAML duration string, got:\n%s", data)
	}
}
