package main

import (
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/aristath/taskflow/internal/backend"
	"github.com/aristath/taskflow/internal/config"
	"github.com/aristath/taskflow/internal/persistence"
)

// cli holds state shared by every subcommand.
type cli struct {
	configPath string
	storePath  string
	stdout     io.Writer
	stderr     io.Writer
	logger     *log.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{
		stdout: stdout,
		stderr: stderr,
		logger: log.New(stderr, "", log.LstdFlags),
	}

	root := &cobra.Command{
		Use:           "taskflow",
		Short:         "Run a dependency graph of tasks through an executor",
		Long:          "taskflow dispatches every ready task of a JSON task graph to an executor, retries failures and halts when the graph is done, deadlocked or failed.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default: ~/.taskflow and .taskflow layered)")
	root.PersistentFlags().StringVar(&c.storePath, "store", "", "task store path (default: $"+backend.EnvStorePath+" or store.path)")

	root.AddCommand(
		c.newInitCmd(),
		c.newRunCmd(),
		c.newResumeCmd(),
		c.newReportCmd(),
		c.newStatusCmd(),
		c.newWatchCmd(),
	)
	return root
}

// loadConfig resolves configuration and applies the store override:
// --store, then $TASKFLOW_STORE, then the config file.
func (c *cli) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if c.configPath != "" {
		cfg, err = config.Load("", c.configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}

	switch {
	case c.storePath != "":
		cfg.Store.Path = c.storePath
	case os.Getenv(backend.EnvStorePath) != "":
		cfg.Store.Path = os.Getenv(backend.EnvStorePath)
	}
	return cfg, nil
}

func (c *cli) openStore(cfg *config.Config) (*persistence.FileStore, error) {
	retry := persistence.DefaultReadRetryConfig()
	if cfg.Store.ReadRetries > 0 {
		retry.MaxRetries = uint64(cfg.Store.ReadRetries)
	}
	if cfg.Store.ReadBackoff > 0 {
		retry.InitialInterval = cfg.Store.ReadBackoff.Std()
	}
	if retry.MaxInterval < retry.InitialInterval {
		retry.MaxInterval = 10 * retry.InitialInterval
	}
	return persistence.NewFileStore(cfg.Store.Path,
		persistence.WithReadRetry(retry),
		persistence.WithLogger(c.logger),
	)
}

// executorConfig maps the config file's executor section onto the backend.
func executorConfig(cfg *config.Config) backend.Config {
	return backend.Config{
		Type:         cfg.Executor.Type,
		Command:      cfg.Executor.Command,
		Args:         cfg.Executor.Args,
		WorkDir:      cfg.Executor.WorkDir,
		Model:        cfg.Executor.Model,
		SystemPrompt: cfg.Executor.SystemPrompt,
		Timeout:      cfg.Executor.Timeout.Std(),
	}
}
