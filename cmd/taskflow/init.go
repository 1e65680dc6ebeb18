package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aristath/taskflow/internal/config"
)

func (c *cli) newInitCmd() *cobra.Command {
	var executor string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a project config with the defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.configPath
			if path == "" {
				path = filepath.Join(config.Dir, "config.yaml")
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}

			cfg := config.DefaultConfig()
			switch executor {
			case "", "claude":
			case "command":
				cfg.Executor.Type = "command"
				cfg.Executor.Command = ""
			default:
				return fmt.Errorf("unknown executor type %q", executor)
			}

			if err := config.Save(cfg, path); err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&executor, "executor", "claude", "executor type: claude or command")
	return cmd
}
