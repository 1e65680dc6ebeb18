package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/taskflow/internal/orchestrator"
	"github.com/aristath/taskflow/internal/persistence"
	"github.com/aristath/taskflow/internal/scheduler"
)

func (c *cli) newWatchCmd() *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the graph every time the store changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			store, err := c.openStore(cfg)
			if err != nil {
				return err
			}

			snapshots, err := persistence.Watch(cmd.Context(), store, debounce, c.logger)
			if err != nil {
				return err
			}
			for tasks := range snapshots {
				fmt.Fprintln(c.stdout, renderProgress(tasks))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 100*time.Millisecond, "coalesce changes within this window")
	return cmd
}

func renderProgress(tasks []scheduler.Task) string {
	s := orchestrator.Summarize(tasks)
	return fmt.Sprintf("%s  %s  %s  %s  %s",
		styleMuted.Render(time.Now().Format(time.TimeOnly)),
		styleCompleted.Render(fmt.Sprintf("%d completed", s.Completed)),
		styleRunning.Render(fmt.Sprintf("%d in progress", s.InProgress)),
		stylePending.Render(fmt.Sprintf("%d pending", s.Pending)),
		styleError.Render(fmt.Sprintf("%d error", s.Errored)),
	)
}
