package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/taskflow/internal/backend"
	"github.com/aristath/taskflow/internal/persistence"
	"github.com/aristath/taskflow/internal/scheduler"
)

func (c *cli) newReportCmd() *cobra.Command {
	var (
		taskID string
		status string
		insert string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Record the outcome of the caller's own task",
		Long: "Used by workers: set the assigned task to completed or error and optionally add new tasks.\n" +
			"--insert takes a JSON array of tasks, or @file to read it from a file.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID == "" {
				taskID = os.Getenv(backend.EnvTaskID)
			}
			if taskID == "" {
				return fmt.Errorf("--task is required (or set %s)", backend.EnvTaskID)
			}

			added, err := parseInsert(insert)
			if err != nil {
				return err
			}
			if status == "" && len(added) == 0 {
				return fmt.Errorf("nothing to report: pass --status and/or --insert")
			}

			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			store, err := c.openStore(cfg)
			if err != nil {
				return err
			}

			err = persistence.SubmitReport(cmd.Context(), store, persistence.Report{
				TaskID: taskID,
				Status: scheduler.Status(status),
				Insert: added,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "Reported %s", taskID)
			if status != "" {
				fmt.Fprintf(c.stdout, " %s", status)
			}
			if len(added) > 0 {
				fmt.Fprintf(c.stdout, ", added %d tasks", len(added))
			}
			fmt.Fprintln(c.stdout)
			return nil
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "assigned task id (default: $"+backend.EnvTaskID+")")
	cmd.Flags().StringVar(&status, "status", "", "completed or error")
	cmd.Flags().StringVar(&insert, "insert", "", "JSON array of tasks to add, or @file")
	return cmd
}

// parseInsert decodes the --insert value.
func parseInsert(value string) ([]scheduler.Task, error) {
	if value == "" {
		return nil, nil
	}
	data := []byte(value)
	if path, ok := strings.CutPrefix(value, "@"); ok {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading insert file: %w", err)
		}
	}

	var tasks []scheduler.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("parsing --insert: %w", err)
	}
	return tasks, nil
}
