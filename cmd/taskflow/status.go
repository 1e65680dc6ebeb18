package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/aristath/taskflow/internal/config"
	"github.com/aristath/taskflow/internal/orchestrator"
	"github.com/aristath/taskflow/internal/persistence"
	"github.com/aristath/taskflow/internal/scheduler"
)

func (c *cli) newStatusCmd() *cobra.Command {
	var taskID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the task graph and run history",
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
			ctx := cmd.Context()

			tasks, err := store.Read(ctx)
			if err != nil {
				return err
			}
			fmt.Fprint(c.stdout, renderTasks(tasks))

			journal := openExistingJournal(ctx, cfg)
			if journal == nil {
				return nil
			}
			defer journal.Close()

			if taskID != "" {
				history, err := journal.TaskHistory(ctx, taskID)
				if err != nil {
					return err
				}
				fmt.Fprint(c.stdout, renderHistory(taskID, history))
				return nil
			}

			runs, err := journal.Runs(ctx, store.Path())
			if err != nil {
				return err
			}
			if len(runs) > 0 {
				fmt.Fprint(c.stdout, renderLastRun(runs[0]))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "show the dispatch history of one task")
	return cmd
}

// openExistingJournal opens the journal only if it was already created.
func openExistingJournal(ctx context.Context, cfg *config.Config) *persistence.Journal {
	if !cfg.JournalEnabled() {
		return nil
	}
	if _, err := os.Stat(cfg.Store.JournalPath); err != nil {
		return nil
	}
	journal, err := persistence.OpenJournal(ctx, cfg.Store.JournalPath)
	if err != nil {
		return nil
	}
	return journal
}

func renderTasks(tasks []scheduler.Task) string {
	var b strings.Builder
	s := orchestrator.Summarize(tasks)
	fmt.Fprintln(&b, styleTitle.Render(fmt.Sprintf("Tasks: %d/%d completed", s.Completed, s.Total)))

	width := 0
	for _, t := range tasks {
		width = max(width, len(t.ID))
	}
	for _, t := range tasks {
		line := fmt.Sprintf("  %-*s  %s  attempt %d/%d",
			width, t.ID, statusStyle(t.Status).Width(11).Render(string(t.Status)), t.Attempt, scheduler.MaxAttempts)
		if len(t.BlockedBy) > 0 {
			line += styleMuted.Render("  blocked by " + strings.Join(t.BlockedBy, ", "))
		}
		fmt.Fprintln(&b, line)
	}
	return b.String()
}

func renderSummary(res *orchestrator.Result) string {
	s := res.Summary

	var title string
	switch res.Outcome {
	case orchestrator.OutcomeDone:
		title = styleCompleted.Render("Run done")
	case orchestrator.OutcomeCancelled:
		title = styleRunning.Render("Run cancelled")
	default:
		title = styleError.Render("Run halted: " + string(res.Outcome))
	}

	lines := []string{
		title,
		fmt.Sprintf("%d tasks: %d completed, %d pending, %d in progress, %d error",
			s.Total, s.Completed, s.Pending, s.InProgress, s.Errored),
		fmt.Sprintf("%d dispatches, %d retries in %s", s.Dispatches, s.Retries, s.Elapsed.Round(time.Millisecond)),
	}
	if res.Reason != "" {
		lines = append(lines, "reason: "+res.Reason)
	}
	if len(res.TaskIDs) > 0 {
		lines = append(lines, "tasks: "+strings.Join(res.TaskIDs, ", "))
	}
	if len(s.ErroredTasks) > 0 {
		lines = append(lines, styleError.Render("max retries exceeded: ")+strings.Join(s.ErroredTasks, ", "))
	}
	if res.Err != nil {
		lines = append(lines, styleMuted.Render(res.Err.Error()))
	}
	if res.RunID != "" {
		lines = append(lines, styleMuted.Render("run "+res.RunID))
	}
	return styleBox.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)) + "\n"
}

func renderLastRun(run persistence.RunRecord) string {
	outcome := run.Outcome
	if outcome == "" {
		outcome = "running or interrupted"
	}
	line := fmt.Sprintf("Last run %s started %s: %s", run.ID, run.StartedAt.Format(time.DateTime), outcome)
	return styleMuted.Render(line) + "\n"
}

func renderHistory(taskID string, history []persistence.Attempt) string {
	var b strings.Builder
	fmt.Fprintln(&b, styleTitle.Render("History of "+taskID))
	if len(history) == 0 {
		fmt.Fprintln(&b, styleMuted.Render("  no recorded dispatches"))
		return b.String()
	}
	for _, a := range history {
		result := styleCompleted.Render("ok")
		if !a.Success {
			result = styleError.Render("failed")
		}
		line := fmt.Sprintf("  attempt %d  %s  %s  %s", a.Attempt, a.StartedAt.Format(time.DateTime), a.Duration.Round(time.Millisecond), result)
		if a.Error != "" {
			line += styleMuted.Render("  " + a.Error)
		}
		fmt.Fprintln(&b, line)
	}
	return b.String()
}
