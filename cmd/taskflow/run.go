package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aristath/taskflow/internal/backend"
	"github.com/aristath/taskflow/internal/config"
	"github.com/aristath/taskflow/internal/events"
	"github.com/aristath/taskflow/internal/orchestrator"
	"github.com/aristath/taskflow/internal/persistence"
	"github.com/aristath/taskflow/internal/scheduler"
)

func (c *cli) newRunCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "run <tasks.json>",
		Short: "Start a new run from a task graph file",
		Long:  "Write the task graph in the given file to the store and run it until it halts.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := persistence.LoadTasks(args[0])
			if err != nil {
				return err
			}
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			store, err := c.openStore(cfg)
			if err != nil {
				return err
			}
			if store.Exists() && !force {
				return fmt.Errorf("store %s already exists; use resume to continue it or --force to replace it", store.Path())
			}

			return c.orchestrate(cmd.Context(), cfg, store, func(ctx context.Context, o *orchestrator.Orchestrator) (*orchestrator.Result, error) {
				return o.Start(ctx, tasks)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing store")
	return cmd
}

func (c *cli) newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Continue the run held in the store",
		Long:  "Reset interrupted tasks to pending and continue scheduling the graph already in the store.",
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
			return c.orchestrate(cmd.Context(), cfg, store, func(ctx context.Context, o *orchestrator.Orchestrator) (*orchestrator.Result, error) {
				return o.Resume(ctx)
			})
		},
	}
}

type runFunc func(ctx context.Context, o *orchestrator.Orchestrator) (*orchestrator.Result, error)

// orchestrate wires the executor, journal, metrics and event output around
// one orchestrator run and renders its summary.
func (c *cli) orchestrate(ctx context.Context, cfg *config.Config, store persistence.TaskStore, run runFunc) error {
	pm := backend.NewProcessManager()

	exec, err := backend.New(executorConfig(cfg), pm)
	if err != nil {
		return err
	}

	var journal *persistence.Journal
	if cfg.JournalEnabled() {
		journal, err = persistence.OpenJournal(ctx, cfg.Store.JournalPath)
		if err != nil {
			c.logger.Printf("WARNING: journal disabled: %v", err)
		} else {
			defer journal.Close()
		}
	}

	reg := prometheus.NewRegistry()
	metrics := orchestrator.MustNewMetrics(reg)
	if addr := cfg.Orchestrator.MetricsAddr; addr != "" {
		shutdown := c.serveMetrics(addr, reg)
		defer shutdown()
	}

	bus := events.NewEventBus()
	defer bus.Close()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		c.printEvents(bus.SubscribeAll(256))
	}()

	o, err := orchestrator.New(orchestrator.Config{
		Store:       store,
		Executor:    exec,
		Journal:     journal,
		Bus:         bus,
		Metrics:     metrics,
		Breakers:    orchestrator.NewCircuitBreakerRegistry(orchestrator.DefaultBreakerConfig(), c.logger),
		GracePeriod: cfg.Orchestrator.GracePeriod.Std(),
		Logger:      c.logger,
	})
	if err != nil {
		return err
	}

	res, runErr := run(ctx, o)

	// Kill any worker that outlived the grace period
	if pm.Count() > 0 {
		c.logger.Printf("Killing %d remaining worker processes", pm.Count())
		if err := pm.KillAll(); err != nil {
			c.logger.Printf("Error killing worker processes: %v", err)
		}
	}

	bus.Close()
	<-printed
	if n := bus.Dropped(); n > 0 {
		c.logger.Printf("WARNING: %d events were not printed", n)
	}

	if res == nil {
		return runErr
	}
	fmt.Fprint(c.stdout, renderSummary(res))
	return runErr
}

func (c *cli) serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		c.logger.Printf("Serving metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Printf("WARNING: metrics server stopped: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

// printEvents writes one styled line per task event until sub closes.
func (c *cli) printEvents(sub <-chan events.Event) {
	for e := range sub {
		if line := renderEvent(e); line != "" {
			fmt.Fprintln(c.stdout, line)
		}
	}
}

func renderEvent(e events.Event) string {
	switch ev := e.(type) {
	case events.TaskDispatchedEvent:
		return fmt.Sprintf("%s %s (attempt %d/%d)", styleRunning.Render("▶ dispatched"), ev.ID, ev.Attempt, scheduler.MaxAttempts)
	case events.TaskCompletedEvent:
		return fmt.Sprintf("%s %s in %s", styleCompleted.Render("✓ completed"), ev.ID, ev.Duration.Round(time.Millisecond))
	case events.TaskRetryingEvent:
		return fmt.Sprintf("%s %s after attempt %d/%d: %s", styleRetrying.Render("↻ retrying"), ev.ID, ev.Attempt, ev.MaxAttempts, ev.Reason)
	case events.TaskFailedEvent:
		return fmt.Sprintf("%s %s after %d attempts: %s", styleError.Render("✗ failed"), ev.ID, ev.Attempt, ev.Reason)
	case events.TasksInsertedEvent:
		return fmt.Sprintf("%s %d tasks", styleMuted.Render("+ added"), len(ev.IDs))
	default:
		return ""
	}
}
