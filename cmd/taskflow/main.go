package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/aristath/taskflow/internal/orchestrator"
)

// Exit codes by halt outcome.
const (
	exitDone      = 0
	exitFatal     = 1
	exitDeadlock  = 2
	exitFailed    = 3
	exitCancelled = 130
)

func main() {
	// Create signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the CLI and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err != nil {
		var halt *orchestrator.HaltError
		if !errors.As(err, &halt) {
			// Halts were already reported by the summary
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
	}
	return exitCode(err)
}

func exitCode(err error) int {
	if err == nil {
		return exitDone
	}
	var halt *orchestrator.HaltError
	if !errors.As(err, &halt) {
		return exitFatal
	}
	switch halt.Kind {
	case orchestrator.OutcomeDeadlock:
		return exitDeadlock
	case orchestrator.OutcomeFailed:
		return exitFailed
	case orchestrator.OutcomeCancelled:
		return exitCancelled
	default:
		return exitFatal
	}
}
