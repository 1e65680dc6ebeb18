package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/aristath/taskflow/internal/backend"
	"github.com/aristath/taskflow/internal/scheduler"
)

// DispatchRecord tracks a task currently assigned to a running worker. It
// lives only in memory.
type DispatchRecord struct {
	TaskID    string
	Attempt   int
	StartedAt time.Time
}

// dispatchResult is what a dispatch goroutine hands back to the loop.
type dispatchResult struct {
	record      DispatchRecord
	response    backend.Response
	transport   bool  // Failure came from the executor, not the task
	interrupted error // Non-nil when the dispatch was cancelled before resolving
	finishedAt  time.Time
}

func (r dispatchResult) duration() time.Duration {
	return r.finishedAt.Sub(r.record.StartedAt)
}

// BuildRequest builds the executor payload for t: its content, the IDs of
// its already-completed dependencies and the self-report instructions.
func BuildRequest(t scheduler.Task, tasks []scheduler.Task, storePath string) backend.Request {
	return backend.Request{
		TaskID:                     t.ID,
		Content:                    t.Content,
		CompletedDependencyContext: scheduler.CompletedDependencies(t, tasks),
		Attempt:                    t.Attempt,
		StorePath:                  storePath,
		Instructions:               ReportInstructions(storePath, t.ID),
	}
}

// ReportInstructions tells an executor how to record its own task's terminal
// status in the store before it returns.
func ReportInstructions(storePath, taskID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Before you finish, record the outcome of task %q in the task store at %s.\n", taskID, storePath)
	fmt.Fprintf(&b, "On success run: taskflow report --store %s --task %s --status completed\n", storePath, taskID)
	fmt.Fprintf(&b, "On failure run: taskflow report --store %s --task %s --status error\n", storePath, taskID)
	b.WriteString("To add follow-up work, pass --insert with a JSON array of tasks ")
	b.WriteString(`({"id", "content", "blockedBy"}); every blockedBy id must already exist or be in the same array. `)
	b.WriteString("Only change your own task; never edit any other task's status or blockedBy.")
	return b.String()
}

// Dispatcher bridges a task assignment to the executor. It never touches the
// task store.
type Dispatcher struct {
	executor backend.Executor
	breaker  *gobreaker.CircuitBreaker
	wait     BreakerConfig
}

// NewDispatcher creates a dispatcher. breakers may be nil to disable the
// circuit breaker.
func NewDispatcher(executor backend.Executor, breakers *CircuitBreakerRegistry) *Dispatcher {
	d := &Dispatcher{executor: executor}
	if breakers != nil {
		d.breaker = breakers.Get(executor.Name())
		d.wait = breakers.cfg
	}
	return d
}

// Dispatch runs req and returns a normalized response. Executor errors become
// an unsuccessful response. While the circuit is open the request is held
// until the breaker lets it through, so a rejection never costs an attempt.
// The error is non-nil only when ctx ended first, in which case the attempt
// was interrupted and has no outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, req backend.Request) (backend.Response, error) {
	resp, _, err := d.dispatch(ctx, req)
	return resp, err
}

// dispatch is Dispatch that also reports whether a failure came from the
// executor transport rather than from the task.
func (d *Dispatcher) dispatch(ctx context.Context, req backend.Request) (backend.Response, bool, error) {
	resp, err := d.execute(ctx, req)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return backend.Response{}, false, ctxErr
	}
	if err != nil {
		return backend.Response{Success: false, ErrorMessage: fmt.Sprintf("executor error: %v", err)}, true, nil
	}
	if !resp.Success && resp.ErrorMessage == "" {
		resp.ErrorMessage = "executor reported failure"
	}
	return resp, false, nil
}

func (d *Dispatcher) execute(ctx context.Context, req backend.Request) (backend.Response, error) {
	if d.breaker == nil {
		return d.executor.Execute(ctx, req)
	}

	var resp backend.Response
	operation := func() error {
		result, err := d.breaker.Execute(func() (interface{}, error) {
			return d.executor.Execute(ctx, req)
		})
		if err != nil {
			if isBreakerRejection(err) {
				// Retry once the circuit half-opens
				return err
			}
			return backoff.Permanent(err)
		}
		resp = result.(backend.Response)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.wait.RejectedWait
	policy.MaxInterval = d.wait.RejectedMaxWait
	policy.MaxElapsedTime = 0 // Held until the breaker admits it or ctx ends

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return backend.Response{}, err
	}
	return resp, nil
}
