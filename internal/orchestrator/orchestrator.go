package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskflow/internal/backend"
	"github.com/aristath/taskflow/internal/events"
	"github.com/aristath/taskflow/internal/persistence"
	"github.com/aristath/taskflow/internal/scheduler"
)

// DefaultGracePeriod bounds how long a cancelled run waits for in-flight
// dispatches to stop.
const DefaultGracePeriod = 5 * time.Second

// Config configures an Orchestrator.
type Config struct {
	Store       persistence.TaskStore   // Required
	Executor    backend.Executor        // Checked at start; nil halts as missing executor
	Journal     *persistence.Journal    // Optional dispatch history
	Bus         *events.EventBus        // Optional event sink
	Metrics     *Metrics                // Optional Prometheus collectors
	Breakers    *CircuitBreakerRegistry // Optional; nil disables the breaker
	GracePeriod time.Duration           // Default 5s
	Logger      *log.Logger             // Default log.Default()
}

// Orchestrator schedules a task graph held in a TaskStore. One run may be
// active at a time.
type Orchestrator struct {
	cfg    Config
	logger *log.Logger

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	inflight []DispatchRecord // Snapshot for observers
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("orchestrator requires a task store")
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{cfg: cfg, logger: logger}, nil
}

// Start writes initial as a fresh graph and runs it to a halt. Tasks given as
// in_progress are treated as interrupted and start pending.
func (o *Orchestrator) Start(ctx context.Context, initial []scheduler.Task) (*Result, error) {
	ctx, release, err := o.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	r := o.newRun(ctx)
	if res := r.preflight(); res != nil {
		return r.finish(res)
	}

	tasks := scheduler.Normalize(initial)
	if err := scheduler.Validate(tasks); err != nil {
		return r.finish(r.fatal(ReasonInvalidGraph, err))
	}
	tasks, _ = scheduler.ResetInterrupted(tasks)
	tasks, _ = r.ledger.merge(tasks)

	if err := o.cfg.Store.Write(ctx, tasks); err != nil {
		return r.finish(r.storeFailure(ctx, err))
	}
	r.last = tasks
	r.observe(tasks)
	r.progress(tasks)
	o.logger.Printf("Starting run with %d tasks (store %s)", len(tasks), o.cfg.Store.Path())

	return r.finish(r.loop(ctx))
}

// Resume continues the graph already in the store. Every in_progress task
// is reset to pending with its attempt count kept, since no worker from the
// interrupted run is still reporting.
func (o *Orchestrator) Resume(ctx context.Context) (*Result, error) {
	ctx, release, err := o.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	r := o.newRun(ctx)
	if res := r.preflight(); res != nil {
		return r.finish(res)
	}

	var reset, exhausted []string
	err = o.cfg.Store.Update(ctx, func(tasks []scheduler.Task) ([]scheduler.Task, error) {
		tasks, reset = scheduler.ResetInterrupted(tasks)
		tasks, exhausted = scheduler.FailExhausted(tasks)
		tasks, _ = r.ledger.merge(tasks)
		r.last = tasks
		return tasks, nil
	})
	if err != nil {
		return r.finish(r.storeFailure(ctx, err))
	}
	if len(reset) > 0 {
		o.logger.Printf("Resuming: reset %d interrupted tasks to pending: %s", len(reset), strings.Join(reset, ", "))
	}
	if len(exhausted) > 0 {
		o.logger.Printf("WARNING: tasks out of attempts after interruption marked error: %s", strings.Join(exhausted, ", "))
	}
	r.observe(r.last)
	r.progress(r.last)

	return r.finish(r.loop(ctx))
}

// Cancel stops the active run. In-flight dispatches are cancelled and given
// the grace period to return. Cancel is a no-op when nothing is running.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
}

// InFlight returns the dispatches currently awaiting a result.
func (o *Orchestrator) InFlight() []DispatchRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]DispatchRecord(nil), o.inflight...)
}

func (o *Orchestrator) begin(parent context.Context) (context.Context, func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return nil, nil, ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(parent)
	o.running = true
	o.cancel = cancel

	release := func() {
		cancel()
		o.mu.Lock()
		o.running = false
		o.cancel = nil
		o.inflight = nil
		o.mu.Unlock()
	}
	return ctx, release, nil
}

func (o *Orchestrator) setInFlight(records []DispatchRecord) {
	o.mu.Lock()
	o.inflight = records
	o.mu.Unlock()
}

// run is the state of one Start or Resume call. Everything except the
// dispatch goroutines runs on the loop goroutine.
type run struct {
	o          *Orchestrator
	logger     *log.Logger
	store      persistence.TaskStore
	dispatcher *Dispatcher
	ledger     *ledger

	id      string
	started time.Time
	last    []scheduler.Task

	results  chan dispatchResult
	halted   chan struct{}
	haltOnce sync.Once
	group    errgroup.Group

	warned map[scheduler.Dependency]struct{}
	known  map[string]struct{}

	dispatches int
	retries    int
	failures   int
}

func (o *Orchestrator) newRun(ctx context.Context) *run {
	r := &run{
		o:       o,
		logger:  o.logger,
		store:   o.cfg.Store,
		ledger:  newLedger(),
		started: time.Now(),
		results: make(chan dispatchResult),
		halted:  make(chan struct{}),
		warned:  make(map[scheduler.Dependency]struct{}),
	}
	if o.cfg.Executor != nil {
		r.dispatcher = NewDispatcher(o.cfg.Executor, o.cfg.Breakers)
	}
	if o.cfg.Journal != nil {
		id, err := o.cfg.Journal.StartRun(ctx, o.cfg.Store.Path())
		if err != nil {
			r.logger.Printf("WARNING: journal unavailable, run history will not be recorded: %v", err)
		} else {
			r.id = id
		}
	}
	return r
}

// preflight checks the executor bridge before anything is written.
func (r *run) preflight() *Result {
	exec := r.o.cfg.Executor
	if exec == nil {
		return r.fatal(ReasonMissingExecutor, fmt.Errorf("%w: no executor configured", backend.ErrMissingExecutor))
	}
	if err := exec.Available(); err != nil {
		if !errors.Is(err, backend.ErrMissingExecutor) {
			err = fmt.Errorf("%w: %v", backend.ErrMissingExecutor, err)
		}
		return r.fatal(ReasonMissingExecutor, err)
	}
	return nil
}

// loop is the scheduling state machine:
// Scheduling -> Dispatching -> AwaitingAny -> Reconciling -> Scheduling,
// until a halt.
func (r *run) loop(ctx context.Context) *Result {
	dctx, dcancel := context.WithCancel(ctx)
	defer dcancel()

	for {
		// Scheduling
		if ctx.Err() != nil {
			return r.cancelled(dcancel)
		}

		tasks, res := r.schedule(ctx)
		if res != nil {
			return r.abort(ctx, dcancel, res)
		}

		if scheduler.AllCompleted(tasks) && len(r.ledger.inflight) == 0 {
			return r.done()
		}

		ready := scheduler.ReadyTasks(r.ledger.view(tasks))
		if len(ready) > 0 {
			// Dispatching
			if res := r.dispatch(ctx, dctx, ready); res != nil {
				return r.abort(ctx, dcancel, res)
			}
			if len(r.ledger.inflight) == 0 {
				// Every ready task left the store before it could start
				continue
			}
		} else if len(r.ledger.inflight) == 0 {
			return r.stuck(tasks)
		}

		// AwaitingAny
		select {
		case <-ctx.Done():
			return r.cancelled(dcancel)
		case result := <-r.results:
			// Reconciling
			if res := r.reconcile(ctx, result); res != nil {
				return r.abort(ctx, dcancel, res)
			}
		}
	}
}

// schedule reads the store and merges the ledger, writing back any repairs.
func (r *run) schedule(ctx context.Context) ([]scheduler.Task, *Result) {
	tasks, err := r.store.Read(ctx)
	if err != nil {
		return nil, r.storeFailure(ctx, err)
	}

	merged, rep := r.ledger.merge(tasks)
	if rep.changed() {
		r.logRepair(rep)
		merged, err = r.commit(ctx, nil)
		if err != nil {
			return nil, r.storeFailure(ctx, err)
		}
	}

	r.observe(merged)
	r.last = merged
	return merged, nil
}

// dispatch marks every ready task in_progress in one write, then starts one
// worker per task.
func (r *run) dispatch(ctx, dctx context.Context, ready []scheduler.Task) *Result {
	now := time.Now()
	var assigned []string
	for _, t := range ready {
		if _, busy := r.ledger.inflight[t.ID]; busy {
			continue
		}
		next := scheduler.MarkInProgress(t)
		r.ledger.assign(next, DispatchRecord{TaskID: t.ID, Attempt: next.Attempt, StartedAt: now})
		assigned = append(assigned, t.ID)
	}

	tasks, err := r.commit(ctx, nil)
	if err != nil {
		// Nothing was started for these
		for _, id := range assigned {
			r.ledger.forget(id)
		}
		return r.storeFailure(ctx, err)
	}
	r.ledger.markCommitted()

	idx := scheduler.Index(tasks)
	type assignment struct {
		rec DispatchRecord
		req backend.Request
	}
	var batch []assignment
	for _, t := range ready {
		rec := r.ledger.inflight[t.ID]
		i, ok := idx[t.ID]
		if !ok {
			r.ledger.forget(t.ID)
			r.logger.Printf("WARNING: task %s disappeared before dispatch", t.ID)
			continue
		}
		batch = append(batch, assignment{rec: rec, req: BuildRequest(tasks[i], tasks, r.store.Path())})
	}
	r.publishInFlight()

	executor := r.o.cfg.Executor.Name()
	for _, a := range batch {
		rec, req := a.rec, a.req

		r.dispatches++
		r.o.cfg.Metrics.ObserveDispatch(executor)
		r.publish(events.TopicTask, events.TaskDispatchedEvent{ID: rec.TaskID, Attempt: rec.Attempt, Timestamp: rec.StartedAt})
		r.logger.Printf("Dispatching %s (attempt %d/%d)", rec.TaskID, rec.Attempt, scheduler.MaxAttempts)

		r.group.Go(func() error {
			resp, transport, err := r.dispatcher.dispatch(dctx, req)
			result := dispatchResult{
				record:      rec,
				response:    resp,
				transport:   transport,
				interrupted: err,
				finishedAt:  time.Now(),
			}
			select {
			case r.results <- result:
			case <-r.halted:
			}
			return nil
		})
	}
	return nil
}

// reconcile folds one resolved dispatch into a fresh read of the store.
func (r *run) reconcile(ctx context.Context, res dispatchResult) *Result {
	rec := res.record
	r.ledger.release(rec.TaskID)
	r.publishInFlight()

	if res.interrupted != nil {
		// Only happens when dispatches are being cancelled
		r.ledger.forget(rec.TaskID)
		r.o.cfg.Metrics.ObserveResolved("interrupted", res.duration())
		return nil
	}

	var (
		outcome scheduler.Task
		failure string
		found   bool
	)
	_, err := r.commit(ctx, func(fresh []scheduler.Task) {
		current, ok := scheduler.Find(fresh, rec.TaskID)
		if !ok {
			return
		}
		found = true
		outcome, failure = resolve(current, rec, res)
		r.ledger.decide(outcome)
	})
	if err != nil {
		return r.storeFailure(ctx, err)
	}

	if !found {
		r.ledger.forget(rec.TaskID)
		r.logger.Printf("WARNING: task %s resolved but is no longer in the store", rec.TaskID)
		r.o.cfg.Metrics.ObserveResolved("interrupted", res.duration())
		return nil
	}

	r.recordAttempt(ctx, res, failure)
	r.announce(outcome, failure, res)
	return nil
}

func (r *run) announce(t scheduler.Task, failure string, res dispatchResult) {
	d := res.duration()
	now := time.Now()
	reason := res.response.ErrorMessage
	if failure == "self_reported" && reason == "" {
		reason = "worker reported error"
	}

	if failure != "" {
		r.failures++
		r.o.cfg.Metrics.IncFailure(failure)
	}

	switch t.Status {
	case scheduler.StatusCompleted:
		r.o.cfg.Metrics.ObserveResolved("completed", d)
		r.publish(events.TopicTask, events.TaskCompletedEvent{ID: t.ID, Attempt: t.Attempt, Duration: d, Timestamp: now})
		r.logger.Printf("Task %s completed (attempt %d, %s)", t.ID, t.Attempt, d.Round(time.Millisecond))
	case scheduler.StatusPending:
		r.retries++
		r.o.cfg.Metrics.ObserveResolved("retrying", d)
		r.publish(events.TopicTask, events.TaskRetryingEvent{
			ID: t.ID, Attempt: t.Attempt, MaxAttempts: scheduler.MaxAttempts, Reason: reason, Duration: d, Timestamp: now,
		})
		r.logger.Printf("WARNING: task %s failed attempt %d/%d, retrying: %s", t.ID, t.Attempt, scheduler.MaxAttempts, reason)
	case scheduler.StatusError:
		r.o.cfg.Metrics.ObserveResolved("failed", d)
		r.publish(events.TopicTask, events.TaskFailedEvent{ID: t.ID, Attempt: t.Attempt, Reason: reason, Duration: d, Timestamp: now})
		r.logger.Printf("ERROR: task %s failed after %d attempts: %s", t.ID, t.Attempt, reason)
	}
}

func (r *run) recordAttempt(ctx context.Context, res dispatchResult, failure string) {
	journal := r.o.cfg.Journal
	if journal == nil || r.id == "" {
		return
	}
	errMsg := res.response.ErrorMessage
	if failure == "self_reported" && errMsg == "" {
		errMsg = "worker reported error"
	}
	err := journal.Record(ctx, persistence.Attempt{
		RunID:     r.id,
		TaskID:    res.record.TaskID,
		Attempt:   res.record.Attempt,
		StartedAt: res.record.StartedAt,
		Duration:  res.duration(),
		Success:   failure == "",
		Error:     errMsg,
	})
	if err != nil {
		r.logger.Printf("WARNING: failed to journal attempt for %s: %v", res.record.TaskID, err)
	}
}

// commit writes the ledger onto a fresh read of the store. before, if set,
// sees the fresh graph first so decisions can be made against it.
func (r *run) commit(ctx context.Context, before func(fresh []scheduler.Task)) ([]scheduler.Task, error) {
	var written []scheduler.Task
	err := r.store.Update(ctx, func(fresh []scheduler.Task) ([]scheduler.Task, error) {
		if before != nil {
			before(fresh)
		}
		merged, _ := r.ledger.merge(fresh)
		written = merged
		return merged, nil
	})
	if err != nil {
		return nil, err
	}
	r.last = written
	r.progress(written)
	return written, nil
}

// observe logs unknown dependency references once per pair and announces
// tasks that workers inserted since the last read.
func (r *run) observe(tasks []scheduler.Task) {
	for _, dep := range scheduler.UnknownDependencies(tasks) {
		if _, seen := r.warned[dep]; seen {
			continue
		}
		r.warned[dep] = struct{}{}
		r.logger.Printf("WARNING: task %s is blocked by unknown task %s; treating as satisfied", dep.TaskID, dep.DependsOn)
	}

	if r.known == nil {
		r.known = make(map[string]struct{}, len(tasks))
		for _, t := range tasks {
			r.known[t.ID] = struct{}{}
		}
		return
	}
	var added []string
	for _, t := range tasks {
		if _, ok := r.known[t.ID]; !ok {
			r.known[t.ID] = struct{}{}
			added = append(added, t.ID)
		}
	}
	if len(added) > 0 {
		r.logger.Printf("Workers added %d tasks: %s", len(added), strings.Join(added, ", "))
		r.publish(events.TopicGraph, events.TasksInsertedEvent{IDs: added, Timestamp: time.Now()})
	}
}

func (r *run) logRepair(rep repair) {
	if len(rep.restored) > 0 {
		r.logger.Printf("WARNING: restored in_progress for in-flight tasks overwritten by a stale write: %s", strings.Join(rep.restored, ", "))
	}
	if len(rep.reapplied) > 0 {
		r.logger.Printf("WARNING: re-applied orchestrator status for tasks overwritten by a stale write: %s", strings.Join(rep.reapplied, ", "))
	}
	if len(rep.orphaned) > 0 {
		r.logger.Printf("WARNING: tasks marked in_progress without a worker returned to pending: %s", strings.Join(rep.orphaned, ", "))
	}
	if len(rep.exhausted) > 0 {
		r.logger.Printf("WARNING: pending tasks with no attempts left marked error: %s", strings.Join(rep.exhausted, ", "))
	}
}

func (r *run) progress(tasks []scheduler.Task) {
	c := scheduler.Counts(tasks)
	r.publish(events.TopicGraph, events.GraphProgressEvent{
		Total:      len(tasks),
		Completed:  c[scheduler.StatusCompleted],
		InProgress: c[scheduler.StatusInProgress],
		Pending:    c[scheduler.StatusPending],
		Failed:     c[scheduler.StatusError],
		Timestamp:  time.Now(),
	})
}

func (r *run) publish(topic string, e events.Event) {
	if bus := r.o.cfg.Bus; bus != nil {
		bus.Publish(topic, e)
	}
}

func (r *run) publishInFlight() {
	records := make([]DispatchRecord, 0, len(r.ledger.inflight))
	for _, rec := range r.ledger.inflight {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].TaskID < records[j].TaskID })
	r.o.setInFlight(records)
}

// Halting

func (r *run) done() *Result {
	return &Result{Outcome: OutcomeDone}
}

// stuck is reached with nothing ready and nothing in flight.
func (r *run) stuck(tasks []scheduler.Task) *Result {
	if d := scheduler.Detect(tasks); d.Deadlocked {
		ids := d.BlockedIDs()
		return r.halt(OutcomeDeadlock, string(d.Reason), ids, d.Err())
	}

	// No pending work left, and not everything completed: only errors remain
	failed := scheduler.Failed(tasks)
	return r.halt(OutcomeFailed, ReasonMaxRetries, failed,
		fmt.Errorf("%w: %s", scheduler.ErrMaxRetriesExceeded, strings.Join(failed, ", ")))
}

func (r *run) fatal(reason string, err error) *Result {
	return r.halt(OutcomeFatal, reason, nil, err)
}

func (r *run) storeFailure(ctx context.Context, err error) *Result {
	if ctx.Err() != nil {
		return r.halt(OutcomeCancelled, "", nil, ErrCancelled)
	}
	switch {
	case errors.Is(err, persistence.ErrStoreCorruption):
		return r.fatal(ReasonStoreCorruption, err)
	case errors.Is(err, persistence.ErrStoreNotFound):
		return r.fatal(ReasonStoreNotFound, err)
	default:
		return r.fatal(ReasonStoreWrite, err)
	}
}

func (r *run) halt(kind Outcome, reason string, ids []string, err error) *Result {
	return &Result{
		Outcome: kind,
		Reason:  reason,
		TaskIDs: ids,
		Err:     &HaltError{Kind: kind, Reason: reason, TaskIDs: ids, Err: err},
	}
}

// abort stops in-flight dispatches after a halt decided mid-run.
func (r *run) abort(ctx context.Context, dcancel context.CancelFunc, res *Result) *Result {
	if res.Outcome == OutcomeCancelled {
		return r.cancelled(dcancel)
	}
	dcancel()
	r.drain()
	r.abandon()
	return res
}

// cancelled stops every dispatch, reconciles what returns within the grace
// period and hands unfinished tasks back to the store's own state.
func (r *run) cancelled(dcancel context.CancelFunc) *Result {
	dcancel()
	returned := r.drain()

	cleanup, cancel := context.WithTimeout(context.Background(), r.o.cfg.GracePeriod)
	defer cancel()

	for _, res := range returned {
		if res.interrupted == nil {
			r.reconcile(cleanup, res)
		}
	}
	r.abandon()

	// Unowned in_progress tasks go back to pending on this final write
	if _, err := r.commit(cleanup, nil); err != nil {
		r.logger.Printf("WARNING: failed to release interrupted tasks: %v", err)
	}
	return r.halt(OutcomeCancelled, "", nil, ErrCancelled)
}

// drain waits up to the grace period for dispatch goroutines to return and
// collects their results. Stragglers are abandoned.
func (r *run) drain() []dispatchResult {
	defer r.stop()

	finished := make(chan struct{})
	go func() {
		r.group.Wait()
		close(finished)
	}()

	timer := time.NewTimer(r.o.cfg.GracePeriod)
	defer timer.Stop()

	var returned []dispatchResult
	for {
		select {
		case res := <-r.results:
			returned = append(returned, res)
		case <-finished:
			return returned
		case <-timer.C:
			if n := len(r.ledger.inflight) - len(returned); n > 0 {
				r.logger.Printf("WARNING: abandoning %d dispatches still running after %s", n, r.o.cfg.GracePeriod)
			}
			return returned
		}
	}
}

// abandon drops every dispatch the ledger still holds after a halt. Their
// tasks keep whatever status the store has.
func (r *run) abandon() {
	for id, rec := range r.ledger.inflight {
		r.ledger.forget(id)
		r.o.cfg.Metrics.ObserveResolved("interrupted", time.Since(rec.StartedAt))
	}
	r.publishInFlight()
}

// stop releases any dispatch goroutine still waiting to hand in a result.
func (r *run) stop() {
	r.haltOnce.Do(func() { close(r.halted) })
}

// finish records the halt once and builds the summary.
func (r *run) finish(res *Result) (*Result, error) {
	r.stop()

	res.RunID = r.id
	res.Summary = r.summary()

	if journal := r.o.cfg.Journal; journal != nil && r.id != "" {
		reason := res.Reason
		if res.Err != nil {
			reason = res.Err.Error()
		}
		// The run context may already be cancelled
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := journal.FinishRun(ctx, r.id, string(res.Outcome), reason); err != nil {
			r.logger.Printf("WARNING: failed to journal run outcome: %v", err)
		}
		cancel()
	}

	r.o.cfg.Metrics.IncHalt(res.Outcome)
	r.publish(events.TopicRun, events.RunHaltedEvent{
		Outcome:   string(res.Outcome),
		Reason:    res.Reason,
		TaskIDs:   res.TaskIDs,
		Timestamp: time.Now(),
	})

	if res.Err != nil {
		r.logger.Printf("Run halted: %v", res.Err)
		return res, res.Err
	}
	r.logger.Printf("Run done: %d tasks completed in %s", res.Summary.Completed, res.Summary.Elapsed.Round(time.Millisecond))
	return res, nil
}
