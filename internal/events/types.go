package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask  = "task"
	TopicGraph = "graph"
	TopicRun   = "run"
)

// Event type constants
const (
	EventTypeTaskDispatched = "task.dispatched"
	EventTypeTaskCompleted  = "task.completed"
	EventTypeTaskRetrying   = "task.retrying"
	EventTypeTaskFailed     = "task.failed"
	EventTypeTasksInserted  = "graph.inserted"
	EventTypeGraphProgress  = "graph.progress"
	EventTypeRunHalted      = "run.halted"
)

// TaskDispatchedEvent is published when a worker is started for a task.
type TaskDispatchedEvent struct {
	ID        string
	Attempt   int
	Timestamp time.Time
}

func (e TaskDispatchedEvent) EventType() string { return EventTypeTaskDispatched }
func (e TaskDispatchedEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a task reaches completed.
type TaskCompletedEvent struct {
	ID        string
	Attempt   int
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }

// TaskRetryingEvent is published when a failed attempt returns a task to pending.
type TaskRetryingEvent struct {
	ID          string
	Attempt     int // The attempt that failed
	MaxAttempts int
	Reason      string
	Duration    time.Duration
	Timestamp   time.Time
}

func (e TaskRetryingEvent) EventType() string { return EventTypeTaskRetrying }
func (e TaskRetryingEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published when a task is permanently marked error.
type TaskFailedEvent struct {
	ID        string
	Attempt   int
	Reason    string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// TasksInsertedEvent is published when the orchestrator first sees tasks
// that a worker added to the graph.
type TasksInsertedEvent struct {
	IDs       []string
	Timestamp time.Time
}

func (e TasksInsertedEvent) EventType() string { return EventTypeTasksInserted }
func (e TasksInsertedEvent) TaskID() string    { return "" }

// GraphProgressEvent is published after every store write by the orchestrator.
type GraphProgressEvent struct {
	Total      int
	Completed  int
	InProgress int
	Pending    int
	Failed     int
	Timestamp  time.Time
}

func (e GraphProgressEvent) EventType() string { return EventTypeGraphProgress }
func (e GraphProgressEvent) TaskID() string    { return "" }

// RunHaltedEvent is published once when the orchestrator loop stops.
type RunHaltedEvent struct {
	Outcome   string
	Reason    string
	TaskIDs   []string
	Timestamp time.Time
}

func (e RunHaltedEvent) EventType() string { return EventTypeRunHalted }
func (e RunHaltedEvent) TaskID() string    { return "" }
