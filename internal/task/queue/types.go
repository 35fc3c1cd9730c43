package queue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrStopped = errors.New("task queue stopped")
	ErrNilTask = errors.New("task Run is nil")
)

// Config controls the task queue. There is no depth limit.
type Config struct {
	Workers     int
	HistorySize int
}

// Task is a single-shot unit of work. Exactly one of Run or OnDrop is invoked:
// Run by a worker, or OnDrop when Stop discards the task before it started.
type Task struct {
	ID     string
	Name   string
	Run    func(ctx context.Context) error
	OnDrop func(ctx context.Context)
}

type HistoryItem struct {
	ID         string
	Name       string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Error      string
}

// TaskEvent is the Data of task.* events on the event bus.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running  bool
	Workers  int
	Pending  int
	InFlight int
	Executed uint64
	Dropped  uint64
	History  []HistoryItem
}
