package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"dlbot/internal/task/queue"
	logx "dlbot/pkg/logx"
)

// Submitter is the part of the task queue the scheduler needs.
type Submitter interface {
	Submit(t queue.Task) (string, error)
}

type scheduleDef struct {
	name    string
	spec    string // cron spec or "@every <d>"
	timeout time.Duration
	job     func(ctx context.Context) error
	entryID cron.EntryID

	// busy is set while a trigger is queued or running; overlapping triggers are skipped.
	busy    *atomic.Bool
	skipped *atomic.Uint64
	fired   *atomic.Uint64
}

type Service struct {
	mu sync.Mutex

	log   logx.Logger
	queue Submitter
	loc   *time.Location

	c    *cron.Cron
	defs []scheduleDef

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
	Fired   uint64
	Skipped uint64
}

type Snapshot struct {
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
}
