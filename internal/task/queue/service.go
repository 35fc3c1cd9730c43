package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"dlbot/internal/eventbus"
	rtsup "dlbot/internal/runtime/supervisor"
	logx "dlbot/pkg/logx"
)

// Service runs submitted tasks on a fixed set of supervised workers.
// Pending tasks are kept in an unbounded FIFO; Submit never blocks.
type Service struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	mu      sync.Mutex
	pending []queuedTask
	running bool
	sup     *rtsup.Supervisor

	// wake has capacity 1; a worker that pops while more work remains re-signals it.
	wake chan struct{}

	inFlight atomic.Int32
	executed atomic.Uint64
	dropped  atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:  cfg,
		log:  log.With(logx.String("comp", "queue")),
		bus:  bus,
		wake: make(chan struct{}, 1),
	}
}

// Start launches the workers. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	workers := s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.worker(c)
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	s.signal()
	s.log.Info("task queue started", logx.Int("workers", workers))
}

// Stop cancels running tasks, waits for workers and discards whatever is
// still pending, calling each discarded task's OnDrop.
func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()

	sup.Cancel()
	err := sup.Wait(ctx)

	s.mu.Lock()
	left := s.pending
	s.pending = nil
	s.mu.Unlock()

	now := time.Now()
	for _, qt := range left {
		s.dropped.Add(1)
		s.publish(eventbus.TypeTaskDropped, now, TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Error: "queue_stopped"})
		s.runDrop(ctx, qt.task)
	}
	if len(left) > 0 {
		s.log.Warn("pending tasks discarded on stop", logx.Int("count", len(left)))
	}
	if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		s.log.Warn("task queue stop timed out", logx.Err(err))
		return err
	}
	s.log.Info("task queue stopped", logx.Uint64("executed", s.executed.Load()))
	return nil
}

// Submit appends t to the queue and returns its ID. The caller never waits
// for t to run.
func (s *Service) Submit(t Task) (string, error) {
	if t.Run == nil {
		return "", ErrNilTask
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		t.Name = "task"
	}
	if strings.TrimSpace(t.ID) == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return "", ErrStopped
	}
	s.pending = append(s.pending, queuedTask{task: t, enqueuedAt: now})
	depth := len(s.pending)
	s.mu.Unlock()

	s.signal()
	s.publish(eventbus.TypeTaskQueued, now, TaskEvent{ID: t.ID, Name: t.Name})
	s.log.Debug("task queued", logx.String("task", t.Name), logx.String("id", t.ID), logx.Int("pending", depth))
	return t.ID, nil
}

func (s *Service) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pop removes the oldest pending task. more reports whether work remains.
func (s *Service) pop() (qt queuedTask, ok, more bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return queuedTask{}, false, false
	}
	qt = s.pending[0]
	s.pending[0] = queuedTask{}
	s.pending = s.pending[1:]
	return qt, true, len(s.pending) > 0
}

func (s *Service) worker(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		qt, ok, more := s.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			}
			continue
		}
		if more {
			s.signal()
		}
		s.execOne(ctx, qt)
	}
}

func (s *Service) execOne(ctx context.Context, qt queuedTask) {
	start := time.Now()
	queueDelay := max(start.Sub(qt.enqueuedAt), 0)
	ev := TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay}
	log := s.log.With(logx.String("task", qt.task.Name), logx.String("id", qt.task.ID))

	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	s.publish(eventbus.TypeTaskStarted, start, ev)
	log.Debug("task started", logx.Duration("queue_delay", queueDelay))

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				log.Error("task panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		err = qt.task.Run(ctx)
	}()

	s.executed.Add(1)
	ev.Duration = time.Since(start)
	item := HistoryItem{ID: ev.ID, Name: ev.Name, Started: start, QueueDelay: queueDelay, Duration: ev.Duration}
	if err != nil {
		item.Error = err.Error()
		ev.Error = item.Error
		log.Warn("task failed", logx.Err(err), logx.Duration("dur", ev.Duration))
	} else {
		log.Debug("task done", logx.Duration("dur", ev.Duration))
	}
	s.publish(eventbus.TypeTaskDone, time.Now(), ev)

	s.hmu.Lock()
	s.history = append(s.history, item)
	if n := len(s.history) - s.cfg.HistorySize; n > 0 {
		s.history = append(s.history[:0], s.history[n:]...)
	}
	s.hmu.Unlock()
}

// runDrop calls t.OnDrop, if any. ctx is detached from cancellation so the
// hook can still report after the stop deadline has passed.
func (s *Service) runDrop(ctx context.Context, t Task) {
	if t.OnDrop == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("drop hook panicked", logx.String("task", t.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	t.OnDrop(context.WithoutCancel(ctx))
}

func (s *Service) publish(typ string, at time.Time, ev TaskEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: ev})
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	running := s.running
	pending := len(s.pending)
	s.mu.Unlock()

	s.hmu.Lock()
	h := make([]HistoryItem, len(s.history))
	copy(h, s.history)
	s.hmu.Unlock()

	return Snapshot{
		Running:  running,
		Workers:  s.cfg.Workers,
		Pending:  pending,
		InFlight: int(s.inFlight.Load()),
		Executed: s.executed.Load(),
		Dropped:  s.dropped.Load(),
		History:  h,
	}
}
