package scheduler

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"dlbot/internal/task/queue"
	logx "dlbot/pkg/logx"
)

// ErrOverlapSkip is reported when a trigger fires while the previous run is still pending.
var ErrOverlapSkip = errors.New("previous run still pending")

func New(q Submitter, loc *time.Location, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		log:         log.With(logx.String("comp", "scheduler")),
		queue:       q,
		loc:         loc,
		lastEnqWarn: map[string]time.Time{},
	}
}

// Add registers (or replaces, by name) a job. schedule uses ParseSchedule syntax.
// Jobs added before Start are registered when Start runs.
func (s *Service) Add(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	sch, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	spec := sch.spec()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	s.defs = append(s.defs, scheduleDef{
		name:    name,
		spec:    spec,
		timeout: timeout,
		job:     job,
		busy:    new(atomic.Bool),
		skipped: new(atomic.Uint64),
		fired:   new(atomic.Uint64),
	})
	if s.c == nil {
		return nil
	}
	d := &s.defs[len(s.defs)-1]
	if err := s.addCronLocked(d); err != nil {
		return err
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec))
	return nil
}

// Remove drops the named job. It reports whether a job was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Service) removeLocked(name string) bool {
	for i, d := range s.defs {
		if d.name != name {
			continue
		}
		if s.c != nil && d.entryID != 0 {
			s.c.Remove(d.entryID)
		}
		s.defs = append(s.defs[:i], s.defs[i+1:]...)
		return true
	}
	return false
}

func (s *Service) Start(ctx context.Context) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.c = cron.New(cron.WithParser(cronParser), cron.WithLocation(s.loc))
	for i := range s.defs {
		if err := s.addCronLocked(&s.defs[i]); err != nil {
			s.log.Error("schedule register failed", logx.String("name", s.defs[i].name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop stops triggering. Jobs already handed to the queue are the queue's concern.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for i := range s.defs {
		s.defs[i].entryID = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("service stopped")
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	def := *d
	job := cron.FuncJob(func() { s.trigger(def) })

	if every, ok := strings.CutPrefix(d.spec, "@every "); ok {
		if dur, err := time.ParseDuration(every); err == nil && dur > 0 {
			sched, offset := intervalSchedule(d.name, dur, time.Now().In(s.loc))
			d.entryID = s.c.Schedule(sched, job)
			s.log.Debug("interval scheduled", logx.String("name", d.name), logx.Duration("first_run_offset", offset))
			return nil
		}
	}
	eid, err := s.c.AddJob(d.spec, job)
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

// trigger submits one run of d unless the previous one is still pending.
func (s *Service) trigger(d scheduleDef) {
	if !d.busy.CompareAndSwap(false, true) {
		d.skipped.Add(1)
		s.reportEnqueueError(d.name, ErrOverlapSkip)
		return
	}
	_, err := s.queue.Submit(queue.Task{
		Name: d.name,
		Run: func(ctx context.Context) error {
			defer d.busy.Store(false)
			if d.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d.timeout)
				defer cancel()
			}
			return d.job(ctx)
		},
	})
	if err != nil {
		d.busy.Store(false)
		s.reportEnqueueError(d.name, err)
		return
	}
	d.fired.Add(1)
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Snapshot{Running: s.c != nil, Timezone: s.loc.String()}
	for _, d := range s.defs {
		it := ScheduleInfo{
			Name:    d.name,
			Spec:    d.spec,
			Timeout: d.timeout,
			Fired:   d.fired.Load(),
			Skipped: d.skipped.Load(),
		}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		out.Schedules = append(out.Schedules, it)
	}
	return out
}

// maxStartupSpread caps the extra delay before an interval job's first run.
const maxStartupSpread = 30 * time.Second

// delayedStart follows Schedule but never fires before first.
type delayedStart struct {
	cron.Schedule
	first time.Time
}

func (d delayedStart) Next(t time.Time) time.Time {
	if t.Before(d.first) {
		return d.first
	}
	return d.Schedule.Next(t)
}

// intervalSchedule fires every interval. The first run is pushed back by an
// offset derived from name, so jobs registered together do not fire in step.
func intervalSchedule(name string, every time.Duration, now time.Time) (cron.Schedule, time.Duration) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	offset := time.Duration(h.Sum32()) % min(every, maxStartupSpread)
	return delayedStart{Schedule: cron.Every(every), first: now.Add(every + offset)}, offset
}
