package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"dlbot/internal/task/queue"
	logx "dlbot/pkg/logx"
)

type fakeQueue struct {
	mu    sync.Mutex
	tasks []queue.Task
	err   error
}

func (q *fakeQueue) Submit(t queue.Task) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.tasks = append(q.tasks, t)
	return "id", nil
}

func TestParseSchedule(t *testing.T) {
	cases := []struct {
		in    string
		cron  string
		every time.Duration
		bad   bool
	}{
		{in: "*/5 * * * *", cron: "*/5 * * * *"},
		{in: "@hourly", cron: "@hourly"},
		{in: "@every 1h", cron: "@every 1h"},
		{in: "55m", every: 55 * time.Minute},
		{in: "02:30", every: 150 * time.Minute},
		{in: "interval:00:50", every: 50 * time.Minute},
		{in: "every: 2h", every: 2 * time.Hour},
		{in: "cron:0 3 * * *", cron: "0 3 * * *"},
		{in: "", bad: true},
		{in: "cron:", bad: true},
		{in: "00:00", bad: true},
		{in: "01:75", bad: true},
		{in: "1:5", bad: true},
		{in: "-5m", bad: true},
		{in: "soon", bad: true},
	}
	for _, c := range cases {
		sch, err := ParseSchedule(c.in)
		if c.bad {
			if err == nil {
				t.Errorf("ParseSchedule(%q) want error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSchedule(%q): %v", c.in, err)
			continue
		}
		if sch.Cron != c.cron || sch.Every != c.every {
			t.Errorf("ParseSchedule(%q)=%+v", c.in, sch)
		}
	}
}

func TestIntervalScheduleFirstRunOffset(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s1, off1 := intervalSchedule("session.compact", time.Hour, now)
	_, off2 := intervalSchedule("session.compact", time.Hour, now)
	if off1 != off2 {
		t.Fatalf("offset not stable: %v vs %v", off1, off2)
	}
	if off1 < 0 || off1 >= maxStartupSpread {
		t.Fatalf("offset = %v", off1)
	}
	first := s1.Next(now)
	if want := now.Add(time.Hour + off1); !first.Equal(want) {
		t.Fatalf("first = %v, want %v", first, want)
	}
	if next := s1.Next(first); next.Sub(first) < time.Hour-time.Second {
		t.Fatalf("second run %v after first", next.Sub(first))
	}
	if _, off := intervalSchedule("x", 5*time.Second, now); off >= 5*time.Second {
		t.Fatalf("short interval offset = %v", off)
	}
}

func TestValidate(t *testing.T) {
	for _, ok := range []string{"@every 1h", "0 */2 * * *", "30m", "0 0 3 * * *"} {
		if err := Validate(ok); err != nil {
			t.Errorf("Validate(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{"every hour", "61 * * * *", "x"} {
		if err := Validate(bad); err == nil {
			t.Errorf("Validate(%q) want error", bad)
		}
	}
}

func TestTriggerSubmitsAndSkipsOverlap(t *testing.T) {
	q := &fakeQueue{}
	s := New(q, time.UTC, logx.Nop())
	runs := 0
	if err := s.Add("compact", "@every 1h", time.Second, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("job ctx has no deadline")
		}
		runs++
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	d := s.defs[0]

	s.trigger(d)
	s.trigger(d)
	if len(q.tasks) != 1 {
		t.Fatalf("submitted=%d want 1", len(q.tasks))
	}
	if err := q.tasks[0].Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.trigger(d)
	if len(q.tasks) != 2 || runs != 1 {
		t.Fatalf("submitted=%d runs=%d", len(q.tasks), runs)
	}
	snap := s.Snapshot()
	if snap.Schedules[0].Fired != 2 || snap.Schedules[0].Skipped != 1 {
		t.Fatalf("snapshot=%+v", snap.Schedules[0])
	}
}

func TestTriggerReleasesOnSubmitError(t *testing.T) {
	q := &fakeQueue{err: queue.ErrStopped}
	s := New(q, time.UTC, logx.Nop())
	if err := s.Add("compact", "30m", 0, func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	s.trigger(s.defs[0])
	if s.defs[0].busy.Load() {
		t.Fatal("busy flag left set after failed submit")
	}
	q.err = nil
	s.trigger(s.defs[0])
	if len(q.tasks) != 1 {
		t.Fatalf("submitted=%d want 1", len(q.tasks))
	}
}

func TestAddReplacesAndRejects(t *testing.T) {
	s := New(&fakeQueue{}, time.UTC, logx.Nop())
	job := func(context.Context) error { return nil }
	if err := s.Add("a", "10m", 0, job); err != nil {
		t.Fatal(err)
	}
	if err := s.Add("a", "@daily", 0, job); err != nil {
		t.Fatal(err)
	}
	if len(s.defs) != 1 || s.defs[0].spec != "@daily" {
		t.Fatalf("defs=%+v", s.defs)
	}
	if err := s.Add("b", "61 * * * *", 0, job); err == nil {
		t.Fatal("want error for invalid cron")
	}
	if err := s.Add("", "10m", 0, job); err == nil {
		t.Fatal("want error for empty name")
	}
	if !s.Remove("a") || s.Remove("a") {
		t.Fatal("Remove")
	}
}

func TestStartStop(t *testing.T) {
	s := New(&fakeQueue{}, time.UTC, logx.Nop())
	if err := s.Add("a", "@every 1h", 0, func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background())
	snap := s.Snapshot()
	if !snap.Running || len(snap.Schedules) != 1 || snap.Schedules[0].Next.IsZero() {
		t.Fatalf("snapshot=%+v", snap)
	}
	next := snap.Schedules[0].Next
	if d := time.Until(next); d < time.Hour-time.Second || d > time.Hour+maxStartupSpread {
		t.Fatalf("next in %v", d)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	if s.Snapshot().Running {
		t.Fatal("still running")
	}
}
