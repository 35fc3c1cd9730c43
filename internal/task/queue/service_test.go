package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dlbot/internal/eventbus"
	logx "dlbot/pkg/logx"
)

func startQueue(t *testing.T, cfg Config, bus eventbus.Bus) *Service {
	t.Helper()
	q := New(cfg, logx.Nop(), bus)
	q.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	})
	return q
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", d)
}

func TestEachTaskRunsExactlyOnce(t *testing.T) {
	q := startQueue(t, Config{Workers: 4}, nil)

	const n = 200
	var counts [n]atomic.Int32
	for i := 0; i < n; i++ {
		i := i
		if _, err := q.Submit(Task{Name: "count", Run: func(ctx context.Context) error {
			counts[i].Add(1)
			return nil
		}}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	waitFor(t, 5*time.Second, func() bool { return q.Snapshot().Executed == n })
	for i := range counts {
		if c := counts[i].Load(); c != 1 {
			t.Fatalf("task %d ran %d times", i, c)
		}
	}
}

func TestSingleWorkerIsFIFO(t *testing.T) {
	q := startQueue(t, Config{Workers: 1}, nil)

	var (
		mu    sync.Mutex
		order []int
	)
	block := make(chan struct{})
	_, _ = q.Submit(Task{Name: "gate", Run: func(ctx context.Context) error {
		<-block
		return nil
	}})
	for i := 0; i < 10; i++ {
		i := i
		_, _ = q.Submit(Task{Name: "seq", Run: func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}})
	}
	close(block)
	waitFor(t, 2*time.Second, func() bool { return q.Snapshot().Executed == 11 })

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v", order)
		}
	}
}

func TestSubmitDoesNotWaitForRun(t *testing.T) {
	q := startQueue(t, Config{Workers: 1}, nil)
	release := make(chan struct{})
	defer close(release)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			_, _ = q.Submit(Task{Name: "slow", Run: func(ctx context.Context) error {
				select {
				case <-release:
				case <-ctx.Done():
				}
				return nil
			}})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a busy worker")
	}
}

func TestPanicIsRecoveredAndWorkerSurvives(t *testing.T) {
	q := startQueue(t, Config{Workers: 1}, nil)

	_, _ = q.Submit(Task{Name: "boom", Run: func(ctx context.Context) error { panic("boom") }})
	ran := make(chan struct{})
	_, _ = q.Submit(Task{Name: "after", Run: func(ctx context.Context) error {
		close(ran)
		return nil
	}})
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive panic")
	}
	waitFor(t, time.Second, func() bool { return len(q.Snapshot().History) == 2 })
	h := q.Snapshot().History
	if h[0].Name != "boom" || h[0].Error == "" {
		t.Fatalf("history[0] = %+v", h[0])
	}
}

func TestHistoryIsBounded(t *testing.T) {
	q := startQueue(t, Config{Workers: 1, HistorySize: 3}, nil)
	for i := 0; i < 10; i++ {
		_, _ = q.Submit(Task{Name: "h", Run: func(ctx context.Context) error { return errors.New("x") }})
	}
	waitFor(t, 2*time.Second, func() bool { return q.Snapshot().Executed == 10 })
	if n := len(q.Snapshot().History); n != 3 {
		t.Fatalf("history len = %d", n)
	}
}

func TestEventsArePublished(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()
	q := startQueue(t, Config{Workers: 1}, bus)

	id, err := q.Submit(Task{Name: "ev", Run: func(ctx context.Context) error { return nil }})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{eventbus.TypeTaskQueued, eventbus.TypeTaskStarted, eventbus.TypeTaskDone}
	seen := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for len(seen) < len(want) {
		select {
		case e := <-ch:
			te, ok := e.Data.(TaskEvent)
			if !ok || te.ID != id {
				t.Fatalf("unexpected event %+v", e)
			}
			seen[e.Type] = true
		case <-timeout:
			t.Fatalf("events seen: %v", seen)
		}
	}
	for _, w := range want {
		if !seen[w] {
			t.Fatalf("missing %s", w)
		}
	}
}

func TestSubmitValidation(t *testing.T) {
	q := New(Config{}, logx.Nop(), nil)
	if _, err := q.Submit(Task{Run: func(ctx context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped before Start, got %v", err)
	}
	q.Start(context.Background())
	defer q.Stop(context.Background())
	if _, err := q.Submit(Task{Name: "nil"}); !errors.Is(err, ErrNilTask) {
		t.Fatalf("expected ErrNilTask, got %v", err)
	}
}

func TestStopDiscardsPending(t *testing.T) {
	q := New(Config{Workers: 1}, logx.Nop(), nil)
	q.Start(context.Background())

	started := make(chan struct{})
	_, _ = q.Submit(Task{Name: "hold", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}})
	<-started
	var late atomic.Bool
	var drops atomic.Int32
	for i := 0; i < 5; i++ {
		_, _ = q.Submit(Task{
			Name: "late",
			Run: func(ctx context.Context) error {
				late.Store(true)
				return nil
			},
			OnDrop: func(ctx context.Context) {
				if ctx.Err() != nil {
					t.Error("drop hook got a cancelled context")
				}
				drops.Add(1)
			},
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	snap := q.Snapshot()
	if snap.Running || snap.Pending != 0 {
		t.Fatalf("snapshot after stop: %+v", snap)
	}
	if snap.Executed+snap.Dropped != 6 {
		t.Fatalf("executed=%d dropped=%d", snap.Executed, snap.Dropped)
	}
	if got := uint64(drops.Load()); got != snap.Dropped {
		t.Fatalf("drop hooks=%d, dropped=%d", got, snap.Dropped)
	}
	if _, err := q.Submit(Task{Name: "x", Run: func(ctx context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped after Stop, got %v", err)
	}
}

func TestDropHookPanicDoesNotStopDrain(t *testing.T) {
	q := New(Config{Workers: 1}, logx.Nop(), nil)
	q.Start(context.Background())

	started := make(chan struct{})
	_, _ = q.Submit(Task{Name: "hold", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	}})
	<-started
	var second atomic.Bool
	_, _ = q.Submit(Task{Name: "a", Run: func(context.Context) error { return nil }, OnDrop: func(context.Context) { panic("boom") }})
	_, _ = q.Submit(Task{Name: "b", Run: func(context.Context) error { return nil }, OnDrop: func(context.Context) { second.Store(true) }})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = q.Stop(ctx)
	if q.Snapshot().Dropped == 2 && !second.Load() {
		t.Fatal("second drop hook not called after a panicking one")
	}
}
