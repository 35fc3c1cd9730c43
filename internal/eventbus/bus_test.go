package eventbus

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TypeTaskQueued})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != TypeTaskQueued {
				t.Fatalf("Type = %q", e.Type)
			}
			if e.Time.IsZero() {
				t.Fatal("expected Publish to stamp Time")
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: TypeTaskDone})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked")
	}
	if got := b.Dropped(); got != 99 {
		t.Fatalf("Dropped = %d, want 99", got)
	}
}

func TestEventTopic(t *testing.T) {
	t.Parallel()
	for typ, want := range map[string]string{
		TypeTaskDropped:    "task",
		TypeDownloadFailed: "download",
		"bare":             "bare",
	} {
		if got := (Event{Type: typ}).Topic(); got != want {
			t.Fatalf("Topic(%q) = %q, want %q", typ, got, want)
		}
	}
}

func TestPublishAfterUnsubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	b.Publish(Event{Type: TypeTaskDone})
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
}
