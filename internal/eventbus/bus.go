// Package eventbus fans out queue and download lifecycle events to
// in-process listeners such as the debug event log.
package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event types. The part before the dot is the topic.
const (
	TypeTaskQueued        = "task.queued"
	TypeTaskStarted       = "task.started"
	TypeTaskDone          = "task.done"
	TypeTaskDropped       = "task.dropped"
	TypeDownloadStarted   = "download.started"
	TypeDownloadCompleted = "download.completed"
	TypeDownloadFailed    = "download.failed"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// Topic returns the prefix of e.Type up to the first dot.
func (e Event) Topic() string {
	topic, _, _ := strings.Cut(e.Type, ".")
	return topic
}

// Bus delivers each event to every subscriber whose buffer has room.
// Publish never waits on a subscriber; events that do not fit are counted
// in Dropped.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

const defaultBuffer = 8

func New() Bus { return &fanout{} }

type subscriber struct {
	ch chan Event
}

type fanout struct {
	mu      sync.RWMutex
	subs    []*subscriber
	dropped atomic.Uint64
}

func (f *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends happen under the read lock so unsubscribe cannot close a channel
	// mid-send.
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.subs {
		select {
		case s.ch <- e:
		default:
			f.dropped.Add(1)
		}
	}
}

func (f *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	f.mu.Lock()
	f.subs = append(f.subs, s)
	f.mu.Unlock()

	var once sync.Once
	return s.ch, func() { once.Do(func() { f.remove(s) }) }
}

func (f *fanout) remove(s *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, cur := range f.subs {
		if cur == s {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			break
		}
	}
	close(s.ch)
}

func (f *fanout) Dropped() uint64 { return f.dropped.Load() }
