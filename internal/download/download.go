// Package download runs one fetch attempt per request and reports its
// lifecycle to the requesting chat.
//
// Every request moves PENDING -> STARTED -> COMPLETED|FAILED. One STARTED
// message and exactly one terminal message are sent per request; there is
// no retry.
package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"dlbot/internal/eventbus"
	"dlbot/internal/fetcher"
	"dlbot/internal/task/queue"
	kit "dlbot/internal/transport"
	logx "dlbot/pkg/logx"
	"dlbot/pkg/tgui"
)

type State int

const (
	StatePending State = iota
	StateStarted
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateStarted:
		return "STARTED"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Request is captured at submission time; the task needs nothing else
// from the originating update.
type Request struct {
	URL      string
	ChatID   int64
	ThreadID int
}

func (r Request) target() kit.ChatTarget { return kit.ChatTarget{ChatID: r.ChatID, ThreadID: r.ThreadID} }

// Event is the Data of download.* events on the event bus.
type Event struct {
	URL    string        `json:"url"`
	ChatID int64         `json:"chat_id"`
	State  string        `json:"state"`
	Size   int64         `json:"size,omitempty"`
	Took   time.Duration `json:"took,omitempty"`
	Error  string        `json:"error,omitempty"`
}

type Config struct {
	Dir string
	// Timeout bounds the fetch; 0 means unbounded.
	Timeout time.Duration
}

// maxDetailRunes bounds the escaped FAILED detail and maxURLRunes the URL
// echoed in every header, so each message fits one Telegram message.
const (
	maxDetailRunes = 3000
	maxURLRunes    = 150
)

// dropDetail is the FAILED detail for requests discarded at shutdown.
const dropDetail = "bot is shutting down; download was not started"

// notifyTimeout bounds each chat notification, independent of the task context.
const notifyTimeout = 30 * time.Second

type Runner struct {
	fetcher fetcher.Fetcher
	sender  tgui.Sender
	bus     eventbus.Bus
	log     logx.Logger

	mu  sync.RWMutex
	cfg Config
}

func NewRunner(f fetcher.Fetcher, sender tgui.Sender, cfg Config, log logx.Logger, bus eventbus.Bus) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{
		fetcher: f,
		sender:  sender,
		bus:     bus,
		log:     log.With(logx.String("comp", "download")),
		cfg:     cfg,
	}
}

// SetConfig applies a new directory/timeout to downloads started afterwards.
func (r *Runner) SetConfig(cfg Config) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

// SetFetcher swaps the fetcher used by downloads started afterwards.
func (r *Runner) SetFetcher(f fetcher.Fetcher) {
	r.mu.Lock()
	r.fetcher = f
	r.mu.Unlock()
}

func (r *Runner) config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Task wraps req as a queue task. The task itself never fails: outcomes are
// reported to the chat, including a discard at shutdown.
func (r *Runner) Task(req Request) queue.Task {
	return queue.Task{
		Name: "download",
		Run: func(ctx context.Context) error {
			r.Run(ctx, req)
			return nil
		},
		OnDrop: func(ctx context.Context) {
			r.Drop(ctx, req)
		},
	}
}

// Drop reports FAILED for a request that never started.
func (r *Runner) Drop(ctx context.Context, req Request) {
	log := r.log.With(logx.String("url", req.URL), logx.Int64("chat_id", req.ChatID))
	log.Info("download dropped")
	r.notify(ctx, log, req, failedMessage(req.URL, dropDetail))
	r.publish(eventbus.TypeDownloadFailed, Event{URL: req.URL, ChatID: req.ChatID, State: StateFailed.String(), Error: dropDetail})
}

// Run executes req and returns the terminal state.
func (r *Runner) Run(ctx context.Context, req Request) (final State) {
	cfg := r.config()
	log := r.log.With(logx.String("url", req.URL), logx.Int64("chat_id", req.ChatID))
	state := StatePending
	terminalSent := false

	finish := func(st State, msg tgui.Message, ev Event) {
		if terminalSent {
			return
		}
		terminalSent = true
		state = st
		ev.URL, ev.ChatID, ev.State = req.URL, req.ChatID, st.String()
		r.notify(ctx, log, req, msg)
		typ := eventbus.TypeDownloadCompleted
		if st == StateFailed {
			typ = eventbus.TypeDownloadFailed
		}
		r.publish(typ, ev)
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("download panicked", logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
			finish(StateFailed, failedMessage(req.URL, fmt.Sprintf("internal error: %v", rec)), Event{Error: fmt.Sprint(rec)})
		}
		final = state
	}()

	// PENDING -> STARTED
	state = StateStarted
	log.Info("download started", logx.String("dir", cfg.Dir))
	r.notify(ctx, log, req, tgui.Plain().Line(fmt.Sprintf("Download of '%s' STARTED", displayURL(req.URL))).Build())
	r.publish(eventbus.TypeDownloadStarted, Event{URL: req.URL, ChatID: req.ChatID, State: state.String()})

	res, err := r.fetch(ctx, cfg, req.URL)
	if err != nil {
		detail := failureDetail(err, cfg.Timeout)
		log.Info("download failed", logx.String("detail", tgui.TruncRunes(detail, 300)), logx.Duration("took", res.Took))
		finish(StateFailed, failedMessage(req.URL, detail), Event{Took: res.Took, Error: detail})
		return
	}

	log.Info("download completed",
		logx.Int("files", len(res.Files)),
		logx.String("size", humanize.Bytes(uint64(max(res.Size, 0)))),
		logx.Duration("took", res.Took),
	)
	finish(StateCompleted, completedMessage(req.URL, res), Event{Size: res.Size, Took: res.Took})
	return
}

func (r *Runner) fetch(ctx context.Context, cfg Config, url string) (fetcher.Result, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return fetcher.Result{}, &fetcher.Error{URL: url, Description: "download directory unavailable: " + err.Error(), Err: err}
	}
	fctx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	r.mu.RLock()
	f := r.fetcher
	r.mu.RUnlock()
	return f.Fetch(fctx, url, cfg.Dir)
}

// notify sends msg with its own deadline so a cancelled task context still
// delivers the outcome. Send failures are logged and never retried.
func (r *Runner) notify(ctx context.Context, log logx.Logger, req Request, msg tgui.Message) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("notification panicked", logx.Any("panic", rec))
		}
	}()
	if _, err := msg.Send(nctx, r.sender, req.target()); err != nil {
		log.Warn("notification failed", logx.Err(err))
	}
}

func (r *Runner) publish(typ string, ev Event) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}

func completedMessage(url string, res fetcher.Result) tgui.Message {
	text := fmt.Sprintf("Download of '%s' COMPLETED!", displayURL(url))
	if res.Size > 0 {
		text += fmt.Sprintf(" (%s)", humanize.Bytes(uint64(res.Size)))
	}
	return tgui.Plain().Line(text).Build()
}

// failedMessage embeds the tail of detail as preformatted HTML after
// stripping terminal styling.
func failedMessage(url, detail string) tgui.Message {
	b := tgui.New().Line(fmt.Sprintf("Download of '%s' FAILED!", displayURL(url)))
	if d := tgui.TailEscaped(tgui.StripANSI(detail), maxDetailRunes); d != "" {
		b.Pre(d)
	}
	return b.Build()
}

func displayURL(url string) string { return tgui.TruncRunes(url, maxURLRunes) }

func failureDetail(err error, timeout time.Duration) string {
	if errors.Is(err, context.DeadlineExceeded) && timeout > 0 {
		return fmt.Sprintf("timeout: no result after %s", timeout)
	}
	var fe *fetcher.Error
	if errors.As(err, &fe) {
		return fe.Detail()
	}
	return err.Error()
}
