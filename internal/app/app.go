package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"dlbot/internal/auth"
	"dlbot/internal/config"
	"dlbot/internal/download"
	"dlbot/internal/eventbus"
	"dlbot/internal/fetcher"
	rtsup "dlbot/internal/runtime/supervisor"
	"dlbot/internal/session"
	"dlbot/internal/task/queue"
	"dlbot/internal/task/scheduler"
	kit "dlbot/internal/transport"
	telegram "dlbot/internal/transport/telegram/adapter"
	"dlbot/internal/transport/telegram/router"
	logx "dlbot/pkg/logx"
	"dlbot/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   session.Store
	gate    *auth.Gate
	adapter kit.Adapter
	runner  *download.Runner
	queue   *queue.Service
	sched   *scheduler.Service
	cmdm    *router.CommandManager

	sd      systemd.Notifier
	updates chan kit.Update
}

// New loads the configuration and builds every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// The Telegram sink gets its sender once the adapter exists.
	logSvc, root := logx.New(cfg.LogConfig(), nil)
	log := root.With(logx.String("comp", "app"))

	pollTimeout, err := cfg.PollTimeout()
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, root.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	logSvc.SetSender(ad)

	if err := os.MkdirAll(cfg.Download.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("download.dir: %w", err)
	}

	sc, err := sessionConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := session.Open(sc, root)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}

	a, err := build(cfg, root, ad, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.cfgm = cfgm
	a.logs = logSvc
	a.log = log
	return a, nil
}

// build wires the components that do not own external resources.
func build(cfg *config.Config, root logx.Logger, ad kit.Adapter, store session.Store) (*App, error) {
	f, err := fetcher.Open(fetcherConfig(cfg), root)
	if err != nil {
		return nil, err
	}
	dc, err := downloadConfig(cfg)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	q := queue.New(queueConfig(cfg), root, bus)
	runner := download.NewRunner(f, ad, dc, root, bus)
	gate := auth.NewGate(store, cfg.Auth.Secret, root)
	sched := scheduler.New(q, time.Local, root)

	if spec := compactSchedule(cfg); spec != "" {
		if err := sched.Add("session.compact", spec, compactTimeout, store.Compact); err != nil {
			return nil, fmt.Errorf("storage.compact_schedule: %w", err)
		}
	}

	cmdm := router.NewCommandManager(router.Deps{
		Logger:    root,
		Sender:    ad,
		Store:     store,
		Gate:      gate,
		Downloads: runner,
		Queue:     q,
	})

	return &App{
		log:     root.With(logx.String("comp", "app")),
		bus:     bus,
		store:   store,
		gate:    gate,
		adapter: ad,
		runner:  runner,
		queue:   q,
		sched:   sched,
		cmdm:    cmdm,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := downloadConfig(cfg); err != nil {
			return err
		}
		if _, err := fetcher.Open(fetcherConfig(cfg), logx.Nop()); err != nil {
			return err
		}
		return os.MkdirAll(cfg.Download.Dir, 0o755)
	})

	a.queue.Start(a.sup.Context())
	a.sched.Start(a.sup.Context())

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go0("commands.dispatch", func(c context.Context) {
		a.cmdm.DispatchLoop(c, a.updates)
	})

	a.sup.Go0("commands.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 15*time.Second)
		defer cancel()
		_ = a.cmdm.SyncMenu(mctx)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("topic", e.Topic()), logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		err := a.cfgm.Watch(c)
		if err != nil && !errors.Is(err, context.Canceled) {
			// Losing hot reload is not fatal for the bot.
			a.log.Warn("config watch stopped", logx.Err(err))
		}
		return nil
	})

	if sent, err := a.sd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started",
		logx.String("config", a.cfgm.Path()),
		logx.Int("workers", a.queue.Snapshot().Workers),
	)
	return nil
}

// applyConfig applies the live sections of next and reports the rest.
func (a *App) applyConfig(prev, next *config.Config) {
	changed, restart := config.Changes(prev, next)
	if len(changed) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	a.logs.Apply(next.LogConfig())
	a.gate.SetSecret(next.Auth.Secret)

	if dc, err := downloadConfig(next); err != nil {
		a.log.Warn("invalid download config; keeping previous", logx.Err(err))
	} else {
		a.runner.SetConfig(dc)
	}
	if prev != nil && fetcherChanged(prev, next) {
		if f, err := fetcher.Open(fetcherConfig(next), a.log); err != nil {
			a.log.Warn("invalid fetcher config; keeping previous", logx.Err(err))
		} else {
			a.runner.SetFetcher(f)
		}
	}

	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.Any("sections", restart))
	}
	a.log.Info("config reloaded", logx.Any("changed", changed))
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := a.sd.Stopping(); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	// Cancel the run context first: the dispatcher stops taking updates and
	// running downloads are cancelled (each still reports FAILED).
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("queue", 15*time.Second, func(c context.Context) error { return a.queue.Stop(c) })
	step("session", 2*time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.log.Info("stopped", logx.Uint64("events_dropped", a.bus.Dropped()))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
