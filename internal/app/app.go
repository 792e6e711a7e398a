// Package app wires configuration, storage, the registry and the chat front end
// into one process.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"boilbot/internal/bot"
	"boilbot/internal/calendar"
	"boilbot/internal/config"
	"boilbot/internal/digest"
	"boilbot/internal/equipment"
	"boilbot/internal/metrics"
	"boilbot/internal/registry"
	rtsup "boilbot/internal/runtime/supervisor"
	"boilbot/internal/schedule"
	"boilbot/internal/storage"
	"boilbot/internal/transport"
	telegram "boilbot/internal/transport/telegram/adapter"
	logx "boilbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	adapter *telegram.Adapter

	cal     calendar.Calendar
	reg     *registry.Registry
	sched   *schedule.Service
	digest  *digest.Trigger
	metrics *metrics.Metrics

	bot    *bot.Bot
	router *bot.Router

	updates chan transport.Update
}

// stateFunc adapts a closure to metrics.Source; the registry is built after metrics.
type stateFunc func() equipment.State

func (f stateFunc) Snapshot() equipment.State { return f() }

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// The chat sink needs the adapter, which is built after logging; SetSender wires it later.
	logSvc, root := logx.New(mapLogConfig(cfg), nil)
	log := root.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	cal := cfg.Calendar.Build()

	var reg *registry.Registry
	m := metrics.New(stateFunc(func() equipment.State { return reg.Snapshot() }), cal)
	reg = registry.New(registry.Options{
		Store:      store,
		Calendar:   cal,
		Retry:      mapRetryPolicy(cfg),
		Duplicates: mapDuplicatePolicy(cfg),
		Observer:   m,
		Log:        root.With(logx.String("comp", "registry")),
	})

	lctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = reg.Load(lctx)
	cancel()
	if err != nil {
		// Keep serving queries from the default state; submissions will report the failure.
		log.Error("state load failed; running on defaults", logx.Err(err))
	} else {
		log.Info("state loaded", logx.Int("units", len(reg.Units())))
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, root.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	logSvc.SetSender(ad)

	sched := schedule.NewService(reg, cal)

	trig := digest.New(sched, ad, root.With(logx.String("comp", "digest")))
	trig.OnRun = m.DigestPosted

	b := bot.New(bot.Deps{
		Registry: reg,
		Schedule: sched,
		Sender:   ad,
		Audit:    store,
		History:  store,
		Log:      root.With(logx.String("comp", "bot")),
	})
	b.SetGroupLog(chatTarget(cfg.Telegram.GroupLog))

	router := bot.NewRouter(root.With(logx.String("comp", "commands")), ad, m)
	router.SetBotName(ad.Username())
	router.SetOwners(cfg.Telegram.OwnerUserIDs, cfg.Telegram.RestrictMutations)
	router.SetRateLimit(cfg.Telegram.CommandsPerMinute)
	router.SetCommands(b.Commands())

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		adapter: ad,
		cal:     cal,
		reg:     reg,
		sched:   sched,
		digest:  trig,
		metrics: m,
		bot:     b,
		router:  router,
		updates: make(chan transport.Update, 256),
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
	cfg := a.cfgm.Get()
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.metrics.WatchSupervisor(a.sup)

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return validateLive(c)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	mctx, cancel := context.WithTimeout(a.sup.Context(), 10*time.Second)
	if err := a.adapter.UpdateMenuCommands(mctx, a.router.MenuCommands()); err != nil {
		a.log.Warn("command menu update failed", logx.Err(err))
	}
	cancel()

	if err := a.digest.Start(a.sup.Context(), mapDigestConfig(cfg)); err != nil {
		return fmt.Errorf("digest: %w", err)
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	if cfg.Metrics.Enabled {
		opts := metrics.ServeOptions{Addr: cfg.Metrics.Addr, Pprof: cfg.Metrics.Pprof}
		a.sup.Go("metrics.http", func(c context.Context) error {
			return a.metrics.Serve(c, opts, a.log.With(logx.String("comp", "metrics")))
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.startWatchdog()
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("app started",
		logx.Int("units", len(a.reg.Units())),
		logx.Stringer("rest_day", a.cal.Rest),
		logx.Time("next_digest", a.digest.Next()),
	)
	return nil
}

// applyConfig pushes the live sections of newCfg into the running components.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(oldCfg, newCfg, sections); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogConfig(newCfg))

	a.router.SetOwners(newCfg.Telegram.OwnerUserIDs, newCfg.Telegram.RestrictMutations)
	a.router.SetRateLimit(newCfg.Telegram.CommandsPerMinute)
	a.bot.SetGroupLog(chatTarget(newCfg.Telegram.GroupLog))

	a.reg.SetRetryPolicy(mapRetryPolicy(newCfg))
	a.reg.SetDuplicatePolicy(mapDuplicatePolicy(newCfg))

	if err := a.digest.Reschedule(mapDigestConfig(newCfg)); err != nil {
		a.log.Warn("invalid digest config; keeping previous", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// startWatchdog pings systemd at half the WatchdogSec interval when one is set.
func (a *App) startWatchdog() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	a.step(ctx, "digest", 2*time.Second, func(c context.Context) error { a.digest.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.step(ctx, "storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step bounded by max so one component can't stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

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
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		// fn must honor stepCtx; if it doesn't, log when it eventually returns.
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
		}()
	}
}
