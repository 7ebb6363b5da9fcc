package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"quotebot/internal/config"
	"quotebot/internal/eventbus"
	"quotebot/internal/observability/pprof"
	"quotebot/internal/poster"
	"quotebot/internal/quote"
	"quotebot/internal/runtime/supervisor"
	"quotebot/internal/storage"
	"quotebot/internal/task/engine"
	"quotebot/internal/task/scheduler"
	"quotebot/internal/twitter"
	logx "quotebot/pkg/logx"
	"quotebot/pkg/systemd"
)

// verifyTimeout bounds the startup credentials check.
const verifyTimeout = 30 * time.Second

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	source quote.Source

	engine *engine.Service
	sched  *scheduler.Service
	poster *poster.Service
	pprof  *pprof.Service

	// verify controls the startup credentials check (twitter.verify).
	verify bool

	// schedNames tracks registered posting schedules for reload swaps.
	schedNames []string
}

// NewApp loads the config, builds every service and wires them together.
// Nothing is started; call Start (daemon) or RunOnce (-once).
//
// sec carries the credential bundle from the environment. It is threaded
// into the Twitter and Sheets clients and never logged.
func NewApp(cfgPath string, sec *config.Secrets) (*App, error) {
	if sec == nil {
		return nil, errors.New("app: secrets are required")
	}

	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLoggingConfig(cfg))
	log := root.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional): run ledger + persisted dedup marks.
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	twCfg, err := mapTwitterConfig(cfg, sec)
	if err != nil {
		return nil, err
	}
	twc, err := twitter.New(twCfg, root.With(logx.String("comp", "twitter")))
	if err != nil {
		return nil, err
	}

	source, err := buildQuoteSource(context.Background(), cfg, sec, root)
	if err != nil {
		return nil, err
	}

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	engineSvc := engine.New(engCfg, root.With(logx.String("comp", "taskengine")), bus)

	schedSvc := scheduler.New(scheduler.Config{
		Enabled:  cfg.ScheduleEnabled(),
		Timezone: cfg.Schedule.Timezone,
	}, engineSvc, root.With(logx.String("comp", "scheduler")), bus)

	pcfg, err := mapPosterConfig(cfg)
	if err != nil {
		return nil, err
	}
	postSvc := poster.New(pcfg, twc, source, root.With(logx.String("comp", "poster")), bus, store)

	pprofCfg, err := mapPprofConfig(cfg)
	if err != nil {
		return nil, err
	}
	pprofSvc := pprof.New(pprofCfg, root.With(logx.String("comp", "pprof")))

	verify := true
	if cfg.Twitter.Verify != nil {
		verify = *cfg.Twitter.Verify
	}

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		source:  source,
		engine:  engineSvc,
		sched:   schedSvc,
		poster:  postSvc,
		pprof:   pprofSvc,
		verify:  verify,
	}, nil
}

// Done is closed when the app run context ends (fatal error or Stop).
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
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	if a.cfgm != nil {
		a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(c context.Context, cfg *Config) error {
			return ValidateConfig(cfg)
		})
	}

	// Fail fast on bad credentials before any trigger can fire.
	if a.verify {
		vctx, cancel := context.WithTimeout(a.sup.Context(), verifyTimeout)
		err := a.poster.Verify(vctx)
		cancel()
		if err != nil {
			return err
		}
	}

	a.poster.Start(a.sup.Context())
	a.engine.Start(a.sup.Context())

	if err := a.registerSchedules(a.cfgm.Get()); err != nil {
		return err
	}
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}
	if a.pprof != nil && a.pprof.Enabled() {
		a.pprof.Start(a.sup.Context())
	}

	// Log bus events and keep the run ledger aware of skipped triggers.
	if a.bus != nil {
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
					a.handleEvent(c, e)
				}
			}
		})
	}

	// hot reload config fan-out
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
				a.applyReload(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	// SIGUSR1 posts one quote on demand.
	a.sup.Go0("signal.dispatch", func(c context.Context) {
		a.signalLoop(c)
	})

	if ok, err := systemd.NotifyReady(); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Any("err", err))
	} else if ok {
		a.log.Debug("systemd notified: ready")
	}
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		systemd.Heartbeat(c)
	})

	a.log.Info("app started")
	return nil
}

// handleEvent keeps bus traffic visible at debug level and records skipped
// posting triggers in the run ledger so a firing that produced no tweet
// still leaves a row.
func (a *App) handleEvent(ctx context.Context, e eventbus.Event) {
	if e.Type == eventbus.TypeTaskSkipped {
		if te, ok := e.Data.(engine.TaskEvent); ok && te.Name == TaskPostQuote {
			a.recordSkip(ctx, e.Time, te)
		}
	}
	a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
}

func (a *App) recordSkip(ctx context.Context, at time.Time, te engine.TaskEvent) {
	a.log.Warn("posting trigger skipped",
		logx.String("trigger", te.Trigger),
		logx.String("reason", te.Error),
	)
	if a.store == nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	err := a.store.AppendRun(wctx, storage.RunRecord{
		ID:      te.ID,
		At:      at,
		Trigger: te.Trigger,
		Outcome: storage.OutcomeSkipped,
		Error:   te.Error,
	})
	if err != nil {
		a.log.Debug("run ledger append failed", logx.Any("err", err))
	}
}

// applyReload pushes a validated config into the running services.
func (a *App) applyReload(c context.Context, lastApplied, newCfg *Config) {
	sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
	if len(sections) > 0 {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Debug("config change summary", fields...)
	} else {
		a.log.Debug("config reload received, but no effective changes detected")
	}

	// Sections bound at construction time need a restart to take effect.
	for _, s := range sections {
		switch s {
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case "twitter":
			a.log.Warn("twitter config changed; restart required for changes to take effect")
		case "sheets":
			a.log.Warn("sheets config changed; restart required for changes to take effect")
		}
	}

	// apply logging updates
	a.logs.Apply(mapLoggingConfig(newCfg))

	// apply engine updates (live)
	engCfg, err := mapEngineConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid engine config; keeping previous", logx.Any("err", err))
	} else {
		a.engine.Apply(c, engCfg)
	}

	// schedule updates: enabled flag, timezone, cron list
	prevSchedEnabled := a.sched.Enabled()
	a.sched.Apply(scheduler.Config{
		Enabled:  newCfg.ScheduleEnabled(),
		Timezone: newCfg.Schedule.Timezone,
	})
	if !equalStrings(effectiveCrons(lastApplied), effectiveCrons(newCfg)) {
		if err := a.registerSchedules(newCfg); err != nil {
			a.log.Warn("invalid schedule config; keeping previous", logx.Any("err", err))
		}
	}
	newSchedEnabled := newCfg.ScheduleEnabled()
	if prevSchedEnabled && !newSchedEnabled {
		a.log.Info("schedule disabled via config")
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	}
	if !prevSchedEnabled && newSchedEnabled {
		a.log.Info("schedule enabled via config")
		a.sched.Start(c)
	}

	// apply poster updates (live)
	pcfg, err := mapPosterConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid poster config; keeping previous", logx.Any("err", err))
	} else {
		if persistDedupOf(lastApplied) != persistDedupOf(newCfg) {
			a.log.Warn("poster.persist_dedup changed; restart required for changes to take effect")
		}
		a.poster.Apply(pcfg)
	}

	// apply pprof updates (live)
	ppc, err := mapPprofConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid pprof config; keeping previous", logx.Any("err", err))
	} else {
		a.pprof.Reconfigure(c, ppc)
	}

	if len(sections) > 0 {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config reloaded", fields...)
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReload, Time: time.Now(), Data: sections})
	} else {
		a.log.Info("config reloaded (no changes)")
	}
}

// registerSchedules swaps the posting schedules to match cfg. Every
// schedule enqueues the same post_quote task, so near-simultaneous firings
// collapse into the task's overlap gate.
func (a *App) registerSchedules(cfg *Config) error {
	exprs := effectiveCrons(cfg)
	if err := scheduler.ValidateExprs(exprs); err != nil {
		return err
	}
	for _, stale := range a.schedNames {
		a.sched.Remove(stale)
	}
	names := make([]string, 0, len(exprs))
	for _, expr := range exprs {
		name := scheduler.ScheduleName(TaskPostQuote, expr)
		if _, err := a.sched.AddCron(name, TaskPostQuote, expr, 0, a.postJob(name)); err != nil {
			return err
		}
		names = append(names, name)
	}
	a.schedNames = names
	a.log.Debug("posting schedules registered", logx.String("names", strings.Join(names, ",")))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		// Never started (or -once mode): just release resources.
		if a.store != nil {
			_ = a.store.Close()
		}
		if a.logs != nil {
			a.logs.Close()
		}
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if ok, _ := systemd.NotifyStopping(); ok {
		a.log.Debug("systemd notified: stopping")
	}

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
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
				a.log.Warn("stop step error", logx.String("name", name), logx.String("err", err.Error()))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			elapsed := time.Since(start)
			a.log.Warn(
				"stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.String("err", stepCtx.Err().Error()),
				logx.Duration("elapsed", elapsed),
			)
			// Leak logging: observe when/if the step eventually finishes.
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.String("err", err.Error()), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Stop triggers first, then the executor, then the pipeline that owns
	// the dedup flush, and storage after everything that writes to it.
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("poster", 3*time.Second, func(c context.Context) error { a.poster.Stop(c); return nil })
	step("pprof", 1*time.Second, func(c context.Context) error {
		if a.pprof != nil {
			a.pprof.Stop(c)
		}
		return nil
	})
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// Finally, wait for supervised goroutines (config watch/reload, event log, signal pump).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func mapLoggingConfig(cfg *Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapEngineConfig(cfg *Config) (engine.Config, error) {
	out := engine.Config{
		Enabled:        true,
		Workers:        1,
		QueueSize:      16,
		DefaultTimeout: 2 * time.Minute,
		HistorySize:    100,
	}
	if cfg == nil || cfg.Engine == nil {
		return out, nil
	}
	ec := cfg.Engine

	if ec.Workers > 0 {
		out.Workers = ec.Workers
	}
	if ec.QueueSize > 0 {
		out.QueueSize = ec.QueueSize
	}
	if ec.HistorySize > 0 {
		out.HistorySize = ec.HistorySize
	}
	if ec.RetryMax > 0 {
		out.RetryMax = ec.RetryMax
	}
	if strings.TrimSpace(ec.DefaultTimeout) != "" {
		d, err := parseDurationField("engine.default_timeout", ec.DefaultTimeout)
		if err != nil {
			return out, err
		}
		out.DefaultTimeout = d
	}
	if strings.TrimSpace(ec.MaxQueueDelay) != "" {
		d, err := parseDurationField("engine.max_queue_delay", ec.MaxQueueDelay)
		if err != nil {
			return out, err
		}
		out.MaxQueueDelay = d
	}
	return out, nil
}

// effectiveCrons resolves the posting schedule: the configured cron list,
// or the built-in default when the list is empty.
func effectiveCrons(cfg *Config) []string {
	if cfg != nil && len(cfg.Schedule.Crons) > 0 {
		out := make([]string, 0, len(cfg.Schedule.Crons))
		for _, e := range cfg.Schedule.Crons {
			out = append(out, strings.TrimSpace(e))
		}
		return out
	}
	return scheduler.DefaultCronExprs()
}

func persistDedupOf(cfg *Config) bool {
	return cfg != nil && cfg.Poster != nil && cfg.Poster.PersistDedup
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
