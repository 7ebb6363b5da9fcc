package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"quotebot/internal/eventbus"
	"quotebot/internal/task/engine"
	logx "quotebot/pkg/logx"
)

func New(cfg Config, engine *engine.Service, log logx.Logger, bus eventbus.Bus) *Service {
	return &Service{
		cfg:         cfg,
		log:         log,
		bus:         bus,
		engine:      engine,
		parser:      newParser(),
		lastEnqWarn: map[string]time.Time{},
	}
}

// Enabled reports the current config flag; Apply may change it concurrently.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. A timezone change restarts cron in the new
// location; everything else takes effect without a restart.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg

	if s.c != nil && strings.TrimSpace(cfg.Timezone) != prevTZ {
		s.restartLocked()
	}
}

// Start begins cron triggering. Definitions registered before Start are
// picked up; later AddCron calls register live.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.buildCronLocked()
	s.log.Info("scheduler started",
		logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop halts triggering. A job already handed to the engine is not
// interrupted; the engine owns the run lifecycle.
func (s *Service) Stop(ctx context.Context) {
	began := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(began)))
}

// buildCronLocked creates the cron runner in the configured location and
// registers every known definition. Call with s.mu held.
func (s *Service) buildCronLocked() {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for i := range s.defs {
		_ = s.addCronLocked(&s.defs[i])
	}
	s.c.Start()
}

func (s *Service) restartLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	s.buildCronLocked()
	s.log.Info("scheduler restarted",
		logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to UTC", logx.String("tz", tz), logx.Err(err))
		return time.UTC
	}
	return loc
}

const enqueueWarnEvery = 5 * time.Second

// reportEnqueueError logs enqueue failures without letting a wedged engine
// flood the log. Overlap skips are routine and logged at debug only.
func (s *Service) reportEnqueueError(name string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("schedule trigger skipped", logx.String("schedule", name), logx.Err(err))
		return
	}
	if !s.allowEnqueueWarn(name, time.Now()) {
		return
	}
	s.log.Warn("schedule failed to enqueue task", logx.String("schedule", name), logx.Err(err))
}

func (s *Service) allowEnqueueWarn(name string, now time.Time) bool {
	s.enqMu.Lock()
	defer s.enqMu.Unlock()
	if s.lastEnqWarn == nil {
		s.lastEnqWarn = make(map[string]time.Time)
	}
	if last, ok := s.lastEnqWarn[name]; ok && now.Sub(last) < enqueueWarnEvery {
		return false
	}
	s.lastEnqWarn[name] = now
	return true
}
