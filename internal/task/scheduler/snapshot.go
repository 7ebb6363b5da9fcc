package scheduler

import (
	"strings"
	"time"

	"quotebot/internal/task/engine"
)

// Snapshot reports the registered schedules with their fire times plus the
// executor diagnostics of the attached engine.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Enabled:  s.cfg.Enabled,
		Timezone: strings.TrimSpace(s.cfg.Timezone),
	}
	defs := append([]scheduleDef(nil), s.defs...)
	c := s.c
	loc := s.loc
	eng := s.engine
	s.mu.Unlock()

	if loc == nil {
		loc = time.UTC
	}
	if snap.Timezone == "" {
		snap.Timezone = loc.String()
	}

	snap.Schedules = make([]ScheduleInfo, 0, len(defs))
	for _, d := range defs {
		info := ScheduleInfo{ID: d.id, Name: d.name, Task: d.task, Spec: d.spec, Timeout: d.timeout}
		if c != nil && d.entryID != 0 {
			entry := c.Entry(d.entryID)
			info.Next, info.Prev = entry.Next, entry.Prev
		}
		snap.Schedules = append(snap.Schedules, info)
	}

	snap.History = []HistoryItem{}
	if eng != nil {
		es := eng.Snapshot()
		snap.Workers = es.Workers
		snap.InFlight = es.InFlight
		snap.QueueLen = es.QueueLen
		snap.QueueCap = es.QueueCap
		snap.Dropped = es.Dropped
		snap.DroppedQueueFull = es.DroppedQueueFull
		snap.DroppedStale = es.DroppedStale
		snap.DefaultTimeout = es.DefaultTimeout
		snap.MaxQueueDelay = es.MaxQueueDelay
		snap.RetryMax = es.RetryMax
		snap.History = es.History
	}

	// Report the effective retry settings the executor would use.
	opt := engine.DefaultTaskOptions(engine.Config{RetryMax: snap.RetryMax})
	snap.RetryMax = opt.RetryMax
	snap.RetryBase = opt.RetryBase
	snap.RetryMaxDelay = opt.RetryMaxDelay
	snap.RetryJitter = opt.RetryJitter

	return snap
}

// PreviewNext computes the next n fire times for a cron expression in the
// scheduler timezone.
func (s *Service) PreviewNext(expr string, n int) ([]time.Time, error) {
	s.mu.Lock()
	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	s.mu.Unlock()
	return NextRuns(expr, loc, time.Now(), n)
}
