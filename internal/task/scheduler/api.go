package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"quotebot/internal/eventbus"
	"quotebot/internal/task/engine"
	logx "quotebot/pkg/logx"
)

// AddCron registers a cron-triggered job.
//
// name is the schedule identifier (upsert key, stable for Remove). task is
// the engine task name; schedules that share a task share its overlap gate,
// so the default SkipIfRunning policy skips a firing while any sibling
// schedule's run is still in flight.
func (s *Service) AddCron(name, task, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	return s.AddCronOpt(name, task, spec, timeout, TaskOptions{Overlap: OverlapSkipIfRunning}, job)
}

// AddCronOpt is AddCron with task options.
func (s *Service) AddCronOpt(name, task, spec string, timeout time.Duration, opt TaskOptions, job func(ctx context.Context) error) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(name) == "" {
		return "", errors.New("name required")
	}
	if strings.TrimSpace(task) == "" {
		task = name
	}
	// Upsert by name: remove a previous schedule with the same name to prevent
	// duplicates across hot-reloads or repeated registrations.
	_ = s.removeScheduleLocked(name)
	id := fmt.Sprintf("cron:%d", time.Now().UnixNano())
	d := scheduleDef{
		id:      id,
		name:    name,
		task:    task,
		spec:    spec,
		timeout: timeout,
		job:     job,
		opt:     opt,
	}
	s.defs = append(s.defs, d)
	if s.c != nil {
		err := s.addCronLocked(&s.defs[len(s.defs)-1])
		if err != nil {
			s.log.Error("schedule register failed", logx.String("name", name), logx.String("spec", spec), logx.Err(err))
		} else {
			next := s.previewNextRunsLocked(spec, 4)
			args := []logx.Field{logx.String("name", name), logx.String("id", id), logx.String("spec", spec), logx.Duration("timeout", d.timeout)}
			if next != "" {
				args = append(args, logx.String("next", next))
			}
			s.log.Debug("schedule registered", args...)
		}
		// Return the schedule name (stable identifier for Remove(name)).
		return name, err
	}
	// Scheduler not started yet: keep the definition and register on Start().
	return name, nil
}

// AddDaily registers a daily trigger at HH:MM in the scheduler timezone.
func (s *Service) AddDaily(name, task, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return "", err
	}
	spec := fmt.Sprintf("%d %d * * *", m, h)
	return s.AddCronOpt(name, task, spec, timeout, TaskOptions{Overlap: OverlapSkipIfRunning}, job)
}

// Remove unschedules all schedules with the given name. It returns true if
// something was removed. Safe to call when the scheduler is not started.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}

	s.mu.Lock()
	removed := s.removeScheduleLocked(name)
	s.mu.Unlock()

	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// Names returns the currently registered schedule names.
func (s *Service) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.defs))
	for _, d := range s.defs {
		out = append(out, d.name)
	}
	return out
}

// removeScheduleLocked removes all defs matching name and unregisters them
// from cron if running. Call with s.mu held.
func (s *Service) removeScheduleLocked(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	removed := false
	if s.c != nil {
		for i := range s.defs {
			if s.defs[i].name == name && s.defs[i].entryID != 0 {
				s.c.Remove(s.defs[i].entryID)
				s.defs[i].entryID = 0
				removed = true
			}
		}
	}
	// Remove from persisted defs regardless of running state.
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	if n < len(s.defs) {
		s.defs = s.defs[:n]
	}
	return removed
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	name := d.name
	task := d.task
	spec := d.spec
	timeout := d.timeout
	run := d.job
	opt := d.opt

	job := cron.FuncJob(func() {
		s.fire(name, task, spec, timeout, run, opt)
	})

	eid, err := s.c.AddJob(spec, job)
	if err == nil {
		d.entryID = eid
	}
	return err
}

// fire publishes the trigger event and hands the job to the engine.
func (s *Service) fire(name, task, spec string, timeout time.Duration, run func(ctx context.Context) error, opt TaskOptions) {
	now := time.Now()
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeSchedulerTrigger, Time: now, Data: TriggerEvent{Name: name, Spec: spec, At: now}})
	}
	if s.engine == nil {
		return
	}
	err := s.engine.Enqueue(engine.Task{
		Name:    task,
		Trigger: name,
		Timeout: timeout,
		Run:     run,
		Opt:     opt,
	})
	if err != nil {
		s.reportEnqueueError(name, err)
	}
}

// previewNextRunsLocked returns a short, human-friendly list of upcoming run
// times for the given cron spec. Call with s.mu held.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if s.log.IsZero() {
		return ""
	}
	if !s.log.Enabled(logx.LevelDebug) {
		return ""
	}
	if n <= 0 {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now().In(loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
