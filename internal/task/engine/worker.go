package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync/atomic"
	"time"

	"quotebot/internal/eventbus"
	logx "quotebot/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask, idx int) {
	// Per-worker RNG; retry jitter must not share the global source lock.
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ (int64(idx) << 32)))

	for {
		// Shutdown beats queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt, ok := <-queue:
			if !ok {
				return
			}
			atomic.AddInt32(&s.inFlight, 1)
			s.run(ctx, stopCh, qt, rng)
			atomic.AddInt32(&s.inFlight, -1)
		}
	}
}

// run executes one dequeued task end to end: stale check, attempts with
// backoff, then history, breaker accounting and lifecycle events.
func (s *Service) run(ctx context.Context, stopCh <-chan struct{}, qt queuedTask, rng *rand.Rand) {
	start := time.Now()
	var wait time.Duration
	if !qt.queuedAt.IsZero() {
		if wait = start.Sub(qt.queuedAt); wait < 0 {
			wait = 0
		}
	}

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	if cfg.MaxQueueDelay > 0 && wait > cfg.MaxQueueDelay {
		if qt.gated && qt.gate != nil {
			qt.gate.release()
		}
		s.onStaleDropped(start, qt.task, wait)
		s.appendHistory(cfg, HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Trigger: qt.task.Trigger, Started: start, QueueDelay: wait, Error: "stale_queue_delay"})
		return
	}
	if qt.gated && qt.gate != nil {
		defer qt.gate.release()
	}

	s.log.Debug("task.started", logx.String("task", qt.task.Name), logx.Duration("queue_delay", wait))
	s.emit(eventbus.TypeTaskStarted, start, TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Trigger: qt.task.Trigger, Started: start, QueueDelay: wait})

	err, attempts := s.attempt(ctx, stopCh, qt, rng)

	dur := time.Since(start)
	item := HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Trigger: qt.task.Trigger, Started: start, Duration: dur, QueueDelay: wait}
	ev := TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Trigger: qt.task.Trigger, Started: start, QueueDelay: wait, Duration: dur, Attempts: attempts}

	if err != nil {
		item.Error = err.Error()
		ev.Error = item.Error
		s.log.Warn("task.failed",
			logx.String("task", qt.task.Name),
			logx.Err(err),
			logx.Duration("queue_delay", wait),
			logx.Duration("dur", dur),
			logx.Int("attempts", attempts),
		)
		s.emit(eventbus.TypeTaskFailed, time.Now(), ev)
	} else {
		// A posting cycle normally finishes well under a second; slower runs
		// get an info line.
		fields := []logx.Field{
			logx.String("task", qt.task.Name),
			logx.Duration("queue_delay", wait),
			logx.Duration("dur", dur),
			logx.Int("attempts", attempts),
		}
		if dur >= 750*time.Millisecond {
			s.log.Info("task.completed", fields...)
		} else {
			s.log.Debug("task.completed", fields...)
		}
		s.emit(eventbus.TypeTaskSucceeded, time.Now(), ev)
	}

	// Breaker sees the final outcome, not individual attempts.
	s.breakerRecord(time.Now(), qt.task.Name, cfg, err)
	s.appendHistory(cfg, item)
}

// attempt runs the task until success, a permanent failure, exhausted
// retries, or shutdown. It reports the final error and how many attempts ran.
func (s *Service) attempt(ctx context.Context, stopCh <-chan struct{}, qt queuedTask, rng *rand.Rand) (error, int) {
	total := 1
	if qt.opt.RetryMax > 0 {
		total += qt.opt.RetryMax
	}

	for n := 1; ; n++ {
		err := s.safeRun(ctx, qt)
		if err == nil {
			return nil, n
		}
		var p permanentErr
		if errors.As(err, &p) {
			return p.cause, n
		}
		if n >= total {
			return err, n
		}

		delay := backoffDelayWithHint(qt.opt, n, err, rng)
		if delay <= 0 {
			continue
		}
		s.log.Debug("task retry scheduled",
			logx.String("task", qt.task.Name),
			logx.Int("attempt", n+1),
			logx.Duration("delay", delay),
			logx.Err(err),
		)
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return ctx.Err(), n
		case <-stopCh:
			tmr.Stop()
			return errors.New("task engine stopped"), n
		case <-tmr.C:
		}
	}
}

// safeRun executes a single attempt under the per-task timeout, converting
// panics into errors so one bad run cannot take the worker down.
func (s *Service) safeRun(ctx context.Context, qt queuedTask) (err error) {
	runCtx := ctx
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task.panic",
				logx.String("task", qt.task.Name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()
	return qt.task.Run(runCtx)
}

// backoffDelayWithHint prefers an explicit RetryAfter hint over the computed
// backoff. Hints are clamped to RetryMaxDelay and jittered like everything
// else so synchronized retries spread out.
func backoffDelayWithHint(opt TaskOptions, retry int, err error, rng *rand.Rand) time.Duration {
	var hint RetryAfterError
	if err == nil || !errors.As(err, &hint) {
		return backoffDelay(opt, retry, rng)
	}

	maxD := opt.RetryMaxDelay
	if maxD <= 0 {
		maxD = 15 * time.Second
	}
	d := hint.RetryAfter()
	if d < 0 {
		d = 0
	}
	if d > maxD {
		d = maxD
	}
	d = jittered(d, jitterFrac(opt), rng)
	if d > maxD {
		d = maxD
	}
	return d
}

// backoffDelay doubles RetryBase per retry, capped at RetryMaxDelay, with
// proportional jitter.
func backoffDelay(opt TaskOptions, retry int, rng *rand.Rand) time.Duration {
	base := opt.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxD := opt.RetryMaxDelay
	if maxD <= 0 {
		maxD = 15 * time.Second
	}

	d := base
	for i := 1; i < retry && d < maxD; i++ {
		d *= 2
	}
	if d > maxD {
		d = maxD
	}
	d = jittered(d, jitterFrac(opt), rng)
	if d > maxD {
		d = maxD
	}
	return d
}

func jitterFrac(opt TaskOptions) float64 {
	if opt.RetryJitter <= 0 {
		return 0.2
	}
	return opt.RetryJitter
}

// jittered scales d by a uniform factor in [1-frac, 1+frac].
func jittered(d time.Duration, frac float64, rng *rand.Rand) time.Duration {
	if d <= 0 || frac <= 0 || rng == nil {
		return d
	}
	f := 1 + (rng.Float64()*2-1)*frac
	out := time.Duration(float64(d) * f)
	if out < 0 {
		return 0
	}
	return out
}
