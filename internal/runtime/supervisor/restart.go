package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	logx "quotebot/pkg/logx"
)

const (
	defaultRestartMin = 250 * time.Millisecond
	defaultRestartMax = 30 * time.Second

	// A run that survives this long resets the backoff, so a long-lived
	// loop that fails once in a while comes back promptly.
	steadyRuntime = 30 * time.Second
)

// RestartOption configures GoRestart.
type RestartOption func(*restartPolicy)

type restartPolicy struct {
	min, max      time.Duration
	maxRestarts   int // <=0 means unlimited
	stopOnClean   bool
	fatalOnGiveUp bool
}

// WithRestartBackoff bounds the delay between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.min = min
		}
		if max > 0 {
			p.max = max
		}
	}
}

// WithMaxRestarts gives up after n restarts. The initial run does not count.
func WithMaxRestarts(n int) RestartOption {
	return func(p *restartPolicy) { p.maxRestarts = n }
}

// WithFatalOnFinalError records the last error via Err when the loop gives
// up, cancelling the group if WithCancelOnError is set.
func WithFatalOnFinalError(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.fatalOnGiveUp = enabled }
}

// WithStopOnCleanExit stops the loop when fn returns nil instead of
// restarting it. On unless disabled.
func WithStopOnCleanExit(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.stopOnClean = enabled }
}

// GoRestart keeps fn running until the context is done, restarting it after
// errors and panics with jittered exponential backoff. Meant for long-lived
// loops (servers, watchers, pumps) that should ride out transient failures
// without taking the process down.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	pol := restartPolicy{min: defaultRestartMin, max: defaultRestartMax, stopOnClean: true}
	for _, opt := range opts {
		opt(&pol)
	}
	if pol.min <= 0 {
		pol.min = defaultRestartMin
	}
	if pol.max < pol.min {
		pol.max = pol.min
	}
	// The host goroutine carries a derived name so the logical name's stats
	// count fn's runs, not the loop itself.
	s.Go0(name+".restart", func(ctx context.Context) {
		s.runRestarts(ctx, name, fn, pol)
	})
}

func (s *Supervisor) runRestarts(ctx context.Context, name string, fn func(context.Context) error, pol restartPolicy) {
	delay := restartDelay{
		min: pol.min,
		max: pol.max,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	restarts := 0
	for ctx.Err() == nil {
		began := s.runs.start(name, restarts > 0)
		err, pan, stack := capture(ctx, fn)
		if pan != nil {
			s.runs.panicked(name, pan)
			s.log.Error("goroutine panicked",
				logx.String("name", name),
				logx.Any("panic", pan),
				logx.String("stack", string(stack)))
			err = fmt.Errorf("panic: %v", pan)
		}

		// A run that ends during shutdown is a clean stop, even if it
		// surfaced an error on the way out.
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			s.runs.stop(name, began, nil)
			return
		}
		if err == nil {
			if pol.stopOnClean {
				s.runs.stop(name, began, nil)
				return
			}
			err = errors.New("exited")
		}
		s.runs.stop(name, began, fmt.Errorf("%s: %w", name, err))

		restarts++
		if time.Since(began) >= steadyRuntime {
			delay.reset()
		}
		if pol.maxRestarts > 0 && restarts > pol.maxRestarts {
			s.log.Error("goroutine gave up after restarts",
				logx.String("name", name),
				logx.Int("restarts", restarts),
				logx.Err(err))
			if pol.fatalOnGiveUp {
				s.fail(fmt.Errorf("%s: %w", name, err))
			}
			return
		}

		wait := delay.next()
		s.log.Warn("goroutine restarting",
			logx.String("name", name),
			logx.Duration("backoff", wait),
			logx.Err(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// restartDelay doubles from min to max, adding up to 20% jitter per step.
type restartDelay struct {
	min, max, cur time.Duration
	rng           *rand.Rand
}

func (d *restartDelay) reset() { d.cur = 0 }

func (d *restartDelay) next() time.Duration {
	if d.cur <= 0 {
		d.cur = d.min
	}
	wait := d.cur
	d.cur *= 2
	if d.cur > d.max {
		d.cur = d.max
	}
	if j := int64(wait / 5); j > 0 {
		wait += time.Duration(d.rng.Int63n(j + 1))
	}
	return wait
}
