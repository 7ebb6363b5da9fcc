package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"quotebot/internal/eventbus"
	logx "quotebot/pkg/logx"
)

func newTestEngine(t *testing.T, cfg Config, bus eventbus.Bus) *Service {
	t.Helper()
	if bus == nil {
		bus = eventbus.New()
	}
	s := New(cfg, logx.Nop(), bus)
	return s
}

func newTestRand() *rand.Rand { return rand.New(rand.NewSource(1)) }

func TestEnqueueWhenDisabled(t *testing.T) {
	t.Parallel()
	s := newTestEngine(t, Config{Enabled: false}, nil)
	err := s.Enqueue(Task{Name: "post_quote", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("Enqueue error = %v, want ErrDisabled", err)
	}
}

func TestEnqueueBeforeStart(t *testing.T) {
	t.Parallel()
	s := newTestEngine(t, Config{Enabled: true}, nil)
	err := s.Enqueue(Task{Name: "post_quote", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue error = %v, want ErrStopped", err)
	}
}

func TestOverlapSkipWhileRunning(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newTestEngine(t, Config{Enabled: true, Workers: 1, QueueSize: 4}, nil)
	s.Start(ctx)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		s.Stop(stopCtx)
	}()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	err := s.Enqueue(Task{
		Name: "post_quote",
		Run: func(context.Context) error {
			close(started)
			<-release
			close(done)
			return nil
		},
		Opt: TaskOptions{Overlap: OverlapSkipIfRunning},
	})
	if err != nil {
		t.Fatalf("first Enqueue error: %v", err)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not start")
	}

	err = s.Enqueue(Task{
		Name: "post_quote",
		Run:  func(context.Context) error { return nil },
		Opt:  TaskOptions{Overlap: OverlapSkipIfRunning},
	})
	if !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second Enqueue error = %v, want ErrOverlapSkip", err)
	}

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not finish")
	}
}

func TestRetryUntilSuccess(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newTestEngine(t, Config{Enabled: true, Workers: 1, QueueSize: 4}, nil)
	s.Start(ctx)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		s.Stop(stopCtx)
	}()

	var attempts int32
	done := make(chan struct{})
	err := s.Enqueue(Task{
		Name: "flaky",
		Run: func(context.Context) error {
			n := atomic.AddInt32(&attempts, 1)
			if n < 3 {
				return errors.New("transient")
			}
			close(done)
			return nil
		},
		Opt: TaskOptions{RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not succeed within retries")
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestNoRetryRunsOnce(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := newTestEngine(t, Config{Enabled: true, Workers: 1, QueueSize: 4}, bus)
	s.Start(ctx)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		s.Stop(stopCtx)
	}()

	var attempts int32
	err := s.Enqueue(Task{
		Name: "permanent",
		Run: func(context.Context) error {
			atomic.AddInt32(&attempts, 1)
			return NoRetry(errors.New("rejected"))
		},
		Opt: TaskOptions{RetryMax: 5, RetryBase: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type != eventbus.TypeTaskFailed {
				continue
			}
			te, ok := ev.Data.(TaskEvent)
			if !ok {
				t.Fatalf("unexpected event payload %T", ev.Data)
			}
			if te.Attempts != 1 {
				t.Fatalf("Attempts = %d, want 1", te.Attempts)
			}
			if got := atomic.LoadInt32(&attempts); got != 1 {
				t.Fatalf("attempts = %d, want 1", got)
			}
			return
		case <-deadline:
			t.Fatal("no task.failed event")
		}
	}
}

func TestBreakerOpensAfterStreak(t *testing.T) {
	t.Parallel()
	cfg := Config{Enabled: true, TripFailures: 2, TripBaseDelay: time.Minute, TripMaxDelay: time.Hour, TripResetAfter: time.Hour}
	s := newTestEngine(t, cfg, nil)

	now := time.Now()
	fail := errors.New("boom")

	s.breakerRecord(now, "post_quote", cfg, fail)
	if open, _ := s.breakerIsOpen(now, "post_quote", cfg); open {
		t.Fatal("breaker open after one failure")
	}
	s.breakerRecord(now, "post_quote", cfg, fail)
	open, until := s.breakerIsOpen(now, "post_quote", cfg)
	if !open {
		t.Fatal("breaker not open after streak")
	}
	if !until.After(now) {
		t.Fatalf("openUntil = %v, want later than now", until)
	}

	// Success closes it again.
	s.breakerRecord(until.Add(time.Second), "post_quote", cfg, nil)
	if open, _ := s.breakerIsOpen(until.Add(2*time.Second), "post_quote", cfg); open {
		t.Fatal("breaker still open after success")
	}
}

func TestBreakerDisabled(t *testing.T) {
	t.Parallel()
	cfg := Config{Enabled: true, TripFailures: -1}
	s := newTestEngine(t, cfg, nil)

	now := time.Now()
	for i := 0; i < 10; i++ {
		s.breakerRecord(now, "post_quote", cfg, errors.New("boom"))
	}
	if open, _ := s.breakerIsOpen(now, "post_quote", cfg); open {
		t.Fatal("disabled breaker opened")
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	t.Parallel()
	opt := TaskOptions{RetryBase: 10 * time.Millisecond, RetryMaxDelay: 40 * time.Millisecond, RetryJitter: 0.2}
	rng := newTestRand()
	for retry := 1; retry <= 6; retry++ {
		d := backoffDelay(opt, retry, rng)
		if d < 0 || d > opt.RetryMaxDelay {
			t.Fatalf("retry %d: delay %v outside [0, %v]", retry, d, opt.RetryMaxDelay)
		}
	}
}

func TestRetryAfterHintBounded(t *testing.T) {
	t.Parallel()
	opt := TaskOptions{RetryBase: 10 * time.Millisecond, RetryMaxDelay: 100 * time.Millisecond, RetryJitter: 0.2}
	err := RetryAfter(errors.New("rate limited"), 10*time.Second)
	d := backoffDelayWithHint(opt, 1, err, newTestRand())
	if d > opt.RetryMaxDelay {
		t.Fatalf("delay %v exceeds max %v", d, opt.RetryMaxDelay)
	}
}

func TestNoRetryUnwraps(t *testing.T) {
	t.Parallel()
	base := errors.New("bad input")
	wrapped := NoRetry(base)
	if !IsNoRetry(wrapped) {
		t.Fatal("IsNoRetry = false")
	}
	if !errors.Is(wrapped, base) {
		t.Fatal("wrapped error does not unwrap to base")
	}
	if NoRetry(nil) != nil {
		t.Fatal("NoRetry(nil) should be nil")
	}
}
