package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func stopTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func waitErr(t *testing.T, s *Supervisor) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for s.Err() == nil {
		select {
		case <-deadline:
			t.Fatal("no error recorded within 2s")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func findRun(st Status, name string) (RunStats, bool) {
	for _, g := range st.Goroutines {
		if g.Name == name {
			return g, true
		}
	}
	return RunStats{}, false
}

func TestGoCleanExit(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	s.Go("worker", func(context.Context) error { return nil })

	if err := s.Stop(stopTimeout(t)); err != nil {
		t.Fatalf("Stop() = %v, want nil", err)
	}
	c := s.Counters()
	if c.Started != 1 || c.Active != 0 {
		t.Fatalf("Counters() = %+v, want started=1 active=0", c)
	}
}

func TestGoKeepsFirstError(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	first := errors.New("boom")
	s.Go("a", func(context.Context) error { return first })
	waitErr(t, s)
	s.Go("b", func(context.Context) error { return errors.New("later") })

	err := s.Stop(stopTimeout(t))
	if !errors.Is(err, first) {
		t.Fatalf("Stop() = %v, want first error %v", err, first)
	}
}

func TestGoCanceledIsCleanStop(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	s.Go("worker", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s.Cancel()
	if err := s.Wait(stopTimeout(t)); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
}

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	s.Go("worker", func(context.Context) error { panic("kaboom") })

	err := s.Stop(stopTimeout(t))
	if err == nil || !strings.Contains(err.Error(), "panic") {
		t.Fatalf("Stop() = %v, want panic error", err)
	}
	snap := s.Snapshot()
	if snap.FirstError == "" {
		t.Fatal("Snapshot().FirstError empty, want panic message")
	}
	run, ok := findRun(snap, "worker")
	if !ok {
		t.Fatal("Snapshot() missing worker entry")
	}
	if run.Panics != 1 || !strings.Contains(run.LastPanic, "kaboom") {
		t.Fatalf("run stats = %+v, want one recorded panic", run)
	}
}

func TestCancelOnErrorStopsGroup(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	s.Go("blocked", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s.Go("failing", func(context.Context) error { return errors.New("boom") })

	err := s.Wait(stopTimeout(t))
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("Wait() = %v, want failing goroutine error", err)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	release := make(chan struct{})
	s.Go("slow", func(context.Context) error {
		<-release
		return nil
	})

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Wait(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() = %v, want deadline exceeded", err)
	}

	close(release)
	if err := s.Stop(stopTimeout(t)); err != nil {
		t.Fatalf("Stop() = %v, want nil", err)
	}
}

func TestGoRestartGivesUpAfterMaxRestarts(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	var runs atomic.Int64
	s.GoRestart("flappy", func(context.Context) error {
		runs.Add(1)
		return errors.New("boom")
	},
		WithRestartBackoff(time.Millisecond, 2*time.Millisecond),
		WithMaxRestarts(2),
		WithFatalOnFinalError(true),
	)

	err := s.Wait(stopTimeout(t))
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("Wait() = %v, want final error", err)
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3 (initial plus two restarts)", got)
	}
	run, ok := findRun(s.Snapshot(), "flappy")
	if !ok || run.Restarts != 2 {
		t.Fatalf("run stats = %+v, want restarts=2", run)
	}
}

func TestGoRestartStopsOnCleanExit(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	var runs atomic.Int64
	s.GoRestart("oneshot", func(context.Context) error {
		runs.Add(1)
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	if err := s.Wait(stopTimeout(t)); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs = %d, want 1", got)
	}
}

func TestGoRestartLoopsOnCleanExitWhenConfigured(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	var runs atomic.Int64
	s.GoRestart("pump", func(context.Context) error {
		runs.Add(1)
		return nil
	},
		WithRestartBackoff(time.Millisecond, 2*time.Millisecond),
		WithStopOnCleanExit(false),
	)

	deadline := time.After(2 * time.Second)
	for runs.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("runs = %d, want >= 3 within 2s", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	s.Cancel()
	if err := s.Wait(stopTimeout(t)); err != nil {
		t.Fatalf("Wait() = %v, want nil after cancel", err)
	}
}
