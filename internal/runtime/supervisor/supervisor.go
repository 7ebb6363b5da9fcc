package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	logx "quotebot/pkg/logx"
)

// Supervisor runs named goroutines under one shared context. Panics are
// recovered, the first failure is remembered, and WithCancelOnError tears
// the whole group down as soon as any member fails.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	started atomic.Uint64
	active  atomic.Int64

	errOnce  sync.Once
	firstErr atomic.Value // error

	wg       sync.WaitGroup
	waitOnce sync.Once
	idle     chan struct{}

	runs ledger
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger attaches a logger for goroutine lifecycle events.
func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the supervisor context as soon as any goroutine
// fails or panics. Off unless set.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func NewSupervisor(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		idle:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel signals every goroutine to stop. It does not wait for them.
func (s *Supervisor) Cancel() { s.cancel() }

// Err reports the first error recorded by any supervised goroutine.
func (s *Supervisor) Err() error {
	err, _ := s.firstErr.Load().(error)
	return err
}

// Go runs fn in a supervised goroutine. A nil or context.Canceled return is
// a clean stop; anything else is remembered via Err and, under
// WithCancelOnError, cancels the group.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.started.Add(1)
	s.active.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)

		s.log.Debug("goroutine started", logx.String("name", name))
		began := s.runs.start(name, false)
		err, pan, stack := capture(s.ctx, fn)
		if pan != nil {
			s.runs.panicked(name, pan)
			s.log.Error("goroutine panicked",
				logx.String("name", name),
				logx.Any("panic", pan),
				logx.String("stack", string(stack)))
			err = fmt.Errorf("%s: panic: %v", name, pan)
			s.runs.stop(name, began, err)
			s.fail(err)
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%s: %w", name, err)
			s.runs.stop(name, began, err)
			s.fail(err)
		} else {
			s.runs.stop(name, began, nil)
		}
		s.log.Debug("goroutine stopped", logx.String("name", name))
	}()
}

// Go0 is Go for functions with no error to report.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// Stop cancels the group and waits for it to drain, bounded by ctx.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every supervised goroutine has exited or ctx is done.
// Once drained it returns the first recorded error, if any.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.idle)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.idle:
		return s.Err()
	}
}

func (s *Supervisor) fail(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() { s.firstErr.Store(err) })
	if s.cancelOnErr {
		s.cancel()
	}
}

// capture invokes fn, turning a panic into a returned value plus stack.
func capture(ctx context.Context, fn func(context.Context) error) (err error, pan any, stack []byte) {
	defer func() {
		if r := recover(); r != nil {
			pan = r
			stack = debug.Stack()
		}
	}()
	err = fn(ctx)
	return
}
