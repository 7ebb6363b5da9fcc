package pprof

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	rtsup "quotebot/internal/runtime/supervisor"
	logx "quotebot/pkg/logx"
)

// Config controls the optional pprof HTTP server.
//
// The default bind is loopback. A non-loopback bind requires either Token or
// an explicit AllowInsecure opt-in.
type Config struct {
	Enabled       bool
	Addr          string
	Prefix        string
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	MutexProfileFraction int
	BlockProfileRate     int
	MemProfileRate       int
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	ln       net.Listener
	srv      *http.Server
	sup      *rtsup.Supervisor
	stopDone chan struct{}
}

func New(cfg Config, log logx.Logger) *Service {
	return &Service{cfg: cfg, log: log}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Supervisor returns the internal supervisor, nil while not running. Health
// reporting uses it to surface serve-loop restarts.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Addr returns the bound listen address, "" while the server is not running.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Reconfigure applies cfg, starting, stopping or restarting the server as
// needed. Safe to call from the hot-reload path.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	// Profile rates apply even while the HTTP server stays off.
	applyProfileRates(cfg)

	s.mu.Lock()
	prev := s.cfg
	running := s.srv != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
	case !running:
		s.Start(ctx)
	case restartNeeded(prev, cfg):
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// restartNeeded reports whether a config change requires rebinding.
func restartNeeded(a, b Config) bool {
	return a.Addr != b.Addr ||
		a.Token != b.Token ||
		a.AllowInsecure != b.AllowInsecure ||
		canonPrefix(a.Prefix) != canonPrefix(b.Prefix) ||
		a.ReadTimeout != b.ReadTimeout ||
		a.WriteTimeout != b.WriteTimeout ||
		a.IdleTimeout != b.IdleTimeout
}

func applyProfileRates(cfg Config) {
	// 0 keeps the Go default. Explicit -1 is not supported.
	if cfg.MutexProfileFraction >= 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate >= 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
	if cfg.MemProfileRate > 0 {
		runtime.MemProfileRate = cfg.MemProfileRate
	}
}

// Start brings the server up under a restart supervisor. Idempotent; a
// concurrent Stop is waited out first.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()
	applyProfileRates(cur)

	for {
		s.mu.Lock()
		if s.stopDone != nil {
			done := s.stopDone
			s.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return
			}
		}
		if s.sup != nil || !s.cfg.Enabled {
			s.mu.Unlock()
			return
		}

		sup := rtsup.NewSupervisor(ctx,
			rtsup.WithLogger(s.log),
			// Optional observability must never take the app down with it.
			rtsup.WithCancelOnError(false),
		)
		s.sup = sup
		s.mu.Unlock()

		sup.GoRestart("pprof.http", s.serve,
			rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		)
		return
	}
}

func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.sup == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		// Another Stop is already in flight; wait for it.
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	srv, ln, sup := s.srv, s.ln, s.sup
	s.mu.Unlock()

	go s.teardown(ctx, srv, ln, sup, done)

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// teardown runs asynchronously so Stop callers can time out while shutdown
// still completes in the background.
func (s *Service) teardown(ctx context.Context, srv *http.Server, ln net.Listener, sup *rtsup.Supervisor, done chan struct{}) {
	defer close(done)

	if srv != nil {
		_ = srv.Shutdown(ctx)
		_ = srv.Close()
	}
	if ln != nil {
		_ = ln.Close()
	}
	sup.Cancel()
	_ = sup.Wait(context.Background())

	s.mu.Lock()
	s.srv = nil
	s.ln = nil
	s.sup = nil
	s.stopDone = nil
	s.mu.Unlock()
	s.log.Info("pprof stopped")
}

// serve binds, serves and blocks until the server exits. It runs under
// GoRestart, so returning a non-cancellation error schedules a retry.
func (s *Service) serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()

	if !cur.Enabled {
		return context.Canceled
	}

	addr := listenAddr(cur)
	if err := guardBind(cur, addr, s.log); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("pprof listen failed", logx.String("addr", addr), logx.Err(err))
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	defer func() { _ = ln.Close() }()

	prefix := canonPrefix(cur.Prefix)
	srv := &http.Server{
		Handler:      newMux(prefix, cur.Token),
		ReadTimeout:  cur.ReadTimeout,
		WriteTimeout: cur.WriteTimeout,
		IdleTimeout:  cur.IdleTimeout,
	}
	defer func() { _ = srv.Close() }()

	s.mu.Lock()
	s.ln = ln
	s.srv = srv
	s.mu.Unlock()

	// Unblock Serve when the supervisor context ends. Bounded; the real
	// graceful shutdown happens in Stop.
	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	bound := ln.Addr().String()
	s.log.Info("pprof started",
		logx.String("addr", bound),
		logx.String("prefix", prefix),
		logx.Bool("token_set", cur.Token != ""),
		logx.String("hint", fmt.Sprintf("http://%s%s", bound, prefix)))

	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv = nil
		s.ln = nil
	}
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if stopping || ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("pprof server exited unexpectedly")
	}
	return err
}

func listenAddr(cfg Config) string {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return "127.0.0.1:6060"
	}
	return addr
}

// guardBind rejects a non-loopback bind that has neither a token nor an
// explicit insecure opt-in. Checked before listening so a misconfigured
// server never opens the port.
func guardBind(cfg Config, addr string, log logx.Logger) error {
	if isLoopbackAddr(addr) {
		return nil
	}
	if cfg.Token == "" {
		if !cfg.AllowInsecure {
			log.Error("pprof refused to start: non-loopback addr requires token or allow_insecure",
				logx.String("addr", addr))
			return errors.New("pprof refused to start: insecure bind")
		}
		log.Warn("pprof running without token on non-loopback addr (insecure)", logx.String("addr", addr))
	}
	return nil
}
