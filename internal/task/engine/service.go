package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"quotebot/internal/eventbus"
	rtsup "quotebot/internal/runtime/supervisor"
	logx "quotebot/pkg/logx"
)

// warnThrottleEvery bounds how often drop warnings hit the log.
const warnThrottleEvery = 5 * time.Second

// Service is a bounded-queue task executor: a fixed worker pool, per-attempt
// timeout, retry with backoff, an overlap gate keyed by task name, and a
// consecutive-failure breaker. The posting job is its only steady customer,
// so the defaults stay small.
type Service struct {
	mu  sync.Mutex
	cfg Config

	log logx.Logger
	bus eventbus.Bus

	queue    chan queuedTask
	stopCh   chan struct{}
	stopDone chan struct{}
	sup      *rtsup.Supervisor

	inFlight int32

	stateMu   sync.Mutex
	runStates map[string]*RunState

	breakers breakerStore

	histMu sync.Mutex
	hist   []HistoryItem

	idSeq uint64

	dropped          uint64
	droppedQueueFull uint64
	droppedStale     uint64

	queueFullWarnAt int64
	staleWarnAt     int64
}

// queuedTask is the unit handed to workers.
type queuedTask struct {
	task Task

	queuedAt time.Time
	timeout  time.Duration
	opt      TaskOptions

	// gate is the per-task-name overlap gate; gated means this run acquired
	// it and the worker must release it.
	gate  *RunState
	gated bool
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	return &Service{
		cfg:       cfg,
		log:       log,
		bus:       bus,
		runStates: make(map[string]*RunState),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Supervisor exposes the worker pool's supervisor for diagnostics
// (nil when stopped).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Apply swaps the config. Worker or queue sizing changes restart the pool;
// everything else takes effect on the next enqueue.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.stopCh != nil && s.stopDone == nil
	s.mu.Unlock()

	if !running {
		return
	}
	if prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize {
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start launches the worker pool. Idempotent; a Start that lands during a
// Stop waits for the stop to finish, then brings the pool back up.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		s.mu.Lock()
		if !s.cfg.Enabled {
			s.mu.Unlock()
			return
		}
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
		if s.stopCh != nil {
			// already running
			s.mu.Unlock()
			return
		}

		cfg := s.cfg
		if cfg.Workers <= 0 {
			cfg.Workers = 1
		}
		if cfg.QueueSize <= 0 {
			cfg.QueueSize = 16
		}

		s.queue = make(chan queuedTask, cfg.QueueSize)
		s.stopCh = make(chan struct{})
		atomic.StoreInt32(&s.inFlight, 0)
		s.sup = rtsup.NewSupervisor(ctx,
			rtsup.WithLogger(s.log),
			// A dead worker restarts; it must not take the app with it.
			rtsup.WithCancelOnError(false),
		)

		queue := s.queue
		stopCh := s.stopCh
		sup := s.sup
		workers := cfg.Workers
		s.mu.Unlock()

		for i := 0; i < workers; i++ {
			idx := i
			sup.GoRestart(fmt.Sprintf("worker.%d", idx), func(c context.Context) error {
				s.worker(c, stopCh, queue, idx)
				// A worker returns cleanly only on shutdown.
				select {
				case <-stopCh:
					return context.Canceled
				default:
				}
				if c.Err() != nil {
					return c.Err()
				}
				return errors.New("worker exited unexpectedly")
			})
		}

		s.log.Info("task engine started", logx.Int("workers", workers), logx.Int("queue", cap(queue)))
		return
	}
}

// Stop signals the pool and waits for in-flight work, bounded by ctx. The
// teardown itself runs in the background so a timed-out caller leaks nothing.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
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
	close(s.stopCh)
	sup := s.sup
	s.mu.Unlock()

	if sup != nil {
		sup.Cancel()
	}

	go func() {
		if sup != nil {
			_ = sup.Wait(context.Background())
		}
		s.mu.Lock()
		s.queue = nil
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		atomic.StoreInt32(&s.inFlight, 0)
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("task engine stopped")
	case <-ctx.Done():
		s.log.Warn("task engine stop timed out", logx.Err(ctx.Err()))
	}
}

// Enqueue offers t to the queue without blocking; a full queue drops it with
// ErrQueueFull. The scheduler path uses this so a stuck pipeline cannot back
// up cron firings.
func (s *Service) Enqueue(t Task) error {
	return s.enqueue(context.Background(), t, false)
}

// Submit blocks until the task is accepted, ctx ends, or the engine stops.
// Manual dispatch uses this so the caller learns the outcome.
func (s *Service) Submit(ctx context.Context, t Task) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.enqueue(ctx, t, true)
}

func (s *Service) enqueue(ctx context.Context, t Task, block bool) error {
	if t.Run == nil {
		return fmt.Errorf("task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return fmt.Errorf("task Name is required")
	}
	now := time.Now()
	if strings.TrimSpace(t.ID) == "" {
		t.ID = s.nextTaskID(now)
	}

	s.mu.Lock()
	cfg := s.cfg
	queue := s.queue
	stopCh := s.stopCh
	stopping := s.stopDone != nil
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		return ErrDisabled
	case queue == nil || stopCh == nil:
		return ErrStopped
	case stopping:
		return ErrStopping
	}

	timeout := t.Timeout
	if timeout <= 0 && cfg.DefaultTimeout > 0 {
		timeout = cfg.DefaultTimeout
	}
	opt := t.Opt.withDefaults(cfg)

	// A tripped breaker refuses work before it reaches the queue, keeping
	// pressure off a failing downstream.
	if open, until := s.breakerIsOpen(now, t.Name, cfg); open {
		s.emit(eventbus.TypeTaskSkipped, now, TaskEvent{ID: t.ID, Name: t.Name, Trigger: t.Trigger, Started: now, Error: "breaker_open"})
		s.log.Debug("task skipped: breaker open",
			logx.String("task", t.Name),
			logx.String("id", t.ID),
			logx.String("until", until.Format(time.RFC3339)),
		)
		s.appendHistory(cfg, HistoryItem{ID: t.ID, Name: t.Name, Trigger: t.Trigger, Started: now, Error: "breaker_open"})
		return ErrBreakerOpen
	}

	gate := t.State
	if gate == nil {
		gate = s.stateFor(t.Name)
	}
	gated := opt.Overlap == OverlapSkipIfRunning
	if gated && !gate.tryAcquire() {
		s.emit(eventbus.TypeTaskSkipped, now, TaskEvent{ID: t.ID, Name: t.Name, Trigger: t.Trigger, Started: now, Error: "overlap_skip"})
		s.log.Debug("task skipped due to overlap", logx.String("task", t.Name), logx.String("id", t.ID))
		return ErrOverlapSkip
	}

	qt := queuedTask{task: t, queuedAt: now, timeout: timeout, opt: opt, gate: gate, gated: gated}

	if !block {
		select {
		case queue <- qt:
			return nil
		default:
			if gated {
				gate.release()
			}
			s.onQueueFull(now, t, queue)
			return ErrQueueFull
		}
	}

	select {
	case queue <- qt:
		return nil
	case <-ctx.Done():
		if gated {
			gate.release()
		}
		return ctx.Err()
	case <-stopCh:
		if gated {
			gate.release()
		}
		return ErrStopping
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	queue := s.queue
	s.mu.Unlock()

	var qlen, qcap int
	if queue != nil {
		qlen = len(queue)
		qcap = cap(queue)
	}

	s.histMu.Lock()
	h := make([]HistoryItem, len(s.hist))
	copy(h, s.hist)
	s.histMu.Unlock()

	bt, bo := s.breakerSnapshot(time.Now(), cfg)

	return Snapshot{
		Enabled:          cfg.Enabled,
		Workers:          cfg.Workers,
		QueueLen:         qlen,
		QueueCap:         qcap,
		InFlight:         int(atomic.LoadInt32(&s.inFlight)),
		Dropped:          atomic.LoadUint64(&s.dropped),
		DroppedQueueFull: atomic.LoadUint64(&s.droppedQueueFull),
		DroppedStale:     atomic.LoadUint64(&s.droppedStale),
		DefaultTimeout:   cfg.DefaultTimeout,
		MaxQueueDelay:    cfg.MaxQueueDelay,
		RetryMax:         cfg.RetryMax,
		BreakerTotal:     bt,
		BreakerOpen:      bo,
		History:          h,
	}
}

// emit publishes a task lifecycle event; a nil bus means nobody listens.
func (s *Service) emit(evType string, at time.Time, data TaskEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: evType, Time: at, Data: data})
}

func (s *Service) stateFor(name string) *RunState {
	key := strings.TrimSpace(name)
	if key == "" {
		key = "default"
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	st := s.runStates[key]
	if st == nil {
		st = &RunState{}
		s.runStates[key] = st
	}
	return st
}

func (s *Service) appendHistory(cfg Config, item HistoryItem) {
	size := cfg.HistorySize
	if size <= 0 {
		size = 100
	}
	s.histMu.Lock()
	s.hist = append(s.hist, item)
	if len(s.hist) > size {
		s.hist = s.hist[len(s.hist)-size:]
	}
	s.histMu.Unlock()
}

func (s *Service) nextTaskID(now time.Time) string {
	seq := atomic.AddUint64(&s.idSeq, 1)
	return fmt.Sprintf("t-%x-%x", now.UnixNano(), seq)
}

// allowWarn rate-limits noisy drop warnings to one per warnThrottleEvery.
func allowWarn(last *int64, now time.Time) bool {
	prev := atomic.LoadInt64(last)
	n := now.UnixNano()
	if prev != 0 && n-prev < int64(warnThrottleEvery) {
		return false
	}
	return atomic.CompareAndSwapInt64(last, prev, n)
}

func (s *Service) onQueueFull(now time.Time, t Task, queue chan queuedTask) {
	atomic.AddUint64(&s.dropped, 1)
	atomic.AddUint64(&s.droppedQueueFull, 1)

	s.emit(eventbus.TypeTaskDropped, now, TaskEvent{ID: t.ID, Name: t.Name, Trigger: t.Trigger, Started: now, Error: "queue_full"})

	if allowWarn(&s.queueFullWarnAt, now) {
		var qlen, qcap int
		if queue != nil {
			qlen = len(queue)
			qcap = cap(queue)
		}
		s.log.Warn("task dropped: queue full",
			logx.String("task", t.Name),
			logx.String("id", t.ID),
			logx.Int("queue_len", qlen),
			logx.Int("queue_cap", qcap),
			logx.Uint64("dropped_queue_full", atomic.LoadUint64(&s.droppedQueueFull)),
		)
	}
}

func (s *Service) onStaleDropped(now time.Time, t Task, queueDelay time.Duration) {
	atomic.AddUint64(&s.dropped, 1)
	atomic.AddUint64(&s.droppedStale, 1)

	s.emit(eventbus.TypeTaskDropped, now, TaskEvent{ID: t.ID, Name: t.Name, Trigger: t.Trigger, Started: now, QueueDelay: queueDelay, Error: "stale_queue_delay"})

	if allowWarn(&s.staleWarnAt, now) {
		s.log.Warn("task dropped: stale queue",
			logx.String("task", t.Name),
			logx.String("id", t.ID),
			logx.Duration("queue_delay", queueDelay),
			logx.Uint64("dropped_stale", atomic.LoadUint64(&s.droppedStale)),
		)
	}
}
