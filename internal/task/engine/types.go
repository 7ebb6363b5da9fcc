package engine

import (
	"context"
	"sync/atomic"
	"time"
)

// Config controls the task execution engine.
//
// The scheduler is trigger-only; execution settings belong here. The app
// layer maps config.engine into this struct.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// DefaultTimeout is used when Task.Timeout is 0.
	DefaultTimeout time.Duration

	// MaxQueueDelay drops tasks that sat queued longer than this.
	// 0 disables stale-queue dropping.
	MaxQueueDelay time.Duration

	HistorySize int

	// RetryMax is the engine-level retry default. The posting pipeline owns
	// its own retries, so this stays 0 unless a task asks for more.
	RetryMax int

	// Circuit breaker, counted in consecutive final failures per task name.
	// TripFailures < 0 disables it; 0 selects the default threshold.
	TripFailures   int
	TripBaseDelay  time.Duration
	TripMaxDelay   time.Duration
	TripResetAfter time.Duration
}

// Task is a unit of work executed by the engine.
//
// Trigger is an optional label naming what fired the task (a schedule name,
// "signal", "manual"). It is carried into events and history so skips and
// drops stay attributable.
//
// State, when set, overrides the engine's per-name overlap gate. Leave it nil
// unless two differently named tasks must share one gate.
type Task struct {
	ID      string
	Name    string
	Trigger string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	Opt     TaskOptions
	State   *RunState
}

type OverlapPolicy int

const (
	OverlapAllow OverlapPolicy = iota
	OverlapSkipIfRunning
)

type TaskOptions struct {
	Overlap       OverlapPolicy
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%
}

func (o TaskOptions) withDefaults(cfg Config) TaskOptions {
	if o.RetryMax <= 0 {
		o.RetryMax = cfg.RetryMax
	}
	if o.RetryMax < 0 {
		o.RetryMax = 0
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 15 * time.Second
	}
	if o.RetryJitter <= 0 {
		o.RetryJitter = 0.2
	}
	if o.Overlap != OverlapAllow && o.Overlap != OverlapSkipIfRunning {
		o.Overlap = OverlapSkipIfRunning
	}
	return o
}

// DefaultTaskOptions reports the effective options for a task with no
// overrides. Diagnostics use it to surface the active retry policy.
func DefaultTaskOptions(cfg Config) TaskOptions {
	return (TaskOptions{}).withDefaults(cfg)
}

// RunState is the overlap gate. Held from enqueue until the run finishes, so
// SkipIfRunning means "skip if running OR already queued"; a burst of
// triggers cannot stack identical runs in the queue.
type RunState struct {
	busy atomic.Bool
}

func (s *RunState) tryAcquire() bool {
	if s == nil {
		return true
	}
	return s.busy.CompareAndSwap(false, true)
}

func (s *RunState) release() {
	if s == nil {
		return
	}
	s.busy.Store(false)
}

type HistoryItem struct {
	ID         string
	Name       string
	Trigger    string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Error      string
}

// TaskEvent is the payload of task.* events on the bus.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Trigger    string        `json:"trigger,omitempty"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

// Snapshot is a point-in-time view for diagnostics.
type Snapshot struct {
	Enabled  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int

	Dropped          uint64
	DroppedQueueFull uint64
	DroppedStale     uint64

	DefaultTimeout time.Duration
	MaxQueueDelay  time.Duration
	RetryMax       int

	BreakerTotal int
	BreakerOpen  int

	History []HistoryItem
}
