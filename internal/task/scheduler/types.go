package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"quotebot/internal/eventbus"
	"quotebot/internal/task/engine"
	logx "quotebot/pkg/logx"
)

// Config controls the scheduler (trigger) service.
//
// Execution settings live in the task engine; the scheduler only computes
// fire times and enqueues.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "UTC", "Asia/Jakarta". Empty means UTC.
}

// Re-export execution types from engine.
type OverlapPolicy = engine.OverlapPolicy

type TaskOptions = engine.TaskOptions

type HistoryItem = engine.HistoryItem

type TaskEvent = engine.TaskEvent

const (
	OverlapAllow         = engine.OverlapAllow
	OverlapSkipIfRunning = engine.OverlapSkipIfRunning
)

// TriggerEvent is published on the bus each time a schedule fires,
// before the task is handed to the engine.
type TriggerEvent struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	At   time.Time `json:"at"`
}

// scheduleDef is one registered trigger.
//
// name identifies the schedule (unique, upsert key); task is the engine task
// name. Schedules sharing a task share its overlap gate, so two triggers of
// the same job cannot run concurrently no matter which entry fired.
type scheduleDef struct {
	id      string
	name    string
	task    string
	spec    string
	timeout time.Duration
	job     func(ctx context.Context) error
	entryID cron.EntryID
	opt     TaskOptions
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	engine *engine.Service

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	// Enqueue error throttling: key is schedule name.
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type ScheduleInfo struct {
	ID      string
	Name    string
	Task    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}

type Snapshot struct {
	Enabled  bool
	Timezone string

	// Executor diagnostics (task engine).
	Workers          int
	InFlight         int
	QueueLen         int
	QueueCap         int
	Dropped          uint64
	DroppedQueueFull uint64
	DroppedStale     uint64
	DefaultTimeout   time.Duration
	MaxQueueDelay    time.Duration
	RetryMax         int
	RetryBase        time.Duration
	RetryMaxDelay    time.Duration
	RetryJitter      float64

	Schedules []ScheduleInfo
	History   []HistoryItem
}
