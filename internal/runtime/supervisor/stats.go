package supervisor

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Counts are best-effort liveness counters for a supervisor. They are
// operational signals, not a synchronization primitive.
type Counts struct {
	Active  int64  `json:"active"`
	Started uint64 `json:"started"`
}

// RunStats aggregates the runs of one goroutine name. Concurrent goroutines
// sharing a name fold into a single entry.
type RunStats struct {
	Name     string `json:"name"`
	Active   int64  `json:"active"`
	Started  uint64 `json:"started"`
	Restarts uint64 `json:"restarts"`
	Panics   uint64 `json:"panics"`

	LastStart    time.Time     `json:"last_start"`
	LastStop     time.Time     `json:"last_stop"`
	LastRuntime  time.Duration `json:"last_runtime"`
	TotalRuntime time.Duration `json:"total_runtime"`

	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at"`
	LastPanic   string    `json:"last_panic,omitempty"`
	LastPanicAt time.Time `json:"last_panic_at"`
}

// Status is a point-in-time view of a supervisor, for debug output only.
type Status struct {
	Counters   Counts     `json:"counters"`
	FirstError string     `json:"first_error,omitempty"`
	Goroutines []RunStats `json:"goroutines"`
}

// Counters reports how many goroutines this supervisor has started and how
// many are still running.
func (s *Supervisor) Counters() Counts {
	if s == nil {
		return Counts{}
	}
	return Counts{Active: s.active.Load(), Started: s.started.Load()}
}

// Snapshot captures current counters, the first recorded error, and per-name
// run stats sorted by activity.
func (s *Supervisor) Snapshot() Status {
	if s == nil {
		return Status{}
	}
	st := Status{Counters: s.Counters(), Goroutines: s.runs.export()}
	if err := s.Err(); err != nil {
		st.FirstError = err.Error()
	}
	return st
}

// ledger tracks per-name run bookkeeping.
type ledger struct {
	mu      sync.Mutex
	records map[string]*runRecord
}

type runRecord struct {
	active   int64
	started  uint64
	restarts uint64
	panics   uint64

	lastStart   time.Time
	lastStop    time.Time
	lastRuntime time.Duration
	totalRun    time.Duration

	lastErr     string
	lastErrAt   time.Time
	lastPanic   string
	lastPanicAt time.Time
}

// record returns the entry for name, creating it if needed. Callers hold mu.
func (l *ledger) record(name string) *runRecord {
	r := l.records[name]
	if r == nil {
		if l.records == nil {
			l.records = make(map[string]*runRecord)
		}
		r = &runRecord{}
		l.records[name] = r
	}
	return r
}

func (l *ledger) start(name string, restarted bool) time.Time {
	now := time.Now()
	l.mu.Lock()
	r := l.record(name)
	r.started++
	r.active++
	if restarted {
		r.restarts++
	}
	r.lastStart = now
	l.mu.Unlock()
	return now
}

func (l *ledger) stop(name string, began time.Time, err error) {
	now := time.Now()
	l.mu.Lock()
	r := l.record(name)
	if r.active > 0 {
		r.active--
	}
	r.lastStop = now
	r.lastRuntime = now.Sub(began)
	r.totalRun += r.lastRuntime
	if err != nil {
		r.lastErr = err.Error()
		r.lastErrAt = now
	}
	l.mu.Unlock()
}

func (l *ledger) panicked(name string, v any) {
	now := time.Now()
	l.mu.Lock()
	r := l.record(name)
	r.panics++
	r.lastPanic = fmt.Sprint(v)
	r.lastPanicAt = now
	l.mu.Unlock()
}

func (l *ledger) export() []RunStats {
	l.mu.Lock()
	out := make([]RunStats, 0, len(l.records))
	for name, r := range l.records {
		out = append(out, RunStats{
			Name:         name,
			Active:       r.active,
			Started:      r.started,
			Restarts:     r.restarts,
			Panics:       r.panics,
			LastStart:    r.lastStart,
			LastStop:     r.lastStop,
			LastRuntime:  r.lastRuntime,
			TotalRuntime: r.totalRun,
			LastError:    r.lastErr,
			LastErrorAt:  r.lastErrAt,
			LastPanic:    r.lastPanic,
			LastPanicAt:  r.lastPanicAt,
		})
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Active != out[j].Active {
			return out[i].Active > out[j].Active
		}
		if !out[i].LastStart.Equal(out[j].LastStart) {
			return out[i].LastStart.After(out[j].LastStart)
		}
		return out[i].Name < out[j].Name
	})
	return out
}
