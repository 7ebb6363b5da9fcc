package engine

import (
	"strings"
	"sync"
	"time"
)

// breaker tracks a consecutive-failure streak for one task name.
//
// On success the streak resets and the breaker closes. On failure the streak
// grows and, once it reaches the trip threshold, the breaker opens for an
// exponentially increasing cooldown. A long quiet period also resets it.
type breaker struct {
	streak    int
	openUntil time.Time
	lastFail  time.Time
}

type breakerStore struct {
	mu sync.Mutex
	m  map[string]*breaker
}

// breakerCfg holds effective settings after applying defaults.
type breakerCfg struct {
	trip       int
	baseDelay  time.Duration
	maxDelay   time.Duration
	resetAfter time.Duration
	enabled    bool
}

func effectiveBreakerCfg(cfg Config) breakerCfg {
	trip := cfg.TripFailures
	if trip < 0 {
		return breakerCfg{enabled: false}
	}
	if trip == 0 {
		trip = 3
	}
	base := cfg.TripBaseDelay
	if base <= 0 {
		base = 30 * time.Second
	}
	maxD := cfg.TripMaxDelay
	if maxD <= 0 {
		maxD = 15 * time.Minute
	}
	reset := cfg.TripResetAfter
	if reset <= 0 {
		reset = time.Hour
	}
	return breakerCfg{trip: trip, baseDelay: base, maxDelay: maxD, resetAfter: reset, enabled: true}
}

func (s *breakerStore) get(name string) *breaker {
	k := strings.TrimSpace(name)
	if k == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[string]*breaker)
	}
	b := s.m[k]
	if b == nil {
		b = &breaker{}
		s.m[k] = b
	}
	return b
}

// maybeReset clears stale state when the last failure was long ago.
// Caller holds the store lock.
func (b *breaker) maybeReset(now time.Time, resetAfter time.Duration) {
	if b.lastFail.IsZero() || resetAfter <= 0 {
		return
	}
	if now.Sub(b.lastFail) > resetAfter {
		b.streak = 0
		b.openUntil = time.Time{}
	}
}

func (s *Service) breakerIsOpen(now time.Time, name string, cfg Config) (bool, time.Time) {
	bc := effectiveBreakerCfg(cfg)
	if !bc.enabled {
		return false, time.Time{}
	}
	b := s.breakers.get(name)
	if b == nil {
		return false, time.Time{}
	}

	s.breakers.mu.Lock()
	defer s.breakers.mu.Unlock()

	b.maybeReset(now, bc.resetAfter)
	if !b.openUntil.IsZero() && now.Before(b.openUntil) {
		return true, b.openUntil
	}
	return false, time.Time{}
}

func (s *Service) breakerRecord(now time.Time, name string, cfg Config, err error) {
	bc := effectiveBreakerCfg(cfg)
	if !bc.enabled {
		return
	}
	b := s.breakers.get(name)
	if b == nil {
		return
	}

	s.breakers.mu.Lock()
	defer s.breakers.mu.Unlock()

	b.maybeReset(now, bc.resetAfter)

	if err == nil {
		b.streak = 0
		b.openUntil = time.Time{}
		b.lastFail = time.Time{}
		return
	}

	b.streak++
	b.lastFail = now
	if b.streak < bc.trip {
		return
	}

	// Exponential cooldown after tripping.
	d := bc.baseDelay
	for i := 0; i < b.streak-bc.trip; i++ {
		d *= 2
		if d >= bc.maxDelay {
			d = bc.maxDelay
			break
		}
	}
	if d > bc.maxDelay {
		d = bc.maxDelay
	}
	b.openUntil = now.Add(d)
}

func (s *Service) breakerSnapshot(now time.Time, cfg Config) (total, open int) {
	if !effectiveBreakerCfg(cfg).enabled {
		return 0, 0
	}
	s.breakers.mu.Lock()
	defer s.breakers.mu.Unlock()
	total = len(s.breakers.m)
	for _, b := range s.breakers.m {
		if b != nil && !b.openUntil.IsZero() && now.Before(b.openUntil) {
			open++
		}
	}
	return total, open
}
