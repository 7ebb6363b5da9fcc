package poster

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"quotebot/internal/storage"
)

type dedupWrite struct {
	key   string
	until time.Time
}

// dedupKey fingerprints the formatted tweet text. Identical text within
// the window means a double-fire or a stuck pointer, not a new quote.
func dedupKey(text string) string {
	if text == "" {
		return ""
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	return fmt.Sprintf("%x", h.Sum64())
}

// dedupAllow reports whether the key may post now and, if so, opens a new
// suppression window for it.
func (s *Service) dedupAllow(ctx context.Context, key string, window time.Duration, max int, persist bool, st storage.Store, pch chan dedupWrite) bool {
	now := time.Now()

	// 1) In-memory check.
	s.dmu.Lock()
	if s.dedup == nil {
		s.dedup = map[string]time.Time{}
	}
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	s.dmu.Unlock()

	// 2) Persistent check (best-effort) for cross-restart dedup.
	if persist && st != nil {
		qctx := ctx
		if qctx == nil {
			qctx = context.Background()
		}
		cctx, cancel := context.WithTimeout(qctx, 50*time.Millisecond)
		until, ok, err := st.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return false
		}
	}

	// 3) Allow and open a new window.
	until := now.Add(window)
	s.dmu.Lock()
	s.dedup[key] = until

	// Prune expired entries.
	for k, u := range s.dedup {
		if !now.Before(u) {
			delete(s.dedup, k)
		}
	}
	// Cap by evicting the entries closest to expiry.
	if max > 0 {
		for len(s.dedup) > max {
			var (
				minKey string
				minT   time.Time
				set    bool
			)
			for k, u := range s.dedup {
				if !set || u.Before(minT) {
					minKey, minT, set = k, u, true
				}
			}
			if minKey == "" {
				break
			}
			delete(s.dedup, minKey)
		}
	}
	s.dmu.Unlock()

	// 4) Persist the new suppress-until asynchronously (best-effort).
	if persist && st != nil && pch != nil {
		select {
		case pch <- dedupWrite{key: key, until: until}:
		default:
		}
	}
	return true
}

func (s *Service) persistLoop(ctx context.Context, ch <-chan dedupWrite, st storage.Store) {
	if ctx == nil {
		ctx = context.Background()
	}
	if ch == nil || st == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-ch:
			if !ok {
				return
			}
			cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
			_ = st.PutDedup(cctx, w.key, w.until)
			cancel()
		}
	}
}

// retryDelay computes the jittered exponential backoff before the next
// send attempt. attempt starts at 1 (the attempt that just failed).
func retryDelay(cfg Config, attempt int) time.Duration {
	base := cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxD := cfg.RetryMaxDelay
	if maxD <= 0 {
		maxD = 10 * time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	// Jitter 0.7..1.3 so repeated failures don't line up with rate windows.
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	j := 0.7 + rng.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > maxD {
		d = maxD
	}
	return d
}
