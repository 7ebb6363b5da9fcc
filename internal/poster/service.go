package poster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"quotebot/internal/eventbus"
	"quotebot/internal/quote"
	rtsup "quotebot/internal/runtime/supervisor"
	"quotebot/internal/storage"
	"quotebot/internal/twitter"
	logx "quotebot/pkg/logx"
)

// historyCap bounds the in-memory run history (six posts a day keeps
// well over a month visible).
const historyCap = 300

// Twitter is the posting surface the pipeline needs; *twitter.Client
// implements it.
type Twitter interface {
	CreateTweet(ctx context.Context, text string) (*twitter.Tweet, error)
	Me(ctx context.Context) (*twitter.User, error)
}

// Service runs posting cycles: next quote, format, dedup, send, record.
//
// It is safe for concurrent use, though in the daemon cycles arrive
// serialized through the task engine's overlap gate.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	tw    Twitter
	src   quote.Source
	bus   eventbus.Bus
	store storage.Store

	cfg     Config
	limiter *rate.Limiter

	running   bool
	accepting bool
	runWG     sync.WaitGroup

	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	// In-memory dedup cache: key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	// Optional persistent dedup writes (best-effort)
	persistCh chan dedupWrite

	hmu     sync.Mutex
	history []storage.RunRecord
}

func New(cfg Config, tw Twitter, src quote.Source, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:   log,
		tw:    tw,
		src:   src,
		bus:   bus,
		store: store,
		dedup: map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 60
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}

	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), cfg.Burst)
}

// Supervisor returns the poster's internal supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	return sup
}

// Verify confirms the Twitter credentials by fetching the authenticated
// user, and logs the handle the bot will post as.
func (s *Service) Verify(ctx context.Context) error {
	if s.tw == nil {
		return errors.New("poster: no twitter client")
	}
	u, err := s.tw.Me(ctx)
	if err != nil {
		return fmt.Errorf("twitter credentials check: %w", err)
	}
	s.log.Info("twitter credentials verified", logx.String("username", "@"+u.Username))
	return nil
}

// Start is idempotent. It opens intake and, when persistent dedup is on,
// starts the async dedup write loop.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	// If stopping, wait for it to finish before restarting.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.running {
		s.mu.Unlock()
		return
	}
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.running = true
	s.accepting = true
	if s.cfg.PersistDedup && s.store != nil {
		s.persistCh = make(chan dedupWrite, 256)
	}

	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		// A posting hiccup should not take down the whole app.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	pch := s.persistCh
	st := s.store
	s.mu.Unlock()

	if pch != nil {
		sup.GoRestart("dedup.persist", func(c context.Context) error {
			s.persistLoop(c, pch, st)
			// Clean exits happen on shutdown (channel close).
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping {
				return context.Canceled
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("poster persist loop exited unexpectedly")
		})
	}
}

// Stop blocks new cycles and waits for in-flight ones best-effort until
// the ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if !s.running {
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
	s.accepting = false
	pch := s.persistCh
	sup := s.sup
	s.mu.Unlock()

	// Shutdown happens asynchronously so callers can time out without
	// leaking state.
	go func() {
		defer close(done)
		s.runWG.Wait()
		if pch != nil {
			func() {
				defer func() { _ = recover() }()
				close(pch)
			}()
		}
		if sup != nil {
			_ = sup.Wait(context.Background())
		}

		s.mu.Lock()
		s.running = false
		s.persistCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
	}
}

// RunOnce executes one complete posting cycle and reports its outcome.
//
// A dedup hit returns ErrDuplicate; callers that treat suppression as
// success (the scheduled task does) should check for it.
func (s *Service) RunOnce(ctx context.Context, trigger string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting {
		s.mu.Unlock()
		return ErrStopped
	}
	cfg := s.cfg
	lim := s.limiter
	st := s.store
	pch := s.persistCh
	s.runWG.Add(1)
	s.mu.Unlock()
	defer s.runWG.Done()

	return s.runCycle(ctx, trigger, cfg, lim, st, pch)
}

func (s *Service) runCycle(ctx context.Context, trigger string, cfg Config, lim *rate.Limiter, st storage.Store, pch chan dedupWrite) error {
	if s.tw == nil || s.src == nil {
		return ErrDisabled
	}

	started := time.Now()
	rec := storage.RunRecord{ID: uuid.NewString(), At: started, Trigger: trigger}

	q, err := s.src.Next(ctx)
	if err != nil {
		rec.Outcome = storage.OutcomeFailed
		rec.Error = err.Error()
		s.finish(rec, started, st)
		s.publish(eventbus.TypePostFailed, PostEvent{Trigger: trigger, Error: rec.Error})
		s.log.Error("posting cycle failed before send", logx.String("trigger", trigger), logx.Err(err))
		return fmt.Errorf("next quote: %w", err)
	}
	rec.Row = q.Row
	text := quote.Format(q)
	rec.Text = text

	key := dedupKey(text)
	if cfg.DedupWindow > 0 && key != "" {
		if !s.dedupAllow(ctx, key, cfg.DedupWindow, cfg.DedupMaxEntries, cfg.PersistDedup, st, pch) {
			rec.Outcome = storage.OutcomeDeduped
			rec.Error = ErrDuplicate.Error()
			s.finish(rec, started, st)
			s.publish(eventbus.TypePostDeduped, PostEvent{Trigger: trigger, Row: q.Row, Key: key})
			s.log.Warn("duplicate post suppressed",
				logx.String("trigger", trigger), logx.Int("row", q.Row), logx.String("key", key))
			return fmt.Errorf("row %d: %w", q.Row, ErrDuplicate)
		}
	}

	tweet, attempts, err := s.send(ctx, cfg, lim, text)
	rec.Attempt = attempts
	if err != nil {
		rec.Outcome = storage.OutcomeFailed
		rec.Error = err.Error()
		s.finish(rec, started, st)
		s.publish(eventbus.TypePostFailed, PostEvent{Trigger: trigger, Row: q.Row, Key: key, Error: rec.Error})
		s.log.Error("post failed",
			logx.String("trigger", trigger), logx.Int("row", q.Row), logx.Int("attempts", attempts), logx.Err(err))
		return fmt.Errorf("create tweet: %w", err)
	}

	rec.TweetID = tweet.ID
	rec.Outcome = storage.OutcomePosted
	s.finish(rec, started, st)
	s.publish(eventbus.TypePostPosted, PostEvent{Trigger: trigger, Row: q.Row, TweetID: tweet.ID, Key: key})
	s.log.Info("quote posted",
		logx.String("trigger", trigger), logx.Int("row", q.Row),
		logx.String("tweet_id", tweet.ID), logx.Int("attempts", attempts),
		logx.Duration("took", time.Since(started)))
	return nil
}

// send posts the text, retrying temporary API errors with jittered backoff.
func (s *Service) send(ctx context.Context, cfg Config, lim *rate.Limiter, text string) (*twitter.Tweet, int, error) {
	maxAttempts := 1
	if cfg.RetryMax > 0 {
		maxAttempts = 1 + cfg.RetryMax
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return nil, attempt, err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		tw, err := s.tw.CreateTweet(callCtx, text)
		cancel()
		if err == nil {
			return tw, attempt, nil
		}
		lastErr = err
		s.log.Debug("tweet send failed",
			logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if !temporary(err) || attempt >= maxAttempts {
			return nil, attempt, lastErr
		}

		delay := retryDelay(cfg, attempt)
		if delay <= 0 {
			continue
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return nil, attempt, ctx.Err()
		}
	}
	return nil, maxAttempts, lastErr
}

// finish stamps the duration, keeps the record in the history ring, and
// appends it to the run ledger when storage is configured.
//
// The ledger write runs on a fresh context so shutdown teardown cannot
// lose the final record.
func (s *Service) finish(rec storage.RunRecord, started time.Time, st storage.Store) {
	rec.TookMS = time.Since(started).Milliseconds()
	s.appendHistory(rec)
	if st == nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := st.AppendRun(wctx, rec); err != nil {
		s.log.Debug("run ledger append failed", logx.Err(err))
	}
}

func (s *Service) publish(typ string, ev PostEvent) {
	if s.bus == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

// Snapshot returns the recent run history, newest last.
func (s *Service) Snapshot() []storage.RunRecord {
	s.hmu.Lock()
	out := append([]storage.RunRecord(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(rec storage.RunRecord) {
	s.hmu.Lock()
	s.history = append(s.history, rec)
	if len(s.history) > historyCap {
		s.history = s.history[len(s.history)-historyCap:]
	}
	s.hmu.Unlock()
}

// temporary reports whether a send error is worth retrying with the same
// text.
func temporary(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *twitter.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	// Transport errors (timeouts, resets) get another attempt.
	return true
}
