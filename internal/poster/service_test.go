package poster

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"quotebot/internal/eventbus"
	"quotebot/internal/quote"
	"quotebot/internal/storage"
	"quotebot/internal/twitter"
	logx "quotebot/pkg/logx"
)

type fakeTwitter struct {
	mu    sync.Mutex
	calls int
	texts []string
	errs  []error // consumed one per call; nil means success
	id    string
	meErr error
}

func (f *fakeTwitter) CreateTweet(_ context.Context, text string) (*twitter.Tweet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.texts = append(f.texts, text)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	id := f.id
	if id == "" {
		id = "1"
	}
	return &twitter.Tweet{ID: id, Text: text}, nil
}

func (f *fakeTwitter) Me(context.Context) (*twitter.User, error) {
	if f.meErr != nil {
		return nil, f.meErr
	}
	return &twitter.User{ID: "1", Name: "Quote Bot", Username: "quote_bot"}, nil
}

func (f *fakeTwitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeTwitter) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func testPosterConfig() Config {
	return Config{
		Enabled:       true,
		RatePerMinute: 60000, // keep the limiter out of test timing
		Burst:         10,
		SendTimeout:   time.Second,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
	}
}

func startedPoster(t *testing.T, cfg Config, tw Twitter, src quote.Source, bus eventbus.Bus, st storage.Store) *Service {
	t.Helper()
	s := New(cfg, tw, src, logx.Nop(), bus, st)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) eventbus.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

func TestRunOnceBeforeStart(t *testing.T) {
	t.Parallel()
	s := New(testPosterConfig(), &fakeTwitter{}, quote.NewStatic(quote.Quote{Text: "x"}), logx.Nop(), nil, nil)
	if err := s.RunOnce(context.Background(), "manual"); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestRunOnceDisabled(t *testing.T) {
	t.Parallel()
	cfg := testPosterConfig()
	cfg.Enabled = false
	s := New(cfg, &fakeTwitter{}, quote.NewStatic(quote.Quote{Text: "x"}), logx.Nop(), nil, nil)
	s.Start(context.Background())
	if err := s.RunOnce(context.Background(), "manual"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestRunOncePostsAndRecords(t *testing.T) {
	t.Parallel()
	tw := &fakeTwitter{id: "42"}
	src := quote.NewStatic(quote.Quote{Text: "stay hungry", Author: "Jobs", Row: 2})
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	s := startedPoster(t, testPosterConfig(), tw, src, bus, nil)
	if err := s.RunOnce(context.Background(), "manual"); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}

	if texts := tw.sentTexts(); len(texts) != 1 || texts[0] != "stay hungry - Jobs" {
		t.Fatalf("sent texts = %v", texts)
	}

	e := waitEvent(t, ch, eventbus.TypePostPosted)
	pe, ok := e.Data.(PostEvent)
	if !ok {
		t.Fatalf("event data = %T", e.Data)
	}
	if pe.Trigger != "manual" || pe.Row != 2 || pe.TweetID != "42" {
		t.Fatalf("event = %+v", pe)
	}

	hist := s.Snapshot()
	if len(hist) != 1 {
		t.Fatalf("history length = %d", len(hist))
	}
	rec := hist[0]
	if rec.Outcome != storage.OutcomePosted || rec.TweetID != "42" || rec.Row != 2 || rec.Attempt != 1 {
		t.Fatalf("record = %+v", rec)
	}
	if rec.ID == "" || rec.Trigger != "manual" {
		t.Fatalf("record missing id/trigger: %+v", rec)
	}
}

func TestRunOnceDedupesRepeatText(t *testing.T) {
	t.Parallel()
	tw := &fakeTwitter{}
	src := quote.NewStatic(quote.Quote{Text: "once only", Row: 2})
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	cfg := testPosterConfig()
	cfg.DedupWindow = time.Hour
	s := startedPoster(t, cfg, tw, src, bus, nil)

	if err := s.RunOnce(context.Background(), "cron"); err != nil {
		t.Fatalf("first RunOnce error: %v", err)
	}
	err := s.RunOnce(context.Background(), "cron")
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second RunOnce = %v, want ErrDuplicate", err)
	}
	if got := tw.callCount(); got != 1 {
		t.Fatalf("sends = %d, want 1", got)
	}

	waitEvent(t, ch, eventbus.TypePostDeduped)
	hist := s.Snapshot()
	if len(hist) != 2 || hist[1].Outcome != storage.OutcomeDeduped {
		t.Fatalf("history = %+v", hist)
	}
}

func TestRunOnceRetriesTemporaryErrors(t *testing.T) {
	t.Parallel()
	tw := &fakeTwitter{errs: []error{
		&twitter.APIError{Status: http.StatusInternalServerError, Title: "whoops"},
		&twitter.APIError{Status: http.StatusServiceUnavailable, Title: "again"},
	}}
	src := quote.NewStatic(quote.Quote{Text: "persistent", Row: 2})

	cfg := testPosterConfig()
	cfg.RetryMax = 3
	s := startedPoster(t, cfg, tw, src, nil, nil)

	if err := s.RunOnce(context.Background(), "manual"); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if got := tw.callCount(); got != 3 {
		t.Fatalf("sends = %d, want 3", got)
	}
	if hist := s.Snapshot(); hist[0].Attempt != 3 {
		t.Fatalf("record attempts = %d, want 3", hist[0].Attempt)
	}
}

func TestRunOncePermanentErrorSendsOnce(t *testing.T) {
	t.Parallel()
	tw := &fakeTwitter{errs: []error{
		&twitter.APIError{Status: http.StatusForbidden, Title: "Forbidden"},
		nil, nil, nil,
	}}
	src := quote.NewStatic(quote.Quote{Text: "rejected", Row: 2})

	cfg := testPosterConfig()
	cfg.RetryMax = 3
	s := startedPoster(t, cfg, tw, src, nil, nil)

	if err := s.RunOnce(context.Background(), "manual"); err == nil {
		t.Fatal("expected error for permanent API failure")
	}
	if got := tw.callCount(); got != 1 {
		t.Fatalf("sends = %d, want 1", got)
	}
	if hist := s.Snapshot(); hist[0].Outcome != storage.OutcomeFailed {
		t.Fatalf("record = %+v", hist[0])
	}
}

func TestRunOnceSourceError(t *testing.T) {
	t.Parallel()
	tw := &fakeTwitter{}
	src := quote.NewStatic() // empty source yields ErrNoQuote
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	s := startedPoster(t, testPosterConfig(), tw, src, bus, nil)
	err := s.RunOnce(context.Background(), "manual")
	if !errors.Is(err, quote.ErrNoQuote) {
		t.Fatalf("err = %v, want ErrNoQuote", err)
	}
	if got := tw.callCount(); got != 0 {
		t.Fatalf("sends = %d, want 0", got)
	}
	waitEvent(t, ch, eventbus.TypePostFailed)
}

func TestRunOnceAfterStop(t *testing.T) {
	t.Parallel()
	s := startedPoster(t, testPosterConfig(), &fakeTwitter{}, quote.NewStatic(quote.Quote{Text: "x"}), nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	if err := s.RunOnce(context.Background(), "manual"); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()
	s := New(testPosterConfig(), &fakeTwitter{}, quote.NewStatic(quote.Quote{Text: "x"}), logx.Nop(), nil, nil)
	if err := s.Verify(context.Background()); err != nil {
		t.Fatalf("Verify error: %v", err)
	}

	bad := New(testPosterConfig(), &fakeTwitter{meErr: errors.New("unauthorized")}, nil, logx.Nop(), nil, nil)
	if err := bad.Verify(context.Background()); err == nil {
		t.Fatal("expected error from failed credentials check")
	}
}
