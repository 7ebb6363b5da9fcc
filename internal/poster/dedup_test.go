package poster

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"quotebot/internal/quote"
	"quotebot/internal/storage"
	logx "quotebot/pkg/logx"
)

func TestDedupKey(t *testing.T) {
	t.Parallel()
	a := dedupKey("same text")
	b := dedupKey("same text")
	c := dedupKey("other text")
	if a == "" || a != b {
		t.Fatalf("key not stable: %q vs %q", a, b)
	}
	if a == c {
		t.Fatalf("distinct texts share key %q", a)
	}
	if dedupKey("") != "" {
		t.Fatal("empty text should have empty key")
	}
}

func TestDedupAllowWindow(t *testing.T) {
	t.Parallel()
	s := New(testPosterConfig(), &fakeTwitter{}, nil, logx.Nop(), nil, nil)
	ctx := context.Background()

	key := dedupKey("hello")
	if !s.dedupAllow(ctx, key, 40*time.Millisecond, 100, false, nil, nil) {
		t.Fatal("first use should be allowed")
	}
	if s.dedupAllow(ctx, key, 40*time.Millisecond, 100, false, nil, nil) {
		t.Fatal("repeat within window should be denied")
	}
	time.Sleep(60 * time.Millisecond)
	if !s.dedupAllow(ctx, key, 40*time.Millisecond, 100, false, nil, nil) {
		t.Fatal("repeat after window should be allowed")
	}
}

func TestDedupCapEvictsEarliestExpiry(t *testing.T) {
	t.Parallel()
	s := New(testPosterConfig(), &fakeTwitter{}, nil, logx.Nop(), nil, nil)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three", "four"} {
		if !s.dedupAllow(ctx, dedupKey(text), time.Hour, 2, false, nil, nil) {
			t.Fatalf("unexpected denial for %q", text)
		}
	}
	s.dmu.Lock()
	n := len(s.dedup)
	s.dmu.Unlock()
	if n > 2 {
		t.Fatalf("dedup entries = %d, want <= 2", n)
	}
}

func TestPersistDedupSurvivesRestart(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage open: %v", err)
	}
	defer st.Close()

	cfg := testPosterConfig()
	cfg.DedupWindow = time.Hour
	cfg.PersistDedup = true

	src := quote.NewStatic(quote.Quote{Text: "sticky", Row: 2})
	first := New(cfg, &fakeTwitter{}, src, logx.Nop(), nil, st)
	first.Start(context.Background())
	if err := first.RunOnce(context.Background(), "cron"); err != nil {
		t.Fatalf("first RunOnce error: %v", err)
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	first.Stop(stopCtx)
	cancel()

	// A fresh service with an empty in-memory cache must still see the
	// suppression window through storage.
	tw := &fakeTwitter{}
	second := New(cfg, tw, quote.NewStatic(quote.Quote{Text: "sticky", Row: 2}), logx.Nop(), nil, st)
	second.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		second.Stop(ctx)
	}()

	err = second.RunOnce(context.Background(), "cron")
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
	if got := tw.callCount(); got != 0 {
		t.Fatalf("sends after restart = %d, want 0", got)
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		d := retryDelay(cfg, attempt)
		if d < 0 || d > cfg.RetryMaxDelay {
			t.Fatalf("attempt %d: delay %v outside [0, %v]", attempt, d, cfg.RetryMaxDelay)
		}
	}
	// First-attempt delay stays near the base (jitter 0.7..1.3).
	d := retryDelay(cfg, 1)
	if d < 70*time.Millisecond || d > 130*time.Millisecond {
		t.Fatalf("first delay %v outside jitter band", d)
	}
}
