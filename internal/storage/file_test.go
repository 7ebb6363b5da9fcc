package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "quotebot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q) error: %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) = %v, want nil", driver, st)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestFileStoreRunLedger(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 8, 1, 20, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := st.AppendRun(ctx, RunRecord{
			ID:      string(rune('a' + i)),
			At:      base.Add(time.Duration(i) * time.Hour),
			Trigger: "post_quote@20:00",
			Row:     i + 2,
			TweetID: "190000000000000000" + string(rune('0'+i)),
			Outcome: OutcomePosted,
		})
		if err != nil {
			t.Fatalf("AppendRun %d: %v", i, err)
		}
	}

	runs, err := st.LastRuns(ctx, 3)
	if err != nil {
		t.Fatalf("LastRuns error: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("LastRuns returned %d records, want 3", len(runs))
	}
	// Newest first.
	if runs[0].ID != "e" || runs[2].ID != "c" {
		t.Fatalf("unexpected order: %s..%s", runs[0].ID, runs[2].ID)
	}
	if runs[0].Row != 6 {
		t.Fatalf("Row = %d, want 6", runs[0].Row)
	}
}

func TestFileStoreLastRunsEmpty(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	runs, err := st.LastRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("LastRuns error: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("LastRuns returned %d records, want 0", len(runs))
	}
}

func TestFileStoreDedupRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	until := time.Now().Add(time.Hour)
	if err := st.PutDedup(ctx, "k1", until); err != nil {
		t.Fatalf("PutDedup error: %v", err)
	}

	got, ok, err := st.GetDedup(ctx, "k1")
	if err != nil {
		t.Fatalf("GetDedup error: %v", err)
	}
	if !ok {
		t.Fatal("GetDedup did not find key")
	}
	if got.UnixMilli() != until.UnixMilli() {
		t.Fatalf("until = %v, want %v", got, until)
	}

	if _, ok, _ := st.GetDedup(ctx, "missing"); ok {
		t.Fatal("GetDedup found a key that was never put")
	}
}

func TestFileStoreDedupSurvivesReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "store")}
	ctx := context.Background()

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	until := time.Now().Add(time.Hour)
	if err := st.PutDedup(ctx, "persist-me", until); err != nil {
		t.Fatalf("PutDedup error: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	st2, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer st2.Close()

	_, ok, err := st2.GetDedup(ctx, "persist-me")
	if err != nil {
		t.Fatalf("GetDedup error: %v", err)
	}
	if !ok {
		t.Fatal("dedup key did not survive reopen")
	}
}
