package quote

import (
	"context"
	"errors"
	"testing"
)

func TestStaticSourceCycles(t *testing.T) {
	t.Parallel()
	s := NewStatic(
		Quote{Text: "one", Author: "a", Row: 2},
		Quote{Text: "two", Author: "b", Row: 3},
	)
	ctx := context.Background()

	want := []string{"one", "two", "one", "two"}
	for i, w := range want {
		q, err := s.Next(ctx)
		if err != nil {
			t.Fatalf("Next #%d error: %v", i, err)
		}
		if q.Text != w {
			t.Fatalf("Next #%d = %q, want %q", i, q.Text, w)
		}
	}
}

func TestStaticSourceEmpty(t *testing.T) {
	t.Parallel()
	s := NewStatic()
	if _, err := s.Next(context.Background()); !errors.Is(err, ErrNoQuote) {
		t.Fatalf("Next error = %v, want ErrNoQuote", err)
	}
}

func TestStaticSourceHonorsContext(t *testing.T) {
	t.Parallel()
	s := NewStatic(Quote{Text: "one"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Next error = %v, want context.Canceled", err)
	}
}
