package quote

import (
	"context"
	"errors"
	"sync"
)

// ErrNoQuote means the source has no usable quote at its current position
// (empty row, exhausted list). The cursor is not advanced past it.
var ErrNoQuote = errors.New("no quote available")

// Quote is one posting unit. Row is the 1-based source row when the quote
// came from a spreadsheet, 0 otherwise.
type Quote struct {
	Text   string
	Author string
	Row    int
}

// Source yields quotes in sequence. Next returns the quote at the current
// cursor and advances it; implementations decide how the cursor persists.
type Source interface {
	Next(ctx context.Context) (Quote, error)
}

// Static cycles through a fixed list. Used by tests and dry runs.
type Static struct {
	mu   sync.Mutex
	list []Quote
	next int
}

func NewStatic(list ...Quote) *Static {
	return &Static{list: list}
}

func (s *Static) Next(ctx context.Context) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.list) == 0 {
		return Quote{}, ErrNoQuote
	}
	q := s.list[s.next]
	s.next = (s.next + 1) % len(s.list)
	return q, nil
}
