package sheets

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"quotebot/internal/quote"
	logx "quotebot/pkg/logx"
)

// pointerCell is where the next-row pointer lives in the tracking worksheet.
const pointerCell = "A1"

const (
	defaultWorksheet         = "Sheet1"
	defaultTrackingWorksheet = "tracking"
	defaultStartRow          = 2
)

// SourceConfig selects the quote worksheet and the tracking pointer layout.
type SourceConfig struct {
	// Worksheet holds the quotes: column A text, column B author.
	Worksheet string
	// TrackingWorksheet holds the pointer in cell A1 (default "tracking").
	TrackingWorksheet string
	// StartRow is the first data row and the wrap target. Row 1 is assumed
	// to hold headers, so the default is 2.
	StartRow int
}

func (c SourceConfig) withDefaults() SourceConfig {
	if strings.TrimSpace(c.Worksheet) == "" {
		c.Worksheet = defaultWorksheet
	}
	if strings.TrimSpace(c.TrackingWorksheet) == "" {
		c.TrackingWorksheet = defaultTrackingWorksheet
	}
	if c.StartRow < 1 {
		c.StartRow = defaultStartRow
	}
	return c
}

// Source walks the quote worksheet sequentially. The pointer in the
// tracking worksheet names the next row to post; Next advances it before
// returning, so a failed post skips that row instead of double-posting it.
type Source struct {
	c   *Client
	cfg SourceConfig
	log logx.Logger
}

func NewSource(c *Client, cfg SourceConfig, log logx.Logger) *Source {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Source{c: c, cfg: cfg.withDefaults(), log: log}
}

// Next returns the quote at the current pointer and advances it.
//
// Missing or unreadable pointer state degrades to the start row rather than
// failing the run. An empty text cell yields quote.ErrNoQuote and leaves
// the pointer where it was.
func (s *Source) Next(ctx context.Context) (quote.Quote, error) {
	current := s.currentRow(ctx)

	rows, err := s.c.Values(ctx, s.cfg.Worksheet)
	if err != nil {
		return quote.Quote{}, fmt.Errorf("read quote rows: %w", err)
	}
	total := len(rows)

	if current > total {
		s.log.Info("reached end of sheet, wrapping to first data row",
			logx.Int("pointer", current), logx.Int("rows", total))
		current = s.cfg.StartRow
	}
	if current > total {
		return quote.Quote{}, fmt.Errorf("row %d of %d: %w", current, total, quote.ErrNoQuote)
	}

	row := rows[current-1]
	text := column(row, 0)
	author := column(row, 1)
	if text == "" {
		return quote.Quote{}, fmt.Errorf("row %d has no text: %w", current, quote.ErrNoQuote)
	}

	next := current + 1
	if next > total {
		next = s.cfg.StartRow
	}
	s.advance(ctx, next)

	return quote.Quote{Text: text, Author: author, Row: current}, nil
}

// currentRow resolves the pointer, creating and seeding the tracking
// worksheet on first run. Every failure path falls back to the start row.
func (s *Source) currentRow(ctx context.Context) int {
	exists, err := s.c.WorksheetExists(ctx, s.cfg.TrackingWorksheet)
	if err != nil {
		s.log.Warn("tracking worksheet lookup failed, starting from first data row", logx.Err(err))
		return s.cfg.StartRow
	}
	if !exists {
		s.log.Info("creating tracking worksheet", logx.String("worksheet", s.cfg.TrackingWorksheet))
		if err := s.c.AddWorksheet(ctx, s.cfg.TrackingWorksheet, 1, 1); err != nil {
			s.log.Warn("tracking worksheet create failed", logx.Err(err))
			return s.cfg.StartRow
		}
		if err := s.c.SetCell(ctx, s.cfg.TrackingWorksheet, pointerCell, strconv.Itoa(s.cfg.StartRow)); err != nil {
			s.log.Warn("tracking pointer seed failed", logx.Err(err))
		}
		return s.cfg.StartRow
	}

	raw, err := s.c.Cell(ctx, s.cfg.TrackingWorksheet, pointerCell)
	if err != nil {
		s.log.Warn("tracking pointer read failed, starting from first data row", logx.Err(err))
		return s.cfg.StartRow
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return s.cfg.StartRow
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < s.cfg.StartRow {
		s.log.Warn("tracking pointer is not a usable row, starting from first data row",
			logx.String("pointer", raw))
		return s.cfg.StartRow
	}
	return n
}

// advance writes the next pointer. A write failure is logged and swallowed:
// the worst case is repeating one row on the next run.
func (s *Source) advance(ctx context.Context, next int) {
	if err := s.c.SetCell(ctx, s.cfg.TrackingWorksheet, pointerCell, strconv.Itoa(next)); err != nil {
		s.log.Error("tracking pointer update failed, next run may repeat this row",
			logx.Int("next", next), logx.Err(err))
		return
	}
	s.log.Debug("advanced quote pointer", logx.Int("next", next))
}

func column(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
