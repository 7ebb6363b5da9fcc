package storage

import (
	"time"
)

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord describes one posting cycle.
// Keep it compact and schema-stable.
type RunRecord struct {
	ID      string    `json:"id"`
	At      time.Time `json:"at"`
	Trigger string    `json:"trigger"` // schedule name ("post_quote@21:30"), "manual", or "signal"
	Row     int       `json:"row,omitempty"`
	TweetID string    `json:"tweet_id,omitempty"`
	Text    string    `json:"text,omitempty"`
	Outcome string    `json:"outcome"` // "posted", "failed", "deduped", "skipped"
	Attempt int       `json:"attempt,omitempty"`
	Error   string    `json:"error,omitempty"`
	TookMS  int64     `json:"took_ms,omitempty"`
}

// Run outcomes.
const (
	OutcomePosted  = "posted"
	OutcomeFailed  = "failed"
	OutcomeDeduped = "deduped"
	OutcomeSkipped = "skipped"
)
