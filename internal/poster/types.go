package poster

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("poster disabled")
	ErrStopped  = errors.New("poster stopped")
	// ErrDuplicate marks a cycle refused because the same formatted text
	// was posted within the dedup window.
	ErrDuplicate = errors.New("duplicate post suppressed")
)

// Config controls the posting pipeline.
//
// Cycles run on the caller's goroutine (the task engine in the daemon);
// this shapes the Twitter send inside a cycle.
type Config struct {
	Enabled bool

	// RatePerMinute and Burst shape the token bucket in front of sends.
	RatePerMinute int
	Burst         int

	// SendTimeout bounds a single create-tweet call.
	SendTimeout time.Duration

	// RetryMax is the number of extra send attempts after a temporary API
	// error. Retries re-send the same formatted text: the row pointer has
	// already advanced, so a retry can never skip or double-post a row.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	// DedupWindow suppresses posting identical text twice within the
	// window. Zero disables dedup.
	DedupWindow     time.Duration
	DedupMaxEntries int
	// PersistDedup keeps dedup marks in storage so the window survives
	// restarts.
	PersistDedup bool
}

// PostEvent is emitted on the event bus for posting lifecycle events.
// Keep it small; Data may be logged/serialized by subscribers.
type PostEvent struct {
	Trigger string    `json:"trigger"`
	Row     int       `json:"row,omitempty"`
	TweetID string    `json:"tweet_id,omitempty"`
	Key     string    `json:"key,omitempty"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}
