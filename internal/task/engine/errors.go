package engine

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by Enqueue and Submit.
var (
	ErrDisabled    = errors.New("task engine disabled")
	ErrStopped     = errors.New("task engine stopped")
	ErrStopping    = errors.New("task engine stopping")
	ErrQueueFull   = errors.New("task engine queue full")
	ErrOverlapSkip = errors.New("task skipped due to overlap policy")
	ErrBreakerOpen = errors.New("task skipped: breaker open")
)

// NoRetry wraps err so the worker fails the task on the first attempt.
// Use it for permanent failures (rejected tweet text, revoked credentials),
// where a second attempt must give the same answer.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return permanentErr{cause: err}
}

// IsNoRetry reports whether err carries a NoRetry mark anywhere in its chain.
func IsNoRetry(err error) bool {
	var p permanentErr
	return errors.As(err, &p)
}

type permanentErr struct{ cause error }

func (p permanentErr) Error() string { return "no-retry: " + p.cause.Error() }
func (p permanentErr) Unwrap() error { return p.cause }

// RetryAfterError is implemented by errors carrying an explicit retry delay,
// typically mapped from an HTTP Retry-After or rate-limit-reset header.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

// RetryAfter attaches a suggested delay to err. The worker uses the hint in
// place of its computed backoff, still capped by RetryMaxDelay and jittered.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return delayHintErr{cause: err, delay: after}
}

type delayHintErr struct {
	cause error
	delay time.Duration
}

func (d delayHintErr) Error() string {
	return fmt.Sprintf("retry-after(%s): %v", d.delay, d.cause)
}
func (d delayHintErr) Unwrap() error             { return d.cause }
func (d delayHintErr) RetryAfter() time.Duration { return d.delay }
