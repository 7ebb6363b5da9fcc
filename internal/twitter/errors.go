package twitter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-2xx API response.
//
// Title/Detail come from the v2 error body when present. 429 and 5xx are
// retryable; other 4xx statuses are permanent (bad request, duplicate
// content, revoked credentials) and retrying them cannot help.
type APIError struct {
	Status int
	Title  string
	Detail string
}

func (e *APIError) Error() string {
	switch {
	case e.Detail != "":
		return fmt.Sprintf("twitter: %s (%d): %s", e.Title, e.Status, e.Detail)
	case e.Title != "":
		return fmt.Sprintf("twitter: %s (%d)", e.Title, e.Status)
	default:
		return fmt.Sprintf("twitter: http %d", e.Status)
	}
}

// Temporary reports whether retrying later could succeed.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// IsRateLimit reports whether e is a 429.
func (e *APIError) IsRateLimit() bool {
	return e.Status == http.StatusTooManyRequests
}

func parseAPIError(resp *http.Response, raw []byte) *APIError {
	e := &APIError{Status: resp.StatusCode}
	if len(raw) == 0 {
		return e
	}
	var body struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return e
	}
	e.Title = body.Title
	e.Detail = body.Detail
	if e.Detail == "" && len(body.Errors) > 0 {
		e.Detail = body.Errors[0].Message
	}
	return e
}

const (
	defaultRateResetWait = time.Minute
	maxRateResetWait     = 15 * time.Minute
)

// rateResetWait derives the sleep before retrying a 429 from the
// x-rate-limit-reset header (unix seconds), padded by a second. A missing or
// bogus header falls back to one minute; the wait is capped at the 15-minute
// API window.
func rateResetWait(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("x-rate-limit-reset"))
	if v == "" {
		return defaultRateResetWait
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil || sec <= 0 {
		return defaultRateResetWait
	}
	wait := time.Unix(sec, 0).Sub(now) + time.Second
	if wait < time.Second {
		wait = time.Second
	}
	if wait > maxRateResetWait {
		wait = maxRateResetWait
	}
	return wait
}
