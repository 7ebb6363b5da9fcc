package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	logx "quotebot/pkg/logx"
)

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		Timeout:        5 * time.Second,
		RatePerMinute:  6000, // keep the client-side limiter out of test timing
		ConsumerKey:    "ck",
		ConsumerSecret: "cs",
		AccessToken:    "at",
		AccessSecret:   "as",
	}
}

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := New(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return c
}

func TestNewRequiresCredentials(t *testing.T) {
	t.Parallel()
	cfg := testConfig("http://example.invalid")
	cfg.AccessToken = ""
	if _, err := New(cfg, logx.Nop()); err == nil {
		t.Fatal("expected error for missing access token")
	}

	cfg = testConfig("http://example.invalid")
	cfg.ConsumerSecret = ""
	if _, err := New(cfg, logx.Nop()); err == nil {
		t.Fatal("expected error for missing consumer secret")
	}
}

func TestCreateTweet(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/2/tweets" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q", got)
		}
		if auth := r.Header.Get("Authorization"); !strings.HasPrefix(auth, "OAuth ") {
			t.Errorf("Authorization = %q, want OAuth signature", auth)
		}
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(body, &req); err != nil || req.Text != "hello world" {
			t.Errorf("request body = %s", body)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"1456","text":"hello world"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig(srv.URL))
	tw, err := c.CreateTweet(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("CreateTweet error: %v", err)
	}
	if tw.ID != "1456" || tw.Text != "hello world" {
		t.Fatalf("tweet = %+v", tw)
	}
}

func TestCreateTweetMissingID(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig(srv.URL))
	if _, err := c.CreateTweet(context.Background(), "x"); err == nil {
		t.Fatal("expected error for response without id")
	}
}

func TestCreateTweetPermanentError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"title":"Forbidden","detail":"duplicate content","status":403}`))
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig(srv.URL))
	_, err := c.CreateTweet(context.Background(), "x")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusForbidden {
		t.Fatalf("Status = %d, want 403", apiErr.Status)
	}
	if apiErr.Temporary() {
		t.Fatal("403 reported as temporary")
	}
	if !strings.Contains(apiErr.Error(), "duplicate content") {
		t.Fatalf("Error() = %q, want detail included", apiErr.Error())
	}
}

func TestCreateTweetRetriesAfterRateLimit(t *testing.T) {
	t.Parallel()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			// Reset in the past: the client clamps the wait to one second.
			w.Header().Set("x-rate-limit-reset", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"title":"Too Many Requests"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"99","text":"x"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig(srv.URL))
	tw, err := c.CreateTweet(context.Background(), "x")
	if err != nil {
		t.Fatalf("CreateTweet error: %v", err)
	}
	if tw.ID != "99" {
		t.Fatalf("tweet id = %q, want 99", tw.ID)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestMe(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/2/users/me" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":{"id":"42","name":"Quote Bot","username":"quote_bot"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig(srv.URL))
	u, err := c.Me(context.Background())
	if err != nil {
		t.Fatalf("Me error: %v", err)
	}
	if u.ID != "42" || u.Username != "quote_bot" {
		t.Fatalf("user = %+v", u)
	}
}

func TestGetTweetPrefersBearer(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2/tweets/77" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer app-bearer" {
			t.Errorf("Authorization = %q, want bearer", auth)
		}
		_, _ = w.Write([]byte(`{"data":{"id":"77","text":"cached"}}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.BearerToken = "app-bearer"
	c := newTestClient(t, cfg)

	tw, err := c.GetTweet(context.Background(), "77")
	if err != nil {
		t.Fatalf("GetTweet error: %v", err)
	}
	if tw.Text != "cached" {
		t.Fatalf("tweet = %+v", tw)
	}
}

func TestRateResetWait(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)
	tests := []struct {
		name  string
		reset string
		want  time.Duration
	}{
		{name: "missing header", reset: "", want: defaultRateResetWait},
		{name: "garbage", reset: "soon", want: defaultRateResetWait},
		{name: "zero", reset: "0", want: defaultRateResetWait},
		{name: "past clamps to second", reset: "1", want: time.Second},
		{name: "thirty seconds out", reset: "1700000030", want: 31 * time.Second},
		{name: "far future capped", reset: "1700009999", want: maxRateResetWait},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.reset != "" {
				h.Set("x-rate-limit-reset", tt.reset)
			}
			if got := rateResetWait(h, now); got != tt.want {
				t.Fatalf("rateResetWait = %v, want %v", got, tt.want)
			}
		})
	}
}
