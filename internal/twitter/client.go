package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dghubble/oauth1"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	logx "quotebot/pkg/logx"
)

const (
	defaultBaseURL = "https://api.twitter.com"
	defaultTimeout = 30 * time.Second

	// maxErrorBody bounds how much of an error response we read.
	maxErrorBody = 1 << 20
)

// Config configures the API client. Credentials come from the environment;
// they are held here in memory only and never logged.
type Config struct {
	// BaseURL overrides the API endpoint (tests point it at a local server).
	BaseURL string
	// Timeout bounds a single API call, 429 waits excluded.
	Timeout time.Duration
	// RatePerMinute caps client-side request rate (default 60).
	RatePerMinute int

	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string
	BearerToken    string
}

// Tweet is a created post.
type Tweet struct {
	ID   string
	Text string
}

// User is the authenticated account, as reported by the API.
type User struct {
	ID       string
	Name     string
	Username string
}

// Client talks to the Twitter v2 API. Writes are signed with OAuth 1.0a
// user context; reads use the app-context bearer token when one is
// configured.
type Client struct {
	baseURL string
	user    *http.Client
	app     *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.ConsumerKey) == "" || strings.TrimSpace(cfg.ConsumerSecret) == "" {
		return nil, errors.New("twitter: consumer key/secret required")
	}
	if strings.TrimSpace(cfg.AccessToken) == "" || strings.TrimSpace(cfg.AccessSecret) == "" {
		return nil, errors.New("twitter: access token/secret required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}

	oc := oauth1.NewConfig(cfg.ConsumerKey, cfg.ConsumerSecret)
	userClient := oc.Client(context.Background(), oauth1.NewToken(cfg.AccessToken, cfg.AccessSecret))
	userClient.Timeout = timeout

	var appClient *http.Client
	if strings.TrimSpace(cfg.BearerToken) != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.BearerToken})
		appClient = oauth2.NewClient(context.Background(), ts)
		appClient.Timeout = timeout
	}

	perMin := cfg.RatePerMinute
	if perMin <= 0 {
		perMin = 60
	}

	return &Client{
		baseURL: base,
		user:    userClient,
		app:     appClient,
		limiter: rate.NewLimiter(rate.Limit(float64(perMin)/60.0), 1),
		log:     log,
	}, nil
}

// CreateTweet posts text. Success means the response data carried a
// non-empty tweet id; anything else is an error.
func (c *Client) CreateTweet(ctx context.Context, text string) (*Tweet, error) {
	body := createTweetReq{Text: text}
	var out tweetResp
	if err := c.do(ctx, c.user, http.MethodPost, "/2/tweets", body, &out); err != nil {
		return nil, err
	}
	if out.Data.ID == "" {
		return nil, errors.New("twitter: create tweet response carried no id")
	}
	return &Tweet{ID: out.Data.ID, Text: out.Data.Text}, nil
}

// Me returns the authenticated user. Used at startup to verify credentials;
// the endpoint requires user context.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var out userResp
	if err := c.do(ctx, c.user, http.MethodGet, "/2/users/me", nil, &out); err != nil {
		return nil, err
	}
	if out.Data.ID == "" {
		return nil, errors.New("twitter: me response carried no id")
	}
	return &User{ID: out.Data.ID, Name: out.Data.Name, Username: out.Data.Username}, nil
}

// GetTweet fetches a tweet by id, preferring the app-context bearer client.
func (c *Client) GetTweet(ctx context.Context, id string) (*Tweet, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("twitter: tweet id required")
	}
	hc := c.app
	if hc == nil {
		hc = c.user
	}
	var out tweetResp
	if err := c.do(ctx, hc, http.MethodGet, "/2/tweets/"+id, nil, &out); err != nil {
		return nil, err
	}
	if out.Data.ID == "" {
		return nil, errors.New("twitter: tweet response carried no id")
	}
	return &Tweet{ID: out.Data.ID, Text: out.Data.Text}, nil
}

type createTweetReq struct {
	Text string `json:"text"`
}

type tweetResp struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

type userResp struct {
	Data struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Username string `json:"username"`
	} `json:"data"`
}

// do performs one API call with rate limiting. On 429 it sleeps until the
// advertised reset (context-bounded) and retries, so a caller under a
// deadline gets wait-and-retry behavior without its own loop.
func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, in, out any) error {
	if hc == nil {
		return errors.New("twitter: client not configured")
	}

	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("twitter: encode request: %w", err)
		}
		payload = b
	}

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := hc.Do(req)
		if err != nil {
			return err
		}

		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("twitter: read response: %w", readErr)
		}

		if resp.StatusCode/100 == 2 {
			if out == nil || len(raw) == 0 {
				return nil
			}
			if err := json.Unmarshal(raw, out); err != nil {
				return fmt.Errorf("twitter: decode response: %w", err)
			}
			return nil
		}

		apiErr := parseAPIError(resp, raw)
		if resp.StatusCode == http.StatusTooManyRequests {
			wait := rateResetWait(resp.Header, time.Now())
			c.log.Warn("rate limited; waiting for reset",
				logx.String("path", path),
				logx.Duration("wait", wait),
			)
			tmr := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				if !tmr.Stop() {
					<-tmr.C
				}
				return apiErr
			case <-tmr.C:
			}
			continue
		}
		return apiErr
	}
}
