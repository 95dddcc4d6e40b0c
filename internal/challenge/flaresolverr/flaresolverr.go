// Package flaresolverr hands a stuck challenge to a FlareSolverr proxy and
// returns the clearance cookies it earned.
package flaresolverr

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

	"github.com/jmylchreest/techdex/internal/browser"
	"github.com/jmylchreest/techdex/internal/challenge"
	"github.com/jmylchreest/techdex/internal/logger"
)

var (
	// ErrUnavailable indicates the FlareSolverr service is not reachable.
	ErrUnavailable = errors.New("flaresolverr unavailable")
	// ErrTimeout indicates FlareSolverr gave up before the challenge cleared.
	ErrTimeout = errors.New("flaresolverr timed out")
	// ErrUnsolvable indicates an interactive captcha FlareSolverr cannot pass.
	ErrUnsolvable = errors.New("challenge unsolvable by flaresolverr")
	// ErrBlocked indicates the target refused FlareSolverr outright.
	ErrBlocked = errors.New("flaresolverr blocked")
)

// Client talks to the FlareSolverr v1 API.
type Client struct {
	endpoint   string
	httpClient *http.Client
	maxTimeout time.Duration
	session    string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used to reach FlareSolverr.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Client) { f.httpClient = c }
}

// WithMaxTimeout bounds how long FlareSolverr may spend on one challenge.
func WithMaxTimeout(d time.Duration) Option {
	return func(f *Client) { f.maxTimeout = d }
}

// WithSession reuses a persistent FlareSolverr browser across solves.
func WithSession(id string) Option {
	return func(f *Client) { f.session = id }
}

var _ challenge.Solver = (*Client)(nil)

// New creates a client for the API at endpoint (e.g. http://localhost:8191/v1).
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		maxTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type request struct {
	Cmd        string `json:"cmd"`
	URL        string `json:"url,omitempty"`
	Session    string `json:"session,omitempty"`
	MaxTimeout int64  `json:"maxTimeout,omitempty"`
}

type response struct {
	Status   string    `json:"status"`
	Message  string    `json:"message"`
	Solution *solution `json:"solution,omitempty"`
	StartTS  float64   `json:"startTimestamp"`
	EndTS    float64   `json:"endTimestamp"`
	Session  string    `json:"session,omitempty"`
}

type solution struct {
	URL       string   `json:"url"`
	Status    int      `json:"status"`
	Cookies   []cookie `json:"cookies"`
	UserAgent string   `json:"userAgent"`
}

type cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	Session  bool    `json:"session"`
}

// Solve implements challenge.Solver with a request.get command.
func (c *Client) Solve(ctx context.Context, url string) (challenge.Solution, error) {
	resp, err := c.call(ctx, request{
		Cmd:        "request.get",
		URL:        url,
		Session:    c.session,
		MaxTimeout: c.maxTimeout.Milliseconds(),
	})
	if err != nil {
		return challenge.Solution{}, err
	}
	if resp.Status != "ok" {
		return challenge.Solution{}, classify(url, resp.Message)
	}
	if resp.Solution == nil {
		return challenge.Solution{}, fmt.Errorf("%w: no solution returned", ErrBlocked)
	}

	logger.Debug("flaresolverr solved",
		"url", url,
		"status_code", resp.Solution.Status,
		"cookies", len(resp.Solution.Cookies),
		"duration_s", fmt.Sprintf("%.2f", (resp.EndTS-resp.StartTS)/1000))

	return challenge.Solution{
		Cookies:   resp.Solution.browserCookies(),
		UserAgent: resp.Solution.UserAgent,
	}, nil
}

// CreateSession starts the persistent browser named by WithSession.
func (c *Client) CreateSession(ctx context.Context) error {
	if c.session == "" {
		return errors.New("flaresolverr: no session configured")
	}
	resp, err := c.call(ctx, request{Cmd: "sessions.create", Session: c.session})
	if err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("flaresolverr session create: %s", resp.Message)
	}
	logger.Debug("flaresolverr session created", "session", c.session)
	return nil
}

// DestroySession tears the persistent browser down. Failures are logged only.
func (c *Client) DestroySession(ctx context.Context) {
	if c.session == "" {
		return
	}
	resp, err := c.call(ctx, request{Cmd: "sessions.destroy", Session: c.session})
	if err != nil {
		logger.Debug("flaresolverr session destroy failed", "session", c.session, "error", err)
		return
	}
	logger.Debug("flaresolverr session destroyed", "session", c.session, "status", resp.Status)
}

func (c *Client) call(ctx context.Context, body request) (*response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal flaresolverr %s: %w", body.Cmd, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build flaresolverr %s: %w", body.Cmd, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read flaresolverr %s: %w", body.Cmd, err)
	}

	// Errors come back as 500 with a JSON body, so parse regardless of status.
	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		logger.Warn("flaresolverr returned invalid response", "status_code", resp.StatusCode, "body", truncate(string(raw), 200))
		return nil, fmt.Errorf("parse flaresolverr %s: %w", body.Cmd, err)
	}
	return &out, nil
}

// classify maps a FlareSolverr error message to a sentinel.
func classify(url, message string) error {
	msg := strings.ToLower(message)

	var sentinel error
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		sentinel = ErrTimeout
	case strings.Contains(msg, "could not be solved"),
		strings.Contains(msg, "unable to solve"),
		strings.Contains(msg, "failed to solve"),
		strings.Contains(msg, "captcha"),
		strings.Contains(msg, "turnstile"):
		sentinel = ErrUnsolvable
	default:
		sentinel = ErrBlocked
	}

	logger.Warn("flaresolverr failed", "url", url, "kind", sentinel, "message", message)
	return fmt.Errorf("%w: %s", sentinel, message)
}

func (s *solution) browserCookies() []browser.Cookie {
	cookies := make([]browser.Cookie, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		bc := browser.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if !c.Session && c.Expires > 0 {
			bc.Expires = time.Unix(int64(c.Expires), 0)
		}
		cookies = append(cookies, bc)
	}
	return cookies
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
