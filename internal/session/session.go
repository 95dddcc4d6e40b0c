// Package session holds the state shared by every request techdex makes to
// the catalog origin: the browser page, the cookie jar the fast path reuses,
// and the limiter that spaces origin-observable requests.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync/atomic"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"

	"github.com/jmylchreest/techdex/internal/browser"
	"github.com/jmylchreest/techdex/internal/challenge"
	"github.com/jmylchreest/techdex/internal/logger"
)

// ErrUnrecoverable means the browser session is gone; the run cannot continue.
var ErrUnrecoverable = errors.New("browser session unrecoverable")

// Config configures a Session.
type Config struct {
	// Delay is the minimum spacing between requests the origin can observe.
	Delay          time.Duration
	UserAgent      string
	RequestTimeout time.Duration
	Challenge      challenge.Config
	Solver         challenge.Solver // optional
}

// Session is passed by reference to whichever extractor is active. It is not
// safe for concurrent use; techdex has a single flow of control.
type Session struct {
	page      *limitedPage
	jar       *cookiejar.Jar
	limiter   *rate.Limiter
	collector *colly.Collector
	waiter    *challenge.Waiter
	userAgent string
	requests  atomic.Int64
	log       *slog.Logger
}

// Response is a fast-path HTTP response.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// New wraps page in a session. ctx bounds every HTTP request the session makes.
func New(ctx context.Context, page browser.Page, cfg Config) (*Session, error) {
	if page == nil {
		return nil, errors.New("session: nil page")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = browser.DefaultUserAgent
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	limit := rate.Inf
	if cfg.Delay > 0 {
		limit = rate.Every(cfg.Delay)
	}

	s := &Session{
		jar:       jar,
		limiter:   rate.NewLimiter(limit, 1),
		waiter:    challenge.NewWaiter(cfg.Challenge, cfg.Solver),
		userAgent: cfg.UserAgent,
		log:       logger.Component("session"),
	}
	s.page = &limitedPage{Page: page, s: s}
	s.collector = s.newCollector(ctx, cfg)

	return s, nil
}

func (s *Session) newCollector(ctx context.Context, cfg Config) *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.StdlibContext(ctx),
	)
	c.SetRequestTimeout(cfg.RequestTimeout)
	c.SetCookieJar(s.jar)

	transport := http.DefaultTransport.(*http.Transport).Clone()
	c.WithTransport(cloudflarebp.AddCloudFlareByPass(transport))

	c.OnRequest(func(r *colly.Request) {
		pending := r.Ctx.GetAny(callKey).(*call)
		if err := s.wait(pending.ctx); err != nil {
			pending.err = err
			r.Abort()
			return
		}
		s.log.Debug("http request", "url", r.URL.String())
	})

	c.OnResponse(func(r *colly.Response) {
		pending := r.Ctx.GetAny(callKey).(*call)
		pending.resp = &Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       r.Body,
		}
		if r.Headers != nil {
			pending.resp.Header = *r.Headers
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		if r == nil || r.Ctx == nil {
			return
		}
		if pending, ok := r.Ctx.GetAny(callKey).(*call); ok && pending.err == nil {
			pending.err = err
		}
	})

	return c
}

const callKey = "techdex.call"

// call carries one Get through colly's callbacks.
type call struct {
	ctx  context.Context
	resp *Response
	err  error
}

// wait blocks until the limiter admits another origin request.
func (s *Session) wait(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	s.requests.Add(1)
	return nil
}

// Page returns the session's page. Navigations, reloads and clicks through it
// are rate limited.
func (s *Session) Page() browser.Page {
	return s.page
}

// Requests reports how many origin requests the session has admitted.
func (s *Session) Requests() int64 {
	return s.requests.Load()
}

// UserAgent is the agent both the browser and the HTTP client present.
func (s *Session) UserAgent() string {
	return s.userAgent
}

// Open navigates to rawURL and waits out any challenge. On success the page's
// cookies are copied into the jar so the fast path can reuse the clearance.
//
// Errors wrap challenge.ErrChallengeFailed (technology-scoped) or
// ErrUnrecoverable (fatal).
func (s *Session) Open(ctx context.Context, rawURL string) (browser.Snapshot, challenge.Outcome, error) {
	if err := s.page.Navigate(ctx, rawURL); err != nil {
		return browser.Snapshot{}, challenge.Outcome{}, s.classify("open "+rawURL, err)
	}

	outcome, err := s.waiter.Await(ctx, s.page)
	if err != nil {
		return browser.Snapshot{}, outcome, s.classify("open "+rawURL, err)
	}

	snap, err := s.page.Snapshot(ctx)
	if err != nil {
		return browser.Snapshot{}, outcome, s.classify("snapshot "+rawURL, err)
	}

	cookies := outcome.Cookies
	if len(cookies) == 0 {
		if cookies, err = s.page.Cookies(ctx); err != nil {
			s.log.Warn("read page cookies", "error", err)
		}
	}
	s.StoreCookies(rawURL, cookies)

	return snap, outcome, nil
}

func (s *Session) classify(op string, err error) error {
	if errors.Is(err, browser.ErrClosed) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnrecoverable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// StoreCookies copies browser cookies into the HTTP jar for rawURL's origin.
func (s *Session) StoreCookies(rawURL string, cookies []browser.Cookie) {
	if len(cookies) == 0 {
		return
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		s.log.Warn("cannot store cookies for invalid url", "url", rawURL, "error", err)
		return
	}
	jarCookies := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		jarCookies = append(jarCookies, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
			Expires:  c.Expires,
		})
	}
	s.jar.SetCookies(u, jarCookies)
	s.log.Debug("cookies stored", "host", u.Host, "count", len(jarCookies))
}

// Cookies returns the jar's cookies for rawURL.
func (s *Session) Cookies(rawURL string) []*http.Cookie {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return s.jar.Cookies(u)
}

// Get performs a rate-limited GET through the shared collector. Non-2xx
// responses are returned, not treated as errors.
func (s *Session) Get(ctx context.Context, rawURL string, header http.Header) (*Response, error) {
	if header == nil {
		header = http.Header{}
	}
	c := &call{ctx: ctx}
	cctx := colly.NewContext()
	cctx.Put(callKey, c)

	if err := s.collector.Request(http.MethodGet, rawURL, nil, cctx, header); err != nil && c.err == nil {
		c.err = err
	}
	if c.err != nil {
		return c.resp, fmt.Errorf("get %s: %w", rawURL, c.err)
	}
	if c.resp == nil {
		return nil, fmt.Errorf("get %s: no response", rawURL)
	}
	return c.resp, nil
}

// Close closes the underlying page.
func (s *Session) Close() error {
	return s.page.Page.Close()
}

// limitedPage spaces the page actions that reach the origin.
type limitedPage struct {
	browser.Page
	s *Session
}

func (p *limitedPage) Navigate(ctx context.Context, url string) error {
	if err := p.s.wait(ctx); err != nil {
		return err
	}
	p.s.log.Debug("navigate", "url", url)
	return p.Page.Navigate(ctx, url)
}

func (p *limitedPage) Reload(ctx context.Context) error {
	if err := p.s.wait(ctx); err != nil {
		return err
	}
	return p.Page.Reload(ctx)
}

func (p *limitedPage) Click(ctx context.Context, selector string) error {
	if err := p.s.wait(ctx); err != nil {
		return err
	}
	return p.Page.Click(ctx, selector)
}
