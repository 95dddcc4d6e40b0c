package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/jmylchreest/techdex/internal/logger"
)

// DefaultUserAgent is a current desktop Chrome user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36"

// ChromeConfig configures the chromedp-backed page.
type ChromeConfig struct {
	Headless      bool
	UserAgent     string
	ExecPath      string        // Chrome binary; looked up when empty
	ActionTimeout time.Duration // Upper bound for a single browser action
}

// Common Chrome/Chromium binary names across different systems
var chromeBinaryNames = []string{
	"google-chrome-stable",
	"google-chrome",
	"chromium",
	"chromium-browser",
	"chrome",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"/Applications/Chromium.app/Contents/MacOS/Chromium",
	"/snap/bin/chromium",
	`C:\Program Files\Google\Chrome\Application\chrome.exe`,
	`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
}

// FindChromePath searches PATH and common install locations for Chrome.
// Returns empty string if no binary is found.
func FindChromePath() string {
	for _, name := range chromeBinaryNames {
		if path, err := exec.LookPath(name); err == nil {
			logger.Debug("found Chrome binary", "name", name, "path", path)
			return path
		}
	}
	logger.Warn("no Chrome binary found, relying on chromedp defaults")
	return ""
}

// ChromePage drives one tab of a chromedp-managed browser. The tab lives for
// the whole run so cookies earned by passing a challenge persist.
type ChromePage struct {
	cfg         ChromeConfig
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	status      atomic.Int64
}

// NewChrome launches the browser and opens its tab.
func NewChrome(cfg ChromeConfig) (*ChromePage, error) {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 60 * time.Second
	}

	opts := allocatorOptions(cfg.Headless, cfg.UserAgent)
	execPath := cfg.ExecPath
	if execPath == "" {
		execPath = FindChromePath()
	}
	if execPath != "" {
		opts = append(opts, chromedp.ExecPath(execPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			logger.Debug("chromedp", "msg", fmt.Sprintf(format, args...))
		}),
	)

	p := &ChromePage{
		cfg:         cfg,
		allocCancel: allocCancel,
		ctx:         ctx,
		cancel:      cancel,
	}

	chromedp.ListenTarget(ctx, func(ev interface{}) {
		if e, ok := ev.(*network.EventResponseReceived); ok && e.Type == network.ResourceTypeDocument && e.Response != nil {
			p.status.Store(e.Response.Status)
		}
	})

	// The first Run starts the browser process.
	if err := chromedp.Run(ctx, network.Enable(), injectStealth()); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("%w: start browser: %v", ErrClosed, err)
	}

	logger.Debug("browser started",
		"headless", cfg.Headless,
		"exec_path", execPath,
		"action_timeout", cfg.ActionTimeout)

	return p, nil
}

// run executes actions in the tab, bounded by the action timeout and the caller's ctx.
func (p *ChromePage) run(ctx context.Context, op string, actions ...chromedp.Action) error {
	tctx, cancel := context.WithTimeout(p.ctx, p.cfg.ActionTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(tctx, actions...); err != nil {
		if p.ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ErrClosed)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Navigate implements Page.
func (p *ChromePage) Navigate(ctx context.Context, url string) error {
	p.status.Store(0)
	return p.run(ctx, "navigate "+url,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Reload implements Page.
func (p *ChromePage) Reload(ctx context.Context) error {
	p.status.Store(0)
	return p.run(ctx, "reload",
		chromedp.Reload(),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Snapshot implements Page.
func (p *ChromePage) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := p.run(ctx, "snapshot",
		chromedp.Location(&snap.URL),
		chromedp.Title(&snap.Title),
		chromedp.OuterHTML("html", &snap.HTML, chromedp.ByQuery),
	)
	snap.Status = int(p.status.Load())
	return snap, err
}

// Cookies implements Page.
func (p *ChromePage) Cookies(ctx context.Context) ([]Cookie, error) {
	var raw []*network.Cookie
	err := p.run(ctx, "get cookies", chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}

	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookie := Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if !c.Session && c.Expires > 0 {
			cookie.Expires = time.Unix(int64(c.Expires), 0)
		}
		cookies = append(cookies, cookie)
	}
	return cookies, nil
}

// SetCookies implements Page.
func (p *ChromePage) SetCookies(ctx context.Context, url string, cookies []Cookie) error {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		path := c.Path
		if path == "" {
			path = "/"
		}
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Path:     path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Domain != "" {
			param.Domain = c.Domain
		} else {
			param.URL = url
		}
		params = append(params, param)
	}
	return p.run(ctx, "set cookies", chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookies(params).Do(ctx)
	}))
}

// Click implements Page. The click is dispatched from script so overlays
// and scroll position do not swallow it.
func (p *ChromePage) Click(ctx context.Context, selector string) error {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return fmt.Errorf("quote selector: %w", err)
	}
	script := fmt.Sprintf(`(function() {
    const el = document.querySelector(%s);
    if (!el) { return false; }
    el.scrollIntoView(true);
    el.click();
    return true;
})()`, quoted)

	var clicked bool
	if err := p.run(ctx, "click "+selector, chromedp.Evaluate(script, &clicked)); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("click %s: %w", selector, ErrNoElement)
	}
	return nil
}

// Screenshot implements Page.
func (p *ChromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	captureCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.run(captureCtx, "screenshot", chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close implements Page.
func (p *ChromePage) Close() error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.allocCancel != nil {
		p.allocCancel()
	}
	logger.Debug("browser closed")
	return nil
}
