// Package browsertest provides a scripted in-memory browser.Page for tests.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jmylchreest/techdex/internal/browser"
)

// Page is a fake browser.Page. Behaviour is supplied through hooks; every
// call is recorded so tests can assert on ordering and counts.
type Page struct {
	mu sync.Mutex

	// Render returns the snapshot for url. polls counts snapshots taken since
	// the last navigation or reload, starting at 1.
	Render func(url string, polls int) (browser.Snapshot, error)
	// OnNavigate may fail a navigation.
	OnNavigate func(url string) error
	// OnReload may fail a reload or change what Render serves next.
	OnReload func() error
	// OnClick handles a click; the fake has no DOM of its own.
	OnClick func(selector string) error

	current     string
	polls       int
	cookies     []browser.Cookie
	navigations []string
	reloads     int
	clicks      []string
	closed      bool
}

var _ browser.Page = (*Page)(nil)

// Navigate implements browser.Page.
func (p *Page) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return browser.ErrClosed
	}
	p.navigations = append(p.navigations, url)
	if p.OnNavigate != nil {
		if err := p.OnNavigate(url); err != nil {
			return err
		}
	}
	p.current = url
	p.polls = 0
	return nil
}

// Reload implements browser.Page.
func (p *Page) Reload(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return browser.ErrClosed
	}
	p.reloads++
	if p.OnReload != nil {
		if err := p.OnReload(); err != nil {
			return err
		}
	}
	p.polls = 0
	return nil
}

// Snapshot implements browser.Page.
func (p *Page) Snapshot(_ context.Context) (browser.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return browser.Snapshot{}, browser.ErrClosed
	}
	p.polls++
	if p.Render == nil {
		return browser.Snapshot{URL: p.current, Status: 200, HTML: "<html><body></body></html>"}, nil
	}
	snap, err := p.Render(p.current, p.polls)
	if snap.URL == "" {
		snap.URL = p.current
	}
	return snap, err
}

// Cookies implements browser.Page.
func (p *Page) Cookies(_ context.Context) ([]browser.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.Cookie(nil), p.cookies...), nil
}

// SetCookies implements browser.Page.
func (p *Page) SetCookies(_ context.Context, _ string, cookies []browser.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = append(p.cookies, cookies...)
	return nil
}

// Click implements browser.Page.
func (p *Page) Click(_ context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, selector)
	if p.OnClick == nil {
		return fmt.Errorf("click %s: %w", selector, browser.ErrNoElement)
	}
	if err := p.OnClick(selector); err != nil {
		return err
	}
	p.polls = 0
	return nil
}

// Screenshot implements browser.Page.
func (p *Page) Screenshot(context.Context) ([]byte, error) {
	return []byte("\x89PNG"), nil
}

// Close implements browser.Page.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// AddCookies seeds the page's cookie store, as if the site had set them.
func (p *Page) AddCookies(cookies ...browser.Cookie) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = append(p.cookies, cookies...)
}

// Navigations returns every URL navigated to, in order.
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// NavigationsTo counts navigations whose URL contains substr.
func (p *Page) NavigationsTo(substr string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, u := range p.navigations {
		if strings.Contains(u, substr) {
			n++
		}
	}
	return n
}

// Clicks returns every selector clicked, in order.
func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// Reloads returns the number of reloads.
func (p *Page) Reloads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloads
}
