// Package browser abstracts the single live browser page techdex drives.
// The chromedp implementation lives in chrome.go; tests use browsertest.
package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrClosed indicates the browser itself is gone and no page can be loaded.
	ErrClosed = errors.New("browser session closed")
	// ErrNoElement indicates a selector matched nothing.
	ErrNoElement = errors.New("element not found")
)

// Snapshot is the observable state of the page at one instant.
type Snapshot struct {
	URL    string
	Title  string
	HTML   string
	Status int // HTTP status of the last document response, 0 if unknown
}

// Cookie is a browser cookie.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
	Expires  time.Time
}

// Page is a single browser tab. Implementations are not safe for concurrent use.
type Page interface {
	// Navigate loads url and returns once the document is ready.
	Navigate(ctx context.Context, url string) error
	// Reload reloads the current document.
	Reload(ctx context.Context) error
	// Snapshot captures the current URL, title, HTML and status.
	Snapshot(ctx context.Context) (Snapshot, error)
	// Cookies returns the cookies visible to the current page.
	Cookies(ctx context.Context) ([]Cookie, error)
	// SetCookies installs cookies for url before the next navigation.
	SetCookies(ctx context.Context, url string, cookies []Cookie) error
	// Click activates the first element matching a CSS selector.
	Click(ctx context.Context, selector string) error
	// Screenshot captures the viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	// Close releases the page and its browser.
	Close() error
}
