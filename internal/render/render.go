// Package render retrieves a technology's games by letting the browser
// render the client-side table and clicking through its pages.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jmylchreest/techdex/internal/artifacts"
	"github.com/jmylchreest/techdex/internal/browser"
	"github.com/jmylchreest/techdex/internal/logger"
	"github.com/jmylchreest/techdex/internal/session"
	"github.com/jmylchreest/techdex/internal/table"
	"github.com/jmylchreest/techdex/internal/waitfor"
	"github.com/jmylchreest/techdex/pkg/catalog"
)

// ErrNoTable is returned when the table never rendered on the first page.
var ErrNoTable = errors.New("table did not render")

// ErrPageSkipped means a click landed on a page other than the next one.
var ErrPageSkipped = errors.New("pagination skipped a page")

// Session is the part of session.Session the fallback needs.
type Session interface {
	Page() browser.Page
}

// Config bounds the fallback.
type Config struct {
	MaxPages        int
	RenderWait      waitfor.Policy // initial render
	RerenderWait    waitfor.Policy // after each page click
	RerenderRetries int            // extra clicks when a page does not change
}

// DefaultConfig mirrors the CLI defaults.
func DefaultConfig() Config {
	return Config{
		MaxPages:        100,
		RenderWait:      waitfor.Policy{Interval: 500 * time.Millisecond, Timeout: 30 * time.Second},
		RerenderWait:    waitfor.Policy{Interval: 250 * time.Millisecond, Timeout: 10 * time.Second},
		RerenderRetries: 2,
	}
}

// Result is what the fallback collected. Records are always returned, even
// when End says retrieval stopped early.
type Result struct {
	Records []table.Record
	Pages   int
	End     catalog.End
	Err     error // cause when End is render_failed
}

// Extractor drives the rendered table.
type Extractor struct {
	sess Session
	base string
	cfg  Config
	sink artifacts.Sink
	log  *slog.Logger
}

// New creates an Extractor. sink may be nil.
func New(sess Session, base string, cfg Config, sink artifacts.Sink) *Extractor {
	def := DefaultConfig()
	if cfg.RenderWait.Interval <= 0 {
		cfg.RenderWait = def.RenderWait
	}
	if cfg.RerenderWait.Interval <= 0 {
		cfg.RerenderWait = def.RerenderWait
	}
	if cfg.RerenderRetries < 0 {
		cfg.RerenderRetries = 0
	}
	if sink == nil {
		sink = artifacts.Noop{}
	}
	return &Extractor{sess: sess, base: base, cfg: cfg, sink: sink, log: logger.Component("render")}
}

// ExtractCurrent scrapes the technology page already loaded in the browser.
func (e *Extractor) ExtractCurrent(ctx context.Context, tech *catalog.Technology) (Result, error) {
	log := e.log.With("technology", tech.Name)
	page := e.sess.Page()
	name := artifactName(tech)

	tbl, html, err := e.awaitRender(ctx, page)
	if err != nil {
		if errors.Is(err, browser.ErrClosed) {
			return Result{End: catalog.EndError}, unrecoverable(err)
		}
		if ctx.Err() != nil {
			return Result{End: catalog.EndError}, ctx.Err()
		}
		log.Warn("table did not render", "error", err)
		e.sink.HTML(name+"_load_failure", html)
		if shot, serr := page.Screenshot(ctx); serr == nil {
			e.sink.Screenshot(name+"_load_failure", shot)
		}
		return Result{End: catalog.EndRenderFailed, Err: err}, fmt.Errorf("%w: %w", ErrNoTable, err)
	}
	e.sink.HTML(name+"_table", html)

	res := Result{Pages: 1, End: catalog.EndExhausted}
	res.Records = append(res.Records, table.Decode(tbl, e.base)...)
	log.Debug("page scraped", "page", 1, "rows", tbl.Len())
	if tbl.Len() == 0 {
		e.sink.HTML(fmt.Sprintf("%s_empty_page_%d", name, 1), html)
	}

	pg, err := e.pager(html)
	for {
		if err != nil {
			return res, err
		}
		if pg.state != nextEnabled {
			res.End = catalog.EndExhausted
			break
		}
		if e.cfg.MaxPages > 0 && res.Pages >= e.cfg.MaxPages {
			res.End = catalog.EndBudget
			log.Info("page budget reached", "pages", res.Pages, "records", len(res.Records))
			break
		}

		want := pg.target.page
		if want == 0 && pg.current > 0 {
			want = pg.current + 1
		}
		tbl, html, err = e.advance(ctx, page, pg.target, tbl.Fingerprint())
		if err != nil {
			if errors.Is(err, browser.ErrClosed) {
				return res, unrecoverable(err)
			}
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.End = catalog.EndRenderFailed
			res.Err = err
			log.Warn("pagination stopped", "page", res.Pages+1, "error", err, "records", len(res.Records))
			break
		}

		pg, err = e.pager(html)
		if err == nil && want > 0 && pg.current > 0 && pg.current != want {
			res.End = catalog.EndRenderFailed
			res.Err = fmt.Errorf("%w: expected page %d, table shows page %d", ErrPageSkipped, want, pg.current)
			log.Warn("pagination stopped", "page", want, "error", res.Err, "records", len(res.Records))
			break
		}

		res.Pages++
		res.Records = append(res.Records, table.Decode(tbl, e.base)...)
		log.Debug("page scraped", "page", res.Pages, "rows", tbl.Len())
		if tbl.Len() == 0 {
			e.sink.HTML(fmt.Sprintf("%s_empty_page_%d", name, res.Pages), html)
			res.End = catalog.EndExhausted
			break
		}
	}

	log.Info("fallback complete", "pages", res.Pages, "records", len(res.Records), "end", res.End)
	return res, nil
}

// awaitRender waits until the table shows rows (or its empty placeholder)
// and the processing indicator is gone.
func (e *Extractor) awaitRender(ctx context.Context, page browser.Page) (*table.Table, string, error) {
	var (
		tbl  *table.Table
		html string
	)
	_, err := waitfor.Poll(ctx, e.cfg.RenderWait, func(ctx context.Context) (bool, error) {
		t, h, err := readTable(ctx, page)
		html = h
		if err != nil || t == nil {
			return false, err
		}
		tbl = t
		return true, nil
	})
	return tbl, html, err
}

// advance clicks target and waits for the rows to change. A numbered target
// is clicked again on each of the RerenderRetries extra attempts; an arrow is
// clicked once and only waited on, since a second click could move two pages.
func (e *Extractor) advance(ctx context.Context, page browser.Page, target nextTarget, before string) (*table.Table, string, error) {
	var lastErr error
	clicks := 0
	for attempt := 0; attempt <= e.cfg.RerenderRetries; attempt++ {
		if attempt == 0 || target.page > 0 || clicks == 0 {
			if attempt > 0 {
				e.log.Debug("page did not change, clicking again", "attempt", attempt+1, "selector", target.selector)
			}
			if err := page.Click(ctx, target.selector); err != nil {
				if errors.Is(err, browser.ErrClosed) || ctx.Err() != nil {
					return nil, "", err
				}
				lastErr = err
				continue
			}
			clicks++
		} else {
			e.log.Debug("page did not change yet, waiting again", "attempt", attempt+1, "selector", target.selector)
		}

		var (
			tbl  *table.Table
			html string
		)
		_, err := waitfor.Poll(ctx, e.cfg.RerenderWait, func(ctx context.Context) (bool, error) {
			t, h, err := readTable(ctx, page)
			if err != nil || t == nil || t.Fingerprint() == before {
				return false, err
			}
			tbl, html = t, h
			return true, nil
		})
		if err == nil {
			return tbl, html, nil
		}
		if errors.Is(err, browser.ErrClosed) || ctx.Err() != nil {
			return nil, "", err
		}
		lastErr = err
	}
	return nil, "", fmt.Errorf("page did not re-render after %d attempts (%d clicks): %w", e.cfg.RerenderRetries+1, clicks, lastErr)
}

// readTable snapshots the page and returns its table once it has settled:
// rows (or the empty placeholder) present and no processing indicator.
// A nil table with a nil error means "not yet".
func readTable(ctx context.Context, page browser.Page) (*table.Table, string, error) {
	snap, err := page.Snapshot(ctx)
	if err != nil {
		if errors.Is(err, browser.ErrClosed) {
			return nil, "", err
		}
		return nil, "", waitfor.Retry(err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snap.HTML))
	if err != nil || processing(doc) {
		return nil, snap.HTML, nil
	}
	t, err := table.FromHTML(snap.HTML)
	if err != nil || (t.Len() == 0 && !t.Placeholder) {
		return nil, snap.HTML, nil
	}
	return t, snap.HTML, nil
}

func (e *Extractor) pager(html string) (pager, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return pager{}, fmt.Errorf("parse page: %w", err)
	}
	return nextControl(doc), nil
}

func unrecoverable(err error) error {
	return fmt.Errorf("render: %w: %w", session.ErrUnrecoverable, err)
}

func artifactName(tech *catalog.Technology) string {
	return tech.Category + "_" + tech.Name
}
