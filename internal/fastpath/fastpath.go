// Package fastpath retrieves a technology's games from the DataTables
// server-side endpoint behind its page, reusing the browser's clearance.
package fastpath

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/jmylchreest/techdex/internal/logger"
	"github.com/jmylchreest/techdex/internal/session"
	"github.com/jmylchreest/techdex/internal/table"
	"github.com/jmylchreest/techdex/pkg/catalog"
)

// Result is Success or Unavailable.
type Result interface {
	fastPathResult()
}

// Success carries the records fetched. Partial is set when a later page
// failed; the records collected before it are kept.
type Success struct {
	Endpoint string
	Records  []table.Record
	Pages    int
	Total    int // recordsFiltered reported by the server, -1 if absent
	Partial  bool
	End      catalog.End
}

// Unavailable means the fast path could not start; the caller falls back.
type Unavailable struct {
	Reason string
	Err    error
}

func (Success) fastPathResult()     {}
func (Unavailable) fastPathResult() {}

func (u Unavailable) Error() string {
	if u.Err != nil {
		return u.Reason + ": " + u.Err.Error()
	}
	return u.Reason
}

func (u Unavailable) Unwrap() error { return u.Err }

// Fetcher performs a rate-limited GET with the session's cookies.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, header http.Header) (*session.Response, error)
}

// Config controls paging.
type Config struct {
	PageSize      int
	MaxPages      int
	MinReviews    int
	InferEndpoint bool
}

// Extractor pages through a data endpoint.
type Extractor struct {
	client Fetcher
	base   string
	cfg    Config
	log    *slog.Logger
}

// New creates an Extractor. base is the catalog origin.
func New(client Fetcher, base string, cfg Config) *Extractor {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	return &Extractor{client: client, base: base, cfg: cfg, log: logger.Component("fastpath")}
}

// Extract fetches all pages for tech. html is the already-loaded technology
// page at pageURL.
func (e *Extractor) Extract(ctx context.Context, tech *catalog.Technology, pageURL, html string) Result {
	log := e.log.With("technology", tech.Name)

	endpoint, err := FindEndpoint(html, pageURL)
	if err != nil {
		if !e.cfg.InferEndpoint || !errors.Is(err, ErrNoEndpoint) {
			log.Info("fast path unavailable", "reason", "no_endpoint", "error", err)
			return Unavailable{Reason: "no_endpoint", Err: err}
		}
		endpoint = InferEndpoint(e.base, tech.Category, tech.Slug)
		log.Debug("endpoint inferred", "endpoint", endpoint)
	}

	header := http.Header{
		"X-Requested-With": {"XMLHttpRequest"},
		"Accept":           {"application/json, text/javascript, */*; q=0.01"},
		"Referer":          {pageURL},
	}

	res := Success{Endpoint: endpoint, Total: -1, End: catalog.EndExhausted}
	start := 0
	started := time.Now()

	for {
		if e.cfg.MaxPages > 0 && res.Pages >= e.cfg.MaxPages {
			res.End = catalog.EndBudget
			res.Partial = true
			log.Info("fast path page budget reached", "pages", res.Pages, "records", len(res.Records), "total", res.Total)
			break
		}

		reqURL, err := pageQuery(endpoint, res.Pages+1, start, e.cfg.PageSize, e.cfg.MinReviews)
		if err != nil {
			return Unavailable{Reason: "bad_endpoint", Err: err}
		}

		tbl, total, reason, err := e.fetchPage(ctx, reqURL, header)
		if err != nil {
			if res.Pages == 0 {
				log.Info("fast path unavailable", "reason", reason, "endpoint", endpoint, "error", err)
				return Unavailable{Reason: reason, Err: err}
			}
			log.Warn("fast path stopped early", "page", res.Pages+1, "reason", reason, "error", err, "records", len(res.Records))
			res.Partial = true
			res.End = catalog.EndError
			break
		}

		res.Pages++
		if total >= 0 {
			res.Total = total
		}
		res.Records = append(res.Records, table.Decode(tbl, e.base)...)
		start += tbl.Len()

		log.Debug("fast path page",
			"page", res.Pages,
			"rows", tbl.Len(),
			"start", start,
			"total", res.Total)

		if tbl.Len() == 0 ||
			(res.Total >= 0 && start >= res.Total) ||
			(res.Total < 0 && tbl.Len() < e.cfg.PageSize) {
			break
		}
	}

	log.Info("fast path complete",
		"pages", res.Pages,
		"records", len(res.Records),
		"end", res.End,
		"elapsed", time.Since(started).Round(time.Millisecond))
	return res
}

// fetchPage returns the page's table and the server's filtered total (-1
// when absent). On failure reason names the cause.
func (e *Extractor) fetchPage(ctx context.Context, reqURL string, header http.Header) (*table.Table, int, string, error) {
	resp, err := e.client.Get(ctx, reqURL, header)
	if err != nil {
		return nil, -1, "fetch_error", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, -1, "http_status", fmt.Errorf("status %d", resp.StatusCode)
	}
	tbl, total, err := ParsePayload(resp.Body)
	if err != nil {
		return nil, -1, "bad_payload", err
	}
	return tbl, total, "", nil
}

// pageQuery builds a DataTables server-side request for one page.
func pageQuery(endpoint string, draw, start, length, minReviews int) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("draw", strconv.Itoa(draw))
	q.Set("start", strconv.Itoa(start))
	q.Set("length", strconv.Itoa(length))
	q.Set("min_reviews", strconv.Itoa(minReviews))
	q.Set("search[value]", "")
	q.Set("search[regex]", "false")
	q.Set("order[0][column]", "0")
	q.Set("order[0][dir]", "asc")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParsePayload decodes a DataTables server-side response. Rows may be cell
// arrays or objects keyed by column data name.
func ParsePayload(body []byte) (*table.Table, int, error) {
	if !gjson.ValidBytes(body) {
		return nil, -1, errors.New("response is not JSON")
	}
	root := gjson.ParseBytes(body)
	if msg := root.Get("error"); msg.Exists() && msg.String() != "" {
		return nil, -1, fmt.Errorf("server error: %s", msg.String())
	}

	data := root.Get("data")
	if !data.Exists() {
		data = root.Get("aaData")
	}
	if !data.IsArray() {
		return nil, -1, errors.New("payload has no data array")
	}

	total := -1
	for _, key := range []string{"recordsFiltered", "iTotalDisplayRecords", "recordsTotal", "iTotalRecords"} {
		if v := root.Get(key); v.Exists() {
			total = int(v.Int())
			break
		}
	}

	t := &table.Table{}
	root.Get("columns").ForEach(func(_, col gjson.Result) bool {
		c := table.Column{Title: col.Get("title").String(), Key: col.Get("data").String()}
		if c.Key == "" {
			c.Key = col.Get("name").String()
		}
		t.Columns = append(t.Columns, c)
		return true
	})

	data.ForEach(func(_, row gjson.Result) bool {
		t.Rows = append(t.Rows, decodeRow(row, t.Columns))
		return true
	})

	return t, total, nil
}

func decodeRow(row gjson.Result, cols []table.Column) table.Row {
	var r table.Row
	if row.IsArray() {
		row.ForEach(func(_, cell gjson.Result) bool {
			r.Cells = append(r.Cells, cell.String())
			return true
		})
		return r
	}

	r.AppID = row.Get("DT_RowData.appid").String()
	if r.AppID == "" {
		r.AppID = row.Get(`DT_RowAttr.data-appid`).String()
	}

	keyed := false
	for _, c := range cols {
		if c.Key != "" {
			keyed = true
			break
		}
	}
	if keyed {
		for _, c := range cols {
			r.Cells = append(r.Cells, row.Get(gjson.Escape(c.Key)).String())
		}
		return r
	}

	row.ForEach(func(key, cell gjson.Result) bool {
		if len(key.String()) > 3 && key.String()[:3] == "DT_" {
			return true
		}
		r.Cells = append(r.Cells, cell.String())
		return true
	})
	return r
}
