package fastpath

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/jmylchreest/techdex/internal/browser/browsertest"
	"github.com/jmylchreest/techdex/internal/session"
	"github.com/jmylchreest/techdex/pkg/catalog"
)

const techPage = `<html><head><title>Unity · SteamDB</title></head><body>
<table class="table-products" id="table-apps"></table>
<script>
$('#table-apps').DataTable({
    "serverSide": true,
    "ajax": "/tech/Engine/Unity/data/",
    "pageLength": 100
});
</script>
</body></html>`

// catalogServer serves n games through a DataTables endpoint.
type catalogServer struct {
	*httptest.Server
	mu       sync.Mutex
	n        int
	failPage int // 1-based page that answers 500; 0 disables
	status   int // status for every data request when set
	body     string
	queries  []map[string]string
}

func newCatalogServer(t *testing.T, n int) *catalogServer {
	t.Helper()
	cs := &catalogServer{n: n}
	cs.Server = httptest.NewServer(http.HandlerFunc(cs.handle))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *catalogServer) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cs.mu.Lock()
	cs.queries = append(cs.queries, map[string]string{
		"draw":        q.Get("draw"),
		"start":       q.Get("start"),
		"length":      q.Get("length"),
		"min_reviews": q.Get("min_reviews"),
		"xhr":         r.Header.Get("X-Requested-With"),
		"referer":     r.Header.Get("Referer"),
	})
	page := len(cs.queries)
	cs.mu.Unlock()

	if cs.status != 0 {
		w.WriteHeader(cs.status)
		_, _ = w.Write([]byte(cs.body))
		return
	}
	if cs.failPage == page {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	start, _ := strconv.Atoi(q.Get("start"))
	length, _ := strconv.Atoi(q.Get("length"))
	var data [][]string
	for i := start; i < start+length && i < cs.n; i++ {
		id := 1000 + i
		data = append(data, []string{
			strconv.Itoa(id),
			fmt.Sprintf(`<a href="/app/%d/">Game %d</a>`, id, id),
			"2020-01-02",
			"1,234",
			"90%",
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"draw":            q.Get("draw"),
		"recordsTotal":    cs.n,
		"recordsFiltered": cs.n,
		"data":            data,
	})
}

func (cs *catalogServer) requests() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.queries)
}

func newExtractor(t *testing.T, base string, cfg Config) *Extractor {
	t.Helper()
	sess, err := session.New(context.Background(), &browsertest.Page{}, session.Config{})
	if err != nil {
		t.Fatalf("session.New() error = %v", err)
	}
	return New(sess, base, cfg)
}

func unity() *catalog.Technology {
	return &catalog.Technology{Name: "Unity", Category: "Engine", Slug: "Unity", DeclaredCount: 230}
}

func TestExtract_AllPages(t *testing.T) {
	srv := newCatalogServer(t, 230)
	e := newExtractor(t, srv.URL, Config{PageSize: 50, MaxPages: 100, MinReviews: 500})

	res := e.Extract(context.Background(), unity(), srv.URL+"/tech/Engine/Unity/", techPage)
	ok, isSuccess := res.(Success)
	if !isSuccess {
		t.Fatalf("expected Success, got %#v", res)
	}
	if len(ok.Records) != 230 {
		t.Errorf("records = %d, want 230", len(ok.Records))
	}
	if ok.Pages != 5 {
		t.Errorf("pages = %d, want 5", ok.Pages)
	}
	if ok.End != catalog.EndExhausted || ok.Partial {
		t.Errorf("End = %s, Partial = %v", ok.End, ok.Partial)
	}
	if ok.Total != 230 {
		t.Errorf("Total = %d, want 230", ok.Total)
	}
	if ok.Records[0].AppID != "1000" || ok.Records[229].AppID != "1229" {
		t.Errorf("unexpected record order: first %s, last %s", ok.Records[0].AppID, ok.Records[229].AppID)
	}
	if ok.Records[0].Reviews != "1,234" {
		t.Errorf("reviews should stay formatted, got %q", ok.Records[0].Reviews)
	}

	q := srv.queries[2]
	if q["draw"] != "3" || q["start"] != "100" || q["length"] != "50" || q["min_reviews"] != "500" {
		t.Errorf("unexpected third request: %v", q)
	}
	if q["xhr"] != "XMLHttpRequest" || q["referer"] != srv.URL+"/tech/Engine/Unity/" {
		t.Errorf("missing XHR headers: %v", q)
	}
}

func TestExtract_PageBudget(t *testing.T) {
	srv := newCatalogServer(t, 230)
	e := newExtractor(t, srv.URL, Config{PageSize: 50, MaxPages: 2})

	res := e.Extract(context.Background(), unity(), srv.URL+"/tech/Engine/Unity/", techPage)
	ok, isSuccess := res.(Success)
	if !isSuccess {
		t.Fatalf("expected Success, got %#v", res)
	}
	if len(ok.Records) != 100 || ok.Pages != 2 {
		t.Errorf("records = %d pages = %d, want 100 and 2", len(ok.Records), ok.Pages)
	}
	if ok.End != catalog.EndBudget || !ok.Partial {
		t.Errorf("End = %s Partial = %v, want budget and partial", ok.End, ok.Partial)
	}
	if srv.requests() != 2 {
		t.Errorf("requests = %d, budget should stop at 2", srv.requests())
	}
}

func TestExtract_ShortLastPageWithoutTotal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("start") == "0" {
			_, _ = w.Write([]byte(`{"data":[["<a href=\"/app/1/\">A</a>"],["<a href=\"/app/2/\">B</a>"]]}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[["<a href=\"/app/3/\">C</a>"]]}`))
	}))
	defer srv.Close()

	e := newExtractor(t, srv.URL, Config{PageSize: 2, MaxPages: 10})
	res := e.Extract(context.Background(), unity(), srv.URL+"/tech/Engine/Unity/", techPage)
	ok, isSuccess := res.(Success)
	if !isSuccess {
		t.Fatalf("expected Success, got %#v", res)
	}
	if len(ok.Records) != 3 || ok.Pages != 2 || ok.Total != -1 {
		t.Errorf("records = %d pages = %d total = %d", len(ok.Records), ok.Pages, ok.Total)
	}
}

func TestExtract_Unavailable(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		html   string
		reason string
	}{
		{"no endpoint", 0, "", `<html><body><table></table></body></html>`, "no_endpoint"},
		{"forbidden", http.StatusForbidden, "denied", techPage, "http_status"},
		{"challenge html", http.StatusOK, "<html><title>Just a moment...</title></html>", techPage, "bad_payload"},
		{"server error field", http.StatusOK, `{"error":"invalid request","data":[]}`, techPage, "bad_payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newCatalogServer(t, 10)
			srv.status = tt.status
			srv.body = tt.body
			e := newExtractor(t, srv.URL, Config{PageSize: 50, MaxPages: 5})

			res := e.Extract(context.Background(), unity(), srv.URL+"/tech/Engine/Unity/", tt.html)
			u, ok := res.(Unavailable)
			if !ok {
				t.Fatalf("expected Unavailable, got %#v", res)
			}
			if u.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", u.Reason, tt.reason)
			}
		})
	}
}

func TestExtract_NoEndpointError(t *testing.T) {
	e := newExtractor(t, "https://steamdb.info", Config{})
	res := e.Extract(context.Background(), unity(), "https://steamdb.info/tech/Engine/Unity/", "<html></html>")
	u, ok := res.(Unavailable)
	if !ok {
		t.Fatalf("expected Unavailable, got %#v", res)
	}
	if !errors.Is(u, ErrNoEndpoint) {
		t.Errorf("expected ErrNoEndpoint in chain, got %v", u)
	}
}

func TestExtract_InferredEndpoint(t *testing.T) {
	srv := newCatalogServer(t, 3)
	e := newExtractor(t, srv.URL, Config{PageSize: 50, MaxPages: 5, InferEndpoint: true})

	res := e.Extract(context.Background(), unity(), srv.URL+"/tech/Engine/Unity/", `<html><body></body></html>`)
	ok, isSuccess := res.(Success)
	if !isSuccess {
		t.Fatalf("expected Success, got %#v", res)
	}
	if ok.Endpoint != srv.URL+"/tech/Engine/Unity/data/" {
		t.Errorf("Endpoint = %q", ok.Endpoint)
	}
	if len(ok.Records) != 3 {
		t.Errorf("records = %d, want 3", len(ok.Records))
	}
}

func TestExtract_LaterPageFailureIsPartial(t *testing.T) {
	srv := newCatalogServer(t, 230)
	srv.failPage = 3
	e := newExtractor(t, srv.URL, Config{PageSize: 50, MaxPages: 100})

	res := e.Extract(context.Background(), unity(), srv.URL+"/tech/Engine/Unity/", techPage)
	ok, isSuccess := res.(Success)
	if !isSuccess {
		t.Fatalf("expected partial Success, got %#v", res)
	}
	if !ok.Partial || ok.End != catalog.EndError {
		t.Errorf("Partial = %v End = %s", ok.Partial, ok.End)
	}
	if len(ok.Records) != 100 || ok.Pages != 2 {
		t.Errorf("records = %d pages = %d, want 100 and 2", len(ok.Records), ok.Pages)
	}
}

func TestFindEndpoint(t *testing.T) {
	const page = "https://steamdb.info/tech/Engine/Unity/"
	tests := []struct {
		name string
		html string
		want string
	}{
		{"json config", `<script>init({"ajax": "/tech/Engine/Unity/data/"})</script>`, "https://steamdb.info/tech/Engine/Unity/data/"},
		{"js object", `<script>$('#t').DataTable({ ajax: '/api/tech/?id=5' });</script>`, "https://steamdb.info/api/tech/?id=5"},
		{"url key", `<script>var cfg = { url: "data/?page=1" };</script>`, "https://steamdb.info/tech/Engine/Unity/data/?page=1"},
		{"escaped slashes", `<script>var c = {"ajax":"\/tech\/Engine\/Unity\/data\/"};</script>`, "https://steamdb.info/tech/Engine/Unity/data/"},
		{"data attribute", `<table data-ajax="/tech/Engine/Unity/data/"></table>`, "https://steamdb.info/tech/Engine/Unity/data/"},
		{"absolute same host", `<table data-url="https://steamdb.info/x/data/"></table>`, "https://steamdb.info/x/data/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FindEndpoint(tt.html, page)
			if err != nil {
				t.Fatalf("FindEndpoint() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("FindEndpoint() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFindEndpoint_None(t *testing.T) {
	for _, html := range []string{
		`<html><body>no scripts</body></html>`,
		`<script src="/static/app.js"></script>`,
		`<table data-url="https://evil.example/data/"></table>`,
		`<a data-url="javascript:void(0)"></a>`,
	} {
		if _, err := FindEndpoint(html, "https://steamdb.info/tech/"); !errors.Is(err, ErrNoEndpoint) {
			t.Errorf("FindEndpoint(%q) error = %v, want ErrNoEndpoint", html, err)
		}
	}
}

func TestInferEndpoint(t *testing.T) {
	got := InferEndpoint("https://steamdb.info/", "Engine", "Unreal Engine")
	if got != "https://steamdb.info/tech/Engine/Unreal%20Engine/data/" {
		t.Errorf("InferEndpoint() = %q", got)
	}
}

func TestParsePayload_ObjectRows(t *testing.T) {
	body := []byte(`{
		"recordsTotal": 9, "recordsFiltered": 2,
		"columns": [{"data": "name", "title": "Name"}, {"data": "reviews", "title": "Reviews"}],
		"data": [
			{"DT_RowData": {"appid": "10"}, "name": "<a href=\"/app/10/\">Counter-Strike</a>", "reviews": "150,201"},
			{"DT_RowAttr": {"data-appid": "20"}, "name": "<a href=\"/app/20/\">TFC</a>", "reviews": "8,042"}
		]
	}`)

	tbl, total, err := ParsePayload(body)
	if err != nil {
		t.Fatalf("ParsePayload() error = %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want recordsFiltered 2", total)
	}
	if tbl.Len() != 2 || tbl.Rows[0].AppID != "10" || tbl.Rows[1].AppID != "20" {
		t.Fatalf("unexpected rows: %+v", tbl.Rows)
	}
	if len(tbl.Rows[1].Cells) != 2 || tbl.Rows[1].Cells[1] != "8,042" {
		t.Errorf("cells not ordered by column: %v", tbl.Rows[1].Cells)
	}
}

func TestParsePayload_Invalid(t *testing.T) {
	for _, body := range []string{``, `<html></html>`, `{"recordsTotal": 3}`, `{"data": "nope"}`} {
		if _, _, err := ParsePayload([]byte(body)); err == nil {
			t.Errorf("ParsePayload(%q) should fail", body)
		}
	}
}
