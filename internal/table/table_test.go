package table

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jmylchreest/techdex/pkg/catalog"
)

const renderedPage = `<html><body>
<table class="table-products dataTable">
  <thead><tr>
    <th></th><th>Name</th><th data-s="release">Release</th><th>Reviews</th><th>Rating</th>
  </tr></thead>
  <tbody>
    <tr class="app" data-appid="730">
      <td><img src="//shared.fastly.steamstatic.com/store_item_assets/steam/apps/730/capsule_sm_120.jpg"></td>
      <td><a href="/app/730/" class="b">Counter-Strike 2</a> <a href="/tag/1663/" class="tag">FPS</a> <a href="/tag/3859/">Multiplayer</a></td>
      <td>21 Aug 2012</td>
      <td>8,712,345</td>
      <td>86.41%</td>
    </tr>
    <tr class="app" data-appid="570">
      <td></td>
      <td><a href="/app/570/">Dota 2</a> <a href="https://store.steampowered.com/app/570/?utm_source=steamdb">Store</a></td>
      <td></td>
      <td>2,401,118</td>
      <td>81.02%</td>
    </tr>
  </tbody>
</table>
</body></html>`

func TestFromHTML(t *testing.T) {
	tbl, err := FromHTML(renderedPage)
	if err != nil {
		t.Fatalf("FromHTML() error = %v", err)
	}
	if tbl.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", tbl.Len())
	}
	if len(tbl.Columns) != 5 {
		t.Fatalf("expected 5 columns, got %d", len(tbl.Columns))
	}
	if tbl.Columns[2].Key != "release" || tbl.Columns[1].Title != "Name" {
		t.Errorf("unexpected columns: %+v", tbl.Columns)
	}
	if tbl.Rows[0].AppID != "730" {
		t.Errorf("row AppID = %q, want 730", tbl.Rows[0].AppID)
	}
}

func TestFromHTML_NoTable(t *testing.T) {
	_, err := FromHTML(`<html><body><p>nothing here</p></body></html>`)
	if !errors.Is(err, ErrNoTable) {
		t.Errorf("expected ErrNoTable, got %v", err)
	}
}

func TestFromHTML_SkipsPlaceholderRows(t *testing.T) {
	html := `<table class="dataTable"><tbody><tr><td colspan="5" class="dt-empty">No data available in table</td></tr></tbody></table>`
	tbl, err := FromHTML(html)
	if err != nil {
		t.Fatalf("FromHTML() error = %v", err)
	}
	if tbl.Len() != 0 {
		t.Errorf("placeholder row should be skipped, got %d rows", tbl.Len())
	}
	if !tbl.Placeholder {
		t.Error("Placeholder should be set")
	}
}

func TestDecode_RenderedRows(t *testing.T) {
	tbl, err := FromHTML(renderedPage)
	if err != nil {
		t.Fatalf("FromHTML() error = %v", err)
	}

	got := Decode(tbl, "https://steamdb.info/")
	want := []Record{
		{
			AppID:           "730",
			Name:            "Counter-Strike 2",
			StoreLink:       "https://store.steampowered.com/app/730/",
			CatalogLink:     "https://steamdb.info/app/730/",
			ImageLink:       "https://shared.fastly.steamstatic.com/store_item_assets/steam/apps/730/capsule_sm_120.jpg",
			ReleaseDate:     "21 Aug 2012",
			Reviews:         "8,712,345",
			PositivePercent: "86.41%",
			Tags:            []string{"FPS", "Multiplayer"},
		},
		{
			AppID:           "570",
			Name:            "Dota 2",
			StoreLink:       "https://store.steampowered.com/app/570/",
			CatalogLink:     "https://steamdb.info/app/570/",
			ImageLink:       "https://shared.fastly.steamstatic.com/store_item_assets/steam/apps/570/capsule_231x87.jpg",
			ReleaseDate:     catalog.Unknown,
			Reviews:         "2,401,118",
			PositivePercent: "81.02%",
		},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_UnlabelledCells(t *testing.T) {
	// DataTables JSON rows carry no header; fields are recognised by content.
	tbl := &Table{Rows: []Row{{Cells: []string{
		`1091500`,
		`<a href="/app/1091500/">Cyberpunk 2077</a>`,
		`2020-12-10`,
		`<span data-s="reviews">712,004</span>`,
		`79.8%`,
	}}}}

	got := Decode(tbl, "https://steamdb.info")
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	rec := got[0]
	if rec.AppID != "1091500" || rec.Name != "Cyberpunk 2077" {
		t.Errorf("identity = %q/%q", rec.AppID, rec.Name)
	}
	if rec.ReleaseDate != "2020-12-10" {
		t.Errorf("ReleaseDate = %q", rec.ReleaseDate)
	}
	if rec.Reviews != "712,004" {
		t.Errorf("Reviews = %q", rec.Reviews)
	}
	if rec.PositivePercent != "79.8%" {
		t.Errorf("PositivePercent = %q", rec.PositivePercent)
	}
}

func TestDecode_MissingOptionalFields(t *testing.T) {
	tbl := &Table{Rows: []Row{{Cells: []string{`<a href="/app/10/">Counter-Strike</a>`}}}}

	got := Decode(tbl, "https://steamdb.info")
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	for name, v := range map[string]string{
		"ReleaseDate":     got[0].ReleaseDate,
		"Reviews":         got[0].Reviews,
		"PositivePercent": got[0].PositivePercent,
	} {
		if v != catalog.Unknown {
			t.Errorf("%s = %q, want %q", name, v, catalog.Unknown)
		}
	}
}

func TestDecode_DropsRowsWithoutAppID(t *testing.T) {
	tbl := &Table{Rows: []Row{
		{Cells: []string{`<b>Sponsored</b>`, `12,000`}},
		{Cells: []string{`<a href="/app/20/">Team Fortress Classic</a>`}},
	}}

	got := Decode(tbl, "https://steamdb.info")
	if len(got) != 1 || got[0].AppID != "20" {
		t.Errorf("expected only app 20, got %+v", got)
	}
}

func TestDecode_TitleAttributeName(t *testing.T) {
	tbl := &Table{Rows: []Row{{Cells: []string{`<a href="/app/440/" title="Team Fortress 2"><img src="https://cdn.example/440.jpg"></a>`}}}}

	got := Decode(tbl, "https://steamdb.info")
	if len(got) != 1 || got[0].Name != "Team Fortress 2" {
		t.Fatalf("expected name from title attribute, got %+v", got)
	}
	if got[0].ImageLink != "https://cdn.example/440.jpg" {
		t.Errorf("ImageLink = %q", got[0].ImageLink)
	}
}

func TestFingerprint(t *testing.T) {
	page1 := &Table{Rows: []Row{{AppID: "1", Cells: []string{"<a>One</a>"}}, {AppID: "2", Cells: []string{"Two"}}}}
	same := &Table{Rows: []Row{{AppID: "1", Cells: []string{"<b>One</b>"}}, {AppID: "2", Cells: []string{"Two"}}}}
	page2 := &Table{Rows: []Row{{AppID: "3", Cells: []string{"Three"}}, {AppID: "4", Cells: []string{"Four"}}}}

	if page1.Fingerprint() != same.Fingerprint() {
		t.Error("markup-only differences should not change the fingerprint")
	}
	if page1.Fingerprint() == page2.Fingerprint() {
		t.Error("different rows should change the fingerprint")
	}
	if FingerprintHTML("<p>no table</p>") != "" {
		t.Error("missing table should fingerprint as empty")
	}
	if FingerprintHTML(renderedPage) == "" {
		t.Error("rendered table should have a fingerprint")
	}
}
