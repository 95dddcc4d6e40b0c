package discovery

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jmylchreest/techdex/internal/artifacts"
	"github.com/jmylchreest/techdex/internal/browser"
	"github.com/jmylchreest/techdex/internal/browser/browsertest"
	"github.com/jmylchreest/techdex/internal/challenge"
	"github.com/jmylchreest/techdex/pkg/catalog"
)

const indexPage = `<html><head><title>Technologies · SteamDB</title></head><body>
<h1>Technologies</h1>
<h2 id="Engine">Engines</h2>
<div class="taglist">
  <div class="label" data-s="Engine.Unity"><a class="label-link" href="/tech/Engine/Unity/">Unity</a> <span class="label-count">61,410</span></div>
  <div class="label" data-s="Engine.Unreal"><a class="label-link" href="/tech/Engine/Unreal/">Unreal Engine</a> <span class="label-count">14,223</span></div>
  <div class="label"><a class="label-link" href="/tech/Engine/Godot/">Godot</a> <span class="label-count">2 871</span></div>
  <div class="label"><span class="label-count">12</span></div>
</div>
<h2 id="SDK">SDKs</h2>
<section><div class="taglist">
  <div class="label" data-s="SDK.Steamworks"><a class="label-link" href="https://steamdb.info/tech/SDK/Steamworks/">Steamworks</a><span class="label-count">n/a</span></div>
</div></section>
<h2 id="Container">Containers</h2>
<p>Nothing listed.</p>
<h2 id="Emulator">Emulators</h2>
<div class="taglist">
  <div class="label" data-s="Emulator.DOSBox"><a class="label-link" href="/tech/Emulator/DOSBox/">DOSBox</a> <span class="label-count">1,502</span></div>
</div>
</body></html>`

func TestParse(t *testing.T) {
	cats, err := Parse(indexPage, "https://steamdb.info")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	var names []string
	for _, c := range cats {
		names = append(names, c.Name)
	}
	if diff := cmp.Diff([]string{"Engine", "SDK", "Emulator"}, names); diff != "" {
		t.Fatalf("categories mismatch (-want +got):\n%s", diff)
	}

	want := []*catalog.Technology{
		{Name: "Unity", Category: "Engine", Slug: "Engine.Unity", Link: "https://steamdb.info/tech/Engine/Unity/", DeclaredCount: 61410, Method: catalog.MethodNone, End: catalog.EndSkipped},
		{Name: "Unreal Engine", Category: "Engine", Slug: "Engine.Unreal", Link: "https://steamdb.info/tech/Engine/Unreal/", DeclaredCount: 14223, Method: catalog.MethodNone, End: catalog.EndSkipped},
		{Name: "Godot", Category: "Engine", Slug: "Godot", Link: "https://steamdb.info/tech/Engine/Godot/", DeclaredCount: 2871, Method: catalog.MethodNone, End: catalog.EndSkipped},
	}
	if diff := cmp.Diff(want, cats[0].Technologies); diff != "" {
		t.Errorf("Engine technologies mismatch (-want +got):\n%s", diff)
	}

	sdk := cats[1].Technology("Steamworks")
	if sdk == nil || sdk.DeclaredCount != 0 || sdk.Link != "https://steamdb.info/tech/SDK/Steamworks/" {
		t.Errorf("nested taglist not parsed: %+v", sdk)
	}
}

func TestParse_Empty(t *testing.T) {
	cats, err := Parse(`<html><body><h1>Just a moment...</h1></body></html>`, "https://steamdb.info")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(cats) != 0 {
		t.Errorf("expected no categories, got %d", len(cats))
	}
}

type opener struct{ page *browsertest.Page }

func (o opener) Open(ctx context.Context, rawURL string) (browser.Snapshot, challenge.Outcome, error) {
	if err := o.page.Navigate(ctx, rawURL); err != nil {
		return browser.Snapshot{}, challenge.Outcome{}, err
	}
	snap, err := o.page.Snapshot(ctx)
	return snap, challenge.Outcome{Status: challenge.Clear}, err
}

func (o opener) Page() browser.Page { return o.page }

func TestDiscover(t *testing.T) {
	page := &browsertest.Page{
		Render: func(string, int) (browser.Snapshot, error) {
			return browser.Snapshot{Status: 200, HTML: indexPage}, nil
		},
	}
	dir, err := artifacts.NewDir(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewDir() error = %v", err)
	}

	cats, err := Discover(context.Background(), opener{page}, "https://steamdb.info/", dir)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(cats) != 3 {
		t.Errorf("expected 3 categories, got %d", len(cats))
	}
	if nav := page.Navigations(); len(nav) != 1 || nav[0] != "https://steamdb.info/tech/" {
		t.Errorf("navigations = %v", nav)
	}
	files := dir.Files()
	if len(files) != 1 || !strings.HasSuffix(files[0], "_categories.png") {
		t.Errorf("expected categories screenshot, got %v", files)
	}
}

func TestDiscover_OpenFails(t *testing.T) {
	page := &browsertest.Page{}
	_ = page.Close()

	_, err := Discover(context.Background(), opener{page}, "https://steamdb.info", nil)
	if !errors.Is(err, browser.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestSelect(t *testing.T) {
	cats := []*catalog.Category{{Name: "Engine"}, {Name: "SDK"}, {Name: "Launcher"}}

	got, missing := Select(cats, []string{"launcher", " Engine", "Engine", "VR", ""})
	if len(got) != 2 || got[0].Name != "Launcher" || got[1].Name != "Engine" {
		t.Errorf("unexpected selection %+v", got)
	}
	if diff := cmp.Diff([]string{"VR"}, missing); diff != "" {
		t.Errorf("missing mismatch (-want +got):\n%s", diff)
	}

	all, _ := Select(cats, nil)
	if len(all) != 3 {
		t.Errorf("empty selection should keep everything, got %d", len(all))
	}
}

func TestWithMinReviews(t *testing.T) {
	tests := map[string]string{
		"https://steamdb.info/tech/Engine/Unity/":                "https://steamdb.info/tech/Engine/Unity/?min_reviews=500",
		"https://steamdb.info/tech/Engine/Unity/?min_reviews=10": "https://steamdb.info/tech/Engine/Unity/?min_reviews=500",
	}
	for in, want := range tests {
		if got := WithMinReviews(in, 500); got != want {
			t.Errorf("WithMinReviews(%q) = %q, want %q", in, got, want)
		}
	}
}
