package catalog

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEnd_Partial(t *testing.T) {
	tests := map[End]bool{
		EndExhausted:       false,
		EndSkipped:         false,
		EndBudget:          true,
		EndRenderFailed:    true,
		EndChallengeFailed: true,
		EndError:           true,
	}
	for end, want := range tests {
		if got := end.Partial(); got != want {
			t.Errorf("%s.Partial() = %v, want %v", end, got, want)
		}
		tech := &Technology{End: end}
		if tech.Partial() != want {
			t.Errorf("Technology with end %s: Partial() = %v, want %v", end, tech.Partial(), want)
		}
	}
}

func TestScrapeResult_Summarize(t *testing.T) {
	r := &ScrapeResult{
		Categories: []*Category{
			{Name: "Engine", Technologies: []*Technology{
				{Name: "Unity", Games: make([]Game, 3)},
				{Name: "Unreal", Games: make([]Game, 2)},
			}},
			{Name: "SDK", Technologies: []*Technology{
				{Name: "Steamworks", Games: make([]Game, 1)},
			}},
		},
		Skipped: []Skipped{{Category: "Engine", Technology: "Godot", Reason: SkipBelowMinCount}},
	}
	r.Summarize()

	m := r.Metadata
	if m.TotalCategories != 2 || m.TotalTechnologies != 3 || m.TotalGames != 6 || m.TotalSkipped != 1 {
		t.Errorf("unexpected totals %+v", m)
	}
	if diff := cmp.Diff(map[string]int{"Engine": 2, "SDK": 1}, m.CategoryCounts); diff != "" {
		t.Errorf("category counts mismatch (-want +got):\n%s", diff)
	}
	want := map[string]int{"Engine/Unity": 3, "Engine/Unreal": 2, "SDK/Steamworks": 1}
	if diff := cmp.Diff(want, m.TechnologyCounts); diff != "" {
		t.Errorf("technology counts mismatch (-want +got):\n%s", diff)
	}

	// Summarize is idempotent.
	r.Summarize()
	if r.Metadata.TotalGames != 6 {
		t.Errorf("TotalGames after second Summarize = %d", r.Metadata.TotalGames)
	}
}

func TestLookups(t *testing.T) {
	unity := &Technology{Name: "Unity"}
	r := &ScrapeResult{Categories: []*Category{{Name: "Engine", Technologies: []*Technology{unity}}}}

	cat := r.Category("Engine")
	if cat == nil {
		t.Fatal("Category(Engine) = nil")
	}
	if cat.Technology("Unity") != unity {
		t.Error("Technology(Unity) did not return the stored technology")
	}
	if cat.Technology("unity") != nil {
		t.Error("lookups are case-sensitive")
	}
	if r.Category("SDK") != nil {
		t.Error("Category(SDK) should be nil")
	}
}
