// Package catalog defines the result tree produced by a techdex run:
// categories, their technologies and the games built with each technology.
//
// Values in this package are built by the orchestrator and handed to output
// writers once the run completes; writers must treat them as read-only.
package catalog

import (
	"time"
)

// Unknown marks an optional field the source did not provide.
const Unknown = "unknown"

// Method identifies how a technology's games were retrieved.
type Method string

const (
	MethodNone     Method = "none"
	MethodFastPath Method = "fast_path"
	MethodFallback Method = "fallback"
)

// End describes why retrieval for a technology stopped.
type End string

const (
	// EndExhausted means pagination reached the last page.
	EndExhausted End = "exhausted"
	// EndBudget means the max-pages budget was reached first.
	EndBudget End = "budget"
	// EndRenderFailed means a page did not re-render after repeated attempts.
	EndRenderFailed End = "render_failed"
	// EndChallengeFailed means the anti-bot challenge never cleared.
	EndChallengeFailed End = "challenge_failed"
	// EndError means retrieval failed for another technology-scoped reason.
	EndError End = "error"
	// EndSkipped means the technology was never fetched.
	EndSkipped End = "skipped"
)

// Partial reports whether rows past the stopping point may exist.
func (e End) Partial() bool {
	return e != EndExhausted && e != EndSkipped
}

// Game is a single catalogued title.
type Game struct {
	AppID           string   `json:"appid" yaml:"appid" validate:"required,numeric"`
	Name            string   `json:"name" yaml:"name" validate:"required"`
	StoreLink       string   `json:"steam_link" yaml:"steam_link" validate:"required,url"`
	CatalogLink     string   `json:"steamdb_link" yaml:"steamdb_link" validate:"required,url"`
	ImageLink       string   `json:"image_link" yaml:"image_link" validate:"omitempty,url"`
	ReleaseDate     string   `json:"release_date" yaml:"release_date"`
	Reviews         string   `json:"reviews" yaml:"reviews"`
	ReviewCount     int      `json:"review_count" yaml:"review_count" validate:"gte=0"`
	PositivePercent string   `json:"positive_percentage" yaml:"positive_percentage"`
	Tags            []string `json:"tags" yaml:"tags"`
}

// Technology is an engine, SDK, container, emulator, launcher or anti-cheat
// entry together with the games found for it.
type Technology struct {
	Name          string `json:"name" yaml:"name"`
	Category      string `json:"category" yaml:"category"`
	Slug          string `json:"data_s" yaml:"data_s"`
	Link          string `json:"link" yaml:"link"`
	DeclaredCount int    `json:"count" yaml:"count"`
	ResolvedCount int    `json:"resolved_count" yaml:"resolved_count"`
	Method        Method `json:"method" yaml:"method"`
	PagesFetched  int    `json:"pages_fetched" yaml:"pages_fetched"`
	End           End    `json:"end" yaml:"end"`
	Games         []Game `json:"games" yaml:"games"`
}

// Partial reports whether the game list may be incomplete.
func (t *Technology) Partial() bool {
	return t.End.Partial()
}

// Category groups technologies under a heading such as "Engine".
type Category struct {
	Name         string        `json:"name" yaml:"name"`
	Technologies []*Technology `json:"technologies" yaml:"technologies"`
}

// Technology returns the named technology, or nil.
func (c *Category) Technology(name string) *Technology {
	for _, t := range c.Technologies {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// SkipReason explains why a technology is absent from the result tree.
type SkipReason string

const (
	SkipBelowDeclared  SkipReason = "declared_below_min_count"
	SkipBelowMinCount  SkipReason = "below_min_count"
	SkipAmbiguousZero  SkipReason = "ambiguous_zero"
	SkipChallenge      SkipReason = "challenge_failed"
	SkipFetchFailed    SkipReason = "fetch_failed"
	SkipBudgetExceeded SkipReason = "run_budget_exhausted"
)

// Skipped records a discovered technology that is not part of the tree.
type Skipped struct {
	Category      string     `json:"category" yaml:"category"`
	Technology    string     `json:"technology" yaml:"technology"`
	DeclaredCount int        `json:"count" yaml:"count"`
	ResolvedCount int        `json:"resolved_count" yaml:"resolved_count"`
	Reason        SkipReason `json:"reason" yaml:"reason"`
	Detail        string     `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Metadata summarises a run.
type Metadata struct {
	GeneratedAt       time.Time      `json:"generated_at" yaml:"generated_at"`
	Generator         string         `json:"generator" yaml:"generator"`
	Source            string         `json:"source" yaml:"source"`
	BaseURL           string         `json:"base_url" yaml:"base_url"`
	Method            string         `json:"method" yaml:"method"`
	TestMode          bool           `json:"test_mode" yaml:"test_mode"`
	MinCount          int            `json:"min_count" yaml:"min_count"`
	MinReviews        int            `json:"min_reviews" yaml:"min_reviews"`
	MaxPages          int            `json:"max_pages" yaml:"max_pages"`
	TotalCategories   int            `json:"total_categories" yaml:"total_categories"`
	TotalTechnologies int            `json:"total_technologies" yaml:"total_technologies"`
	TotalGames        int            `json:"total_games" yaml:"total_games"`
	TotalSkipped      int            `json:"total_skipped" yaml:"total_skipped"`
	CategoryCounts    map[string]int `json:"category_counts" yaml:"category_counts"`
	TechnologyCounts  map[string]int `json:"technology_counts" yaml:"technology_counts"`
}

// ScrapeResult is the root aggregate of one run.
type ScrapeResult struct {
	Metadata   Metadata    `json:"metadata" yaml:"metadata"`
	Categories []*Category `json:"technologies" yaml:"technologies"`
	Skipped    []Skipped   `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

// Category returns the named category, or nil.
func (r *ScrapeResult) Category(name string) *Category {
	for _, c := range r.Categories {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Summarize fills the count fields of Metadata from the tree.
// Technology counts are keyed "<category>/<technology>".
func (r *ScrapeResult) Summarize() {
	m := &r.Metadata
	m.TotalCategories = len(r.Categories)
	m.TotalTechnologies = 0
	m.TotalGames = 0
	m.TotalSkipped = len(r.Skipped)
	m.CategoryCounts = make(map[string]int, len(r.Categories))
	m.TechnologyCounts = make(map[string]int)

	for _, c := range r.Categories {
		m.CategoryCounts[c.Name] = len(c.Technologies)
		m.TotalTechnologies += len(c.Technologies)
		for _, t := range c.Technologies {
			m.TechnologyCounts[c.Name+"/"+t.Name] = len(t.Games)
			m.TotalGames += len(t.Games)
		}
	}
}
