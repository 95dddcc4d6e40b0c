// Package normalize turns the raw records scraped for one technology into
// catalogue games: canonical fields, parsed review counts, validation and the
// min_reviews / min_count filters.
package normalize

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jmylchreest/techdex/internal/logger"
	"github.com/jmylchreest/techdex/internal/table"
	"github.com/jmylchreest/techdex/pkg/catalog"
)

// Thresholds are the run's filters.
type Thresholds struct {
	MinReviews int
	MinCount   int
}

// Stats counts what each step removed.
type Stats struct {
	Raw          int `json:"raw"`
	Invalid      int `json:"invalid"`
	BelowReviews int `json:"below_reviews"`
	Duplicates   int `json:"duplicates"`
	Kept         int `json:"kept"`
}

// Output is the pipeline result for one technology.
type Output struct {
	Games []catalog.Game
	Stats Stats
	// Excluded is set when some games survived but fewer than MinCount.
	Excluded bool
}

// Pipeline normalizes records. It is safe for concurrent use.
type Pipeline struct {
	validate *validator.Validate
	th       Thresholds
}

// New creates a Pipeline for the given thresholds.
func New(th Thresholds) *Pipeline {
	return &Pipeline{validate: validator.New(), th: th}
}

// Run applies, in order: canonicalization, review count parsing, validation,
// the min_reviews filter, dedup by AppID (first wins) and the min_count check.
// Review filtering happens before the count check so the count reflects the
// filtered population.
func (p *Pipeline) Run(records []table.Record) Output {
	out := Output{Stats: Stats{Raw: len(records)}}
	seen := make(map[string]struct{}, len(records))

	for _, rec := range records {
		g := canonical(rec)

		if err := p.validate.Struct(g); err != nil {
			out.Stats.Invalid++
			logger.Debug("dropping invalid record", "appid", g.AppID, "name", g.Name, "reason", describe(err))
			continue
		}
		if g.ReviewCount < p.th.MinReviews {
			out.Stats.BelowReviews++
			continue
		}
		if _, dup := seen[g.AppID]; dup {
			out.Stats.Duplicates++
			continue
		}
		seen[g.AppID] = struct{}{}
		out.Games = append(out.Games, g)
	}

	out.Stats.Kept = len(out.Games)
	out.Excluded = out.Stats.Kept > 0 && out.Stats.Kept < p.th.MinCount
	return out
}

func canonical(rec table.Record) catalog.Game {
	g := catalog.Game{
		AppID:           strings.TrimSpace(rec.AppID),
		Name:            collapse(rec.Name),
		StoreLink:       canonicalLink(rec.StoreLink),
		CatalogLink:     canonicalLink(rec.CatalogLink),
		ImageLink:       canonicalLink(rec.ImageLink),
		ReleaseDate:     orUnknown(collapse(rec.ReleaseDate)),
		Reviews:         orUnknown(collapse(rec.Reviews)),
		PositivePercent: orUnknown(collapse(rec.PositivePercent)),
		Tags:            tags(rec.Tags),
	}
	if g.ImageLink == catalog.Unknown {
		g.ImageLink = ""
	}
	g.ReviewCount = ParseCount(g.Reviews)
	return g
}

// ParseCount parses a formatted count such as "12,345", "12 345" or
// "12.345". Anything without digits parses as 0.
func ParseCount(s string) int {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	n, err := strconv.Atoi(b.String())
	if err != nil {
		return 0
	}
	return n
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func orUnknown(s string) string {
	if s == "" {
		return catalog.Unknown
	}
	return s
}

// canonicalLink trims the link, upgrades protocol-relative and http links to
// https and drops fragments.
func canonicalLink(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || s == catalog.Unknown {
		return s
	}
	if strings.HasPrefix(s, "//") {
		s = "https:" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return s
	}
	if u.Scheme == "http" {
		u.Scheme = "https"
	}
	u.Fragment = ""
	return u.String()
}

func tags(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, t := range in {
		t = collapse(t)
		if t == "" {
			continue
		}
		if _, ok := seen[strings.ToLower(t)]; ok {
			continue
		}
		seen[strings.ToLower(t)] = struct{}{}
		out = append(out, t)
	}
	return out
}

// describe renders validation errors as "field: problem" pairs.
func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, e := range verrs {
		parts = append(parts, fmt.Sprintf("%s: %s", e.Field(), message(e)))
	}
	return strings.Join(parts, "; ")
}

func message(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "numeric":
		return "must be numeric"
	case "url":
		return "must be a valid URL"
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}
