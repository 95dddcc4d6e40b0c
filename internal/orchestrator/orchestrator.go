// Package orchestrator drives a techdex run: discover categories and
// technologies, retrieve each technology's games through the fast path or
// the rendering fallback, normalize them and assemble the ScrapeResult.
package orchestrator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jmylchreest/techdex/internal/artifacts"
	"github.com/jmylchreest/techdex/internal/challenge"
	"github.com/jmylchreest/techdex/internal/discovery"
	"github.com/jmylchreest/techdex/internal/fastpath"
	"github.com/jmylchreest/techdex/internal/logger"
	"github.com/jmylchreest/techdex/internal/normalize"
	"github.com/jmylchreest/techdex/internal/render"
	"github.com/jmylchreest/techdex/internal/session"
	"github.com/jmylchreest/techdex/internal/table"
	"github.com/jmylchreest/techdex/internal/version"
	"github.com/jmylchreest/techdex/pkg/catalog"
)

// ErrNoCategories is returned when discovery yields nothing to scrape.
var ErrNoCategories = errors.New("no categories discovered")

// State is a step of the run.
type State string

const (
	StateDiscoverCategories   State = "DISCOVER_CATEGORIES"
	StateDiscoverTechnologies State = "DISCOVER_TECHNOLOGIES"
	StateFetchGames           State = "FETCH_GAMES"
	StateFastPath             State = "FAST_PATH"
	StateFallback             State = "FALLBACK"
	StateAggregate            State = "AGGREGATE"
	StateNextTechnology       State = "NEXT_TECHNOLOGY"
	StateNextCategory         State = "NEXT_CATEGORY"
	StateDone                 State = "DONE"
)

// Config is the run configuration.
type Config struct {
	BaseURL    string
	MinCount   int
	MinReviews int
	MaxPages   int
	Categories []string
	LimitTech  int
	TestMode   bool
	// MaxRequests stops new technologies once the session has made this many
	// origin requests. 0 means unlimited.
	MaxRequests int64

	FastPath fastpath.Config
	Render   render.Config
}

// Session is what the orchestrator needs from session.Session.
type Session interface {
	discovery.Opener
	fastpath.Fetcher
	Requests() int64
}

// Orchestrator runs one scrape. It is not safe for concurrent use.
type Orchestrator struct {
	sess     Session
	cfg      Config
	sink     artifacts.Sink
	fast     *fastpath.Extractor
	fallback *render.Extractor
	pipeline *normalize.Pipeline
	state    State
	log      *slog.Logger
}

// New creates an Orchestrator. sink may be nil.
func New(sess Session, cfg Config, sink artifacts.Sink) *Orchestrator {
	if sink == nil {
		sink = artifacts.Noop{}
	}
	cfg.FastPath.MaxPages = cfg.MaxPages
	cfg.FastPath.MinReviews = cfg.MinReviews
	cfg.Render.MaxPages = cfg.MaxPages

	return &Orchestrator{
		sess:     sess,
		cfg:      cfg,
		sink:     sink,
		fast:     fastpath.New(sess, cfg.BaseURL, cfg.FastPath),
		fallback: render.New(sess, cfg.BaseURL, cfg.Render, sink),
		pipeline: normalize.New(normalize.Thresholds{MinReviews: cfg.MinReviews, MinCount: cfg.MinCount}),
		log:      logger.Component("orchestrator"),
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	return o.state
}

func (o *Orchestrator) transition(to State, args ...any) {
	o.log.Debug("state transition", append([]any{"from", o.state, "to", to}, args...)...)
	o.state = to
}

// Run executes the scrape. Technology-level failures are recorded in the
// result's Skipped list; only ErrNoCategories, session.ErrUnrecoverable and
// context cancellation abort the run.
func (o *Orchestrator) Run(ctx context.Context) (*catalog.ScrapeResult, error) {
	start := time.Now()
	result := &catalog.ScrapeResult{Metadata: catalog.Metadata{
		GeneratedAt: start.UTC(),
		Generator:   version.Tag(),
		Source:      "SteamDB",
		BaseURL:     o.cfg.BaseURL,
		Method:      "fast_path_with_render_fallback",
		TestMode:    o.cfg.TestMode,
		MinCount:    o.cfg.MinCount,
		MinReviews:  o.cfg.MinReviews,
		MaxPages:    o.cfg.MaxPages,
	}}

	o.transition(StateDiscoverCategories)
	cats, err := o.discover(ctx)
	if err != nil {
		return nil, err
	}

	for _, cat := range cats {
		if err := o.runCategory(ctx, cat, result); err != nil {
			return nil, err
		}
		o.transition(StateNextCategory, "category", cat.Name)
	}

	o.transition(StateDone)
	result.Summarize()
	o.log.Info("run complete",
		"categories", result.Metadata.TotalCategories,
		"technologies", result.Metadata.TotalTechnologies,
		"games", result.Metadata.TotalGames,
		"skipped", result.Metadata.TotalSkipped,
		"requests", o.sess.Requests(),
		"duration", time.Since(start).Round(time.Millisecond))
	return result, nil
}

func (o *Orchestrator) discover(ctx context.Context) ([]*catalog.Category, error) {
	cats, err := discovery.Discover(ctx, o.sess, o.cfg.BaseURL, o.sink)
	if err != nil {
		if errors.Is(err, session.ErrUnrecoverable) || ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrNoCategories, err)
	}
	if len(cats) == 0 {
		return nil, ErrNoCategories
	}

	selected, missing := discovery.Select(cats, o.cfg.Categories)
	if len(missing) > 0 {
		available := make([]string, 0, len(cats))
		for _, c := range cats {
			available = append(available, c.Name)
		}
		o.log.Warn("categories not found", "missing", missing, "available", available)
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: none of %v found", ErrNoCategories, o.cfg.Categories)
	}
	o.log.Info("categories discovered", "found", len(cats), "selected", len(selected))
	return selected, nil
}

func (o *Orchestrator) runCategory(ctx context.Context, cat *catalog.Category, result *catalog.ScrapeResult) error {
	o.transition(StateDiscoverTechnologies, "category", cat.Name)
	techs := o.candidates(cat)
	out := &catalog.Category{Name: cat.Name}
	result.Categories = append(result.Categories, out)

	if o.cfg.TestMode {
		out.Technologies = techs
		o.log.Info("test mode: skipping game retrieval", "category", cat.Name, "technologies", len(techs))
		return nil
	}

	for _, tech := range techs {
		if err := ctx.Err(); err != nil {
			return err
		}
		skip, err := o.runTechnology(ctx, tech)
		if err != nil {
			return err
		}
		if skip != nil {
			result.Skipped = append(result.Skipped, *skip)
		} else {
			out.Technologies = append(out.Technologies, tech)
		}
		o.transition(StateNextTechnology, "technology", tech.Name)
	}
	return nil
}

// candidates orders cat's technologies by declared count, largest first,
// and keeps the first LimitTech.
func (o *Orchestrator) candidates(cat *catalog.Category) []*catalog.Technology {
	techs := slices.Clone(cat.Technologies)
	slices.SortStableFunc(techs, func(a, b *catalog.Technology) int {
		return cmp.Compare(b.DeclaredCount, a.DeclaredCount)
	})
	if o.cfg.LimitTech > 0 && len(techs) > o.cfg.LimitTech {
		techs = techs[:o.cfg.LimitTech]
	}
	return techs
}

// runTechnology fetches and aggregates one technology. A non-nil Skipped
// means it stays out of the tree; a non-nil error is fatal.
func (o *Orchestrator) runTechnology(ctx context.Context, tech *catalog.Technology) (*catalog.Skipped, error) {
	log := o.log.With("category", tech.Category, "technology", tech.Name)

	if tech.DeclaredCount < o.cfg.MinCount {
		log.Info("skipping technology below min count", "count", tech.DeclaredCount, "min_count", o.cfg.MinCount)
		return skipped(tech, catalog.SkipBelowDeclared, ""), nil
	}
	if o.cfg.MaxRequests > 0 && o.sess.Requests() >= o.cfg.MaxRequests {
		log.Warn("request budget exhausted", "requests", o.sess.Requests())
		return skipped(tech, catalog.SkipBudgetExceeded, ""), nil
	}

	o.transition(StateFetchGames, "technology", tech.Name)
	records, err := o.fetch(ctx, tech)
	if err != nil {
		if errors.Is(err, session.ErrUnrecoverable) || ctx.Err() != nil {
			return nil, err
		}
		reason := catalog.SkipFetchFailed
		if errors.Is(err, challenge.ErrChallengeFailed) {
			reason = catalog.SkipChallenge
		}
		log.Warn("technology failed", "reason", reason, "error", err)
		return skipped(tech, reason, err.Error()), nil
	}

	o.transition(StateAggregate, "technology", tech.Name)
	out := o.pipeline.Run(records)
	tech.Games = out.Games
	tech.ResolvedCount = len(out.Games)
	log.Info("games resolved",
		"method", tech.Method,
		"pages", tech.PagesFetched,
		"end", tech.End,
		"raw", out.Stats.Raw,
		"invalid", out.Stats.Invalid,
		"below_reviews", out.Stats.BelowReviews,
		"duplicates", out.Stats.Duplicates,
		"kept", out.Stats.Kept)

	switch {
	case out.Excluded:
		log.Info("technology excluded", "games", tech.ResolvedCount, "min_count", o.cfg.MinCount)
		return skipped(tech, catalog.SkipBelowMinCount, ""), nil
	case tech.ResolvedCount == 0 && o.cfg.MinCount > 0:
		log.Warn("no games resolved for a technology that declares some",
			"declared", tech.DeclaredCount, "end", tech.End, "raw", out.Stats.Raw)
		return skipped(tech, catalog.SkipAmbiguousZero, fmt.Sprintf("declared %d, end %s", tech.DeclaredCount, tech.End)), nil
	}
	return nil, nil
}

// fetch opens the technology page and retrieves its raw records, fast path
// first and the rendered table when the fast path is unavailable.
func (o *Orchestrator) fetch(ctx context.Context, tech *catalog.Technology) ([]table.Record, error) {
	pageURL := discovery.WithMinReviews(tech.Link, o.cfg.MinReviews)
	snap, outcome, err := o.sess.Open(ctx, pageURL)
	if err != nil {
		if errors.Is(err, challenge.ErrChallengeFailed) {
			tech.End = catalog.EndChallengeFailed
		} else {
			tech.End = catalog.EndError
		}
		return nil, err
	}
	if outcome.Status == challenge.Clear && outcome.Polls > 0 {
		o.log.Info("challenge cleared", "technology", tech.Name, "kind", outcome.Kind, "elapsed", outcome.Elapsed.Round(time.Millisecond))
	}
	if snap.URL != "" {
		pageURL = snap.URL
	}

	o.transition(StateFastPath, "technology", tech.Name)
	res := o.fast.Extract(ctx, tech, pageURL, snap.HTML)
	switch r := res.(type) {
	case fastpath.Success:
		tech.Method = catalog.MethodFastPath
		tech.PagesFetched = r.Pages
		tech.End = r.End
		return r.Records, nil
	case fastpath.Unavailable:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		o.log.Info("falling back to rendered table", "technology", tech.Name, "reason", r.Reason)
	}

	o.transition(StateFallback, "technology", tech.Name)
	rr, err := o.fallback.ExtractCurrent(ctx, tech)
	tech.Method = catalog.MethodFallback
	tech.PagesFetched = rr.Pages
	tech.End = rr.End
	if err != nil {
		return nil, err
	}
	return rr.Records, nil
}

func skipped(tech *catalog.Technology, reason catalog.SkipReason, detail string) *catalog.Skipped {
	if reason == catalog.SkipBelowDeclared || reason == catalog.SkipBudgetExceeded {
		tech.End = catalog.EndSkipped
	}
	return &catalog.Skipped{
		Category:      tech.Category,
		Technology:    tech.Name,
		DeclaredCount: tech.DeclaredCount,
		ResolvedCount: tech.ResolvedCount,
		Reason:        reason,
		Detail:        detail,
	}
}
