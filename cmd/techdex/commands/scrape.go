package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jmylchreest/techdex/internal/artifacts"
	"github.com/jmylchreest/techdex/internal/browser"
	"github.com/jmylchreest/techdex/internal/challenge"
	"github.com/jmylchreest/techdex/internal/challenge/flaresolverr"
	"github.com/jmylchreest/techdex/internal/config"
	"github.com/jmylchreest/techdex/internal/discovery"
	"github.com/jmylchreest/techdex/internal/fastpath"
	"github.com/jmylchreest/techdex/internal/logger"
	"github.com/jmylchreest/techdex/internal/orchestrator"
	"github.com/jmylchreest/techdex/internal/output"
	"github.com/jmylchreest/techdex/internal/render"
	"github.com/jmylchreest/techdex/internal/session"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Discover technologies and collect their games",
	Long: `Scrape the SteamDB technology catalog.

Technologies in each selected category are processed in descending order of
their declared game count. Games below --min-reviews are dropped, and a
technology keeping fewer than --min-count games is left out of the result
and listed under "skipped".

Examples:
  # Defaults: Engine category, top 5 technologies
  techdex scrape

  # Every known category, ten technologies each, at most 3 pages per technology
  techdex scrape --categories ` + strings.Join(discovery.KnownCategories, ",") + ` \
      --limit-tech 10 --max-pages 3

  # Route challenges through FlareSolverr
  techdex scrape --flaresolverr-url http://localhost:8191/v1`,
	Args: cobra.NoArgs,
	RunE: runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	flags := scrapeCmd.Flags()

	// Browser settings
	flags.Bool("headless", false, "run Chrome without a window (challenges are passed less often)")
	flags.String("chrome-path", "", "Chrome/Chromium binary (default: search PATH)")
	flags.String("base-url", "https://steamdb.info", "catalog origin")

	// Selection and thresholds
	flags.StringSlice("categories", []string{"Engine"}, "categories to process: "+strings.Join(discovery.KnownCategories, ", "))
	flags.Int("limit-tech", 5, "technologies per category, highest declared count first (0=all)")
	flags.Int("min-count", 1000, "minimum games a technology must keep to be included")
	flags.Int("min-reviews", 500, "minimum reviews a game must have")
	flags.Int("max-pages", 100, "max table pages per technology")
	flags.Int64("max-requests", 0, "stop starting technologies after this many origin requests (0=unlimited)")
	flags.Bool("test", false, "list technologies without fetching games")

	// Fetch settings
	flags.Duration("delay", 3*time.Second, "minimum delay between requests")
	flags.Int("page-size", 100, "rows per data endpoint request")
	flags.Bool("infer-endpoint", false, "guess the data endpoint when the page does not advertise one")
	flags.Duration("request-timeout", 30*time.Second, "data endpoint request timeout")
	flags.Duration("challenge-timeout", 60*time.Second, "max wait for an anti-bot challenge to clear")
	flags.Int("challenge-retries", 2, "reload attempts for an anti-bot challenge")
	flags.Duration("render-timeout", 30*time.Second, "max wait for the games table to render")
	flags.Int("rerender-retries", 2, "extra clicks when a page does not change")
	flags.String("flaresolverr-url", "", "FlareSolverr API URL for Cloudflare bypass (e.g., http://localhost:8191/v1)")

	// Output settings
	flags.StringP("output", "o", "techdex.json", "output file (- for stdout)")
	flags.String("format", "", "output format: json, jsonl, yaml (default: from the output extension, else json)")
	flags.String("debug-dir", "", "save HTML and screenshots of failures to this directory")
	flags.String("max-artifact-size", "256KiB", "max stored HTML per artifact (e.g., 256KiB, 1MB)")
	flags.String("log-file", "", "also append log records to this file")

	// Bind to viper
	flags.VisitAll(func(f *pflag.Flag) {
		_ = viper.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
}

func runScrape(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	// Initialize logger based on flags
	if err := logger.Init(logger.Options{
		Debug: viper.GetBool("debug"),
		Quiet: viper.GetBool("quiet"),
		File:  cfg.LogFile,
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Debug("scrape command starting",
		"categories", cfg.Categories,
		"min_count", cfg.MinCount,
		"min_reviews", cfg.MinReviews,
		"max_pages", cfg.MaxPages,
		"test", cfg.TestMode)

	page, err := browser.NewChrome(browser.ChromeConfig{
		Headless:      cfg.Headless,
		ExecPath:      cfg.ChromePath,
		ActionTimeout: cfg.RenderTimeout + cfg.ChallengeTimeout,
	})
	if err != nil {
		logger.Error("failed to start browser", "error", err)
		return err
	}

	var solver challenge.Solver
	if cfg.FlareSolverrURL != "" {
		fs := newSolver(ctx, cfg)
		defer fs.DestroySession(context.Background())
		solver = fs
	}

	sess, err := session.New(ctx, page, session.Config{
		Delay:          cfg.Delay,
		RequestTimeout: cfg.RequestTimeout,
		Challenge:      challengeConfig(cfg),
		Solver:         solver,
	})
	if err != nil {
		_ = page.Close()
		return err
	}
	defer func() { _ = sess.Close() }()

	var sink artifacts.Sink = artifacts.Noop{}
	if cfg.DebugDir != "" {
		dir, err := artifacts.NewDir(cfg.DebugDir, cfg.ArtifactBytes)
		if err != nil {
			return err
		}
		sink = dir
		logger.Info("saving debug artifacts", "dir", cfg.DebugDir)
	}

	start := time.Now()
	result, err := orchestrator.New(sess, orchestratorConfig(cfg), sink).Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("scrape interrupted")
		}
		logger.Error("scrape failed", "error", err)
		return err
	}

	format := output.Resolve(cfg.Format, cfg.Output)
	if err := output.WriteFile(cfg.Output, format, result); err != nil {
		logger.Error("failed to write output", "path", cfg.Output, "error", err)
		return err
	}
	logger.Info("results written", "path", cfg.Output, "format", format)

	if !viper.GetBool("quiet") {
		output.Summary(os.Stderr, result, cfg.Output, time.Since(start))
	}
	return nil
}

// newSolver returns a FlareSolverr client, with a persistent session when the
// service accepts one.
func newSolver(ctx context.Context, cfg config.Config) *flaresolverr.Client {
	opts := []flaresolverr.Option{flaresolverr.WithMaxTimeout(cfg.ChallengeTimeout)}
	name := fmt.Sprintf("techdex-%d", os.Getpid())

	fs := flaresolverr.New(cfg.FlareSolverrURL, append(opts, flaresolverr.WithSession(name))...)
	if err := fs.CreateSession(ctx); err != nil {
		logger.Warn("flaresolverr session unavailable, solving without one", "error", err)
		return flaresolverr.New(cfg.FlareSolverrURL, opts...)
	}
	return fs
}

func challengeConfig(cfg config.Config) challenge.Config {
	c := challenge.DefaultConfig()
	c.Poll.Timeout = cfg.ChallengeTimeout
	c.Retry.MaxAttempts = cfg.ChallengeRetries
	return c
}

func orchestratorConfig(cfg config.Config) orchestrator.Config {
	rc := render.DefaultConfig()
	rc.RenderWait.Timeout = cfg.RenderTimeout
	rc.RerenderWait.Timeout = min(rc.RerenderWait.Timeout, cfg.RenderTimeout)
	rc.RerenderRetries = cfg.RerenderRetries

	return orchestrator.Config{
		BaseURL:     cfg.BaseURL,
		MinCount:    cfg.MinCount,
		MinReviews:  cfg.MinReviews,
		MaxPages:    cfg.MaxPages,
		Categories:  cfg.Categories,
		LimitTech:   cfg.LimitTech,
		TestMode:    cfg.TestMode,
		MaxRequests: cfg.MaxRequests,
		FastPath: fastpath.Config{
			PageSize:      cfg.PageSize,
			InferEndpoint: cfg.InferEndpoint,
		},
		Render: rc,
	}
}
