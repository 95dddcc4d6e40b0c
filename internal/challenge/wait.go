package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jmylchreest/techdex/internal/browser"
	"github.com/jmylchreest/techdex/internal/logger"
	"github.com/jmylchreest/techdex/internal/waitfor"
)

// ErrChallengeFailed is returned when a challenge does not clear within the
// configured waits. It is scoped to the page being loaded, never to the run.
var ErrChallengeFailed = errors.New("anti-bot challenge not resolved")

var errBlocked = errors.New("blocked by anti-bot page")

// Solver obtains clearance for a URL outside the browser (e.g. FlareSolverr).
type Solver interface {
	Solve(ctx context.Context, url string) (Solution, error)
}

// Solution is what a Solver hands back.
type Solution struct {
	Cookies   []browser.Cookie
	UserAgent string
}

// Config bounds challenge waiting.
type Config struct {
	// Poll is the wait within one attempt; Timeout is the maximum wait.
	Poll waitfor.Policy
	// Retry governs reload-and-wait-again attempts after a timed-out wait.
	Retry waitfor.Backoff
}

// DefaultConfig polls every second for up to a minute, with one retry.
func DefaultConfig() Config {
	return Config{
		Poll:  waitfor.Policy{Interval: time.Second, Timeout: 60 * time.Second},
		Retry: waitfor.Backoff{Initial: 5 * time.Second, Max: 30 * time.Second, MaxAttempts: 2},
	}
}

// Outcome reports how a page load went with respect to challenges.
type Outcome struct {
	Status   Status
	Kind     string
	Attempts int
	Polls    int
	Elapsed  time.Duration
	Solved   bool             // cleared by the Solver
	Cookies  []browser.Cookie // captured on the transition to Clear
}

// Waiter runs the detect, wait and retry protocol against a page.
type Waiter struct {
	cfg    Config
	solver Solver
	log    *slog.Logger
}

// NewWaiter creates a Waiter. solver may be nil.
func NewWaiter(cfg Config, solver Solver) *Waiter {
	if cfg.Poll.Interval <= 0 {
		cfg.Poll = DefaultConfig().Poll
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultConfig().Retry
	}
	return &Waiter{cfg: cfg, solver: solver, log: logger.Component("challenge")}
}

// Await classifies the page and, if a challenge is pending, waits for it to
// clear. The returned error is ErrChallengeFailed (wrapped) when it does not,
// or browser.ErrClosed when the browser died meanwhile.
func (w *Waiter) Await(ctx context.Context, page browser.Page) (Outcome, error) {
	start := time.Now()
	out := Outcome{}

	snap, err := page.Snapshot(ctx)
	if err != nil {
		return out, fmt.Errorf("challenge snapshot: %w", err)
	}
	out.Status, out.Kind = classify(snap)
	if out.Status == Clear {
		return out, nil
	}

	w.log.Warn("challenge detected", "url", snap.URL, "kind", out.Kind, "status", out.Status, "http_status", snap.Status)

	if out.Status == Pending {
		cleared, err := w.waitWithRetries(ctx, page, &out)
		if err != nil {
			return out, err
		}
		if cleared {
			return w.clear(ctx, page, out, start)
		}
	}

	if w.solver != nil {
		cleared, err := w.trySolver(ctx, page, snap.URL, &out)
		if err != nil {
			return out, err
		}
		if cleared {
			return w.clear(ctx, page, out, start)
		}
	}

	out.Status = Failed
	out.Elapsed = time.Since(start)
	w.log.Warn("challenge failed",
		"url", snap.URL,
		"kind", out.Kind,
		"attempts", out.Attempts,
		"polls", out.Polls,
		"elapsed", out.Elapsed.Round(time.Millisecond))
	return out, fmt.Errorf("%w: %s after %d attempts", ErrChallengeFailed, out.Kind, out.Attempts)
}

// waitWithRetries polls until the page clears, reloading with backoff after
// each timed-out attempt.
func (w *Waiter) waitWithRetries(ctx context.Context, page browser.Page, out *Outcome) (bool, error) {
	b := w.cfg.Retry.NewBackOff(ctx)

	for {
		out.Attempts++
		res, err := waitfor.Poll(ctx, w.cfg.Poll, func(ctx context.Context) (bool, error) {
			snap, err := page.Snapshot(ctx)
			if err != nil {
				if errors.Is(err, browser.ErrClosed) {
					return false, err
				}
				return false, waitfor.Retry(err)
			}
			switch Classify(snap) {
			case Clear:
				return true, nil
			case Failed:
				return false, errBlocked
			default:
				return false, nil
			}
		})
		out.Polls += res.Attempts

		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, browser.ErrClosed), ctx.Err() != nil:
			return false, err
		case errors.Is(err, errBlocked):
			out.Kind = blockedMarkers.kind
			return false, nil
		}

		next := b.NextBackOff()
		if next == backoff.Stop {
			return false, nil
		}
		w.log.Info("challenge wait timed out, retrying", "attempt", out.Attempts, "backoff", next.Round(time.Millisecond))

		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}

		if err := page.Reload(ctx); err != nil {
			if errors.Is(err, browser.ErrClosed) {
				return false, err
			}
			w.log.Warn("reload during challenge failed", "error", err)
		}
	}
}

func (w *Waiter) trySolver(ctx context.Context, page browser.Page, url string, out *Outcome) (bool, error) {
	w.log.Info("handing challenge to solver", "url", url)
	sol, err := w.solver.Solve(ctx, url)
	if err != nil {
		w.log.Warn("solver failed", "url", url, "error", err)
		return false, nil
	}
	if err := page.SetCookies(ctx, url, sol.Cookies); err != nil {
		return false, err
	}
	if err := page.Reload(ctx); err != nil {
		if errors.Is(err, browser.ErrClosed) {
			return false, err
		}
		return false, nil
	}
	snap, err := page.Snapshot(ctx)
	if err != nil {
		return false, nil
	}
	out.Solved = Classify(snap) == Clear
	return out.Solved, nil
}

func (w *Waiter) clear(ctx context.Context, page browser.Page, out Outcome, start time.Time) (Outcome, error) {
	out.Status = Clear
	out.Elapsed = time.Since(start)

	cookies, err := page.Cookies(ctx)
	if err != nil {
		// Content is there; the fast path will simply run without these cookies.
		w.log.Warn("cookie capture after challenge failed", "error", err)
	}
	out.Cookies = cookies

	w.log.Info("challenge cleared",
		"kind", out.Kind,
		"attempts", out.Attempts,
		"polls", out.Polls,
		"solved", out.Solved,
		"cookies", len(cookies),
		"elapsed", out.Elapsed.Round(time.Millisecond))
	return out, nil
}
