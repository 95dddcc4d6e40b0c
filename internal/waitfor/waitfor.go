// Package waitfor implements the bounded polling used wherever techdex waits
// on a page: challenge resolution, initial table render and re-render after
// pagination. A wait is described by a Policy and never blocks past its
// timeout.
package waitfor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrTimeout is returned when the condition did not hold before the policy ran out.
var ErrTimeout = errors.New("wait timed out")

// Policy bounds a wait.
type Policy struct {
	Interval    time.Duration // Delay between polls
	Timeout     time.Duration // Total time budget (0 = bounded by MaxAttempts only)
	MaxAttempts int           // Maximum number of polls (0 = bounded by Timeout only)
}

// Validate reports whether the policy is bounded.
func (p Policy) Validate() error {
	if p.Interval <= 0 {
		return fmt.Errorf("wait interval must be positive, got %s", p.Interval)
	}
	if p.Timeout <= 0 && p.MaxAttempts <= 0 {
		return errors.New("wait policy needs a timeout or an attempt limit")
	}
	return nil
}

// Condition is polled until it reports done. A non-nil error aborts the wait
// unless it is wrapped with Retry.
type Condition func(ctx context.Context) (done bool, err error)

type retryable struct{ err error }

func (r retryable) Error() string { return r.err.Error() }
func (r retryable) Unwrap() error { return r.err }

// Retry marks a condition error as transient: the poll continues.
func Retry(err error) error {
	if err == nil {
		return nil
	}
	return retryable{err: err}
}

var errNotYet = errors.New("condition not met")

// Result reports how a wait went.
type Result struct {
	Attempts int
	Elapsed  time.Duration
	LastErr  error // last transient error seen, if any
}

// Poll evaluates cond immediately and then every p.Interval until it returns
// true, returns a non-transient error, or the policy is exhausted (ErrTimeout).
func Poll(ctx context.Context, p Policy, cond Condition) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}

	start := time.Now()
	var res Result

	waitCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(p.Interval)
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	}
	b = backoff.WithContext(b, waitCtx)

	op := func() error {
		res.Attempts++
		done, err := cond(waitCtx)
		if err != nil {
			var r retryable
			if errors.As(err, &r) {
				res.LastErr = r.err
				return err
			}
			return backoff.Permanent(err)
		}
		if !done {
			return errNotYet
		}
		return nil
	}

	err := backoff.Retry(op, b)
	res.Elapsed = time.Since(start)
	if err == nil {
		return res, nil
	}

	// The caller's own cancellation wins over our timeout.
	if ctx.Err() != nil {
		return res, ctx.Err()
	}

	if errors.Is(err, errNotYet) || errors.Is(err, context.DeadlineExceeded) {
		return res, fmt.Errorf("%w after %d attempts (%s)", ErrTimeout, res.Attempts, res.Elapsed.Round(time.Millisecond))
	}
	var r retryable
	if errors.As(err, &r) {
		return res, fmt.Errorf("%w after %d attempts: %v", ErrTimeout, res.Attempts, r.err)
	}
	return res, err
}

// Backoff describes retries of a whole operation with exponentially growing pauses.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

// NewBackOff builds the backoff.BackOff for b bound to ctx.
func (b Backoff) NewBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if b.Initial > 0 {
		eb.InitialInterval = b.Initial
	}
	if b.Max > 0 {
		eb.MaxInterval = b.Max
	}
	eb.MaxElapsedTime = 0
	eb.Reset()

	attempts := b.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
}
