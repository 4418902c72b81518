// Package retry implements the retry engine: classifies errors and runs a
// retryable operation with exponential backoff, honoring server-supplied
// hints. It generalizes the teacher's executeWithRetry/calculateBackoff
// shape from internal/worker/handlers.go into a standalone, provider-scoped
// engine.
package retry

import (
	"context"
	"time"

	"github.com/relayforge/relay/internal/clock"
	"github.com/relayforge/relay/internal/errs"
)

// Config tunes one withRetry invocation.
type Config struct {
	MaxRetries int           // default 3 (1 + maxRetries total attempts)
	BaseDelay  time.Duration // default 1s
	MaxDelay   time.Duration // default 30s
	Multiplier float64       // default 2
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2
	}
	return c
}

// Router is the subset of the provider router the retry engine needs: a
// hook to force a fresh health probe once retries are exhausted for a
// provider, so the next caller doesn't reuse a stale healthy verdict.
type Router interface {
	ForceHealthRefresh()
}

// Context carries the optional provider identity and router used for the
// "exhausted retries → force health refresh" rule in spec.md §4.4.
type Context struct {
	Provider string
	Router   Router
}

// AttemptDelay records the sleep that preceded one attempt (zero for the
// first).
type AttemptDelay struct {
	Attempt int
	Delay   time.Duration
}

// Result is returned instead of propagating the final error past the
// engine's boundary; callers branch on it.
type Result struct {
	Success     bool
	Data        any
	Attempts    int
	WasRetried  bool
	TotalDuration time.Duration
	Delays      []AttemptDelay
	LastErr     error
}

// Fn is the operation withRetry runs. It returns data on success or a
// tagged error (see internal/errs) classified at the point it is produced.
type Fn func(ctx context.Context, attempt int) (any, error)

// WithRetry runs fn up to 1+cfg.MaxRetries times, sleeping between attempts
// per cfg, and returns a Result that never propagates the final error past
// this boundary.
func WithRetry(ctx context.Context, clk clock.Clock, fn Fn, cfg Config, rc Context) Result {
	cfg = cfg.withDefaults()
	start := clk.Now()

	var lastErr error
	var delays []AttemptDelay

	maxAttempts := 1 + cfg.MaxRetries
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffFor(attempt, cfg, lastErr)
			delays = append(delays, AttemptDelay{Attempt: attempt, Delay: delay})
			if err := clk.Sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}

		data, err := fn(ctx, attempt)
		if err == nil {
			return Result{
				Success:       true,
				Data:          data,
				Attempts:      attempt + 1,
				WasRetried:    attempt > 0,
				TotalDuration: clk.Now().Sub(start),
				Delays:        delays,
			}
		}

		lastErr = err
		if !errs.IsRetryable(err) {
			break
		}
	}

	if rc.Router != nil {
		rc.Router.ForceHealthRefresh()
	}

	return Result{
		Success:       false,
		Attempts:      len(delays) + 1,
		WasRetried:    len(delays) > 0,
		TotalDuration: clk.Now().Sub(start),
		Delays:        delays,
		LastErr:       lastErr,
	}
}

// backoffFor computes min(maxDelay, baseDelay * multiplier^(attempt-1)) unless
// the error carries a server-supplied hint, which is honored (capped at
// maxDelay) instead.
func backoffFor(attempt int, cfg Config, lastErr error) time.Duration {
	if hint, ok := retryAfterHint(lastErr); ok {
		d := time.Duration(hint * float64(time.Second))
		if d > cfg.MaxDelay {
			d = cfg.MaxDelay
		}
		return d
	}

	d := float64(cfg.BaseDelay)
	for i := 0; i < attempt-1; i++ {
		d *= cfg.Multiplier
	}
	delay := time.Duration(d)
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

func retryAfterHint(err error) (float64, bool) {
	if err == nil {
		return 0, false
	}
	var te *errs.Error
	if ok := asTagged(err, &te); ok && te.RetryAfterSeconds > 0 {
		return te.RetryAfterSeconds, true
	}
	return 0, false
}

func asTagged(err error, target **errs.Error) bool {
	for err != nil {
		if te, ok := err.(*errs.Error); ok {
			*target = te
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
