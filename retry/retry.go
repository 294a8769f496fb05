// Package retry implements the bounded retry policy providers apply at
// stream initiation. Rate limits wait on a long fixed schedule because
// rate windows reset on the order of tens of seconds; server overload
// backs off exponentially from a short base. Anything else propagates
// immediately.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/mstanton/relay"
)

// Default policy tuning.
const (
	DefaultMaxAttempts  = 3
	DefaultOverloadBase = 2 * time.Second
)

// DefaultRateLimitSchedule is the per-retry wait after a rate-limit
// response.
var DefaultRateLimitSchedule = []time.Duration{30 * time.Second, 60 * time.Second}

// Policy bounds and paces retries. The zero value selects defaults.
type Policy struct {
	MaxAttempts       int
	RateLimitSchedule []time.Duration
	OverloadBase      time.Duration

	// Sleep overrides the ctx-aware wait, for tests. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Stream invokes attempt up to MaxAttempts times. Retryable failures
// (*relay.ProviderError with RateLimited or Transient set) wait out
// their schedule between attempts; every wait observes ctx
// cancellation. Exhausting attempts returns the last error.
func (p Policy) Stream(ctx context.Context, attempt func() (relay.Stream, error)) (relay.Stream, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var lastErr error
	for n := 1; n <= maxAttempts; n++ {
		stream, err := attempt()
		if err == nil {
			return stream, nil
		}
		lastErr = err

		var pe *relay.ProviderError
		if !errors.As(err, &pe) || !pe.Retryable() || n == maxAttempts {
			return nil, lastErr
		}
		if err := p.wait(ctx, n, pe.RateLimited); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (p Policy) wait(ctx context.Context, attempt int, rateLimited bool) error {
	var d time.Duration
	if rateLimited {
		schedule := p.RateLimitSchedule
		if len(schedule) == 0 {
			schedule = DefaultRateLimitSchedule
		}
		idx := attempt - 1
		if idx >= len(schedule) {
			idx = len(schedule) - 1
		}
		d = schedule[idx]
	} else {
		base := p.OverloadBase
		if base <= 0 {
			base = DefaultOverloadBase
		}
		d = base << (attempt - 1)
	}

	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	return sleep(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
