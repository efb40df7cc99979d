// Package retry runs operations under a bounded exponential backoff with
// jitter. Only errors classified as transient are retried.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"vodpipe/internal/config"
	"vodpipe/internal/services"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the fraction (0..1) by which each delay is randomly widened
	// or narrowed.
	Jitter float64
}

// DefaultPolicy is three attempts starting at 500ms, capped at 8s, with 20% jitter.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second, Jitter: 0.2}
}

// PolicyFromConfig reads the retry section.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Retry.BaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond,
		Jitter:      cfg.Retry.Jitter,
	}
}

// Delay returns the wait before the attempt following failed attempt n
// (1-based). r is a uniform sample in [0,1).
func (p Policy) Delay(n int, r float64) time.Duration {
	if n < 1 {
		n = 1
	}
	base := float64(p.BaseDelay) * math.Pow(2, float64(n-1))
	if p.MaxDelay > 0 && base > float64(p.MaxDelay) {
		base = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		base *= 1 + p.Jitter*(2*r-1)
	}
	if base < 0 {
		return 0
	}
	return time.Duration(base)
}

// Attempt describes a failed attempt that will be retried.
type Attempt struct {
	Number int
	Err    error
	Delay  time.Duration
}

// Option customises Do.
type Option func(*runner)

// OnRetry registers a callback invoked before each backoff sleep.
func OnRetry(fn func(Attempt)) Option {
	return func(r *runner) {
		if fn != nil {
			r.onRetry = append(r.onRetry, fn)
		}
	}
}

// WithSleep replaces the backoff sleep (tests).
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(r *runner) {
		if fn != nil {
			r.sleep = fn
		}
	}
}

// WithRand replaces the jitter source (tests).
func WithRand(fn func() float64) Option {
	return func(r *runner) {
		if fn != nil {
			r.rand = fn
		}
	}
}

type runner struct {
	onRetry []func(Attempt)
	sleep   func(context.Context, time.Duration) error
	rand    func() float64
}

// Do calls fn until it succeeds, returns a non-transient error, exhausts
// policy.MaxAttempts, or ctx ends. attempt is 1-based. The final error keeps
// its classification.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context, attempt int) error, opts ...Option) error {
	r := &runner{sleep: sleepContext, rand: rand.Float64}
	for _, opt := range opts {
		opt(r)
	}
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if !services.Retryable(err) || ctx.Err() != nil {
			return err
		}
		if attempt == maxAttempts {
			break
		}
		delay := policy.Delay(attempt, r.rand())
		for _, cb := range r.onRetry {
			cb(Attempt{Number: attempt, Err: err, Delay: delay})
		}
		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}
	if maxAttempts > 1 {
		return fmt.Errorf("gave up after %d attempts: %w", maxAttempts, err)
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
