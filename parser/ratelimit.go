package parser

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter spaces out sequential operations against one host.
type RateLimiter struct {
	limiter  *rate.Limiter
	interval time.Duration
}

// NewRateLimiter creates a new rate limiter with the specified interval.
// The interval determines the minimum time between operations.
//
// Example usage:
//
//	limiter := parser.NewRateLimiter(1500 * time.Millisecond)
//
//	for _, url := range urls {
//	    if err := limiter.Wait(ctx); err != nil {
//	        return err
//	    }
//	    // ... perform rate-limited operation ...
//	}
func NewRateLimiter(interval time.Duration) *RateLimiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &RateLimiter{
		limiter:  rate.NewLimiter(limit, 1),
		interval: interval,
	}
}

// Wait blocks until the next operation is allowed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

// GetInterval returns the configured interval for this rate limiter.
func (rl *RateLimiter) GetInterval() time.Duration {
	return rl.interval
}

// Window is a closed range of seconds a pause is drawn from.
type Window struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// RandomDuration draws a uniformly distributed duration from w.
func RandomDuration(w Window) time.Duration {
	lo, hi := w.Min, w.Max
	if hi < lo {
		lo, hi = hi, lo
	}
	if lo < 0 {
		lo = 0
	}
	if hi <= lo {
		return time.Duration(lo * float64(time.Second))
	}
	secs := lo + rand.Float64()*(hi-lo)
	return time.Duration(secs * float64(time.Second))
}

// RandomPause sleeps for a random duration from w. It returns early with
// ctx.Err() if the context is cancelled.
func RandomPause(ctx context.Context, w Window) error {
	d := RandomDuration(w)
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
