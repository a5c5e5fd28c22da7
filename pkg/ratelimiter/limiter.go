package ratelimiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter wraps golang.org/x/time/rate.Limiter.
type RateLimiter struct {
	limiter *rate.Limiter
	burst   int
	rps     int
}

// NewRateLimiter creates a limiter from the time between token generation
// (e.g. 100ms for 10 RPS) and the bucket capacity.
func NewRateLimiter(ratePerToken time.Duration, burst int) *RateLimiter {
	rps := int(time.Second / ratePerToken)
	if rps <= 0 {
		rps = 1
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		burst:   burst,
		rps:     rps,
	}
}

// NewRateLimiterFromRPS creates a rate limiter directly from RPS.
func NewRateLimiterFromRPS(rps int, burst int) *RateLimiter {
	if rps <= 0 {
		rps = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		burst:   burst,
		rps:     rps,
	}
}

// Wait blocks until a token is available.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

// TryAcquire attempts to acquire a token without blocking.
func (rl *RateLimiter) TryAcquire() bool {
	return rl.limiter.Allow()
}

// Close is a no-op kept for interface compatibility.
func (rl *RateLimiter) Close() {}

// GetStats returns current limiter statistics.
func (rl *RateLimiter) GetStats() (available, capacity int, rateDuration time.Duration) {
	available = int(rl.limiter.Tokens())
	if available < 0 {
		available = 0
	}
	capacity = rl.burst
	rateDuration = time.Second / time.Duration(rl.rps)
	return
}
