package provider

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket capped at rpm requests per minute, with
// continuous refill at rpm/60 tokens per second. A zero rpm means no
// limit: Wait returns immediately and no bucket is allocated.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter builds a limiter for rpm requests per minute. rpm <= 0
// disables limiting.
func NewRateLimiter(rpm int) *RateLimiter {
	if rpm <= 0 {
		return &RateLimiter{}
	}
	perSecond := rate.Limit(float64(rpm) / 60.0)
	return &RateLimiter{limiter: rate.NewLimiter(perSecond, rpm)}
}

// Wait blocks until a token is available, or returns ctx.Err() if the
// context is cancelled first.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil || r.limiter == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}
