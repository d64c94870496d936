package hyperhttp

import "golang.org/x/time/rate"

// TokenBucketLimiter adapts golang.org/x/time/rate.Limiter to the Limiter
// interface, for callers who want x/time/rate's well-tested token bucket
// (with burst support) instead of the hand-rolled RateLimiter in
// rate_limiter.go.
type TokenBucketLimiter struct {
	limiter *rate.Limiter
}

// NewTokenBucketLimiter creates a Limiter allowing up to burst requests
// instantaneously, refilling at ratePerSecond tokens/sec thereafter.
func NewTokenBucketLimiter(ratePerSecond float64, burst int) *TokenBucketLimiter {
	return &TokenBucketLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Allow reports whether a token is available right now, consuming it if so.
func (t *TokenBucketLimiter) Allow() bool {
	return t.limiter.Allow()
}
