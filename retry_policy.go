package hyperhttp

import (
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	internalbackoff "github.com/lmousom/hyperhttp/internal/backoff"
)

// RetryPolicy decides, after a failed attempt, whether to retry and how
// long to wait first. priorDelay is the delay actually used for the
// previous attempt (0 on the first call), which stateful strategies like
// decorrelated jitter need to compute the next one.
type RetryPolicy interface {
	ShouldRetry(resp *http.Response, err error, attempt int, priorDelay time.Duration) (time.Duration, bool)
}

// BackoffStrategy selects which backoff curve a DefaultRetryPolicy uses.
type BackoffStrategy int

const (
	ExponentialJitter BackoffStrategy = iota
	DecorrelatedJitter
)

// DefaultRetryPolicy is the stock RetryPolicy: retries idempotent methods
// on network errors, 429, and 5xx, honoring Retry-After when present and
// falling back to the configured backoff strategy otherwise.
type DefaultRetryPolicy struct {
	maxRetries        int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
	jitter            float64
	backoffStrategy   BackoffStrategy
	strategy          internalbackoff.Strategy
	isIdempotent      func(method string) bool
}

// RetryBudget caps the number of retries issued within a fixed window
// (the count resets once perWindow has elapsed since the window began),
// independent of any single request's own max-retries, so a flood of
// failing requests cannot multiply into an even larger flood of retries.
type RetryBudget struct {
	maxRetries  int64
	perWindow   time.Duration
	window      int64
	current     int64
	windowStart int64
}

// NewDefaultRetryPolicy creates a retry policy with configurable backoff strategy that only
// retries idempotent methods by default.
func NewDefaultRetryPolicy(maxRetries int, initialBackoff, maxBackoff time.Duration, multiplier, jitter float64) *DefaultRetryPolicy {
	return NewDefaultRetryPolicyWithStrategy(maxRetries, initialBackoff, maxBackoff, multiplier, jitter, ExponentialJitter)
}

// NewDefaultRetryPolicyWithStrategy creates a retry policy with a specific backoff strategy.
func NewDefaultRetryPolicyWithStrategy(maxRetries int, initialBackoff, maxBackoff time.Duration, multiplier, jitter float64, strategy BackoffStrategy) *DefaultRetryPolicy {
	policy := &DefaultRetryPolicy{
		maxRetries:        maxRetries,
		initialBackoff:    initialBackoff,
		maxBackoff:        maxBackoff,
		backoffMultiplier: multiplier,
		jitter:            jitter,
		backoffStrategy:   strategy,
		isIdempotent:      DefaultIsIdempotent,
	}

	switch strategy {
	case DecorrelatedJitter:
		policy.strategy = internalbackoff.DecorrelatedJitterBackoff(initialBackoff, maxBackoff)
	default:
		policy.strategy = internalbackoff.ExponentialBackoff(initialBackoff, maxBackoff, multiplier, jitter)
	}

	return policy
}

// ShouldRetry implements the RetryPolicy interface.
func (p *DefaultRetryPolicy) ShouldRetry(resp *http.Response, err error, attempt int, priorDelay time.Duration) (time.Duration, bool) {
	if attempt >= p.maxRetries {
		return 0, false
	}

	// Don't retry if the method is not idempotent
	if resp != nil && !p.isIdempotent(resp.Request.Method) {
		return 0, false
	}

	// Check if we should retry based on error or response
	shouldRetry := false
	var delay time.Duration

	if err != nil {
		// Network errors are generally retryable
		shouldRetry = true
	} else if resp != nil {
		// Check for specific status codes
		if resp.StatusCode == 429 || resp.StatusCode >= 500 {
			shouldRetry = true
			// Parse Retry-After header for 429/503 responses
			delay = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
	}

	if !shouldRetry {
		return 0, false
	}

	// If no Retry-After delay was parsed, fall back to the configured strategy.
	if delay == 0 {
		delay = p.strategy.NextDelay(attempt, priorDelay)
	}

	return delay, true
}

// DefaultIsIdempotent returns true for idempotent HTTP methods.
func DefaultIsIdempotent(method string) bool {
	switch method {
	case "GET", "HEAD", "PUT", "DELETE", "OPTIONS":
		return true
	default:
		return false
	}
}

// parseRetryAfter parses the Retry-After header value.
// It supports both delay-seconds format and HTTP-date format.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	// Try parsing as seconds first
	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour // Cap at 1 hour
			}
			return delay
		}
	}

	// Try parsing as HTTP-date
	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour { // Cap at 1 hour
			return delay
		}
	}

	return 0
}

// NewRetryBudget creates a new retry budget tracker.
func NewRetryBudget(maxRetries int, perWindow time.Duration) *RetryBudget {
	return &RetryBudget{
		maxRetries:  int64(maxRetries),
		perWindow:   perWindow,
		window:      int64(perWindow),
		current:     0,
		windowStart: time.Now().UnixNano(),
	}
}

// Allow checks if a retry is allowed under the current budget.
func (rb *RetryBudget) Allow() bool {
	now := time.Now().UnixNano()
	windowStart := atomic.LoadInt64(&rb.windowStart)

	// Check if we need to reset the window
	if now-windowStart >= int64(rb.perWindow) {
		// Try to reset the window
		if atomic.CompareAndSwapInt64(&rb.windowStart, windowStart, now) {
			atomic.StoreInt64(&rb.current, 0)
		}
	}

	// Check current retry count
	current := atomic.LoadInt64(&rb.current)
	if current >= rb.maxRetries {
		return false
	}

	// Increment and check again
	newCurrent := atomic.AddInt64(&rb.current, 1)
	return newCurrent <= rb.maxRetries
}

// GetStats returns current retry budget statistics.
func (rb *RetryBudget) GetStats() (current, max int64, windowStart time.Time) {
	return atomic.LoadInt64(&rb.current),
		rb.maxRetries,
		time.Unix(0, atomic.LoadInt64(&rb.windowStart))
}
