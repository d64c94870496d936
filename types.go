package hyperhttp

import (
	"net/http"
	"time"
)

// RetryCondition determines whether a request should be retried. It is the
// legacy, single-function retry hook kept for backward compatible callers;
// new code should prefer a RetryPolicy (retry_policy.go, set with
// WithRetryPolicy).
type RetryCondition func(resp *http.Response, err error) bool

// Middleware represents a middleware function sitting between the facade
// Client and the underlying RequestExecutor.
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper represents the HTTP transport interface consumed by the
// middleware chain. The innermost RoundTripper adapts to RequestExecutor.
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc is a function adapter implementing RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

// RoundTrip implements RoundTripper.
func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// CacheCondition determines whether a request should be cached.
type CacheCondition func(req *http.Request) bool

// contextKey namespaces context values set by this package.
type contextKey string

// CacheControlKey is the context key under which a per-request CacheControl
// override is stored.
const CacheControlKey contextKey = "hyperhttp_cache_control"

// CacheControl holds cache control options for a single request, set via
// WithContextCacheEnabled / WithContextCacheDisabled / WithContextCacheTTL.
type CacheControl struct {
	Enabled bool
	TTL     time.Duration
}

// Option represents a Client configuration option (functional options
// pattern).
type Option func(*Client)
