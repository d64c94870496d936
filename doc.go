// Package hyperhttp provides a resilient, multi-protocol HTTP client with
// composable reliability primitives:
//
//   - Retries with exponential/decorrelated-jitter backoff and a
//     fixed-window retry budget
//   - Rate limiting (hand-rolled token bucket or x/time/rate-backed)
//   - In-memory response caching with per-request overrides
//   - Circuit breaker (open / half-open / closed states), global or per-host
//   - Request de-duplication (merges concurrent identical in-flight requests)
//   - Middleware chain for cross-cutting concerns (auth, logging, tracing, etc.)
//   - Prometheus metrics and lightweight structured debug logging
//   - A default RequestExecutor driving a from-scratch connection pool and
//     HTTP/1.1 + HTTP/2 transport (WithHTTPClient swaps in a standard
//     http.Client instead)
//
// Design goals:
//   - Small surface area -- functional options configure everything
//   - Zero allocations on hot paths where practical
//   - Safe concurrent use of a single *Client instance
//   - Extensibility via user supplied middleware & pluggable cache / metrics
//
// Typical usage:
//
//	client := hyperhttp.New(
//	    hyperhttp.WithMaxRetries(3),
//	    hyperhttp.WithRateLimiter(10, time.Second),
//	    hyperhttp.WithCache(5*time.Minute),
//	    hyperhttp.WithCircuitBreaker(hyperhttp.CircuitBreakerConfig{}),
//	    hyperhttp.WithDeduplication(),
//	)
//	resp, err := client.Get(ctx, "https://api.example.com/data")
//
// Only network errors and 5xx responses trigger retries by default; override with WithRetryCondition.
// The library avoids opinionated logging: provide a Logger (e.g. via WithSimpleLogger) + enable
// debug flags selectively (WithDebug / WithDebugConfig) for insight without noise.
package hyperhttp
