package hyperhttp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	internalbackoff "github.com/lmousom/hyperhttp/internal/backoff"
)

// Client is a resilient HTTP facade that layers retries, circuit
// breaking, rate limiting, caching, de‑duplication, middleware and
// metrics around a transport. By default that transport is a
// RequestExecutor -- the connection-pool/H1/H2 core -- so the
// connection-lifecycle machinery is on the live request path; supplying
// a custom *http.Client via WithHTTPClient opts back out to the
// standard library transport instead. It is safe for concurrent use.
type Client struct {
	httpClient        *http.Client
	maxRetries        int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
	jitter            float64
	timeout           time.Duration
	retryCondition    RetryCondition
	retryPolicy       RetryPolicy
	retryBudget       *RetryBudget
	circuitBreaker    *CircuitBreaker
	middleware        []Middleware
	rateLimiter       *RateLimiter
	rateLimiterRegistry *RateLimiterRegistry
	cache             Cache
	cacheTTL          time.Duration
	cacheKeyFunc      func(*http.Request) string
	cacheCondition    CacheCondition
	metrics           *MetricsCollector
	debug             *DebugConfig
	logger            Logger
	deduplication     *DeduplicationTracker
	dedupKeyFunc      DeduplicationKeyFunc
	dedupCondition    DeduplicationCondition
	validationError   error
	executor          *RequestExecutor
}

// New constructs a Client using the provided functional options. A best effort
// validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRetries:        3,
		initialBackoff:    100 * time.Millisecond,
		maxBackoff:        10 * time.Second,
		backoffMultiplier: 2.0,
		jitter:            0.1,
		timeout:           30 * time.Second,
		retryCondition:    DefaultRetryCondition,
		retryPolicy:       nil, // Will use legacy retry logic if nil
		retryBudget:       nil,
		circuitBreaker:    NewCircuitBreaker(CircuitBreakerConfig{}),
		middleware:        []Middleware{},
		rateLimiter:       nil,
		rateLimiterRegistry: nil,
		cache:             nil,
		cacheTTL:          5 * time.Minute,
		cacheKeyFunc:      DefaultCacheKeyFunc,
		cacheCondition:    DefaultCacheCondition,
		metrics:           nil,
		debug:             DefaultDebugConfig(),
		logger:            nil,
		deduplication:     nil,
		dedupKeyFunc:      DefaultDeduplicationKeyFunc,
		dedupCondition:    DefaultDeduplicationCondition,
		executor:          NewRequestExecutor(),
	}

	for _, option := range options {
		option(client)
	}

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// Get performs an HTTP GET with context.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Post performs an HTTP POST with the given content type.
func (c *Client) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(req)
}

// Do executes a prepared *http.Request applying all reliability features.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	endpoint := getEndpointFromRequest(req)

	if c.timeout > 0 {
		ctx, cancel := context.WithTimeout(req.Context(), c.timeout)
		defer cancel()
		req = req.WithContext(ctx)
	}

	var requestID string
	if c.debug != nil && c.debug.Enabled && c.debug.RequestIDGen != nil {
		requestID = c.debug.RequestIDGen()
	}

	if c.debug != nil && c.debug.Enabled && c.debug.LogRequests && c.logger != nil {
		c.logger.Debug("Starting request", "requestID", requestID, "method", req.Method, "url", req.URL.String(), "endpoint", endpoint)
	}

	if c.metrics != nil {
		c.metrics.RecordRequestStart(req.Method, endpoint)
	}

	dedupEnabled := c.deduplication != nil && c.dedupCondition(req)

	runOnce := func() (*http.Response, error) {
		return c.doOnce(req, requestID, endpoint, start)
	}

	var resp *http.Response
	var err error
	var shared bool
	if dedupEnabled {
		dedupKey := c.dedupKeyFunc(req)
		resp, err, shared = c.deduplication.Do(dedupKey, runOnce)
		if shared && c.debug != nil && c.debug.Enabled && c.logger != nil {
			c.logger.Debug("Deduplication hit", "requestID", requestID, "dedupKey", dedupKey)
		}
	} else {
		resp, err = runOnce()
	}

	if shared {
		duration := time.Since(start)
		statusCode := 0
		if resp != nil {
			statusCode = resp.StatusCode
		}
		if c.metrics != nil {
			c.metrics.RecordRequest(req.Method, endpoint, statusCode, duration)
			c.metrics.RecordDeduplicationHit(req.Method, endpoint)
		}
	}

	return resp, err
}

// doOnce performs the cache-checked, retried request for the owning
// caller of a (possibly deduplicated) key. It is the closure executed at
// most once per in-flight DeduplicationTracker key.
func (c *Client) doOnce(req *http.Request, requestID, endpoint string, start time.Time) (*http.Response, error) {
	cacheEnabled := c.cache != nil && c.cacheCondition(req)

	if cacheEnabled {
		cacheKey := c.cacheKeyFunc(req)
		if entry, found := c.cache.Get(cacheKey); found {
			if c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil {
				c.logger.Debug("Cache hit", "requestID", requestID, "cacheKey", cacheKey)
			}

			if c.metrics != nil {
				c.metrics.RecordCacheHit(req.Method, endpoint)
			}

			duration := time.Since(start)
			if c.metrics != nil {
				c.metrics.RecordRequestEnd(req.Method, endpoint)
				c.metrics.RecordRequest(req.Method, endpoint, entry.StatusCode, duration)
			}

			return c.createResponseFromCache(entry), nil
		}
		if c.metrics != nil {
			c.metrics.RecordCacheMiss(req.Method, endpoint)
		}

		if c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil {
			cacheKey := c.cacheKeyFunc(req)
			c.logger.Debug("Cache miss", "requestID", requestID, "cacheKey", cacheKey)
		}
	}

	resp, err := c.doWithRetry(req, 0, 0, requestID, start)

	if c.metrics != nil {
		c.metrics.RecordRequestEnd(req.Method, endpoint)
	}

	duration := time.Since(start)
	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}
	if c.metrics != nil {
		c.metrics.RecordRequest(req.Method, endpoint, statusCode, duration)
	}

	if cacheEnabled && err == nil && resp.StatusCode < 400 {
		cacheKey := c.cacheKeyFunc(req)
		entry := c.createCacheEntry(resp)
		ttl := c.getCacheTTLForRequest(req)
		c.cache.Set(cacheKey, entry, ttl)

		if inMemoryCache, ok := c.cache.(*InMemoryCache); ok {
			totalSize := 0
			for _, shard := range inMemoryCache.shards {
				shard.mu.RLock()
				totalSize += len(shard.store)
				shard.mu.RUnlock()
			}
			if c.metrics != nil {
				c.metrics.RecordCacheSize("default", totalSize)
			}
		}

		if c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil {
			c.logger.Debug("Response cached", "requestID", requestID, "cacheKey", cacheKey, "ttl", ttl)
		}
	}

	return resp, err
}

func (c *Client) doWithRetry(req *http.Request, attempt int, priorDelay time.Duration, requestID string, startTime time.Time) (*http.Response, error) {
	endpoint := getEndpointFromRequest(req)

	if c.rateLimiter != nil && !c.rateLimiter.Allow() {
		if c.debug != nil && c.debug.Enabled && c.debug.LogRateLimit && c.logger != nil {
			c.logger.Warn("Rate limit exceeded", "requestID", requestID, "endpoint", endpoint)
		}

		if c.metrics != nil {
			c.metrics.RecordError("RateLimit", req.Method, endpoint)
		}
		return nil, c.createClientError(ErrorTypeRateLimit, "rate limit exceeded", nil, requestID, req, attempt, time.Since(startTime))
	}

	if c.rateLimiter != nil && c.metrics != nil {
		c.metrics.RecordRateLimiterTokens("default", int(c.rateLimiter.tokens))
	}

	if c.rateLimiterRegistry != nil {
		if allowed, key := c.rateLimiterRegistry.Allow(req); !allowed {
			if c.debug != nil && c.debug.Enabled && c.debug.LogRateLimit && c.logger != nil {
				c.logger.Warn("Rate limit exceeded", "requestID", requestID, "endpoint", endpoint, "limiterKey", key)
			}
			if c.metrics != nil {
				c.metrics.RecordError("RateLimit", req.Method, endpoint)
			}
			return nil, c.createClientError(ErrorTypeRateLimit, "rate limit exceeded", nil, requestID, req, attempt, time.Since(startTime))
		}
	}

	if !c.circuitBreaker.Allow() {
		if c.debug != nil && c.debug.Enabled && c.debug.LogCircuit && c.logger != nil {
			c.logger.Warn("Circuit breaker open", "requestID", requestID, "endpoint", endpoint, "state", c.circuitBreaker.state)
		}

		if c.metrics != nil {
			c.metrics.RecordError("CircuitBreaker", req.Method, endpoint)
		}
		return nil, c.createClientError(ErrorTypeCircuitOpen, "circuit breaker is open", nil, requestID, req, attempt, time.Since(startTime))
	}

	if attempt > 0 {
		if c.debug != nil && c.debug.Enabled && c.debug.LogRetries && c.logger != nil {
			c.logger.Info("Retry attempt", "requestID", requestID, "attempt", attempt, "maxRetries", c.maxRetries, "endpoint", endpoint)
		}

		if c.metrics != nil {
			c.metrics.RecordRetry(req.Method, endpoint, attempt)
		}
	}

	resp, err := c.executeMiddleware(req)

	if err != nil || (resp != nil && resp.StatusCode >= 500) {
		c.circuitBreaker.RecordFailure()
		if c.metrics != nil {
			c.metrics.RecordCircuitBreakerState("default", CircuitState(c.circuitBreaker.state))
		}

		if c.debug != nil && c.debug.Enabled && c.debug.LogCircuit && c.logger != nil {
			if err != nil {
				c.logger.Warn("Circuit breaker failure recorded", "requestID", requestID, "error", err.Error())
			} else {
				c.logger.Warn("Circuit breaker failure recorded", "requestID", requestID, "statusCode", resp.StatusCode)
			}
		}

		if err != nil {
			if c.metrics != nil {
				c.metrics.RecordError("Network", req.Method, endpoint)
			}
		} else {
			if c.metrics != nil {
				c.metrics.RecordError("Server", req.Method, endpoint)
			}
		}
	} else {
		c.circuitBreaker.RecordSuccess()
		if c.metrics != nil {
			c.metrics.RecordCircuitBreakerState("default", CircuitState(c.circuitBreaker.state))
		}
	}

	// Check retry eligibility using either new RetryPolicy or legacy condition
	var shouldRetry bool
	var delay time.Duration

	if c.retryPolicy != nil {
		delay, shouldRetry = c.retryPolicy.ShouldRetry(resp, err, attempt, priorDelay)
	} else {
		shouldRetry = attempt < c.maxRetries && c.retryCondition(resp, err)
		if shouldRetry {
			delay = c.calculateBackoff(attempt)
		}
	}

	if shouldRetry {
		// Check retry budget if configured
		if c.retryBudget != nil && !c.retryBudget.Allow() {
			if c.metrics != nil {
				c.metrics.RecordRetryBudgetExceeded(endpoint)
			}
			if c.debug != nil && c.debug.Enabled && c.debug.LogRetries && c.logger != nil {
				c.logger.Warn("Retry budget exceeded", "requestID", requestID, "endpoint", endpoint)
			}
			return nil, c.createClientError(ErrorTypeRetryBudgetExceeded, "retry budget exceeded", nil, requestID, req, attempt, time.Since(startTime))
		}

		if c.debug != nil && c.debug.Enabled && c.debug.LogRetries && c.logger != nil {
			c.logger.Info("Scheduling retry", "requestID", requestID, "attempt", attempt+1, "backoff", delay, "endpoint", endpoint)
		}

		time.Sleep(delay)
		return c.doWithRetry(req, attempt+1, delay, requestID, startTime)
	}

	if err != nil {
		return nil, c.createClientError(ErrorTypeNetwork, "network request failed", err, requestID, req, attempt, time.Since(startTime))
	}

	return resp, err
}

// innerRoundTrip is the innermost transport: the RequestExecutor's
// pool/breaker/H1/H2 pipeline by default, or the standard http.Client if
// a caller opted out of the executor via WithHTTPClient.
func (c *Client) innerRoundTrip(req *http.Request) (*http.Response, error) {
	if c.executor != nil {
		return c.executor.RoundTrip(req)
	}
	return c.httpClient.Do(req)
}

func (c *Client) executeMiddleware(req *http.Request) (*http.Response, error) {
	if len(c.middleware) == 0 {
		return c.innerRoundTrip(req)
	}

	current := RoundTripperFunc(c.innerRoundTrip)

	for i := len(c.middleware) - 1; i >= 0; i-- {
		middleware := c.middleware[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return middleware(r, next)
		})
	}

	return current.RoundTrip(req)
}

// calculateBackoff is the legacy exponential-jitter fallback used when no
// RetryPolicy is configured; it defers to internal/backoff so the curve
// matches the one RetryPolicy implementations use.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	strategy := internalbackoff.ExponentialBackoff(c.initialBackoff, c.maxBackoff, c.backoffMultiplier, c.jitter)
	return strategy.NextDelay(attempt, 0)
}

func DefaultRetryCondition(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp.StatusCode >= 500
}

func (c *Client) createClientError(errorType, message string, cause error, requestID string, req *http.Request, attempt int, duration time.Duration) *ClientError {
	endpoint := getEndpointFromRequest(req)

	return &ClientError{
		Type:       errorType,
		Message:    message,
		Cause:      cause,
		RequestID:  requestID,
		Method:     req.Method,
		URL:        req.URL.String(),
		Attempt:    attempt,
		MaxRetries: c.maxRetries,
		Timestamp:  time.Now(),
		Duration:   duration,
		StatusCode: 0,
		Endpoint:   endpoint,
	}
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// ValidateConfigurationStrict panics if configuration is invalid.
func (c *Client) ValidateConfigurationStrict() {
	if err := c.ValidateConfiguration(); err != nil {
		panic(fmt.Sprintf("invalid client configuration: %v", err))
	}
}

// MustValidateConfiguration re-runs validation returning an error (no panic).
func (c *Client) MustValidateConfiguration() error {
	return c.ValidateConfiguration()
}

func getEndpointFromRequest(req *http.Request) string {
	if req.URL == nil {
		return "unknown"
	}

	host := req.URL.Host
	path := req.URL.Path

	var builder strings.Builder
	builder.WriteString(host)

	if path != "" && path != "/" {
		builder.WriteString(path)
	} else {
		builder.WriteByte('/')
	}

	return builder.String()
}
