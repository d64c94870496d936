package hyperhttp

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure scenarios
var (
	// ErrCircuitOpen is returned when the circuit breaker is in open state
	ErrCircuitOpen = errors.New("hyperhttp: circuit open")

	// ErrRateLimited is returned when a request is denied due to rate limiting
	ErrRateLimited = errors.New("hyperhttp: rate limited")

	// ErrCacheMiss is returned when a cache lookup fails
	ErrCacheMiss = errors.New("hyperhttp: cache miss")

	// ErrRetryBudgetExceeded is returned when retry budget is exhausted
	ErrRetryBudgetExceeded = errors.New("hyperhttp: retry budget exceeded")

	// ErrPoolExhausted is returned when a connection acquire times out
	// waiting for pool capacity.
	ErrPoolExhausted = errors.New("hyperhttp: pool exhausted")
)

// ClientError is the facade-level error type returned by Client, carrying
// enough request context for diagnostics and retry bookkeeping.
type ClientError struct {
	Type       string
	Message    string
	Cause      error
	RequestID  string
	Method     string
	URL        string
	Endpoint   string
	StatusCode int
	Attempt    int
	MaxRetries int
	Timestamp  time.Time
	Duration   time.Duration
}

// Facade-level error type tags. These are strings (not iota) so they read
// naturally in ClientError.Error() and compare cleanly against the
// errors_test.go fixtures.
const (
	ErrorTypeValidation          = "ValidationError"
	ErrorTypeNetwork             = "NetworkError"
	ErrorTypeTimeout             = "TimeoutError"
	ErrorTypeServer              = "ServerError"
	ErrorTypeClient              = "ClientError"
	ErrorTypeRateLimit           = "RateLimitError"
	ErrorTypeCircuitOpen         = "CircuitBreakerError"
	ErrorTypeRetryBudgetExceeded = "RetryBudgetExceededError"
	ErrorTypePoolExhausted       = "PoolExhaustedError"
	ErrorTypeProtocol            = "ProtocolError"
	ErrorTypeTooManyRedirects    = "TooManyRedirectsError"
	ErrorTypeCancelled           = "CancelledError"
)

// Category is one of the closed retry/breaker-relevant buckets a core
// error kind maps to. A Kind may belong to more than one Category.
type Category string

const (
	CategoryTransient  Category = "TRANSIENT"
	CategoryTimeout    Category = "TIMEOUT"
	CategoryServer     Category = "SERVER"
	CategoryRateLimit  Category = "RATE_LIMIT"
	CategoryConnection Category = "CONNECTION"
)

// Kind is the closed set of core error kinds a transport/pool/executor
// component can raise, independent of the facade-level ClientError
// string tags above.
type Kind string

const (
	KindValidation       Kind = "ValidationError"
	KindConnectTimeout   Kind = "ConnectTimeout"
	KindReadTimeout      Kind = "ReadTimeout"
	KindConnectionError  Kind = "ConnectionError"
	KindProtocolError    Kind = "ProtocolError"
	KindHTTPError        Kind = "HTTPError"
	KindTooManyRedirects Kind = "TooManyRedirects"
	KindCircuitOpen      Kind = "CircuitOpen"
	KindPoolExhausted    Kind = "PoolExhausted"
	KindCancelled        Kind = "Cancelled"
)

// CoreError is the error type raised by internal transport/pool/executor
// components, carrying the closed Kind and, for HTTPError, the status
// code that determines its Category.
type CoreError struct {
	Kind       Kind
	Message    string
	StatusCode int
	Cause      error
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Cause }

// IsTransient determines if an error represents a transient failure that might succeed on retry.
// Returns true for network errors, timeouts, 5xx server responses, and rate limiting (429).
// Returns false for 4xx client errors (except 429) and configuration errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// Check for our sentinel errors
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrRetryBudgetExceeded) {
		return true
	}

	// Check for ClientError types
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		switch clientErr.Type {
		case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeServer, ErrorTypeRateLimit, ErrorTypeCircuitOpen:
			return true
		case ErrorTypeClient:
			// 429 Too Many Requests is transient
			return clientErr.StatusCode == 429
		default:
			return false
		}
	}

	return false
}

// Error implements error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		msg := fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Cause)
		if e.RequestID != "" {
			msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
		}
		if e.Attempt > 0 {
			msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxRetries)
		}
		return msg
	}

	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxRetries)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *ClientError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.Endpoint != "" {
		info += fmt.Sprintf("Endpoint: %s\n", e.Endpoint)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d/%d\n", e.Attempt, e.MaxRetries)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}
