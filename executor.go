package hyperhttp

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lmousom/hyperhttp/internal/bufpool"
	"github.com/lmousom/hyperhttp/internal/classify"
	"github.com/lmousom/hyperhttp/internal/connpool"
	"github.com/lmousom/hyperhttp/internal/core"
	"github.com/lmousom/hyperhttp/internal/transport/h1"
	"github.com/lmousom/hyperhttp/internal/transport/h2"
)

// RequestExecutor is the connection-lifecycle core: it validates a
// request, applies a per-host circuit breaker, acquires a connection from
// the pool (dialing and handshaking one if none is Idle), and performs
// the transport round trip over HTTP/1.1 or HTTP/2, consulting
// internal/classify for which failures trip the breaker. It performs
// exactly one attempt per Send; Client's doWithRetry loop is what retries
// across attempts, applying RetryPolicy and backoff around the executor.
//
// It is the Client's default transport; a caller opts back out to a
// plain net/http.Client via WithHTTPClient.
type RequestExecutor struct {
	pool     *connpool.ConnectionPool
	breakers *CircuitBreakerRegistry
	bufs     *bufpool.Pool

	dialTimeout time.Duration
	tlsConfig   *tls.Config
	enableH2    bool
	metrics     *MetricsCollector
}

// ExecutorOption configures a RequestExecutor.
type ExecutorOption func(*RequestExecutor)

// WithExecutorPool overrides the connection pool's sizing.
func WithExecutorPool(maxConnections, maxPerHost int, maxKeepalive time.Duration) ExecutorOption {
	return func(e *RequestExecutor) {
		e.pool = connpool.NewConnectionPool(maxConnections, maxPerHost, maxKeepalive)
	}
}

// WithExecutorCircuitBreaker attaches a breaker registry (global or
// per-host, see NewCircuitBreakerRegistry).
func WithExecutorCircuitBreaker(registry *CircuitBreakerRegistry) ExecutorOption {
	return func(e *RequestExecutor) { e.breakers = registry }
}

// WithExecutorTLSConfig overrides the TLS config used for https:// dials.
func WithExecutorTLSConfig(cfg *tls.Config) ExecutorOption {
	return func(e *RequestExecutor) { e.tlsConfig = cfg }
}

// WithExecutorHTTP2 toggles ALPN negotiation of h2 for https:// targets.
func WithExecutorHTTP2(enabled bool) ExecutorOption {
	return func(e *RequestExecutor) { e.enableH2 = enabled }
}

// WithExecutorMetrics attaches a MetricsCollector so the executor reports
// connection creation/reuse, circuit trips, pool wait time, buffer tier
// hit/miss counts, and H2 stream counts. Nil is safe and simply disables
// these observations.
func WithExecutorMetrics(mc *MetricsCollector) ExecutorOption {
	return func(e *RequestExecutor) {
		e.metrics = mc
		if mc == nil {
			e.bufs.SetObserver(nil)
			return
		}
		e.bufs.SetObserver(func(tierBytes int, hit bool) {
			if hit {
				mc.RecordBufferTierHit(tierBytes)
			} else {
				mc.RecordBufferTierMiss(tierBytes)
			}
		})
	}
}

// NewRequestExecutor builds a RequestExecutor with sane defaults: a
// 100-connection / 10-per-host pool, a global circuit breaker, and
// HTTP/2 negotiation enabled.
func NewRequestExecutor(opts ...ExecutorOption) *RequestExecutor {
	e := &RequestExecutor{
		pool:        connpool.NewConnectionPool(100, 10, 300*time.Second),
		breakers:    NewCircuitBreakerRegistry(ScopeGlobal, CircuitBreakerConfig{}, 128),
		bufs:        bufpool.New(256),
		dialTimeout: 10 * time.Second,
		enableH2:    true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func hostKeyFor(u *url.URL) (connpool.HostKey, error) {
	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}
	host := u.Hostname()
	if host == "" {
		return connpool.HostKey{}, fmt.Errorf("h2: request URL has no host")
	}
	portStr := u.Port()
	port := 80
	if scheme == "https" {
		port = 443
	}
	if portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return connpool.HostKey{}, fmt.Errorf("invalid port %q: %w", portStr, err)
		}
		port = p
	}
	return connpool.HostKey{Scheme: scheme, Host: host, Port: port}, nil
}

// Send executes one attempt (no retry) of req against its target host,
// acquiring/dialing a connection from the pool and returning the core
// Response, or an error classified by internal/classify.
func (e *RequestExecutor) Send(ctx context.Context, req *core.Request) (*core.Response, error) {
	key, err := hostKeyFor(req.URL)
	if err != nil {
		return nil, &CoreError{Kind: KindValidation, Message: err.Error(), Cause: err}
	}

	hostStr := hostKeyString(key)
	breaker := e.breakers.Get(hostStr)
	if !breaker.Allow() {
		return nil, &CoreError{Kind: KindCircuitOpen, Message: "circuit breaker open for " + hostStr}
	}

	resp, _, err := e.roundTripViaHostKey(ctx, key, req)
	if err != nil {
		kind := classifyDialErr(err)
		if classify.TripsBreaker(classify.Kind(kind), 0) {
			e.recordFailure(breaker, hostStr)
		}
		return nil, err
	}

	cats := classify.Classify(classify.Kind(KindHTTPError), resp.StatusCode)
	if classify.In(cats, classify.Server) {
		e.recordFailure(breaker, hostStr)
	} else {
		breaker.RecordSuccess()
	}
	return resp, nil
}

// recordFailure reports a breaker failure and, if it tripped the breaker
// open, a circuit-trip metric.
func (e *RequestExecutor) recordFailure(breaker *CircuitBreaker, host string) {
	breaker.RecordFailure()
	if e.metrics != nil && breaker.State() == StateOpen {
		e.metrics.RecordCircuitTrip(host)
	}
}

func hostKeyString(k connpool.HostKey) string {
	return fmt.Sprintf("%s://%s:%d", k.Scheme, k.Host, k.Port)
}

func classifyDialErr(err error) Kind {
	if ce, ok := err.(*CoreError); ok {
		return ce.Kind
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return KindConnectTimeout
	}
	return KindConnectionError
}

// roundTripViaHostKey reuses an Idle connection for key if one exists
// (preferring H2 multiplexing, which needs no new admission slot),
// otherwise acquires a pool slot, dials and handshakes a new connection,
// and tracks it. Only connection *creation* consumes the per-host/global
// admission semaphore -- reusing a multiplexed H2 connection for another
// stream does not, matching the HostPool contract (|InUse|+|Idle| counts
// connections, not in-flight requests).
func (e *RequestExecutor) roundTripViaHostKey(ctx context.Context, key connpool.HostKey, req *core.Request) (*core.Response, bool, error) {
	hp := e.pool.PoolFor(key)
	host := hostKeyString(key)

	if conn := hp.PickIdle(e.enableH2); conn != nil {
		if e.metrics != nil {
			e.metrics.RecordConnectionReused(host, conn.Protocol())
		}
		return e.roundTripOnConn(ctx, hp, conn, req, false)
	}

	waitStart := time.Now()
	_, err := e.pool.Acquire(ctx, key)
	if e.metrics != nil {
		e.metrics.RecordPoolWait(host, time.Since(waitStart))
	}
	if err != nil {
		return nil, false, &CoreError{Kind: KindPoolExhausted, Message: "connection pool exhausted", Cause: err}
	}

	conn, err := e.dial(ctx, key)
	if err != nil {
		hp.Release()
		return nil, false, err
	}
	hp.Track(conn)
	if e.metrics != nil {
		e.metrics.RecordConnectionCreated(host, conn.Protocol())
	}

	return e.roundTripOnConn(ctx, hp, conn, req, true)
}

// roundTripOnConn performs the transport round trip on an already-tracked
// connection. freshlyDialed connections that error are untracked
// unconditionally (they hold a slot nothing else can use); reused H1
// connections are untracked only when the peer signaled non-keep-alive;
// reused H2 connections are untracked only once actually Broken.
func (e *RequestExecutor) roundTripOnConn(ctx context.Context, hp *connpool.HostPool, conn connpool.Connection, req *core.Request, freshlyDialed bool) (*core.Response, bool, error) {
	switch c := conn.(type) {
	case *h1.Conn:
		resp, keepAlive, err := c.RoundTrip(req)
		if err != nil {
			hp.Untrack(c)
			return nil, false, &CoreError{Kind: KindConnectionError, Message: "h1 round trip failed", Cause: err}
		}
		if !keepAlive {
			hp.Untrack(c)
		}
		return resp, false, nil
	case *h2.Conn:
		resp, retryElig, err := c.RoundTrip(ctx, req)
		if e.metrics != nil {
			e.metrics.SetH2ActiveStreams(hostKeyString(hp.Key()), c.ActiveStreams())
		}
		if err != nil {
			if freshlyDialed || c.State() == connpool.StateBroken {
				hp.Untrack(c)
			}
			return nil, retryElig, &CoreError{Kind: KindConnectionError, Message: "h2 round trip failed", Cause: err}
		}
		return resp, false, nil
	}
	hp.Untrack(conn)
	return nil, false, fmt.Errorf("executor: unreachable connection type")
}

// dial establishes a fresh transport connection for key, negotiating h2
// via ALPN when enabled and the scheme is https.
func (e *RequestExecutor) dial(ctx context.Context, key connpool.HostKey) (connpool.Connection, error) {
	dialer := &net.Dialer{Timeout: e.dialTimeout}
	addr := net.JoinHostPort(key.Host, strconv.Itoa(key.Port))

	if key.Scheme != "https" {
		nc, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, &CoreError{Kind: KindConnectTimeout, Message: "dial failed", Cause: err}
		}
		return h1.New(nc, e.bufs), nil
	}

	cfg := e.tlsConfig
	if cfg == nil {
		cfg = &tls.Config{}
	}
	cfg = cfg.Clone()
	cfg.ServerName = key.Host
	if e.enableH2 {
		cfg.NextProtos = []string{"h2", "http/1.1"}
	} else {
		cfg.NextProtos = []string{"http/1.1"}
	}

	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &CoreError{Kind: KindConnectTimeout, Message: "dial failed", Cause: err}
	}
	tlsConn := tls.Client(rawConn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, &CoreError{Kind: KindConnectionError, Message: "tls handshake failed", Cause: err}
	}

	if tlsConn.ConnectionState().NegotiatedProtocol == "h2" {
		return h2.Dial(ctx, tlsConn)
	}
	return h1.New(tlsConn, e.bufs), nil
}

// RoundTrip adapts the net/http.RoundTripper interface onto Send, letting
// Client use a RequestExecutor as its innermost transport. New installs
// one by default; WithRequestExecutor replaces it and WithHTTPClient
// removes it in favour of an http.Client.
func (e *RequestExecutor) RoundTrip(req *http.Request) (*http.Response, error) {
	coreReq, err := toCoreRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := e.Send(req.Context(), coreReq)
	if err != nil {
		return nil, err
	}
	return toHTTPResponse(resp, req), nil
}

func toCoreRequest(req *http.Request) (*core.Request, error) {
	var body core.BodyReader
	if req.Body != nil && req.Body != http.NoBody {
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		body = core.NewFixedBody(data)
	}
	cr := core.NewRequest(req.Method, req.URL, map[string][]string(req.Header), body)
	return cr, nil
}

func toHTTPResponse(resp *core.Response, req *http.Request) *http.Response {
	return &http.Response{
		StatusCode: resp.StatusCode,
		Status:     fmt.Sprintf("%d %s", resp.StatusCode, resp.Reason),
		Header:     http.Header(resp.Header),
		Body:       resp.Body,
		Request:    req,
		Proto:      string(resp.Protocol),
	}
}
