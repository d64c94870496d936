package hyperhttp

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// CircuitState is the atomic state of a CircuitBreaker.
type CircuitState int64

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures a single CircuitBreaker's thresholds.
type CircuitBreakerConfig struct {
	FailureThreshold int64
	RecoveryTimeout  time.Duration
	SuccessThreshold int64
}

// CircuitBreaker is a single atomic-CAS state machine guarding one scope
// (the whole client, or one host, depending on how the caller keys it).
type CircuitBreaker struct {
	config      CircuitBreakerConfig
	state       int64
	failures    int64
	lastFailure int64
	successes   int64
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout == 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 2
	}

	return &CircuitBreaker{
		config:      config,
		state:       int64(StateClosed),
		failures:    0,
		lastFailure: 0,
		successes:   0,
	}
}

// Allow checks if the request should be allowed through the circuit breaker
func (cb *CircuitBreaker) Allow() bool {
	now := time.Now().UnixNano()
	state := CircuitState(atomic.LoadInt64(&cb.state))

	switch state {
	case StateClosed:
		return true
	case StateOpen:
		lastFailure := atomic.LoadInt64(&cb.lastFailure)
		if now-lastFailure >= int64(cb.config.RecoveryTimeout) {
			// Try to transition to half-open
			if atomic.CompareAndSwapInt64(&cb.state, int64(StateOpen), int64(StateHalfOpen)) {
				atomic.StoreInt64(&cb.successes, 0)
				return true
			}
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

// RecordFailure records a failure in the circuit breaker
func (cb *CircuitBreaker) RecordFailure() {
	now := time.Now().UnixNano()
	atomic.StoreInt64(&cb.lastFailure, now)

	state := CircuitState(atomic.LoadInt64(&cb.state))

	switch state {
	case StateClosed:
		failures := atomic.AddInt64(&cb.failures, 1)
		if failures >= int64(cb.config.FailureThreshold) {
			atomic.StoreInt64(&cb.state, int64(StateOpen))
		}
	case StateOpen:
		// When open, just update lastFailure
	case StateHalfOpen:
		// When half-open, a failure should immediately open the circuit
		atomic.AddInt64(&cb.failures, 1)
		atomic.StoreInt64(&cb.state, int64(StateOpen))
		atomic.StoreInt64(&cb.successes, 0)
	}
}

// RecordSuccess records a success in the circuit breaker
func (cb *CircuitBreaker) RecordSuccess() {
	state := CircuitState(atomic.LoadInt64(&cb.state))

	switch state {
	case StateClosed:
		// Success in closed state doesn't change anything
	case StateOpen:
		// Success in open state doesn't change anything
	case StateHalfOpen:
		successes := atomic.AddInt64(&cb.successes, 1)
		if successes >= int64(cb.config.SuccessThreshold) {
			atomic.StoreInt64(&cb.state, int64(StateClosed))
			atomic.StoreInt64(&cb.failures, 0)
			atomic.StoreInt64(&cb.successes, 0)
		}
	}
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(atomic.LoadInt64(&cb.state))
}

// BreakerScope selects whether a CircuitBreakerRegistry keys breakers per
// host or shares a single breaker across the whole client.
type BreakerScope int

const (
	ScopeGlobal BreakerScope = iota
	ScopePerHost
)

// CircuitBreakerRegistry maintains one CircuitBreaker per host (or a
// single global one) and evicts the least-recently-used host breaker once
// more than maxHosts are tracked, so an attacker cannot grow the registry
// unbounded by hammering distinct hostnames.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	scope    BreakerScope
	config   CircuitBreakerConfig
	maxHosts int

	global *CircuitBreaker

	byHost map[string]*list.Element
	lru    *list.List // front = most recently used
}

type breakerEntry struct {
	key     string
	breaker *CircuitBreaker
}

// NewCircuitBreakerRegistry creates a registry. maxHosts <= 0 means
// unbounded (no eviction).
func NewCircuitBreakerRegistry(scope BreakerScope, config CircuitBreakerConfig, maxHosts int) *CircuitBreakerRegistry {
	r := &CircuitBreakerRegistry{
		scope:    scope,
		config:   config,
		maxHosts: maxHosts,
		byHost:   make(map[string]*list.Element),
		lru:      list.New(),
	}
	if scope == ScopeGlobal {
		r.global = NewCircuitBreaker(config)
	}
	return r
}

// Get returns the breaker for key, creating it (and evicting the LRU
// entry if at capacity) on first use. For ScopeGlobal, key is ignored.
func (r *CircuitBreakerRegistry) Get(key string) *CircuitBreaker {
	if r.scope == ScopeGlobal {
		return r.global
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if el, ok := r.byHost[key]; ok {
		r.lru.MoveToFront(el)
		return el.Value.(*breakerEntry).breaker
	}

	if r.maxHosts > 0 && len(r.byHost) >= r.maxHosts {
		back := r.lru.Back()
		if back != nil {
			r.lru.Remove(back)
			delete(r.byHost, back.Value.(*breakerEntry).key)
		}
	}

	cb := NewCircuitBreaker(r.config)
	el := r.lru.PushFront(&breakerEntry{key: key, breaker: cb})
	r.byHost[key] = el
	return cb
}
