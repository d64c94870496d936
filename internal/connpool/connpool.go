// Package connpool implements the connection-lifecycle subsystem: per-host
// sub-pools (HostPool) partitioned under a global ConnectionPool, with
// FIFO admission gating via golang.org/x/sync/semaphore the way
// josephcopenhaver's round-robin transport gates per-host connection
// creation with a semaphore.Weighted.
package connpool

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// HostKey partitions the pool: (scheme, lowercase host, port).
type HostKey struct {
	Scheme string
	Host   string
	Port   int
}

// ConnState is a Connection's position in its lifecycle.
type ConnState int32

const (
	StateIdle ConnState = iota
	StateInUse
	StateClosing
	StateClosed
	StateBroken
)

// Connection is the pool's view of a single transport endpoint,
// satisfied by both the HTTP/1.1 and HTTP/2 connection types in
// internal/transport/h1 and internal/transport/h2.
type Connection interface {
	State() ConnState
	Protocol() string // "h1" or "h2"
	LastUsed() time.Time
	RequestCount() int64
	// HasCapacity reports whether this connection can admit another
	// request right now (always true for H1 Idle connections; for H2,
	// true while active streams are below the peer's concurrency cap).
	HasCapacity() bool
	Close() error
}

// HostPool is a bounded collection of connections to one HostKey.
type HostPool struct {
	mu           sync.Mutex
	key          HostKey
	maxPerHost   int
	maxKeepalive time.Duration
	conns        []Connection
	admission    *semaphore.Weighted
}

// NewHostPool creates a HostPool capped at maxPerHost live connections,
// reaping Idle ones older than maxKeepalive.
func NewHostPool(key HostKey, maxPerHost int, maxKeepalive time.Duration) *HostPool {
	return &HostPool{
		key:          key,
		maxPerHost:   maxPerHost,
		maxKeepalive: maxKeepalive,
		admission:    semaphore.NewWeighted(int64(maxPerHost)),
	}
}

// Acquire blocks (cooperatively, via ctx) until a connection slot is
// available for this host and returns nil, or returns ctx's error. It
// hands out no connection: callers look for an Idle one with PickIdle
// and Track the connection they create for the slot.
//
// The semaphore enforces max_connections_per_host: Acquire succeeds once
// a weighted slot is free, in FIFO order across waiters.
func (hp *HostPool) Acquire(ctx context.Context) error {
	return hp.admission.Acquire(ctx, 1)
}

// Key returns the HostKey this pool was created for.
func (hp *HostPool) Key() HostKey {
	return hp.key
}

// Release returns a connection slot, invoked when a connection is
// permanently removed from the pool (Closed/Broken), not on every
// acquire/idle cycle (an Idle connection still occupies its slot).
func (hp *HostPool) Release() {
	hp.admission.Release(1)
}

// PickIdle selects the best Idle connection under this pool's lock,
// preferring an H2 connection with spare stream capacity (prefer_h2) and
// otherwise the most-recently-used Idle H1 connection, tie-broken by
// lowest request count.
func (hp *HostPool) PickIdle(preferH2 bool) Connection {
	hp.mu.Lock()
	defer hp.mu.Unlock()

	if preferH2 {
		for _, c := range hp.conns {
			if c.Protocol() == "h2" && c.State() == StateIdle && c.HasCapacity() {
				return c
			}
			if c.Protocol() == "h2" && c.HasCapacity() {
				return c
			}
		}
	}

	var best Connection
	for _, c := range hp.conns {
		if c.State() != StateIdle {
			continue
		}
		if best == nil {
			best = c
			continue
		}
		if c.LastUsed().After(best.LastUsed()) {
			best = c
			continue
		}
		if c.LastUsed().Equal(best.LastUsed()) && c.RequestCount() < best.RequestCount() {
			best = c
		}
	}
	return best
}

// Track registers a newly created connection with the pool.
func (hp *HostPool) Track(c Connection) {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	hp.conns = append(hp.conns, c)
}

// Untrack removes a connection from the live set (on Close/evict) and
// frees its admission slot.
func (hp *HostPool) Untrack(c Connection) {
	hp.mu.Lock()
	for i, cc := range hp.conns {
		if cc == c {
			hp.conns = append(hp.conns[:i], hp.conns[i+1:]...)
			break
		}
	}
	hp.mu.Unlock()
	hp.Release()
}

// ReapIdle evicts and closes Idle connections whose last-used age
// exceeds maxKeepalive, in bounded batches to avoid long pauses.
func (hp *HostPool) ReapIdle(now time.Time, batchLimit int) int {
	hp.mu.Lock()
	var toClose []Connection
	remaining := hp.conns[:0]
	for _, c := range hp.conns {
		if c.State() == StateIdle && now.Sub(c.LastUsed()) > hp.maxKeepalive && len(toClose) < batchLimit {
			toClose = append(toClose, c)
			continue
		}
		remaining = append(remaining, c)
	}
	hp.conns = remaining
	hp.mu.Unlock()

	for _, c := range toClose {
		_ = c.Close()
		hp.Release()
	}
	return len(toClose)
}

// EvictOneIdle closes and untracks a single Idle connection regardless
// of its age, used by ConnectionPool.EvictUnderPressure when the global
// cap is reached and this host pool holds the largest Idle set.
func (hp *HostPool) EvictOneIdle() bool {
	hp.mu.Lock()
	var victim Connection
	idx := -1
	for i, c := range hp.conns {
		if c.State() == StateIdle {
			victim = c
			idx = i
			break
		}
	}
	if victim != nil {
		hp.conns = append(hp.conns[:idx], hp.conns[idx+1:]...)
	}
	hp.mu.Unlock()

	if victim == nil {
		return false
	}
	_ = victim.Close()
	hp.Release()
	return true
}

// IdleCount returns the number of Idle connections currently tracked.
func (hp *HostPool) IdleCount() int {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	n := 0
	for _, c := range hp.conns {
		if c.State() == StateIdle {
			n++
		}
	}
	return n
}

// Len returns the number of live connections (Idle + InUse) tracked.
func (hp *HostPool) Len() int {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	return len(hp.conns)
}
