package connpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ConnectionPool is the root of the pool-of-pools hierarchy: it maps
// HostKeys to HostPools and enforces a global max_connections cap across
// all of them, mirroring the documented three-layer transport hierarchy
// (root pool -> per-host pool -> leaf connection).
type ConnectionPool struct {
	mu              sync.Mutex
	hostPools       map[string]*HostPool
	maxConnections  int
	maxPerHost      int
	maxKeepalive    time.Duration
	globalAdmission *semaphore.Weighted
}

// NewConnectionPool creates a ConnectionPool enforcing maxConnections
// globally and maxPerHost within each HostPool.
func NewConnectionPool(maxConnections, maxPerHost int, maxKeepalive time.Duration) *ConnectionPool {
	return &ConnectionPool{
		hostPools:       make(map[string]*HostPool),
		maxConnections:  maxConnections,
		maxPerHost:      maxPerHost,
		maxKeepalive:    maxKeepalive,
		globalAdmission: semaphore.NewWeighted(int64(maxConnections)),
	}
}

func hostKeyString(k HostKey) string {
	return fmt.Sprintf("%s://%s:%d", k.Scheme, k.Host, k.Port)
}

// PoolFor returns (creating if needed) the HostPool for key, without
// taking an admission slot. Callers use it to look for a reusable Idle
// connection before deciding whether a new one needs Acquire/dial.
func (cp *ConnectionPool) PoolFor(key HostKey) *HostPool {
	return cp.hostPoolFor(key)
}

// hostPoolFor returns (creating if needed) the HostPool for key.
func (cp *ConnectionPool) hostPoolFor(key HostKey) *HostPool {
	ks := hostKeyString(key)

	cp.mu.Lock()
	defer cp.mu.Unlock()

	if hp, ok := cp.hostPools[ks]; ok {
		return hp
	}
	hp := NewHostPool(key, cp.maxPerHost, cp.maxKeepalive)
	cp.hostPools[ks] = hp
	return hp
}

// Acquire suspends (FIFO) until both a global slot and a per-host slot
// are available, then returns that host's HostPool for the caller to
// pick an Idle connection from or create a new one. When global capacity
// is exhausted, Acquire blocks on the global semaphore; it does not call
// EvictUnderPressure or otherwise evict Idle connections to free a slot.
func (cp *ConnectionPool) Acquire(ctx context.Context, key HostKey) (*HostPool, error) {
	if err := cp.globalAdmission.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	hp := cp.hostPoolFor(key)
	if err := hp.Acquire(ctx); err != nil {
		cp.globalAdmission.Release(1)
		return nil, err
	}
	return hp, nil
}

// Release returns both the per-host and global slot for a connection
// that has been permanently removed (Closed/Broken). It does not undo
// a successful Acquire for a connection that is merely Idle again — use
// HostPool.Untrack, which calls this indirectly via the host pool.
func (cp *ConnectionPool) Release(key HostKey) {
	cp.globalAdmission.Release(1)
}

// EvictUnderPressure implements the cross-host eviction policy: when the
// global cap is reached and no slot is free, pick the host pool with the
// largest Idle set and evict its LRU idle connection, returning whether
// an eviction happened.
func (cp *ConnectionPool) EvictUnderPressure() bool {
	cp.mu.Lock()
	var victim *HostPool
	maxIdle := 0
	for _, hp := range cp.hostPools {
		idle := hp.IdleCount()
		if idle > maxIdle {
			maxIdle = idle
			victim = hp
		}
	}
	cp.mu.Unlock()

	if victim == nil {
		return false
	}
	return victim.EvictOneIdle()
}

// ReapAll runs idle reaping across every tracked host pool, in bounded
// per-host batches, returning the total number of connections evicted.
func (cp *ConnectionPool) ReapAll(batchPerHost int) int {
	cp.mu.Lock()
	pools := make([]*HostPool, 0, len(cp.hostPools))
	for _, hp := range cp.hostPools {
		pools = append(pools, hp)
	}
	cp.mu.Unlock()

	now := time.Now()
	total := 0
	for _, hp := range pools {
		total += hp.ReapIdle(now, batchPerHost)
	}
	return total
}

// Stats reports pool occupancy for metrics/debugging.
type Stats struct {
	Hosts           int
	TotalLive       int
	TotalIdle       int
}

// Stats snapshots pool occupancy across all host pools.
func (cp *ConnectionPool) Stats() Stats {
	cp.mu.Lock()
	pools := make([]*HostPool, 0, len(cp.hostPools))
	for _, hp := range cp.hostPools {
		pools = append(pools, hp)
	}
	cp.mu.Unlock()

	s := Stats{Hosts: len(pools)}
	for _, hp := range pools {
		s.TotalLive += hp.Len()
		s.TotalIdle += hp.IdleCount()
	}
	return s
}
