// Package bufpool provides a tiered, reference-counted byte buffer pool
// for zero-copy-friendly I/O reuse, the way aistore's cmn package pools
// *bytes.Buffer and *http.Request values behind sync.Pool free lists.
package bufpool

import (
	"sync"
	"sync/atomic"
)

// Tier sizes, power-of-two size classes from 4K up to 1M.
var tierSizes = []int{4 << 10, 16 << 10, 64 << 10, 256 << 10, 1 << 20}

// Pool is a set of per-tier sync.Pool free lists plus a per-tier
// numeric cap on how many buffers may sit idle in that tier at once.
type Pool struct {
	tiers    []*tier
	observer func(tierBytes int, hit bool)
}

// SetObserver installs a callback invoked on every Acquire with the tier
// size chosen and whether it was served from the free list (hit) or
// freshly allocated (miss). Passing nil disables observation. Kept as a
// plain callback rather than an import of the metrics type to avoid a
// dependency from this package back up to the root package.
func (p *Pool) SetObserver(fn func(tierBytes int, hit bool)) {
	p.observer = fn
}

type tier struct {
	size     int
	cap      int64
	inFree   int64 // approximate count of buffers currently in the free list
	freeList sync.Pool
}

// New creates a Pool with the default tier sizes, each capped at
// maxPerTier idle buffers (<=0 means unbounded).
func New(maxPerTier int) *Pool {
	p := &Pool{tiers: make([]*tier, len(tierSizes))}
	for i, sz := range tierSizes {
		size := sz
		p.tiers[i] = &tier{size: size, cap: int64(maxPerTier)}
	}
	return p
}

// Buffer is a reference-counted view over a pooled byte slice. Acquire
// returns one with refcount 1; View increments it without copying;
// Release decrements it, returning the backing slice to its tier's free
// list once the count reaches zero.
type Buffer struct {
	pool    *Pool
	tierIdx int // -1 for off-pool allocations
	buf     []byte
	refs    int32
}

// Bytes returns the buffer's backing slice. Callers must not retain it
// past a Release call that drops the refcount to zero.
func (b *Buffer) Bytes() []byte { return b.buf }

// View increments the refcount and returns a Buffer sharing the same
// backing slice restricted to [offset:offset+length).
func (b *Buffer) View(offset, length int) *Buffer {
	atomic.AddInt32(&b.refs, 1)
	return &Buffer{pool: b.pool, tierIdx: b.tierIdx, buf: b.buf[offset : offset+length], refs: 1}
}

// Acquire returns a Buffer with capacity >= minSize, ref-counted at 1.
// It is sourced from the smallest tier whose size satisfies minSize; if
// that tier's free list is empty it allocates a fresh buffer of the
// tier's size, which Release can later recycle into the tier. Requests
// larger than the biggest tier get an off-pool allocation. It never fails.
func (p *Pool) Acquire(minSize int) *Buffer {
	for i, t := range p.tiers {
		if t.size < minSize {
			continue
		}
		if v := t.freeList.Get(); v != nil {
			atomic.AddInt64(&t.inFree, -1)
			buf := v.([]byte)[:0]
			p.observe(t.size, true)
			return &Buffer{pool: p, tierIdx: i, buf: buf, refs: 1}
		}
		p.observe(t.size, false)
		return &Buffer{pool: p, tierIdx: i, buf: make([]byte, 0, t.size), refs: 1}
	}
	// Larger than the biggest tier: always off-pool.
	p.observe(minSize, false)
	return &Buffer{pool: p, tierIdx: -1, buf: make([]byte, 0, minSize), refs: 1}
}

func (p *Pool) observe(tierBytes int, hit bool) {
	if p.observer != nil {
		p.observer(tierBytes, hit)
	}
}

// Release decrements the refcount; at zero it returns the backing slice
// to its tier's free list if under the tier's idle cap, otherwise the
// slice is dropped for the GC to reclaim. Releasing a Buffer whose
// refcount is already zero is a programmer error and panics, matching
// the spec's "double-free is fatal" invariant.
func (b *Buffer) Release() {
	n := atomic.AddInt32(&b.refs, -1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic("bufpool: double release of buffer")
	}
	if b.tierIdx < 0 {
		return
	}
	t := b.pool.tiers[b.tierIdx]
	if t.cap > 0 && atomic.LoadInt64(&t.inFree) >= t.cap {
		return
	}
	atomic.AddInt64(&t.inFree, 1)
	t.freeList.Put(b.buf[:0])
}
