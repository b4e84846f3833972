// Package pool implements IndexPool: a fixed-capacity allocator of
// integer indices with per-index last-used timestamps and a time-based
// expiration policy, used by the rest of the module to recycle slots
// without ever allocating after construction.
//
// The allocated indices are threaded through an intrusive doubly-linked
// list ordered by last-refresh time (LRU head-first), the same technique
// ecache2's cache[K] uses for its dlnk eviction list — two index arrays
// instead of pointer-chasing list nodes. Here the list is split into two
// disjoint sub-lists, allocated and free, each index living in exactly
// one of them at a time, so a single pair of next/prev arrays serves
// both.
package pool

import (
	"math"

	"github.com/c4dt/klint/internal/invariant"
)

// TimeMax is the sentinel timestamp meaning "free". Callers must never
// pass it to Borrow or Refresh.
const TimeMax = int64(math.MaxInt64)

const nilIdx = -1

// IndexPool is a single-writer, fixed-capacity index allocator. The zero
// value is not usable; construct with New.
type IndexPool struct {
	expiration int64
	timestamps []int64
	next       []int32
	prev       []int32

	allocHead, allocTail int32
	freeHead, freeTail   int32
}

// New allocates a pool of the given capacity and expiration window (in
// the same time unit as the now values later passed to its methods,
// conventionally nanoseconds). All capacity is reserved up front; the
// pool never grows.
func New(capacity uint32, expiration int64) *IndexPool {
	p := &IndexPool{
		expiration: expiration,
		timestamps: make([]int64, capacity),
		next:       make([]int32, capacity),
		prev:       make([]int32, capacity),
		allocHead:  nilIdx,
		allocTail:  nilIdx,
		freeHead:   nilIdx,
		freeTail:   nilIdx,
	}
	for i := range p.timestamps {
		p.timestamps[i] = TimeMax
	}
	for i := uint32(0); i < capacity; i++ {
		p.prev[i] = int32(i) - 1
		if i+1 < capacity {
			p.next[i] = int32(i) + 1
		} else {
			p.next[i] = nilIdx
		}
	}
	if capacity > 0 {
		p.freeHead = 0
		p.freeTail = int32(capacity - 1)
	}
	return p
}

// Capacity returns the pool's fixed capacity.
func (p *IndexPool) Capacity() uint32 { return uint32(len(p.timestamps)) }

func (p *IndexPool) detach(i int32, head, tail *int32) {
	if p.prev[i] != nilIdx {
		p.next[p.prev[i]] = p.next[i]
	} else {
		*head = p.next[i]
	}
	if p.next[i] != nilIdx {
		p.prev[p.next[i]] = p.prev[i]
	} else {
		*tail = p.prev[i]
	}
}

func (p *IndexPool) pushTail(i int32, head, tail *int32) {
	p.prev[i] = *tail
	p.next[i] = nilIdx
	if *tail != nilIdx {
		p.next[*tail] = i
	} else {
		*head = i
	}
	*tail = i
}

// young reports whether an entry last used at t is still within its
// expiration window as of now. Inclusive at the boundary: now-exp <= t
// counts as young, matching the original's pool_young predicate.
func young(now, exp, t int64) bool {
	return now < exp || now-exp <= t
}

// Borrow tries to hand out a free index, or — if the pool is full —
// recycle the least-recently-used allocated index once it has expired.
// ok is false iff the pool is full of entries that are all still young.
func (p *IndexPool) Borrow(now int64) (index uint32, reused bool, ok bool) {
	invariant.Check(now != TimeMax, "pool: now must not equal TimeMax")

	if p.freeHead != nilIdx {
		i := p.freeHead
		p.detach(i, &p.freeHead, &p.freeTail)
		p.timestamps[i] = now
		p.pushTail(i, &p.allocHead, &p.allocTail)
		return uint32(i), false, true
	}

	if p.allocHead != nilIdx {
		i := p.allocHead
		if !young(now, p.expiration, p.timestamps[i]) {
			p.detach(i, &p.allocHead, &p.allocTail)
			p.timestamps[i] = now
			p.pushTail(i, &p.allocHead, &p.allocTail)
			return uint32(i), true, true
		}
	}

	return 0, false, false
}

// Refresh sets index's last-used time to now and moves it to the tail of
// the allocated list, preserving the list's head-to-tail ordering by
// refresh time.
func (p *IndexPool) Refresh(now int64, index uint32) {
	invariant.Check(now != TimeMax, "pool: now must not equal TimeMax")
	i := int32(index)
	p.detach(i, &p.allocHead, &p.allocTail)
	p.timestamps[i] = now
	p.pushTail(i, &p.allocHead, &p.allocTail)
}

// Used reports whether index is currently allocated and not yet expired
// as of now.
func (p *IndexPool) Used(now int64, index uint32) bool {
	t := p.timestamps[index]
	return t != TimeMax && young(now, p.expiration, t)
}

// Expire detaches and returns the oldest allocated index if its last-used
// time is at or before threshold, moving it to the free list. Callers
// loop this to drain every expired entry; ok is false once the allocated
// list's head is not yet expired (or the pool has no allocated entries).
func (p *IndexPool) Expire(threshold int64) (index uint32, ok bool) {
	if p.allocHead == nilIdx {
		return 0, false
	}
	i := p.allocHead
	if p.timestamps[i] > threshold {
		return 0, false
	}
	p.detach(i, &p.allocHead, &p.allocTail)
	p.timestamps[i] = TimeMax
	p.pushTail(i, &p.freeHead, &p.freeTail)
	return uint32(i), true
}

// Return releases index back to the free list unconditionally.
func (p *IndexPool) Return(index uint32) {
	i := int32(index)
	p.detach(i, &p.allocHead, &p.allocTail)
	p.timestamps[i] = TimeMax
	p.pushTail(i, &p.freeHead, &p.freeTail)
}
