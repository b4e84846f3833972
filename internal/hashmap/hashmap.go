// Package hashmap implements Map: a fixed-capacity, open-addressed hash
// table from opaque byte-string keys to uint64 values, with a
// power-of-two capacity and a chain-length counter used to terminate
// negative lookups without scanning the whole table.
//
// The map never copies or owns key bytes: Set borrows the slice the
// caller passes and stores it verbatim, on the understanding the caller
// keeps that memory stable and immutable for as long as the slot stays
// busy (see the FlowKey arrays in package flowtable and the backend/flow
// heaps in package lb, which exist precisely to give Map's borrowed keys
// a stable home).
package hashmap

import (
	"bytes"

	"github.com/c4dt/klint/internal/invariant"
	"github.com/c4dt/klint/internal/xhash"
)

// Map is a single-writer, fixed-capacity open-addressed hash table.
type Map struct {
	keySize  int
	capacity uint32

	kaddrs [][]byte
	busy   []bool
	hashes []uint32
	chains []uint32
	values []uint64

	size uint32
}

// New allocates a map for keys of the given fixed size and a capacity
// that must be a power of two in (0, 2^31-1].
func New(keySize int, capacity uint32) *Map {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		panic("hashmap: capacity must be a power of two")
	}
	return &Map{
		keySize:  keySize,
		capacity: capacity,
		kaddrs:   make([][]byte, capacity),
		busy:     make([]bool, capacity),
		hashes:   make([]uint32, capacity),
		chains:   make([]uint32, capacity),
		values:   make([]uint64, capacity),
	}
}

// Capacity returns the map's fixed power-of-two capacity.
func (m *Map) Capacity() uint32 { return m.capacity }

// Len returns the number of keys currently present.
func (m *Map) Len() uint32 { return m.size }

func loopIdx(h, capacity uint32) uint32 { return h & (capacity - 1) }

// findKey returns the slot index holding key, or -1 if absent. The chain
// counter is what lets this terminate early on a miss: if chains[j]==0,
// no present key's probe path continues past j, so key cannot be further
// along the path.
func (m *Map) findKey(key []byte, hash uint32) int64 {
	start := loopIdx(hash, m.capacity)
	for i := uint32(0); i < m.capacity; i++ {
		j := loopIdx(start+i, m.capacity)
		if m.busy[j] && m.hashes[j] == hash && bytes.Equal(m.kaddrs[j], key) {
			return int64(j)
		}
		if m.chains[j] == 0 {
			return -1
		}
	}
	return -1
}

// findEmpty walks from start until it finds a free slot, incrementing
// the chain counter of every busy slot it passes over. Terminates
// because callers guarantee size < capacity before calling it.
func (m *Map) findEmpty(start uint32) uint32 {
	for i := uint32(0); i < m.capacity; i++ {
		j := loopIdx(start+i, m.capacity)
		if !m.busy[j] {
			return j
		}
		m.chains[j]++
	}
	panic("hashmap: set called with no free slot (capacity invariant violated)")
}

// Get returns the value stored for key, if present.
func (m *Map) Get(key []byte) (uint64, bool) {
	hash := xhash.Sum32(key)
	idx := m.findKey(key, hash)
	if idx < 0 {
		return 0, false
	}
	return m.values[idx], true
}

// Set inserts key (borrowed, not copied) with value. The caller must
// guarantee key is not already present and that Len() < Capacity().
func (m *Map) Set(key []byte, value uint64) {
	invariant.Check(len(key) == m.keySize, "hashmap: key size mismatch")
	invariant.Check(m.size < m.capacity, "hashmap: set on a full map")
	hash := xhash.Sum32(key)
	start := loopIdx(hash, m.capacity)
	idx := m.findEmpty(start)
	m.kaddrs[idx] = key
	m.busy[idx] = true
	m.hashes[idx] = hash
	m.values[idx] = value
	m.size++
}

// Remove deletes key, which the caller must guarantee is present. It
// decrements the chain counter of every slot the original insertion's
// probe walked through, along the same path (the chain invariant
// guarantees remove's probe retraces insert's probe exactly).
func (m *Map) Remove(key []byte) {
	hash := xhash.Sum32(key)
	start := loopIdx(hash, m.capacity)
	for i := uint32(0); i < m.capacity; i++ {
		j := loopIdx(start+i, m.capacity)
		if m.busy[j] && m.hashes[j] == hash && bytes.Equal(m.kaddrs[j], key) {
			m.busy[j] = false
			m.kaddrs[j] = nil
			m.size--
			return
		}
		invariant.Check(m.chains[j] > 0, "hashmap: remove of an absent key")
		m.chains[j]--
	}
	panic("hashmap: remove of an absent key")
}
