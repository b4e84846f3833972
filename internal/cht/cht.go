// Package cht implements CHT, the consistent hash table the load
// balancer uses to pick a backend for a flow that hasn't been pinned
// yet. It is computed once at construction time into a height x
// backend-count permutation table, queried in O(backend count) per
// lookup in the worst case (fewer once an active backend is found).
package cht

import (
	"fmt"

	"github.com/c4dt/klint/internal/xhash"
)

const (
	offsetSalt = 0x5a17e7e5
	shiftSalt  = 0x6172eb07
)

// ActivePool is the subset of pool.IndexPool the CHT needs to decide
// whether a backend slot is currently usable.
type ActivePool interface {
	Used(now int64, index uint32) bool
}

// CHT holds a precomputed, per-bucket ordering over all backend slots.
type CHT struct {
	height     uint32
	backendCap uint32
	// buckets[h] is a permutation of [0, backendCap), most-preferred
	// backend first.
	buckets [][]uint32
}

// New builds a CHT for backendCap backend slots and the given bucket
// count (height). height must be prime: the construction inverts each
// backend's personal permutation over the bucket space via a modular
// inverse of its shift, which is only guaranteed to exist for every
// shift in [1, height) when height is prime. (The spec's weaker
// requirement — height merely coprime with backendCap — is not
// sufficient for that inversion, so this implementation picks the
// stricter, always-safe constraint; see DESIGN.md.)
func New(backendCap, height uint32) (*CHT, error) {
	if height <= 1 {
		return nil, fmt.Errorf("cht: height must be > 1, got %d", height)
	}
	if !isPrime(height) {
		return nil, fmt.Errorf("cht: height must be prime, got %d", height)
	}
	if backendCap == 0 {
		return nil, fmt.Errorf("cht: backendCap must be > 0")
	}

	offsets := make([]uint32, backendCap)
	shifts := make([]uint32, backendCap)
	for b := uint32(0); b < backendCap; b++ {
		offsets[b] = uint32(xhash.SeededUint32(b, offsetSalt) % uint64(height))
		shifts[b] = uint32(xhash.SeededUint32(b, shiftSalt)%uint64(height-1)) + 1
	}

	type candidate struct {
		rank    uint32
		backend uint32
	}
	perBucket := make([][]candidate, height)
	for h := range perBucket {
		perBucket[h] = make([]candidate, 0, backendCap)
	}

	for b := uint32(0); b < backendCap; b++ {
		inv := modInverse(shifts[b], height)
		for h := uint32(0); h < height; h++ {
			// Solve (offsets[b] + j*shifts[b]) mod height == h for j.
			diff := (h + height - offsets[b]%height) % height
			j := (diff * inv) % height
			perBucket[h] = append(perBucket[h], candidate{rank: j, backend: b})
		}
	}

	buckets := make([][]uint32, height)
	for h := range perBucket {
		list := perBucket[h]
		// Insertion sort by rank: backendCap is small in practice (the
		// number of backend slots a load balancer manages) and this
		// keeps ties broken deterministically by backend index, the
		// ascending order they were appended in.
		for i := 1; i < len(list); i++ {
			for j := i; j > 0 && list[j-1].rank > list[j].rank; j-- {
				list[j-1], list[j] = list[j], list[j-1]
			}
		}
		ordered := make([]uint32, len(list))
		for i, c := range list {
			ordered[i] = c.backend
		}
		buckets[h] = ordered
	}

	return &CHT{height: height, backendCap: backendCap, buckets: buckets}, nil
}

// FindPreferredAvailableBackend returns the most-preferred backend slot
// for flowHash's bucket that active reports as currently used, or false
// if none of the backendCap slots in that bucket are active.
func (c *CHT) FindPreferredAvailableBackend(flowHash uint64, active ActivePool, now int64) (uint32, bool) {
	h := uint32(flowHash % uint64(c.height))
	for _, b := range c.buckets[h] {
		if active.Used(now, b) {
			return b, true
		}
	}
	return 0, false
}

func isPrime(n uint32) bool {
	if n < 2 {
		return false
	}
	if n%2 == 0 {
		return n == 2
	}
	for d := uint32(3); d*d <= n; d += 2 {
		if n%d == 0 {
			return false
		}
	}
	return true
}

// modInverse returns a^-1 mod m via the extended Euclidean algorithm. m
// must be prime and a must be in [1, m).
func modInverse(a, m uint32) uint32 {
	a0, m0 := int64(a), int64(m)
	g, x, _ := extGCD(a0, m0)
	if g != 1 {
		panic("cht: shift is not invertible mod height")
	}
	return uint32(((x % m0) + m0) % m0)
}

func extGCD(a, b int64) (g, x, y int64) {
	if b == 0 {
		return a, 1, 0
	}
	g, x1, y1 := extGCD(b, a%b)
	return g, y1, x1 - (a/b)*y1
}
