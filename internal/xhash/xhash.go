// Package xhash is the one non-cryptographic, deterministic hash mixer
// every other core package builds on, per the "commodity 32-bit mixer"
// contract the shared library requires of its hash function: same bytes
// in, same value out, no seeding, no randomization across runs.
package xhash

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Sum32 hashes b down to 32 bits. Truncating xxhash's 64-bit output keeps
// a single well-tested mixer as the only hash primitive in the module,
// rather than hand-rolling a 32-bit variant.
func Sum32(b []byte) uint32 {
	return uint32(xxhash.Sum64(b))
}

// Sum64 exposes the untruncated mixer for callers that want the full
// spread, such as the flow-to-bucket hash used by the consistent hash
// table.
func Sum64(b []byte) uint64 {
	return xxhash.Sum64(b)
}

// SeededUint32 mixes a small integer together with a salt, used by the
// CHT to derive per-backend offsets and shifts without needing a
// dedicated seeded-hash API.
func SeededUint32(value, salt uint32) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], value)
	binary.LittleEndian.PutUint32(buf[4:8], salt)
	return xxhash.Sum64(buf[:])
}
