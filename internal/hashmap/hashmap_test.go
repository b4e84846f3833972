package hashmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func key(s string) []byte { return []byte(s) }

func TestSetGetRoundTrip(t *testing.T) {
	m := New(4, 8)
	k := key("abcd")
	m.Set(k, 42)
	v, ok := m.Get(k)
	require.True(t, ok)
	require.EqualValues(t, 42, v)
}

func TestGetMissingReturnsFalse(t *testing.T) {
	m := New(4, 8)
	_, ok := m.Get(key("nope"))
	require.False(t, ok)
}

func TestRemoveThenGetMisses(t *testing.T) {
	m := New(4, 8)
	k := key("abcd")
	m.Set(k, 1)
	m.Remove(k)
	_, ok := m.Get(k)
	require.False(t, ok)
}

func TestCapacityTwoSurvivesRemoval(t *testing.T) {
	m := New(1, 2)
	a, b := key("a"), key("b")
	m.Set(a, 1)
	m.Set(b, 2)
	m.Remove(a)

	v, ok := m.Get(b)
	require.True(t, ok)
	require.EqualValues(t, 2, v)

	_, ok = m.Get(a)
	require.False(t, ok)
}

func TestChainInvariantAfterCollisionsAndRemoval(t *testing.T) {
	// S2 from spec.md: C=4, three keys whose hashes all land on slot 1.
	// The probe helpers are driven directly (bypassing xxhash) so the
	// collision scenario is deterministic.
	m := New(4, 4)

	// Directly drive the private probe helpers to simulate three keys
	// that all hash to slot 1, bypassing xxhash so the scenario is
	// deterministic.
	const hash = 1
	k1, k2, k3 := key("k1"), key("k2"), key("k3")

	start := loopIdx(hash, m.capacity)
	i1 := m.findEmpty(start)
	m.kaddrs[i1], m.busy[i1], m.hashes[i1], m.values[i1] = k1, true, hash, 100
	m.size++

	i2 := m.findEmpty(start)
	m.kaddrs[i2], m.busy[i2], m.hashes[i2], m.values[i2] = k2, true, hash, 200
	m.size++

	i3 := m.findEmpty(start)
	m.kaddrs[i3], m.busy[i3], m.hashes[i3], m.values[i3] = k3, true, hash, 300
	m.size++

	require.EqualValues(t, 1, i1)
	require.EqualValues(t, 2, i2)
	require.EqualValues(t, 3, i3)
	require.EqualValues(t, 2, m.chains[1])
	require.EqualValues(t, 1, m.chains[2])
	require.EqualValues(t, 0, m.chains[3])

	// Remove k2 (slot 2) by retracing its probe path manually, as
	// Remove would if xxhash(k2) happened to equal hash.
	for i := uint32(0); ; i++ {
		j := loopIdx(start+i, m.capacity)
		if j == i2 {
			m.busy[j] = false
			m.kaddrs[j] = nil
			m.size--
			break
		}
		m.chains[j]--
	}

	require.EqualValues(t, 1, m.chains[1])
	require.EqualValues(t, 0, m.chains[3])

	// Get hashes via xxhash, so look the survivor up through findKey with
	// the forced hash directly instead.
	idx := m.findKey(k3, hash)
	require.EqualValues(t, i3, idx)
}
