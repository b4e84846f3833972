package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBorrowFillsThenFails(t *testing.T) {
	p := New(1, 100)

	idx, reused, ok := p.Borrow(0)
	require.True(t, ok)
	require.False(t, reused)
	require.EqualValues(t, 0, idx)

	_, _, ok = p.Borrow(0)
	require.False(t, ok, "pool of capacity 1 must be exhausted")

	idx, reused, ok = p.Borrow(101)
	require.True(t, ok)
	require.True(t, reused)
	require.EqualValues(t, 0, idx)
}

func TestBorrowLRUOrder(t *testing.T) {
	// S1 from spec.md: cap=3, exp=100.
	p := New(3, 100)

	i0, _, ok := p.Borrow(0)
	require.True(t, ok)
	i1, _, ok := p.Borrow(0)
	require.True(t, ok)
	i2, _, ok := p.Borrow(0)
	require.True(t, ok)
	require.ElementsMatch(t, []uint32{0, 1, 2}, []uint32{i0, i1, i2})

	_, _, ok = p.Borrow(50)
	require.False(t, ok, "all three entries are still young at t=50")

	p.Refresh(60, i0)

	// At t=200, i1 and i2 are stale (borrowed at t=0, exp=100); i1 is
	// the head of the allocated list since it was borrowed before i2
	// and i0 was spliced to the tail by Refresh.
	idx, reused, ok := p.Borrow(200)
	require.True(t, ok)
	require.True(t, reused)
	require.Equal(t, i1, idx)
}

func TestUsedReflectsExpiration(t *testing.T) {
	p := New(2, 10)
	idx, _, ok := p.Borrow(0)
	require.True(t, ok)

	require.True(t, p.Used(0, idx))
	require.True(t, p.Used(10, idx), "boundary now-exp<=t is inclusive")
	require.False(t, p.Used(11, idx))
}

func TestUsedOnFreeIndex(t *testing.T) {
	p := New(2, 10)
	require.False(t, p.Used(0, 0))
	require.False(t, p.Used(0, 1))
}

func TestExpireDrainsOldestFirst(t *testing.T) {
	p := New(3, 0)
	i0, _, _ := p.Borrow(0)
	i1, _, _ := p.Borrow(5)
	_, _, _ = p.Borrow(10)

	idx, ok := p.Expire(5)
	require.True(t, ok)
	require.Equal(t, i0, idx)

	idx, ok = p.Expire(5)
	require.True(t, ok)
	require.Equal(t, i1, idx)

	_, ok = p.Expire(5)
	require.False(t, ok, "remaining entry was borrowed at t=10, past the threshold")
}

func TestReturnFreesIndexImmediately(t *testing.T) {
	p := New(1, 1000)
	idx, _, ok := p.Borrow(0)
	require.True(t, ok)

	p.Return(idx)
	require.False(t, p.Used(0, idx))

	idx2, reused, ok := p.Borrow(0)
	require.True(t, ok)
	require.False(t, reused)
	require.Equal(t, idx, idx2)
}

func TestRefreshMovesToTail(t *testing.T) {
	p := New(2, 100)
	a, _, _ := p.Borrow(0)
	b, _, _ := p.Borrow(0)

	p.Refresh(1, a)

	// b is now the oldest; once both are stale, Borrow must recycle b.
	idx, reused, ok := p.Borrow(1000)
	require.True(t, ok)
	require.True(t, reused)
	require.Equal(t, b, idx)
}
