package lb

import (
	"testing"

	"github.com/c4dt/klint/internal/flowtable"
	"github.com/stretchr/testify/require"
)

func testFlow() flowtable.FlowKey {
	return flowtable.FlowKey{SrcIP: 10, DstIP: 20, SrcPort: 1111, DstPort: 80, Protocol: 6}
}

func TestGetBackendWithNoBackendsFails(t *testing.T) {
	b, err := New(4, 3, 7, 1000, 1000)
	require.NoError(t, err)

	_, ok := b.GetBackend(0, testFlow())
	require.False(t, ok)
}

func TestHeartbeatThenGetBackendSucceeds(t *testing.T) {
	b, err := New(4, 3, 7, 1000, 1000)
	require.NoError(t, err)

	b.ProcessHeartbeat(0, 1, [6]byte{1}, 0)
	b.ProcessHeartbeat(0, 2, [6]byte{2}, 0)
	b.ProcessHeartbeat(0, 3, [6]byte{3}, 0)

	backend, ok := b.GetBackend(1, testFlow())
	require.True(t, ok)
	require.Contains(t, []uint32{1, 2, 3}, backend.IP)
}

func TestGetBackendIsSticky(t *testing.T) {
	// S5 from spec.md.
	const flowExpiration = int64(100)
	b, err := New(4, 3, 7, int64(1000), flowExpiration)
	require.NoError(t, err)

	b.ProcessHeartbeat(0, 1, [6]byte{1}, 0)
	b.ProcessHeartbeat(1, 2, [6]byte{2}, 0)

	first, ok := b.GetBackend(2, testFlow())
	require.True(t, ok)

	second, ok := b.GetBackend(3, testFlow())
	require.True(t, ok)
	require.Equal(t, first, second)
}

func TestGetBackendFallsOverWhenPinnedBackendExpires(t *testing.T) {
	const backendExpiration = int64(50)
	const flowExpiration = int64(10_000)
	b, err := New(4, 1, 7, backendExpiration, flowExpiration)
	require.NoError(t, err)

	b.ProcessHeartbeat(0, 1, [6]byte{1}, 0)
	first, ok := b.GetBackend(0, testFlow())
	require.True(t, ok)
	require.EqualValues(t, 1, first.IP)

	// The only backend goes silent; once it's past its expiration the
	// pinned binding must be dropped and the lookup must fail (no other
	// backend is available).
	_, ok = b.GetBackend(backendExpiration+2, testFlow())
	require.False(t, ok)
}

func TestHeartbeatRefreshesExistingBackend(t *testing.T) {
	b, err := New(4, 1, 7, int64(100), int64(100))
	require.NoError(t, err)

	b.ProcessHeartbeat(0, 1, [6]byte{9}, 3)
	b.ProcessHeartbeat(90, 1, [6]byte{9}, 3)

	// Still alive at t=150 because the second heartbeat refreshed it
	// (150-100 <= 90 holds).
	backend, ok := b.GetBackend(150, testFlow())
	require.True(t, ok)
	require.EqualValues(t, 1, backend.IP)
}

func TestExpireFlowsAndBackendsDrain(t *testing.T) {
	b, err := New(4, 2, 7, int64(10), int64(10))
	require.NoError(t, err)

	b.ProcessHeartbeat(0, 1, [6]byte{1}, 0)
	_, ok := b.GetBackend(0, testFlow())
	require.True(t, ok)

	n := b.ExpireFlows(1000)
	require.Equal(t, 1, n)
	n = b.ExpireBackends(1000)
	require.Equal(t, 1, n)

	_, ok = b.GetBackend(1000, testFlow())
	require.False(t, ok, "both the flow pin and the only backend are gone")
}
