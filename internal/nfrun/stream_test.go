package nfrun

import (
	"bytes"
	"testing"

	"github.com/c4dt/klint/internal/netpkt"
	"github.com/stretchr/testify/require"
)

func TestStreamSourceRoundTripsFrames(t *testing.T) {
	var buf bytes.Buffer
	tx := NewStreamTransmitter(&buf, nil)
	tx.Send(&netpkt.Packet{Data: []byte("hello")}, Decision{Device: 3})
	tx.Send(&netpkt.Packet{Data: []byte("world!")}, Decision{Device: 1})

	src := NewStreamSource(&buf)

	p1, ok := src.Next()
	require.True(t, ok)
	require.Equal(t, 3, p1.Device)
	require.Equal(t, "hello", string(p1.Data))

	p2, ok := src.Next()
	require.True(t, ok)
	require.Equal(t, 1, p2.Device)
	require.Equal(t, "world!", string(p2.Data))

	_, ok = src.Next()
	require.False(t, ok)
}

func TestStreamTransmitterRewritesEtherSrcWhenFlagged(t *testing.T) {
	var buf bytes.Buffer
	mac := [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	tx := NewStreamTransmitter(&buf, [][6]byte{mac})

	data := make([]byte, 14)
	tx.Send(&netpkt.Packet{Data: data}, Decision{Device: 0, Flags: netpkt.UpdateEtherAddrs})

	src := NewStreamSource(&buf)
	p, ok := src.Next()
	require.True(t, ok)
	require.Equal(t, mac[:], p.Data[6:12])
}
