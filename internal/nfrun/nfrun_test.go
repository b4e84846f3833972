package nfrun

import (
	"testing"

	"github.com/c4dt/klint/internal/config"
	"github.com/c4dt/klint/internal/netpkt"
	"github.com/c4dt/klint/internal/nflog"
	"github.com/stretchr/testify/require"
)

type bridgeNF struct{ devices int }

func (b *bridgeNF) Init(devices int, cfg config.Source) error {
	b.devices = devices
	return nil
}

func (b *bridgeNF) Handle(now int64, pkt *netpkt.Packet, log *nflog.Logger) Decision {
	return Decision{Device: b.devices - 1 - pkt.Device}
}

type recordingTransmitter struct {
	sent []Decision
}

func (r *recordingTransmitter) Send(pkt *netpkt.Packet, d Decision) {
	r.sent = append(r.sent, d)
}

func TestRunDispatchesEveryPacketUntilSourceExhausted(t *testing.T) {
	nf := &bridgeNF{}
	require.NoError(t, nf.Init(2, EnvSourceStub{}))

	src := NewSliceSource([]*netpkt.Packet{
		{Device: 0},
		{Device: 1},
	})
	tx := &recordingTransmitter{}
	Run(nf, src, tx, nflog.New(nopWriter{}, false))

	require.Len(t, tx.sent, 2)
	require.Equal(t, 1, tx.sent[0].Device)
	require.Equal(t, 0, tx.sent[1].Device)
}

func TestRunSkipsDroppedDecisions(t *testing.T) {
	nf := dropAllNF{}
	src := NewSliceSource([]*netpkt.Packet{{Device: 0}})
	tx := &recordingTransmitter{}
	Run(nf, src, tx, nflog.New(nopWriter{}, false))
	require.Empty(t, tx.sent)
}

type dropAllNF struct{}

func (dropAllNF) Init(devices int, cfg config.Source) error { return nil }
func (dropAllNF) Handle(now int64, pkt *netpkt.Packet, log *nflog.Logger) Decision {
	return Dropped
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

// EnvSourceStub satisfies config.Source trivially for tests that never
// actually read a config value.
type EnvSourceStub struct{ config.EnvSource }
