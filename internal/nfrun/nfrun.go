// Package nfrun is the thin host-runtime skeleton every cmd/ program
// wires itself into: a single nf_init/nf_handle contract (spec.md §6)
// generalized to a Go interface so fw, nat, lb and bridge can share one
// run loop instead of each hand-rolling init/dispatch/exit-code
// plumbing.
package nfrun

import (
	"time"

	"github.com/c4dt/klint/internal/config"
	"github.com/c4dt/klint/internal/netpkt"
	"github.com/c4dt/klint/internal/nflog"
)

// Decision is what an NF wants done with a packet after Handle returns:
// drop it, or transmit it out Device with the given netpkt transmit
// flags (e.g. netpkt.UpdateEtherAddrs).
type Decision struct {
	Drop   bool
	Device int
	Flags  int
}

// Dropped is the decision to drop the packet and transmit nothing. The
// zero Decision is not a drop: it transmits out device 0.
var Dropped = Decision{Drop: true}

// NF is the contract every cmd/ program implements: spec.md §6's
// nf_init(device_count) -> bool and nf_handle(packet), reshaped into Go
// idiom as an explicit error return and a returned Decision instead of a
// side-effecting transmit call.
type NF interface {
	// Init constructs the NF's core state. An error here is fatal: the
	// cmd/ entry point logs it and exits non-zero, matching spec.md
	// §6/§7's "exit code is non-zero if nf_init fails".
	Init(devices int, cfg config.Source) error

	// Handle processes one packet that arrived on pkt.Device at time
	// now and returns what to do with it.
	Handle(now int64, pkt *netpkt.Packet, log *nflog.Logger) Decision
}

// PacketSource yields packets to process, one at a time. A live host
// runtime would back this with a NIC ring; tests and cmd/ harnesses can
// back it with a fixed slice or a channel.
type PacketSource interface {
	Next() (*netpkt.Packet, bool)
}

// Transmitter sends pkt out Device, applying decision.Flags (e.g.
// rewriting Ethernet src/dst for the outgoing device when
// netpkt.UpdateEtherAddrs is set).
type Transmitter interface {
	Send(pkt *netpkt.Packet, decision Decision)
}

// SliceSource is a PacketSource backed by a fixed, in-memory slice of
// packets, used by the tests. The cmd/ programs read from a
// StreamSource instead.
type SliceSource struct {
	packets []*netpkt.Packet
	pos     int
}

// NewSliceSource wraps packets as a PacketSource.
func NewSliceSource(packets []*netpkt.Packet) *SliceSource {
	return &SliceSource{packets: packets}
}

func (s *SliceSource) Next() (*netpkt.Packet, bool) {
	if s.pos >= len(s.packets) {
		return nil, false
	}
	p := s.packets[s.pos]
	s.pos++
	return p, true
}

// Run drives src through nf once per packet, dispatching every
// non-dropped Decision to tx, and logging parse/drop failures on log.
// It returns once src is exhausted, the shape a batch-oriented cmd/
// harness or a test wants; a live NIC-backed PacketSource would simply
// never return false from Next.
func Run(nf NF, src PacketSource, tx Transmitter, log *nflog.Logger) {
	for {
		pkt, ok := src.Next()
		if !ok {
			return
		}
		now := time.Now().UnixNano()
		decision := nf.Handle(now, pkt, log)
		if decision.Drop {
			continue
		}
		tx.Send(pkt, decision)
	}
}
