// Command nat is a full NAT: LAN->WAN traffic has its source address and
// port rewritten to the NAT's external address and an allocated port;
// WAN->LAN replies are matched back to the internal flow (rejecting any
// whose 5-tuple doesn't match, the spoof check), then rewritten back,
// updating checksums incrementally rather than rescanning the packet.
// Grounded on original_source/nf/vigor-nat/nat.c and nat/flowtable.c.
package main

import (
	"fmt"
	"log"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/c4dt/klint/internal/config"
	"github.com/c4dt/klint/internal/flowtable"
	"github.com/c4dt/klint/internal/netpkt"
	"github.com/c4dt/klint/internal/nflog"
	"github.com/c4dt/klint/internal/nfrun"
)

const (
	lanDevice = 0
	wanDevice = 1
)

type natNF struct {
	table      *flowtable.Table
	externalIP uint32
	parser     *netpkt.Parser
}

func (n *natNF) Init(devices int, cfg config.Source) error {
	if devices != 2 {
		return fmt.Errorf("nat: expected exactly 2 devices, got %d", devices)
	}
	maxFlows, err := cfg.GetU32("max_flows")
	if err != nil {
		return err
	}
	expiration, err := cfg.GetTime("flow_expiration")
	if err != nil {
		return err
	}
	startPort, err := cfg.GetU16("start_port")
	if err != nil {
		return err
	}
	externalIP, err := cfg.GetU32("external_ip")
	if err != nil {
		return err
	}
	n.table = flowtable.New(startPort, int64(expiration), maxFlows)
	n.externalIP = externalIP
	n.parser = netpkt.NewParser()
	return nil
}

func (n *natNF) Handle(now int64, pkt *netpkt.Packet, log *nflog.Logger) nfrun.Decision {
	p, ok := n.parser.Parse(pkt)
	if !ok {
		log.Debug("Not TCP/UDP over IPv4 over Ethernet")
		return nfrun.Dropped
	}

	if pkt.Device == lanDevice {
		return n.handleOutbound(now, p, log)
	}
	return n.handleInbound(now, p, log)
}

func (n *natNF) handleOutbound(now int64, p netpkt.Parsed, log *nflog.Logger) nfrun.Decision {
	flow := flowtable.FlowKey{
		SrcIP:    p.IPv4.SrcAddr(),
		DstIP:    p.IPv4.DstAddr(),
		SrcPort:  p.L4.SrcPort(),
		DstPort:  p.L4.DstPort(),
		Protocol: p.IPv4.Protocol(),
	}
	port, ok := n.table.GetInternal(now, flow)
	if !ok {
		log.Debug("Flow table full")
		return nfrun.Dropped
	}

	rewriteSource(p, n.externalIP, port)
	return nfrun.Decision{Device: wanDevice}
}

func (n *natNF) handleInbound(now int64, p netpkt.Parsed, log *nflog.Logger) nfrun.Decision {
	flow, ok := n.table.GetExternal(now, p.L4.DstPort())
	if !ok {
		log.Debug("Unknown flow")
		return nfrun.Dropped
	}

	// Spoof check (spec.md §7/§8 S4): the reply must actually come from
	// the peer the internal flow was talking to.
	if p.IPv4.SrcAddr() != flow.DstIP || p.L4.SrcPort() != flow.DstPort || p.IPv4.Protocol() != flow.Protocol {
		log.Debug("Spoofing attempt")
		return nfrun.Dropped
	}

	rewriteDestination(p, flow.SrcIP, flow.SrcPort)
	return nfrun.Decision{Device: lanDevice}
}

// rewriteSource rewrites p's source address/port in place to
// newIP:newPort, updating the IPv4 and L4 checksums incrementally.
func rewriteSource(p netpkt.Parsed, newIP uint32, newPort uint16) {
	oldIP := p.IPv4.SrcAddr()
	p.IPv4.SetChecksum(netpkt.ChecksumUpdate(p.IPv4.Checksum(), oldIP, newIP, true))
	p.IPv4.SetSrcAddr(newIP)

	oldPort := p.L4.SrcPort()
	l4Checksum := netpkt.ChecksumUpdate(p.L4.Checksum(), oldIP, newIP, true)
	l4Checksum = netpkt.ChecksumUpdate(l4Checksum, uint32(oldPort), uint32(newPort), false)
	p.L4.SetChecksum(l4Checksum)
	p.L4.SetSrcPort(newPort)
}

// rewriteDestination is rewriteSource's mirror for the reply direction.
func rewriteDestination(p netpkt.Parsed, newIP uint32, newPort uint16) {
	oldIP := p.IPv4.DstAddr()
	p.IPv4.SetChecksum(netpkt.ChecksumUpdate(p.IPv4.Checksum(), oldIP, newIP, true))
	p.IPv4.SetDstAddr(newIP)

	oldPort := p.L4.DstPort()
	l4Checksum := netpkt.ChecksumUpdate(p.L4.Checksum(), oldIP, newIP, true)
	l4Checksum = netpkt.ChecksumUpdate(l4Checksum, uint32(oldPort), uint32(newPort), false)
	p.L4.SetChecksum(l4Checksum)
	p.L4.SetDstPort(newPort)
}

func main() {
	verbose := flag.BoolP("verbose", "v", false, "log every dropped packet's reason")
	redisAddr := flag.String("redis-addr", "", "Redis address for live config (optional)")
	flag.Parse()

	logger := nflog.New(os.Stderr, *verbose)
	cfg := config.Build(*redisAddr)

	nf := &natNF{}
	if err := nf.Init(2, cfg); err != nil {
		log.Fatalf("nat: nf_init failed: %v", err)
	}

	src := nfrun.NewStreamSource(os.Stdin)
	tx := nfrun.NewStreamTransmitter(os.Stdout, nil)
	nfrun.Run(nf, src, tx, logger)
}
