// Command fw is a stateless-learning firewall: LAN->WAN traffic learns
// a flow via FlowTable.GetInternal, WAN->LAN traffic is admitted only if
// that flow was already learned. Grounded on original_source/fw/fw.c.
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

type firewallNF struct {
	table  *flowtable.Table
	parser *netpkt.Parser
}

func (f *firewallNF) Init(devices int, cfg config.Source) error {
	if devices != 2 {
		return fmt.Errorf("fw: expected exactly 2 devices, got %d", devices)
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
	f.table = flowtable.New(startPort, int64(expiration), maxFlows)
	f.parser = netpkt.NewParser()
	return nil
}

func flowKeyFromPacket(p netpkt.Parsed) flowtable.FlowKey {
	return flowtable.FlowKey{
		SrcIP:    p.IPv4.SrcAddr(),
		DstIP:    p.IPv4.DstAddr(),
		SrcPort:  p.L4.SrcPort(),
		DstPort:  p.L4.DstPort(),
		Protocol: p.IPv4.Protocol(),
	}
}

func (f *firewallNF) Handle(now int64, pkt *netpkt.Packet, log *nflog.Logger) nfrun.Decision {
	p, ok := f.parser.Parse(pkt)
	if !ok {
		log.Debug("Not TCP/UDP over IPv4 over Ethernet")
		return nfrun.Dropped
	}

	if pkt.Device == lanDevice {
		flow := flowKeyFromPacket(p)
		if _, ok := f.table.GetInternal(now, flow); !ok {
			log.Debug("Flow table full")
			return nfrun.Dropped
		}
		return nfrun.Decision{Device: wanDevice}
	}

	// WAN -> LAN: admit only if the reply 5-tuple matches a learned flow.
	flow := flowtable.FlowKey{
		SrcIP:    p.IPv4.DstAddr(),
		DstIP:    p.IPv4.SrcAddr(),
		SrcPort:  p.L4.DstPort(),
		DstPort:  p.L4.SrcPort(),
		Protocol: p.IPv4.Protocol(),
	}
	if _, ok := f.table.Lookup(now, flow); !ok {
		log.Debug("Unknown flow")
		return nfrun.Dropped
	}
	return nfrun.Decision{Device: lanDevice}
}

func main() {
	verbose := flag.BoolP("verbose", "v", false, "log every dropped packet's reason")
	redisAddr := flag.String("redis-addr", "", "Redis address for live config (optional)")
	flag.Parse()

	logger := nflog.New(os.Stderr, *verbose)
	cfg := config.Build(*redisAddr)

	nf := &firewallNF{}
	if err := nf.Init(2, cfg); err != nil {
		log.Fatalf("fw: nf_init failed: %v", err)
	}

	src := nfrun.NewStreamSource(os.Stdin)
	tx := nfrun.NewStreamTransmitter(os.Stdout, nil)
	nfrun.Run(nf, src, tx, logger)
}
