// Command bridge is the simplest NF in this module: stateless
// forwarding between two devices, out = 1 - in. Frames that are not
// TCP/UDP over IPv4 over Ethernet are dropped. It carries no flow or
// backend state at all, rounding out the NF family spec.md §1 names.
package main

import (
	"fmt"
	"log"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/c4dt/klint/internal/config"
	"github.com/c4dt/klint/internal/netpkt"
	"github.com/c4dt/klint/internal/nflog"
	"github.com/c4dt/klint/internal/nfrun"
)

type bridgeNF struct {
	devices int
	parser  *netpkt.Parser
}

func (b *bridgeNF) Init(devices int, cfg config.Source) error {
	if devices != 2 {
		return fmt.Errorf("bridge: expected exactly 2 devices, got %d", devices)
	}
	b.devices = devices
	b.parser = netpkt.NewParser()
	return nil
}

func (b *bridgeNF) Handle(now int64, pkt *netpkt.Packet, log *nflog.Logger) nfrun.Decision {
	if _, ok := b.parser.Parse(pkt); !ok {
		log.Debug("Not TCP/UDP over IPv4 over Ethernet")
		return nfrun.Dropped
	}
	return nfrun.Decision{Device: 1 - pkt.Device}
}

func main() {
	verbose := flag.BoolP("verbose", "v", false, "log every dropped packet's reason")
	redisAddr := flag.String("redis-addr", "", "Redis address for live config (optional)")
	flag.Parse()

	logger := nflog.New(os.Stderr, *verbose)
	cfg := config.Build(*redisAddr)

	nf := &bridgeNF{}
	if err := nf.Init(2, cfg); err != nil {
		log.Fatalf("bridge: nf_init failed: %v", err)
	}

	src := nfrun.NewStreamSource(os.Stdin)
	tx := nfrun.NewStreamTransmitter(os.Stdout, nil)
	nfrun.Run(nf, src, tx, logger)
}
