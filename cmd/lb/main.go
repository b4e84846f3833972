// Command lb is an L4 load balancer: heartbeats arriving on the backend
// side feed LoadBalancer.ProcessHeartbeat; client flows arriving on the
// WAN side resolve via LoadBalancer.GetBackend and are forwarded to the
// chosen backend's device. Grounded on original_source/lb/ld_balancer.c.
//
// Backends can also announce liveness out-of-band over Redis pub/sub
// (the same channel cmd/lbbench drives load against) rather than only
// in-band over UDP; --heartbeat-redis-addr wires that up via redigo's
// PubSubConn, the connection-pool-per-address client the teacher's
// other Redis-backed command, lbbench, is itself built around.
package main

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/gomodule/redigo/redis"

	"github.com/c4dt/klint/internal/config"
	"github.com/c4dt/klint/internal/flowtable"
	"github.com/c4dt/klint/internal/lb"
	"github.com/c4dt/klint/internal/netpkt"
	"github.com/c4dt/klint/internal/nflog"
	"github.com/c4dt/klint/internal/nfrun"
)

const (
	wanDevice = 0
	// heartbeatUDPPort is the well-known destination port backends send
	// their liveness advertisements to, distinguishing a heartbeat from
	// ordinary client traffic arriving on the same device.
	heartbeatUDPPort = 63000
)

type loadBalancerNF struct {
	balancer *lb.Balancer
	parser   *netpkt.Parser
}

func (l *loadBalancerNF) Init(devices int, cfg config.Source) error {
	if devices < 2 {
		return fmt.Errorf("lb: expected at least 2 devices, got %d", devices)
	}
	flowCap, err := cfg.GetU32("flow_cap")
	if err != nil {
		return err
	}
	backendCap, err := cfg.GetU32("backend_cap")
	if err != nil {
		return err
	}
	chtHeight, err := cfg.GetU32("cht_height")
	if err != nil {
		return err
	}
	backendExpiration, err := cfg.GetTime("backend_expiration")
	if err != nil {
		return err
	}
	flowExpiration, err := cfg.GetTime("flow_expiration")
	if err != nil {
		return err
	}

	balancer, err := lb.New(flowCap, backendCap, chtHeight, int64(backendExpiration), int64(flowExpiration))
	if err != nil {
		return err
	}
	l.balancer = balancer
	l.parser = netpkt.NewParser()
	return nil
}

func (l *loadBalancerNF) Handle(now int64, pkt *netpkt.Packet, log *nflog.Logger) nfrun.Decision {
	p, ok := l.parser.Parse(pkt)
	if !ok {
		log.Debug("Not TCP/UDP over IPv4 over Ethernet")
		return nfrun.Dropped
	}

	if pkt.Device != wanDevice && p.L4.DstPort() == heartbeatUDPPort {
		var mac [6]byte
		copy(mac[:], p.Ether.Src[:])
		l.balancer.ProcessHeartbeat(now, p.IPv4.SrcAddr(), mac, uint16(pkt.Device))
		return nfrun.Dropped
	}

	if pkt.Device != wanDevice {
		log.Debug("Unexpected backend-side traffic")
		return nfrun.Dropped
	}

	flow := flowtable.FlowKey{
		SrcIP:    p.IPv4.SrcAddr(),
		DstIP:    p.IPv4.DstAddr(),
		SrcPort:  p.L4.SrcPort(),
		DstPort:  p.L4.DstPort(),
		Protocol: p.IPv4.Protocol(),
	}
	backend, ok := l.balancer.GetBackend(now, flow)
	if !ok {
		log.Debug("No backend available")
		return nfrun.Dropped
	}

	p.IPv4.SetChecksum(netpkt.ChecksumUpdate(p.IPv4.Checksum(), p.IPv4.DstAddr(), backend.IP, true))
	p.IPv4.SetDstAddr(backend.IP)

	device := int(backend.NIC)
	return nfrun.Decision{Device: device, Flags: netpkt.UpdateEtherAddrs}
}

// heartbeatEvent is a backend liveness announcement arriving out of
// band, over Redis pub/sub, rather than in band as a UDP packet.
type heartbeatEvent struct {
	ip  uint32
	mac [6]byte
	nic uint16
}

// parseHeartbeatMessage decodes the "ip:mac:nic" wire format
// cmd/lbbench publishes, e.g. "10.0.1.2:aabbccddeeff:1".
func parseHeartbeatMessage(data []byte) (heartbeatEvent, bool) {
	fields := strings.Split(string(data), ":")
	if len(fields) != 3 {
		return heartbeatEvent{}, false
	}

	addr := net.ParseIP(fields[0])
	if addr == nil {
		return heartbeatEvent{}, false
	}
	addr4 := addr.To4()
	if addr4 == nil {
		return heartbeatEvent{}, false
	}

	macBytes, err := hex.DecodeString(fields[1])
	if err != nil || len(macBytes) != 6 {
		return heartbeatEvent{}, false
	}

	nic, err := strconv.ParseUint(fields[2], 10, 16)
	if err != nil {
		return heartbeatEvent{}, false
	}

	var hb heartbeatEvent
	hb.ip = binary.BigEndian.Uint32(addr4)
	copy(hb.mac[:], macBytes)
	hb.nic = uint16(nic)
	return hb, true
}

// subscribeHeartbeats dials addr and subscribes to channel, returning a
// channel of decoded heartbeat events fed by a background goroutine
// looping on redis.PubSubConn.Receive. Malformed messages are dropped
// silently (there's no log handle in scope at subscribe time, and a
// malformed message here is the control plane's fault, not a packet
// drop spec.md's -v contract covers).
func subscribeHeartbeats(addr, channel string) (<-chan heartbeatEvent, error) {
	conn, err := redis.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("lb: heartbeat subscribe: %w", err)
	}
	psc := redis.PubSubConn{Conn: conn}
	if err := psc.Subscribe(channel); err != nil {
		conn.Close()
		return nil, fmt.Errorf("lb: heartbeat subscribe: %w", err)
	}

	out := make(chan heartbeatEvent)
	go func() {
		defer conn.Close()
		defer close(out)
		for {
			switch v := psc.Receive().(type) {
			case redis.Message:
				if hb, ok := parseHeartbeatMessage(v.Data); ok {
					out <- hb
				}
			case redis.Subscription:
				// Subscribed/unsubscribed notification; nothing to do.
			case error:
				return
			}
		}
	}()
	return out, nil
}

// runWithHeartbeats drives nf the way nfrun.Run does, but dispatches
// both in-band packets and out-of-band Redis heartbeats through a
// single select loop, preserving lb.Balancer's single-writer invariant
// even though liveness now arrives over two independent transports.
func runWithHeartbeats(nf *loadBalancerNF, src nfrun.PacketSource, tx nfrun.Transmitter, logger *nflog.Logger, heartbeats <-chan heartbeatEvent) {
	packets := make(chan *netpkt.Packet)
	go func() {
		defer close(packets)
		for {
			pkt, ok := src.Next()
			if !ok {
				return
			}
			packets <- pkt
		}
	}()

	for {
		select {
		case hb, ok := <-heartbeats:
			if !ok {
				heartbeats = nil
				continue
			}
			nf.balancer.ProcessHeartbeat(time.Now().UnixNano(), hb.ip, hb.mac, hb.nic)

		case pkt, ok := <-packets:
			if !ok {
				return
			}
			now := time.Now().UnixNano()
			decision := nf.Handle(now, pkt, logger)
			if !decision.Drop {
				tx.Send(pkt, decision)
			}
		}
	}
}

func main() {
	verbose := flag.BoolP("verbose", "v", false, "log every dropped packet's reason")
	redisAddr := flag.String("redis-addr", "", "Redis address for live config (optional)")
	devices := flag.Int("devices", 2, "number of NIC devices: device 0 is WAN, the rest are backend-facing")
	heartbeatRedisAddr := flag.String("heartbeat-redis-addr", "", "Redis address to subscribe to for out-of-band backend heartbeats (optional)")
	heartbeatChannel := flag.String("heartbeat-channel", "klint:heartbeats", "pub/sub channel out-of-band heartbeats arrive on")
	flag.Parse()

	logger := nflog.New(os.Stderr, *verbose)
	cfg := config.Build(*redisAddr)

	nf := &loadBalancerNF{}
	if err := nf.Init(*devices, cfg); err != nil {
		log.Fatalf("lb: nf_init failed: %v", err)
	}

	src := nfrun.NewStreamSource(os.Stdin)
	tx := nfrun.NewStreamTransmitter(os.Stdout, nil)

	if *heartbeatRedisAddr == "" {
		nfrun.Run(nf, src, tx, logger)
		return
	}

	heartbeats, err := subscribeHeartbeats(*heartbeatRedisAddr, *heartbeatChannel)
	if err != nil {
		log.Fatalf("lb: heartbeat subscribe failed: %v", err)
	}
	runWithHeartbeats(nf, src, tx, logger, heartbeats)
}
