// Package netpkt is the packet-parsing and checksum-update surface
// spec.md treats as an external collaborator: Ethernet -> IPv4 ->
// TCP/UDP header access, plus the incremental checksum update NAT needs
// when it rewrites an address or port in place.
//
// Decoding itself is delegated to github.com/gopacket/gopacket's
// DecodingLayerParser (the same library grimm.is/flywall and cilium —
// both firewall/networking projects in this spec's domain — depend on
// directly), reusing one set of layer structs across every packet so
// steady-state processing allocates nothing, matching spec.md §5's
// no-allocation-after-construction constraint.
package netpkt

import (
	"encoding/binary"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

const (
	etherHeaderLen = 14

	ProtocolTCP = uint8(layers.IPProtocolTCP)
	ProtocolUDP = uint8(layers.IPProtocolUDP)
)

// UpdateEtherAddrs is a transmit flag telling the host I/O surface to
// rewrite the Ethernet source/destination addresses for the outgoing
// device, matching spec.md §6's "Transmit flags include
// UPDATE_ETHER_ADDRS".
const UpdateEtherAddrs = 1 << 0

// Packet is a raw frame plus the device it arrived on.
type Packet struct {
	Data   []byte
	Device int
}

// EtherHeader is the parsed Ethernet header.
type EtherHeader struct {
	Dst, Src  [6]byte
	EtherType uint16
}

// IPv4Header is a view into an IPv4 header embedded in a packet's bytes;
// mutators write through to the backing packet. data is gopacket's
// decoded layers.IPv4.Contents, which already points at the header's
// bytes in place rather than a copy.
type IPv4Header struct{ data []byte }

func (h IPv4Header) Protocol() uint8 { return h.data[9] }
func (h IPv4Header) Checksum() uint16 {
	return binary.BigEndian.Uint16(h.data[10:12])
}
func (h IPv4Header) SetChecksum(v uint16) { binary.BigEndian.PutUint16(h.data[10:12], v) }
func (h IPv4Header) SrcAddr() uint32      { return binary.BigEndian.Uint32(h.data[12:16]) }
func (h IPv4Header) DstAddr() uint32      { return binary.BigEndian.Uint32(h.data[16:20]) }
func (h IPv4Header) SetSrcAddr(v uint32)  { binary.BigEndian.PutUint32(h.data[12:16], v) }
func (h IPv4Header) SetDstAddr(v uint32)  { binary.BigEndian.PutUint32(h.data[16:20], v) }

// L4Header is a view into a TCP or UDP header; only the fields this
// module's NFs touch are exposed.
type L4Header struct {
	data     []byte
	protocol uint8
}

func (h L4Header) SrcPort() uint16     { return binary.BigEndian.Uint16(h.data[0:2]) }
func (h L4Header) DstPort() uint16     { return binary.BigEndian.Uint16(h.data[2:4]) }
func (h L4Header) SetSrcPort(v uint16) { binary.BigEndian.PutUint16(h.data[0:2], v) }
func (h L4Header) SetDstPort(v uint16) { binary.BigEndian.PutUint16(h.data[2:4], v) }

// checksumOffset returns where the L4 checksum lives: byte 16 for TCP,
// byte 6 for UDP.
func (h L4Header) checksumOffset() int {
	if h.protocol == ProtocolTCP {
		return 16
	}
	return 6
}

func (h L4Header) Checksum() uint16 {
	o := h.checksumOffset()
	return binary.BigEndian.Uint16(h.data[o : o+2])
}

func (h L4Header) SetChecksum(v uint16) {
	o := h.checksumOffset()
	binary.BigEndian.PutUint16(h.data[o:o+2], v)
}

// Parsed is the result of successfully parsing Ethernet -> IPv4 ->
// TCP/UDP out of a packet.
type Parsed struct {
	Ether EtherHeader
	IPv4  IPv4Header
	L4    L4Header
}

// Parser decodes Ethernet -> IPv4 -> TCP/UDP packets. The zero value is
// not usable; construct with NewParser. A Parser is single-writer, like
// every other stateful type in this module: callers must not share one
// across concurrently-running NFs.
type Parser struct {
	eth     layers.Ethernet
	ip4     layers.IPv4
	tcp     layers.TCP
	udp     layers.UDP
	dlp     *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

// NewParser builds a Parser with its own reusable decode buffers.
func NewParser() *Parser {
	p := &Parser{}
	p.dlp = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &p.eth, &p.ip4, &p.tcp, &p.udp)
	// A non-IPv4 ethertype or a non-TCP/UDP IP protocol simply has no
	// registered decoder for its next layer; that's a parse miss for
	// this module's purposes, not a hard decode error.
	p.dlp.IgnoreUnsupported = true
	return p
}

// Parse walks pkt's bytes as Ethernet -> IPv4 -> TCP/UDP, returning
// ok=false on any parse failure (non-IPv4 ethertype, truncated header,
// or an L4 protocol that isn't TCP/UDP), matching spec.md §6's "Not
// TCP/UDP over IPv4 over Ethernet" contract.
func (p *Parser) Parse(pkt *Packet) (Parsed, bool) {
	if err := p.dlp.DecodeLayers(pkt.Data, &p.decoded); err != nil {
		return Parsed{}, false
	}

	var haveIPv4, haveTCP, haveUDP bool
	for _, lt := range p.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			haveIPv4 = true
		case layers.LayerTypeTCP:
			haveTCP = true
		case layers.LayerTypeUDP:
			haveUDP = true
		}
	}
	if !haveIPv4 || (!haveTCP && !haveUDP) {
		return Parsed{}, false
	}

	var eth EtherHeader
	copy(eth.Dst[:], p.eth.DstMAC)
	copy(eth.Src[:], p.eth.SrcMAC)
	eth.EtherType = uint16(p.eth.EthernetType)

	ipv4 := IPv4Header{data: p.ip4.Contents}

	var l4 L4Header
	if haveTCP {
		l4 = L4Header{data: p.tcp.Contents, protocol: ProtocolTCP}
	} else {
		l4 = L4Header{data: p.udp.Contents, protocol: ProtocolUDP}
	}

	return Parsed{Ether: eth, IPv4: ipv4, L4: l4}, true
}
