package netpkt

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// tcpPacket builds a minimal, well-formed Ethernet/IPv4/TCP frame:
// correct EtherType, IHL, protocol, and TCP data offset, since
// gopacket's DecodingLayerParser validates these fields rather than
// trusting fixed offsets the way the old hand-rolled parser did.
func tcpPacket() *Packet {
	const ipLen = 20
	const tcpLen = 20
	d := make([]byte, etherHeaderLen+ipLen+tcpLen)

	binary.BigEndian.PutUint16(d[12:14], 0x0800) // EtherType IPv4

	ip := d[etherHeaderLen:]
	ip[0] = 0x45 // version 4, IHL 5 (20 bytes)
	ip[1] = 0
	binary.BigEndian.PutUint16(ip[2:4], uint16(ipLen+tcpLen)) // total length
	ip[8] = 64                                                // TTL
	ip[9] = ProtocolTCP
	binary.BigEndian.PutUint32(ip[12:16], 0x0a000001)
	binary.BigEndian.PutUint32(ip[16:20], 0x08080808)

	l4 := ip[ipLen:]
	binary.BigEndian.PutUint16(l4[0:2], 5000)
	binary.BigEndian.PutUint16(l4[2:4], 53)
	l4[12] = 5 << 4 // data offset: 5 words (20 bytes), no flags

	return &Packet{Data: d}
}

func udpPacket() *Packet {
	const ipLen = 20
	const udpLen = 8
	d := make([]byte, etherHeaderLen+ipLen+udpLen)

	binary.BigEndian.PutUint16(d[12:14], 0x0800)

	ip := d[etherHeaderLen:]
	ip[0] = 0x45
	binary.BigEndian.PutUint16(ip[2:4], uint16(ipLen+udpLen))
	ip[8] = 64
	ip[9] = ProtocolUDP
	binary.BigEndian.PutUint32(ip[12:16], 0x0a000001)
	binary.BigEndian.PutUint32(ip[16:20], 0x08080808)

	l4 := ip[ipLen:]
	binary.BigEndian.PutUint16(l4[0:2], 5000)
	binary.BigEndian.PutUint16(l4[2:4], 53)
	binary.BigEndian.PutUint16(l4[4:6], udpLen)

	return &Packet{Data: d}
}

func TestParseTCPOverIPv4(t *testing.T) {
	p := NewParser()
	parsed, ok := p.Parse(tcpPacket())
	require.True(t, ok)
	require.EqualValues(t, 0x0a000001, parsed.IPv4.SrcAddr())
	require.EqualValues(t, 5000, parsed.L4.SrcPort())
	require.EqualValues(t, 53, parsed.L4.DstPort())
}

func TestParseUDPOverIPv4(t *testing.T) {
	p := NewParser()
	parsed, ok := p.Parse(udpPacket())
	require.True(t, ok)
	require.EqualValues(t, ProtocolUDP, parsed.IPv4.Protocol())
	require.EqualValues(t, 5000, parsed.L4.SrcPort())
}

func TestParseRejectsNonIPv4Ethertype(t *testing.T) {
	p := NewParser()
	pkt := tcpPacket()
	binary.BigEndian.PutUint16(pkt.Data[12:14], 0x86DD) // IPv6
	_, ok := p.Parse(pkt)
	require.False(t, ok)
}

func TestParseRejectsTruncatedPacket(t *testing.T) {
	p := NewParser()
	pkt := tcpPacket()
	pkt.Data = pkt.Data[:etherHeaderLen+5]
	_, ok := p.Parse(pkt)
	require.False(t, ok)
}

func TestParseRejectsNonTCPUDPProtocol(t *testing.T) {
	p := NewParser()
	pkt := tcpPacket()
	pkt.Data[etherHeaderLen+9] = 1 // ICMP
	_, ok := p.Parse(pkt)
	require.False(t, ok)
}

// TestParserReusedAcrossPackets exercises the allocation-free reuse
// DecodingLayerParser is designed for: the same *Parser must decode a
// second, independent packet correctly after a first.
func TestParserReusedAcrossPackets(t *testing.T) {
	p := NewParser()
	_, ok := p.Parse(tcpPacket())
	require.True(t, ok)

	parsed, ok := p.Parse(udpPacket())
	require.True(t, ok)
	require.EqualValues(t, ProtocolUDP, parsed.IPv4.Protocol())
}

func TestChecksumUpdateRoundTripsToZeroDelta(t *testing.T) {
	// Updating a field to the same value must not change the checksum.
	const original uint16 = 0xabcd
	got := ChecksumUpdate(original, 0x0a000001, 0x0a000001, true)
	require.Equal(t, original, got)

	got = ChecksumUpdate(original, 53, 53, false)
	require.Equal(t, original, got)
}

func TestChecksumUpdateIsReversible(t *testing.T) {
	const original uint16 = 0x1234
	updated := ChecksumUpdate(original, 0x0a000001, 0x0a000002, true)
	reverted := ChecksumUpdate(updated, 0x0a000002, 0x0a000001, true)
	require.Equal(t, original, reverted)
}
