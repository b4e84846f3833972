package nfrun

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/c4dt/klint/internal/netpkt"
)

// frameHeaderLen is a 1-byte device id plus a 4-byte big-endian payload
// length, the simple host-runtime framing cmd/ programs read from and
// write to in place of a live NIC ring.
const frameHeaderLen = 1 + 4

// StreamSource is a PacketSource reading device-framed packets off r
// until EOF.
type StreamSource struct {
	r *bufio.Reader
}

// NewStreamSource wraps r as a PacketSource.
func NewStreamSource(r io.Reader) *StreamSource {
	return &StreamSource{r: bufio.NewReader(r)}
}

func (s *StreamSource) Next() (*netpkt.Packet, bool) {
	var header [frameHeaderLen]byte
	if _, err := io.ReadFull(s.r, header[:]); err != nil {
		return nil, false
	}
	device := int(header[0])
	length := binary.BigEndian.Uint32(header[1:5])
	data := make([]byte, length)
	if _, err := io.ReadFull(s.r, data); err != nil {
		return nil, false
	}
	return &netpkt.Packet{Data: data, Device: device}, true
}

// StreamTransmitter is a Transmitter writing device-framed packets to w.
// For UpdateEtherAddrs it rewrites only the Ethernet source address, from
// a per-device MAC table, before the write; the destination address is
// left unchanged, and a device with no table entry is not rewritten.
type StreamTransmitter struct {
	w         *bufio.Writer
	deviceMAC [][6]byte
}

// NewStreamTransmitter wraps w as a Transmitter. deviceMAC[i] is the
// source MAC address to stamp onto outgoing traffic on device i when a
// Decision carries netpkt.UpdateEtherAddrs.
func NewStreamTransmitter(w io.Writer, deviceMAC [][6]byte) *StreamTransmitter {
	return &StreamTransmitter{w: bufio.NewWriter(w), deviceMAC: deviceMAC}
}

func (t *StreamTransmitter) Send(pkt *netpkt.Packet, d Decision) {
	if d.Flags&netpkt.UpdateEtherAddrs != 0 && d.Device < len(t.deviceMAC) && len(pkt.Data) >= 12 {
		copy(pkt.Data[6:12], t.deviceMAC[d.Device][:])
	}
	var header [frameHeaderLen]byte
	header[0] = byte(d.Device)
	binary.BigEndian.PutUint32(header[1:5], uint32(len(pkt.Data)))
	t.w.Write(header[:])
	t.w.Write(pkt.Data)
	t.w.Flush()
}
