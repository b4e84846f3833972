// Package flowtable implements FlowTable: the NAT/firewall port
// allocator built by composing one IndexPool with one Map over a flat
// array of flow records, per spec.md's FlowTable component.
package flowtable

import (
	"encoding/binary"

	"github.com/c4dt/klint/internal/hashmap"
	"github.com/c4dt/klint/internal/pool"
)

// KeySize is the packed, padding-free size of a FlowKey: 4+4+2+2+1 bytes.
const KeySize = 13

// FlowKey is the identity of a transport-layer connection.
type FlowKey struct {
	SrcIP    uint32
	DstIP    uint32
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// Marshal packs the flow key into its wire-stable, padding-free byte
// representation, matching the bytewise-equality identity spec.md §6
// requires.
func (k FlowKey) Marshal() [KeySize]byte {
	var b [KeySize]byte
	binary.BigEndian.PutUint32(b[0:4], k.SrcIP)
	binary.BigEndian.PutUint32(b[4:8], k.DstIP)
	binary.BigEndian.PutUint16(b[8:10], k.SrcPort)
	binary.BigEndian.PutUint16(b[10:12], k.DstPort)
	b[12] = k.Protocol
	return b
}

// Unmarshal is Marshal's inverse.
func Unmarshal(b []byte) FlowKey {
	return FlowKey{
		SrcIP:    binary.BigEndian.Uint32(b[0:4]),
		DstIP:    binary.BigEndian.Uint32(b[4:8]),
		SrcPort:  binary.BigEndian.Uint16(b[8:10]),
		DstPort:  binary.BigEndian.Uint16(b[10:12]),
		Protocol: b[12],
	}
}

func nextPow2(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	if n&(n-1) == 0 {
		return n
	}
	p := uint32(1)
	for p < n {
		p <<= 1
	}
	return p
}

// Table is a single-writer NAT/firewall flow table: it maps internal
// 5-tuples to externally-visible ports, recycling the least-recently-used
// port once a flow has been idle past expiration.
type Table struct {
	startPort  uint16
	maxFlows   uint32
	expiration int64

	// flows gives Map's borrowed key slots stable, caller-owned storage,
	// indexed identically to the backing pool slot.
	flows [][KeySize]byte
	pool  *pool.IndexPool
	index *hashmap.Map
}

// New allocates a flow table for up to maxFlows concurrent flows, with
// external ports starting at startPort and an expiration window of
// expiration (same unit as the now values passed to Get*).
func New(startPort uint16, expiration int64, maxFlows uint32) *Table {
	return &Table{
		startPort:  startPort,
		maxFlows:   maxFlows,
		expiration: expiration,
		flows:      make([][KeySize]byte, maxFlows),
		pool:       pool.New(maxFlows, expiration),
		index:      hashmap.New(KeySize, nextPow2(maxFlows)),
	}
}

// GetInternal returns the external port assigned to flow, allocating one
// (recycling the oldest expired port if the table is full) if flow has
// no port yet. ok is false iff the table is full of live flows.
func (t *Table) GetInternal(now int64, flow FlowKey) (port uint16, ok bool) {
	key := flow.Marshal()
	if v, found := t.index.Get(key[:]); found {
		idx := uint32(v)
		t.pool.Refresh(now, idx)
		return t.startPort + uint16(idx), true
	}

	idx, reused, borrowed := t.pool.Borrow(now)
	if !borrowed {
		return 0, false
	}
	if reused {
		t.index.Remove(t.flows[idx][:])
	}
	t.flows[idx] = key
	t.index.Set(t.flows[idx][:], uint64(idx))
	return t.startPort + uint16(idx), true
}

// Lookup reports whether flow already has an assigned port, without
// allocating one if it doesn't. Used by NFs (e.g. a stateless-learning
// firewall) that need to admit only already-learned flows on their
// return path, as opposed to GetInternal's learn-on-miss behavior.
func (t *Table) Lookup(now int64, flow FlowKey) (port uint16, ok bool) {
	key := flow.Marshal()
	v, found := t.index.Get(key[:])
	if !found {
		return 0, false
	}
	idx := uint32(v)
	if !t.pool.Used(now, idx) {
		return 0, false
	}
	t.pool.Refresh(now, idx)
	return t.startPort + uint16(idx), true
}

// GetExternal returns the flow currently assigned to port, if any is
// still live.
func (t *Table) GetExternal(now int64, port uint16) (flow FlowKey, ok bool) {
	idx := uint32(port - t.startPort)
	if idx >= t.maxFlows {
		return FlowKey{}, false
	}
	if !t.pool.Used(now, idx) {
		return FlowKey{}, false
	}
	t.pool.Refresh(now, idx)
	return Unmarshal(t.flows[idx][:]), true
}
