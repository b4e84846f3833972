// Package lb implements LoadBalancer: the stateful L4 load balancer
// state machine, composing two IndexPools, two Maps, and a CHT to pick
// and pin backends per flow while tracking backend liveness via
// heartbeats.
package lb

import (
	"encoding/binary"
	"fmt"

	"github.com/c4dt/klint/internal/cht"
	"github.com/c4dt/klint/internal/flowtable"
	"github.com/c4dt/klint/internal/hashmap"
	"github.com/c4dt/klint/internal/pool"
	"github.com/c4dt/klint/internal/xhash"
)

// ipKeySize is the packed size of an IPv4 address used as a map key.
const ipKeySize = 4

// Backend is a single load-balanced server, as learned from its
// heartbeats.
type Backend struct {
	IP  uint32
	MAC [6]byte
	NIC uint16
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

// Balancer is a single-writer L4 load balancer.
type Balancer struct {
	backendExpiration int64
	flowExpiration    int64

	backends   []Backend
	backendIPs [][ipKeySize]byte

	flowHeap          [][flowtable.KeySize]byte
	flowIDToBackendID []uint32

	activeBackends *pool.IndexPool
	flowChain      *pool.IndexPool

	ipToBackendID *hashmap.Map
	flowToFlowID  *hashmap.Map

	cht *cht.CHT
}

// New allocates a load balancer for up to flowCap concurrently pinned
// flows and backendCap active backends, with a CHT of the given bucket
// height (must be prime, see package cht).
func New(flowCap, backendCap, chtHeight uint32, backendExpiration, flowExpiration int64) (*Balancer, error) {
	c, err := cht.New(backendCap, chtHeight)
	if err != nil {
		return nil, fmt.Errorf("lb: %w", err)
	}
	return &Balancer{
		backendExpiration: backendExpiration,
		flowExpiration:    flowExpiration,

		backends:   make([]Backend, backendCap),
		backendIPs: make([][ipKeySize]byte, backendCap),

		flowHeap:          make([][flowtable.KeySize]byte, flowCap),
		flowIDToBackendID: make([]uint32, flowCap),

		activeBackends: pool.New(backendCap, backendExpiration),
		flowChain:      pool.New(flowCap, flowExpiration),

		ipToBackendID: hashmap.New(ipKeySize, nextPow2(backendCap)),
		flowToFlowID:  hashmap.New(flowtable.KeySize, nextPow2(flowCap)),

		cht: c,
	}, nil
}

func ipKey(ip uint32) [ipKeySize]byte {
	var b [ipKeySize]byte
	binary.BigEndian.PutUint32(b[:], ip)
	return b
}

func flowHash(flow flowtable.FlowKey) uint64 {
	key := flow.Marshal()
	return xhash.Sum64(key[:])
}

// ProcessHeartbeat records a liveness advertisement from a backend. A
// tracked backend is refreshed. An untracked one is admitted into the
// active set after one expired backend, if there is one, is evicted
// (whether or not the set is full); if the set is full of live backends
// the heartbeat is dropped.
func (b *Balancer) ProcessHeartbeat(now int64, srcIP uint32, mac [6]byte, nic uint16) {
	key := ipKey(srcIP)
	if v, ok := b.ipToBackendID.Get(key[:]); ok {
		b.activeBackends.Refresh(now, uint32(v))
		return
	}

	if idx, ok := b.activeBackends.Expire(now - b.backendExpiration); ok {
		b.ipToBackendID.Remove(b.backendIPs[idx][:])
	}

	idx, _, ok := b.activeBackends.Borrow(now)
	if !ok {
		return // full of live backends: drop the heartbeat
	}
	b.backends[idx] = Backend{IP: srcIP, MAC: mac, NIC: nic}
	b.backendIPs[idx] = key
	b.ipToBackendID.Set(b.backendIPs[idx][:], uint64(idx))
}

// GetBackend resolves the backend a flow should be forwarded to,
// pinning the choice for as long as the flow stays active and its
// backend stays alive. ok is false only when no backend slot in the
// flow's CHT bucket is currently active.
func (b *Balancer) GetBackend(now int64, flow flowtable.FlowKey) (Backend, bool) {
	key := flow.Marshal()

	for {
		v, ok := b.flowToFlowID.Get(key[:])
		if !ok {
			break
		}
		fi := uint32(v)
		bi := b.flowIDToBackendID[fi]
		if b.activeBackends.Used(now, bi) {
			b.flowChain.Refresh(now, fi)
			return b.backends[bi], true
		}
		// Pinned backend died: drop the stale binding and fall through
		// to re-resolve via the CHT.
		b.flowToFlowID.Remove(b.flowHeap[fi][:])
		b.flowChain.Return(fi)
	}

	bi, found := b.cht.FindPreferredAvailableBackend(flowHash(flow), b.activeBackends, now)
	if !found {
		return Backend{}, false
	}

	if idx, ok := b.flowChain.Expire(now - b.flowExpiration); ok {
		b.flowToFlowID.Remove(b.flowHeap[idx][:])
	}

	if fi, _, ok := b.flowChain.Borrow(now); ok {
		b.flowHeap[fi] = key
		b.flowIDToBackendID[fi] = bi
		b.flowToFlowID.Set(b.flowHeap[fi][:], uint64(fi))
	} // no room to pin: still forward, just don't remember the choice

	return b.backends[bi], true
}

// ExpireFlows drains every flow binding idle past flowExpiration as of
// now, returning how many were removed. Callers run this on a periodic
// sweep (the "eager" variant spec.md §9 codifies).
func (b *Balancer) ExpireFlows(now int64) int {
	threshold := now - b.flowExpiration
	count := 0
	for {
		idx, ok := b.flowChain.Expire(threshold)
		if !ok {
			return count
		}
		b.flowToFlowID.Remove(b.flowHeap[idx][:])
		count++
	}
}

// ExpireBackends drains every backend idle past backendExpiration as of
// now, returning how many were removed.
func (b *Balancer) ExpireBackends(now int64) int {
	threshold := now - b.backendExpiration
	count := 0
	for {
		idx, ok := b.activeBackends.Expire(threshold)
		if !ok {
			return count
		}
		b.ipToBackendID.Remove(b.backendIPs[idx][:])
		count++
	}
}
