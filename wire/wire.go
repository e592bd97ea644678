// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package wire declares the peer-protocol boundary the sync engine
// consumes (spec.md §6): typed GetBlockHeaders/GetBlockBodies/Status
// operations, plus the PeerConnection/PeerSet bookkeeping (lacking-hash
// memory, throughput-based capacity estimation) that the real wire codec
// and p2p transport sit behind. Framing and RLP encoding are out of
// scope (spec.md §1) — callers implement Peer against a real connection.
package wire

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethsync/peerpool/types"
	"github.com/ethsync/peerpool/xlog"
)

// ErrTimeout is returned by Peer methods when the remote did not answer in
// time; spec.md §6 models this as an empty option rather than a Go error,
// but a sentinel error composes better with Go's calling convention while
// preserving the same "did we hear back" distinction.
var ErrTimeout = errors.New("wire: request timed out")

// ErrLacking is returned instead of issuing a round trip when every
// requested item is already known-lacking on the peer (PeerConnection.Lacks),
// avoiding re-asking a peer that has already said it doesn't have the data.
var ErrLacking = errors.New("wire: peer is known to lack all requested items")

// HeadersRequest mirrors the GetBlockHeaders wire message.
type HeadersRequest struct {
	UseHash     bool
	StartHash   types.Hash
	StartNumber uint64
	MaxResults  uint64
	Skip        uint64
	Reverse     bool
}

// StatusMsg is the handshake status payload exchanged with a peer.
type StatusMsg struct {
	NetworkID       uint64
	TotalDifficulty uint64
	BestHash        types.Hash
	GenesisHash     types.Hash
	ForkID          uint64
}

// Peer is the minimal set of request/response operations the sync engine
// needs from a connected remote (spec.md §6).
type Peer interface {
	ID() types.PeerID
	GetBlockHeaders(ctx context.Context, req HeadersRequest) ([]*types.Header, error)
	GetBlockBodies(ctx context.Context, hashes []types.Hash) ([]*types.Body, error)
	Status(ctx context.Context) (*StatusMsg, error)
}

const maxLackingHashes = 4096

// RateTracker estimates a peer's sustained item-delivery throughput with a
// simple exponentially weighted moving average, used to size requests to
// the peer's actual capacity instead of a fixed guess.
type RateTracker struct {
	mu        sync.Mutex
	itemsPerS float64
	seen      bool
}

// Update folds in a fresh measurement: delivered items over elapsed time.
func (r *RateTracker) Update(delivered int, elapsed time.Duration) {
	if elapsed <= 0 || delivered <= 0 {
		return
	}
	rate := float64(delivered) / elapsed.Seconds()

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.seen {
		r.itemsPerS = rate
		r.seen = true
		return
	}
	const alpha = 0.3
	r.itemsPerS = alpha*rate + (1-alpha)*r.itemsPerS
}

// Capacity estimates how many items the peer can deliver within targetRTT,
// clamped to at least 1 so a cold peer still gets tried.
func (r *RateTracker) Capacity(targetRTT time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.seen {
		return 1
	}
	cap := int(r.itemsPerS * targetRTT.Seconds())
	if cap < 1 {
		cap = 1
	}
	return cap
}

// PeerConnection wraps a Peer with the bookkeeping the sync engine layers
// on top: a bounded lacking-hash memory (don't re-ask for data a peer has
// already told us it doesn't have) and separate header/body rate
// trackers, grounded on the peerConnection type forked across several
// go-ethereum derivatives (see DESIGN.md).
type PeerConnection struct {
	Peer Peer
	Log  xlog.Logger

	headerRate RateTracker
	bodyRate   RateTracker

	mu      sync.RWMutex
	lacking map[types.Hash]struct{}
}

// NewPeerConnection wraps peer for use by the sync engine.
func NewPeerConnection(peer Peer, log xlog.Logger) *PeerConnection {
	if log == nil {
		log = xlog.Discard()
	}
	return &PeerConnection{
		Peer:    peer,
		Log:     log,
		lacking: make(map[types.Hash]struct{}),
	}
}

// UpdateHeaderRate records a header-fetch measurement.
func (p *PeerConnection) UpdateHeaderRate(delivered int, elapsed time.Duration) {
	p.headerRate.Update(delivered, elapsed)
}

// UpdateBodyRate records a body-fetch measurement.
func (p *PeerConnection) UpdateBodyRate(delivered int, elapsed time.Duration) {
	p.bodyRate.Update(delivered, elapsed)
}

// HeaderCapacity reports how many headers to request given the peer's
// observed throughput, capped at the wire-level maximum.
func (p *PeerConnection) HeaderCapacity(targetRTT time.Duration, max int) int {
	if c := p.headerRate.Capacity(targetRTT); c < max {
		return c
	}
	return max
}

// BodyCapacity reports how many bodies to request given the peer's
// observed throughput, capped at the wire-level maximum.
func (p *PeerConnection) BodyCapacity(targetRTT time.Duration, max int) int {
	if c := p.bodyRate.Capacity(targetRTT); c < max {
		return c
	}
	return max
}

// MarkLacking records that the peer is known not to have hash. If the set
// is full, a random entry is evicted to make room.
func (p *PeerConnection) MarkLacking(hash types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.lacking) >= maxLackingHashes {
		for drop := range p.lacking {
			delete(p.lacking, drop)
			break
		}
	}
	p.lacking[hash] = struct{}{}
}

// Lacks reports whether the peer is known not to have hash.
func (p *PeerConnection) Lacks(hash types.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.lacking[hash]
	return ok
}

// PeeringEvent is published on a PeerSet's event feed when a peer joins or
// leaves.
type PeeringEvent struct {
	Peer *PeerConnection
	Join bool
}

var (
	errAlreadyRegistered = errors.New("wire: peer already registered")
	errNotRegistered     = errors.New("wire: peer not registered")
)

// PeerSet tracks the active set of peers participating in sync.
type PeerSet struct {
	mu    sync.RWMutex
	peers map[types.PeerID]*PeerConnection

	subMu sync.Mutex
	subs  []chan<- PeeringEvent
}

// NewPeerSet creates an empty peer set.
func NewPeerSet() *PeerSet {
	return &PeerSet{peers: make(map[types.PeerID]*PeerConnection)}
}

// Subscribe registers ch to receive peering events. There is no unsubscribe
// primitive; callers keep ch open for the lifetime of the PeerSet, matching
// this package's narrow, sync-engine-only usage.
func (ps *PeerSet) Subscribe(ch chan<- PeeringEvent) {
	ps.subMu.Lock()
	defer ps.subMu.Unlock()
	ps.subs = append(ps.subs, ch)
}

func (ps *PeerSet) publish(ev PeeringEvent) {
	ps.subMu.Lock()
	defer ps.subMu.Unlock()
	for _, ch := range ps.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Register adds a new peer connection to the set.
func (ps *PeerSet) Register(p *PeerConnection) error {
	id := p.Peer.ID()
	ps.mu.Lock()
	if _, ok := ps.peers[id]; ok {
		ps.mu.Unlock()
		return errAlreadyRegistered
	}
	ps.peers[id] = p
	ps.mu.Unlock()

	ps.publish(PeeringEvent{Peer: p, Join: true})
	return nil
}

// Unregister removes a peer connection from the set.
func (ps *PeerSet) Unregister(id types.PeerID) error {
	ps.mu.Lock()
	p, ok := ps.peers[id]
	if !ok {
		ps.mu.Unlock()
		return errNotRegistered
	}
	delete(ps.peers, id)
	ps.mu.Unlock()

	ps.publish(PeeringEvent{Peer: p, Join: false})
	return nil
}

// Peer retrieves the connection registered under id, if any.
func (ps *PeerSet) Peer(id types.PeerID) (*PeerConnection, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	p, ok := ps.peers[id]
	return p, ok
}

// Len reports the number of registered peers.
func (ps *PeerSet) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.peers)
}

// AllPeers returns a snapshot slice of all registered peers.
func (ps *PeerSet) AllPeers() []*PeerConnection {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make([]*PeerConnection, 0, len(ps.peers))
	for _, p := range ps.peers {
		out = append(out, p)
	}
	return out
}
