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

package wire

import (
	"context"
	"testing"
	"time"

	"github.com/ethsync/peerpool/types"
)

type stubPeer struct {
	id types.PeerID
}

func (p *stubPeer) ID() types.PeerID { return p.id }
func (p *stubPeer) GetBlockHeaders(ctx context.Context, req HeadersRequest) ([]*types.Header, error) {
	return nil, nil
}
func (p *stubPeer) GetBlockBodies(ctx context.Context, hashes []types.Hash) ([]*types.Body, error) {
	return nil, nil
}
func (p *stubPeer) Status(ctx context.Context) (*StatusMsg, error) { return &StatusMsg{}, nil }

func TestRateTrackerCapacityBeforeAnyUpdate(t *testing.T) {
	var r RateTracker
	if c := r.Capacity(time.Second); c != 1 {
		t.Fatalf("Capacity() = %d, want 1 for a cold tracker", c)
	}
}

func TestRateTrackerCapacityTracksThroughput(t *testing.T) {
	var r RateTracker
	r.Update(100, time.Second)
	if c := r.Capacity(time.Second); c != 100 {
		t.Fatalf("Capacity() = %d, want 100", c)
	}
}

func TestRateTrackerUpdateIgnoresDegenerateSamples(t *testing.T) {
	var r RateTracker
	r.Update(0, time.Second)
	r.Update(100, 0)
	if c := r.Capacity(time.Second); c != 1 {
		t.Fatalf("Capacity() = %d, want 1 (no valid sample folded in)", c)
	}
}

func TestPeerConnectionHeaderCapacityCapsAtMax(t *testing.T) {
	p := NewPeerConnection(&stubPeer{id: "p1"}, nil)
	p.UpdateHeaderRate(1000, time.Second)
	if c := p.HeaderCapacity(time.Second, 192); c != 192 {
		t.Fatalf("HeaderCapacity() = %d, want capped at 192", c)
	}
}

func TestPeerConnectionLackingRoundTrip(t *testing.T) {
	p := NewPeerConnection(&stubPeer{id: "p1"}, nil)
	var h types.Hash
	h[0] = 0xaa
	if p.Lacks(h) {
		t.Fatal("Lacks() = true before MarkLacking")
	}
	p.MarkLacking(h)
	if !p.Lacks(h) {
		t.Fatal("Lacks() = false after MarkLacking")
	}
}

func TestPeerSetRegisterUnregisterPublishesEvents(t *testing.T) {
	ps := NewPeerSet()
	events := make(chan PeeringEvent, 4)
	ps.Subscribe(events)

	pc := NewPeerConnection(&stubPeer{id: "p1"}, nil)
	if err := ps.Register(pc); err != nil {
		t.Fatal(err)
	}
	if err := ps.Register(pc); err != errAlreadyRegistered {
		t.Fatalf("second Register err = %v, want errAlreadyRegistered", err)
	}
	if ps.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", ps.Len())
	}
	if got, ok := ps.Peer("p1"); !ok || got != pc {
		t.Fatal("Peer(\"p1\") did not return the registered connection")
	}

	if err := ps.Unregister("p1"); err != nil {
		t.Fatal(err)
	}
	if err := ps.Unregister("p1"); err != errNotRegistered {
		t.Fatalf("second Unregister err = %v, want errNotRegistered", err)
	}
	if ps.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after Unregister", ps.Len())
	}

	select {
	case ev := <-events:
		if !ev.Join || ev.Peer != pc {
			t.Fatalf("first event = %+v, want Join=true for pc", ev)
		}
	default:
		t.Fatal("expected a join event")
	}
	select {
	case ev := <-events:
		if ev.Join || ev.Peer != pc {
			t.Fatalf("second event = %+v, want Join=false for pc", ev)
		}
	default:
		t.Fatal("expected a leave event")
	}
}

func TestPeerSetAllPeersSnapshot(t *testing.T) {
	ps := NewPeerSet()
	a := NewPeerConnection(&stubPeer{id: "a"}, nil)
	b := NewPeerConnection(&stubPeer{id: "b"}, nil)
	ps.Register(a)
	ps.Register(b)

	all := ps.AllPeers()
	if len(all) != 2 {
		t.Fatalf("AllPeers() len = %d, want 2", len(all))
	}
}
