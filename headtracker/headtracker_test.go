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

package headtracker

import (
	"testing"

	"github.com/ethsync/peerpool/types"
	"github.com/ethsync/peerpool/xclock"
)

func header(n uint64, parent types.Hash) *types.Header {
	return &types.Header{Number: n, ParentHash: parent}
}

func TestNewStartsInOnlyHash(t *testing.T) {
	tr := New(xclock.System{}, nil, types.Hash{0x1})
	if tr.Mode() != OnlyHash {
		t.Fatalf("Mode() = %v, want OnlyHash", tr.Mode())
	}
}

func TestConcurrencyGuardRejectsSecondRequest(t *testing.T) {
	tr := New(xclock.System{}, nil, types.Hash{})
	if _, err := tr.NextRequest(); err != nil {
		t.Fatalf("first NextRequest: %v", err)
	}
	if _, err := tr.NextRequest(); err != ErrRequestPending {
		t.Fatalf("second NextRequest = %v, want ErrRequestPending", err)
	}
	tr.HandleTimeout()
	if _, err := tr.NextRequest(); err != nil {
		t.Fatalf("NextRequest after timeout cleared pending: %v", err)
	}
}

func TestEmptyReplyToGenesisProbeLocksAtZero(t *testing.T) {
	tr := New(xclock.System{}, nil, types.Hash{})
	tr.mode = HuntForward
	tr.huntLow, tr.huntHigh = 0, 100
	req, err := tr.NextRequest()
	if err != nil {
		t.Fatal(err)
	}
	// Force the exact probe shape the spec calls out: number 1, skip 0,
	// forward.
	tr.lastReq = Request{StartNumber: 1, Count: req.Count}
	if err := tr.HandleReply(nil); err != nil {
		t.Fatal(err)
	}
	if tr.Mode() != Locked {
		t.Fatalf("Mode() = %v, want Locked", tr.Mode())
	}
	n, h := tr.Best()
	if n != 0 || h != (types.Hash{}) {
		t.Fatalf("Best() = %d, %v; want 0, zero hash", n, h)
	}
}

func TestEmptyReplyInLockedIsReorg(t *testing.T) {
	tr := New(xclock.System{}, nil, types.Hash{})
	tr.mode = Locked
	tr.bestNumber = 1000
	if _, err := tr.NextRequest(); err != nil {
		t.Fatal(err)
	}
	if err := tr.HandleReply(nil); err != nil {
		t.Fatal(err)
	}
	if tr.Mode() != HuntBackward {
		t.Fatalf("Mode() = %v, want HuntBackward", tr.Mode())
	}
	if reorgs, _, _ := tr.Counters(); reorgs != 1 {
		t.Fatalf("reorgDetected = %d, want 1", reorgs)
	}
}

func TestShortReplyLocks(t *testing.T) {
	tr := New(xclock.System{}, nil, types.Hash{})
	tr.mode = HuntRangeFinal
	tr.bestNumber = 1000
	req, err := tr.NextRequest()
	if err != nil {
		t.Fatal(err)
	}
	if req.Count < LockedMinReply {
		t.Fatalf("request count %d too small for this test", req.Count)
	}
	headers := []*types.Header{header(500, types.Hash{}), header(501, types.Hash{})}
	if err := tr.HandleReply(headers); err != nil {
		t.Fatal(err)
	}
	if tr.Mode() != Locked {
		t.Fatalf("Mode() = %v, want Locked", tr.Mode())
	}
	n, _ := tr.Best()
	if n != 501 {
		t.Fatalf("bestNumber = %d, want 501", n)
	}
}

func TestExcessHeadersIsProtocolViolation(t *testing.T) {
	tr := New(xclock.System{}, nil, types.Hash{})
	req, err := tr.NextRequest()
	if err != nil {
		t.Fatal(err)
	}
	var headers []*types.Header
	for i := uint64(0); i < req.Count+1; i++ {
		headers = append(headers, header(i, types.Hash{}))
	}
	if err := tr.HandleReply(headers); err != ErrExcessHeaders {
		t.Fatalf("HandleReply = %v, want ErrExcessHeaders", err)
	}
	if _, excess, _ := tr.Counters(); excess != 1 {
		t.Fatalf("excessBlockHeaders = %d, want 1", excess)
	}
	// Pending must still be cleared so the tracker can proceed.
	if _, err := tr.NextRequest(); err != nil {
		t.Fatalf("NextRequest after excess reply: %v", err)
	}
}

func TestLockedRequestShape(t *testing.T) {
	tr := New(xclock.System{}, nil, types.Hash{})
	tr.mode = Locked
	tr.bestNumber = 1000
	req, err := tr.NextRequest()
	if err != nil {
		t.Fatal(err)
	}
	if req.StartNumber != 1000-LockedOverlap {
		t.Fatalf("StartNumber = %d, want %d", req.StartNumber, 1000-LockedOverlap)
	}
	if req.Count != LockedQuery {
		t.Fatalf("Count = %d, want %d", req.Count, LockedQuery)
	}
	if req.Skip != 0 || req.Reverse {
		t.Fatalf("Skip/Reverse = %d/%v, want 0/false", req.Skip, req.Reverse)
	}
}

func TestOnlyHashRequestUsesHash(t *testing.T) {
	h := types.Hash{0xaa}
	tr := New(xclock.System{}, nil, h)
	req, err := tr.NextRequest()
	if err != nil {
		t.Fatal(err)
	}
	if !req.UseHash || req.StartHash != h {
		t.Fatalf("expected hash-based request for %v, got %+v", h, req)
	}
}

func TestHuntForwardExpandsAndConverges(t *testing.T) {
	tr := New(xclock.System{}, nil, types.Hash{})
	tr.mode = HuntForward
	tr.huntLow, tr.huntHigh = 0, 1_000_000

	for i := 0; i < 64 && tr.Mode() == HuntForward; i++ {
		req, err := tr.NextRequest()
		if err != nil {
			t.Fatal(err)
		}
		// A full-length reply (never a short one, which would lock at
		// once) so the tracker has to widen its step and then converge.
		var headers []*types.Header
		for j := uint64(0); j < req.Count; j++ {
			headers = append(headers, header(req.StartNumber+j*(req.Skip+1), types.Hash{}))
		}
		if err := tr.HandleReply(headers); err != nil {
			t.Fatal(err)
		}
	}
	if tr.Mode() == HuntForward {
		t.Fatalf("hunt did not converge out of HuntForward after 64 rounds")
	}
}

func TestPollIntervalVariesByMode(t *testing.T) {
	tr := New(xclock.System{}, nil, types.Hash{})
	tr.mode = Locked
	if got := tr.PollInterval(); got != lockedPollInterval {
		t.Fatalf("Locked PollInterval = %v, want %v", got, lockedPollInterval)
	}
	tr.mode = HuntForward
	if got := tr.PollInterval(); got != huntPollInterval {
		t.Fatalf("Hunt PollInterval = %v, want %v", got, huntPollInterval)
	}
}
