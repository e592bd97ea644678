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

package pivot

import (
	"testing"

	"github.com/ethsync/peerpool/types"
)

func fixedHeader(n uint64) *types.Header { return &types.Header{Number: n} }

func TestFirstTwoPeersBecomeTrustedWithoutPivot(t *testing.T) {
	fetch := func(p types.PeerID) (*types.Header, bool) { return fixedHeader(100), true }
	cross := func(p, q types.PeerID) CrossCheckResult { return Agree }
	n := New(nil, false, fetch, cross)

	n.Arrive("a")
	n.Arrive("b")

	if _, ok := n.PivotHeader("a"); ok {
		t.Fatalf("pivot should not be exposed before quorum reaches MinTrustedPeers")
	}
	if n.trusted.Cardinality() != 2 {
		t.Fatalf("trusted.Cardinality() = %d, want 2", n.trusted.Cardinality())
	}
}

func TestThirdPeerAgreeingExposesAllPivots(t *testing.T) {
	fetch := func(p types.PeerID) (*types.Header, bool) { return fixedHeader(100), true }
	cross := func(p, q types.PeerID) CrossCheckResult { return Agree }
	n := New(nil, false, fetch, cross)

	n.Arrive("a")
	n.Arrive("b")
	n.Arrive("c")

	for _, p := range []types.PeerID{"a", "b", "c"} {
		if _, ok := n.PivotHeader(p); !ok {
			t.Fatalf("expected pivot exposed for %q once quorum agrees", p)
		}
	}
}

func TestDisagreeingPeerIsSwappedOut(t *testing.T) {
	fetch := func(p types.PeerID) (*types.Header, bool) { return fixedHeader(100), true }
	cross := func(p, q types.PeerID) CrossCheckResult {
		if q == "b" {
			return Disagree
		}
		return Agree
	}
	n := New(nil, false, fetch, cross)

	n.Arrive("a")
	n.Arrive("b")
	n.Arrive("c")

	if n.trusted.Contains("b") {
		t.Fatalf("peer b should have been swapped out of trusted")
	}
	if !n.untrusted.Contains("b") {
		t.Fatalf("peer b should have been moved to untrusted")
	}
	if !n.trusted.Contains("c") {
		t.Fatalf("peer c should have taken b's place in trusted")
	}
}

func TestRelaxedModeSkipsCrossCheck(t *testing.T) {
	fetch := func(p types.PeerID) (*types.Header, bool) { return fixedHeader(100), true }
	cross := func(p, q types.PeerID) CrossCheckResult {
		t.Fatalf("cross-check must not run in relaxed mode")
		return Agree
	}
	n := New(nil, true, fetch, cross)

	n.Arrive("a")
	if _, ok := n.PivotHeader("a"); !ok {
		t.Fatalf("relaxed mode should expose the pivot immediately after step 1")
	}
}

func TestRandomTrustedExceptExcludesGivenIDs(t *testing.T) {
	fetch := func(p types.PeerID) (*types.Header, bool) { return fixedHeader(100), true }
	cross := func(p, q types.PeerID) CrossCheckResult { return Agree }
	n := New(nil, false, fetch, cross)

	n.Arrive("a")
	n.Arrive("b")

	for i := 0; i < 20; i++ {
		q, ok := n.RandomTrustedExcept("a")
		if !ok || q != "b" {
			t.Fatalf("RandomTrustedExcept(%q) = (%q, %v), want (\"b\", true)", "a", q, ok)
		}
	}
	if _, ok := n.RandomTrustedExcept("a", "b"); ok {
		t.Fatalf("RandomTrustedExcept should report no candidate once every trusted peer is excluded")
	}
}

func TestCrossCheckVisitsEveryTrustedPeerExactlyOnce(t *testing.T) {
	visits := make(map[types.PeerID]int)
	fetch := func(p types.PeerID) (*types.Header, bool) { return fixedHeader(100), true }
	cross := func(p, q types.PeerID) CrossCheckResult {
		visits[q]++
		return Agree
	}
	n := New(nil, false, fetch, cross)

	n.Arrive("a")
	n.Arrive("b")
	// c's arrival is the first to trigger crossCheckAgainstTrusted, against
	// the trusted set {a, b} in some random order.
	n.Arrive("c")

	for _, q := range []types.PeerID{"a", "b"} {
		if visits[q] != 1 {
			t.Fatalf("crossCheckAgainstTrusted visited %q %d times, want exactly 1 (random order, no repeats)", q, visits[q])
		}
	}
	if visits["c"] != 0 {
		t.Fatalf("crossCheckAgainstTrusted should never cross-check p against itself")
	}
}

func TestFetchFailureZombiesAfterComFailMax(t *testing.T) {
	fetch := func(p types.PeerID) (*types.Header, bool) { return nil, false }
	cross := func(p, q types.PeerID) CrossCheckResult { return Agree }
	n := New(nil, false, fetch, cross)

	for i := 0; i < ComFailMax; i++ {
		n.Arrive("a")
	}
	if !n.untrusted.Contains("a") {
		t.Fatalf("peer should be untrusted after ComFailMax consecutive failures")
	}
	if _, ok := n.PivotHeader("a"); ok {
		t.Fatalf("an untrusted peer must never expose a pivot")
	}
}
