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

// Package pivot implements the pivot negotiator of spec.md §4.3: before
// mass-downloading, establish that at least MinTrustedPeers peers agree
// on the existence of a chosen starting header.
package pivot

import (
	"math/rand"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ethsync/peerpool/types"
	"github.com/ethsync/peerpool/xlog"
)

// MinTrustedPeers is the default quorum size (spec.md §4.3).
const MinTrustedPeers = 2

// ComFailMax bounds how many consecutive fetch failures a candidate
// tolerates before it is zombied (spec.md §4.3 step 1).
const ComFailMax = 3

// CrossCheckResult is the outcome of a cross-check, the "ask the
// lower-difficulty peer q for the higher-difficulty peer p's best hash"
// round trip that a CrossCheckFunc performs on the negotiator's behalf
// (spec.md §6 wire operations). It is one of the three outcomes spec.md
// §4.3 step 3 names.
type CrossCheckResult int

const (
	// Agree means both peers concur on the candidate's best header.
	Agree CrossCheckResult = iota
	// Disagree means the two peers disagree; one must leave trusted.
	Disagree
	// OtherDead means the cross-check peer q itself failed to answer.
	OtherDead
)

// CrossCheckFunc asks q to confirm p's self-declared best hash.
type CrossCheckFunc func(p, q types.PeerID) CrossCheckResult

// FetchBestFunc fetches a peer's self-declared best header. It returns
// ok=false if the peer failed to answer.
type FetchBestFunc func(p types.PeerID) (header *types.Header, ok bool)

// Negotiator tracks the trusted/relaxed/untrusted peer sets of spec.md
// §4.3 and exposes pivotHeader's gating rule.
type Negotiator struct {
	log xlog.Logger

	relaxed bool

	trusted   mapset.Set[types.PeerID]
	relaxedSt mapset.Set[types.PeerID]
	untrusted mapset.Set[types.PeerID]

	fails  map[types.PeerID]int
	pivots map[types.PeerID]*types.Header

	fetchBest FetchBestFunc
	crossCheck CrossCheckFunc
}

// New creates a negotiator. relaxed enables relaxed mode (spec.md §4.3
// step 5), in which cross-checks are skipped entirely.
func New(log xlog.Logger, relaxed bool, fetchBest FetchBestFunc, crossCheck CrossCheckFunc) *Negotiator {
	if log == nil {
		log = xlog.Discard()
	}
	return &Negotiator{
		log:        log,
		relaxed:    relaxed,
		trusted:    mapset.NewSet[types.PeerID](),
		relaxedSt:  mapset.NewSet[types.PeerID](),
		untrusted:  mapset.NewSet[types.PeerID](),
		fails:      make(map[types.PeerID]int),
		pivots:     make(map[types.PeerID]*types.Header),
		fetchBest:  fetchBest,
		crossCheck: crossCheck,
	}
}

// Arrive processes a newly connected peer p through the negotiation
// algorithm of spec.md §4.3 steps 1-5.
func (n *Negotiator) Arrive(p types.PeerID) {
	header, ok := n.fetchBest(p)
	if !ok {
		n.fails[p]++
		if n.fails[p] >= ComFailMax {
			n.untrusted.Add(p)
			n.log.Debug("pivot candidate zombied after repeated fetch failures", "peer", p)
		}
		return
	}
	delete(n.fails, p)
	n.pivots[p] = header

	if n.relaxed {
		n.relaxedSt.Add(p)
		return
	}

	if n.trusted.Cardinality() < MinTrustedPeers {
		n.trusted.Add(p)
		return
	}

	n.crossCheckAgainstTrusted(p)
}

// crossCheckAgainstTrusted implements spec.md §4.3 step 3: cross-check p
// against every other trusted peer, one randomly chosen q at a time ("pick
// a random q ∈ trusted, q ≠ p"), retrying with a fresh q when the
// previous one turns out to be dead.
func (n *Negotiator) crossCheckAgainstTrusted(p types.PeerID) {
	visited := []types.PeerID{p}
	var agree int
	var disagreed []types.PeerID

	for {
		q, ok := n.RandomTrustedExcept(visited...)
		if !ok {
			break
		}
		visited = append(visited, q)

		switch n.crossCheck(p, q) {
		case Agree:
			agree++
		case Disagree:
			disagreed = append(disagreed, q)
		case OtherDead:
			n.trusted.Remove(q)
			n.untrusted.Add(q)
		}
	}

	switch {
	case agree == n.trusted.Cardinality():
		n.trusted.Add(p)
	case len(disagreed) == 1:
		n.trusted.Remove(disagreed[0])
		n.untrusted.Add(disagreed[0])
		n.trusted.Add(p)
	default:
		// Leave p out; it stays unclassified and may be retried later.
	}
}

// PivotHeader returns p's cached best header iff it is eligible to serve
// as a pivot, per spec.md §4.3's exposure rule.
func (n *Negotiator) PivotHeader(p types.PeerID) (*types.Header, bool) {
	if n.untrusted.Contains(p) {
		return nil, false
	}
	eligible := n.relaxed && n.relaxedSt.Contains(p)
	eligible = eligible || (n.trusted.Cardinality() >= MinTrustedPeers && n.trusted.Contains(p))
	if !eligible {
		return nil, false
	}
	return n.pivots[p], n.pivots[p] != nil
}

// RandomTrustedExcept returns a random trusted peer that is not in exclude,
// used by crossCheckAgainstTrusted to pick the cross-check partner q in
// step 3 and to draw a fresh one on retry after an other-dead outcome.
func (n *Negotiator) RandomTrustedExcept(exclude ...types.PeerID) (types.PeerID, bool) {
	skip := make(map[types.PeerID]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	candidates := make([]types.PeerID, 0, n.trusted.Cardinality())
	for _, id := range n.trusted.ToSlice() {
		if _, excluded := skip[id]; !excluded {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[rand.Intn(len(candidates))], true
}
