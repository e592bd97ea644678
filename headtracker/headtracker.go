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

// Package headtracker implements the per-peer canonical-head hunt/lock
// state machine (spec.md §4.2, component C3). A Tracker converges on a
// peer's head in O(log N) GetBlockHeaders round trips, then polls it for
// small updates and reorgs without ever issuing overlapping queries.
package headtracker

import (
	"errors"
	"time"

	"github.com/ethsync/peerpool/types"
	"github.com/ethsync/peerpool/xclock"
	"github.com/ethsync/peerpool/xlog"
)

// Mode is the head-tracker's current phase.
type Mode int

const (
	// Locked means bestNumber/bestHash are believed accurate; the tracker
	// polls periodically for small advances and reorgs.
	Locked Mode = iota
	// OnlyHash means only a self-announced best hash is known, no number.
	OnlyHash
	// HuntForward is an expanding forward probe for the peer's head.
	HuntForward
	// HuntBackward is an expanding backward probe below huntHigh, used
	// after a reorg or when the hunt window collapses.
	HuntBackward
	// HuntRange is a converging binary search within [huntLow, huntHigh].
	HuntRange
	// HuntRangeFinal is the last narrow probe before locking.
	HuntRangeFinal
)

func (m Mode) String() string {
	switch m {
	case Locked:
		return "locked"
	case OnlyHash:
		return "only-hash"
	case HuntForward:
		return "hunt-forward"
	case HuntBackward:
		return "hunt-backward"
	case HuntRange:
		return "hunt-range"
	case HuntRangeFinal:
		return "hunt-range-final"
	default:
		return "unknown"
	}
}

// Fixed parameters from spec.md §4.2.
const (
	LockedMinReply = 8
	LockedOverlap  = 4
	LockedQuery    = 192

	HuntQuery    = 16
	HuntFwdShift = 4
	HuntBwdShift = 1

	MaxHeadersFetch = 192

	lockedPollInterval = 1000 * time.Millisecond
	huntPollInterval   = 50 * time.Millisecond
)

func init() {
	if LockedMinReply < LockedOverlap+2 {
		panic("headtracker: LOCKED_MIN_REPLY must be >= LOCKED_OVERLAP + 2")
	}
	if LockedQuery > MaxHeadersFetch {
		panic("headtracker: LOCKED_QUERY must be <= MAX_HEADERS_FETCH")
	}
}

var (
	// ErrRequestPending is returned by NextRequest when a previous request
	// has not yet been resolved via HandleReply/HandleTimeout/HandleError.
	ErrRequestPending = errors.New("headtracker: a GetBlockHeaders request is already pending")
	// ErrNoRequestPending is returned when a reply arrives with nothing in
	// flight, which indicates a caller bug.
	ErrNoRequestPending = errors.New("headtracker: no GetBlockHeaders request pending")
	// ErrExcessHeaders signals a protocol violation: the peer returned more
	// headers than requested. The caller should disconnect the peer.
	ErrExcessHeaders = errors.New("headtracker: peer returned more headers than requested")
)

// Request describes a GetBlockHeaders call the tracker wants issued.
type Request struct {
	UseHash     bool
	StartHash   types.Hash
	StartNumber uint64
	Count       uint64
	Skip        uint64
	Reverse     bool
}

// Tracker is the per-peer head-tracker state machine.
type Tracker struct {
	log   xlog.Logger
	clock xclock.Clock

	mode       Mode
	bestNumber uint64
	bestHash   types.Hash

	huntLow  uint64
	huntHigh uint64
	huntStep uint64

	pending bool
	lastReq Request

	reorgDetected       int
	excessBlockHeaders  int
	timeoutBlockHeaders int
}

// New creates a tracker that starts in OnlyHash mode with the peer's
// self-announced best hash, matching how a freshly connected peer is
// bootstrapped (spec.md §4.2 "OnlyHash").
func New(clock xclock.Clock, log xlog.Logger, announcedHash types.Hash) *Tracker {
	if log == nil {
		log = xlog.Discard()
	}
	return &Tracker{
		log:      log,
		clock:    clock,
		mode:     OnlyHash,
		bestHash: announcedHash,
	}
}

// Mode reports the tracker's current state.
func (t *Tracker) Mode() Mode { return t.mode }

// Best reports the tracker's current best-known number/hash hint.
func (t *Tracker) Best() (uint64, types.Hash) { return t.bestNumber, t.bestHash }

// Counters reports the protocol-health counters feeding the caller's
// decision to disconnect or otherwise penalize a peer.
func (t *Tracker) Counters() (reorgs, excess, timeouts int) {
	return t.reorgDetected, t.excessBlockHeaders, t.timeoutBlockHeaders
}

// PollInterval reports how long the worker loop should sleep between
// polls in the tracker's current mode (spec.md §4.2 "Polling cadence").
func (t *Tracker) PollInterval() time.Duration {
	if t.mode == Locked {
		return lockedPollInterval
	}
	return huntPollInterval
}

func (t *Tracker) maxStep() uint64 {
	if t.huntHigh <= t.huntLow+1 {
		return 0
	}
	return (t.huntHigh - t.huntLow - 1) / HuntQuery
}

// NextRequest builds the next GetBlockHeaders request for the tracker's
// current state and marks a request as pending (spec.md §4.2 "Concurrency
// guard"). Callers MUST resolve it via HandleReply, HandleTimeout or
// HandleError before calling NextRequest again.
func (t *Tracker) NextRequest() (Request, error) {
	if t.pending {
		return Request{}, ErrRequestPending
	}
	req := t.buildRequest()
	t.pending = true
	t.lastReq = req
	return req, nil
}

func (t *Tracker) buildRequest() Request {
	switch t.mode {
	case Locked:
		start := uint64(1)
		if t.bestNumber > LockedOverlap {
			start = t.bestNumber - LockedOverlap
		}
		count := uint64(LockedQuery)
		if start > 0 && count > 0 && start+count-1 < start {
			// would overflow u64::MAX; clamp count down.
			count = ^uint64(0) - start + 1
		}
		return Request{StartNumber: start, Count: count}

	case OnlyHash:
		return Request{UseHash: true, StartHash: t.bestHash, Count: LockedQuery}

	case HuntForward:
		step := t.huntStep
		if step < 1 {
			step = 1
		}
		return Request{StartNumber: t.huntLow + step, Count: HuntQuery, Skip: step - 1}

	case HuntBackward:
		step := t.huntStep
		if step < 1 {
			step = 1
		}
		shift := step * HuntQuery
		var start uint64
		if t.huntHigh > shift {
			start = t.huntHigh - shift
		}
		return Request{StartNumber: start, Count: HuntQuery, Skip: step - 1}

	case HuntRange:
		maxStep := t.maxStep()
		if maxStep < 1 {
			maxStep = 1
		}
		rng := t.huntHigh - t.huntLow
		var offset uint64
		span := maxStep * (HuntQuery - 1)
		if rng > span {
			offset = (rng-span)/2 + 1
		} else {
			offset = 1
		}
		return Request{StartNumber: t.huntLow + offset, Count: HuntQuery, Skip: maxStep - 1}

	case HuntRangeFinal:
		overlap := uint64(LockedOverlap)
		if t.bestNumber > 0 && overlap > t.bestNumber-1 {
			overlap = t.bestNumber - 1
		}
		start := t.bestNumber - overlap
		count := uint64(HuntQuery)
		if count < 2 {
			count = 2
		}
		return Request{StartNumber: start, Count: count}
	}
	return Request{}
}

// HandleTimeout resolves a pending request as a timeout, per spec.md §4.2
// "Protocol-violation checks".
func (t *Tracker) HandleTimeout() {
	t.timeoutBlockHeaders++
	t.pending = false
}

// HandleError resolves a pending request with a non-timeout transport
// error without touching the tracker's belief state; the caller's
// communication-error classifier (§4.8) is responsible for zombie policy.
func (t *Tracker) HandleError() {
	t.pending = false
}

// HandleReply resolves a pending request with a GetBlockHeaders response
// and advances the state machine, per spec.md §4.2 "Reply handling".
func (t *Tracker) HandleReply(headers []*types.Header) error {
	if !t.pending {
		return ErrNoRequestPending
	}
	req := t.lastReq
	defer func() { t.pending = false }()

	if uint64(len(headers)) > req.Count {
		t.excessBlockHeaders++
		return ErrExcessHeaders
	}

	if len(headers) == 0 {
		t.handleEmptyReply(req)
		return nil
	}
	t.handleNonEmptyReply(req, headers)
	return nil
}

func (t *Tracker) handleEmptyReply(req Request) {
	if !req.UseHash && req.StartNumber == 1 && req.Skip == 0 && !req.Reverse {
		t.mode = Locked
		t.bestNumber = 0
		t.bestHash = types.Hash{}
		return
	}

	switch t.mode {
	case Locked:
		t.reorgDetected++
		t.mode = HuntBackward
		t.huntLow = 0
		t.huntHigh = req.StartNumber
		t.huntStep = 0
	case OnlyHash:
		t.reorgDetected++
		t.mode = HuntForward
		t.huntLow = 0
		t.huntHigh = 0
		t.huntStep = 0
	default:
		t.updateHuntAbsent(req.StartNumber)
	}
}

func (t *Tracker) handleNonEmptyReply(req Request, headers []*types.Header) {
	last := headers[len(headers)-1]

	short := uint64(len(headers)) < LockedMinReply &&
		uint64(len(headers)) < req.Count &&
		req.Skip == 0 && !req.Reverse
	if short {
		t.bestNumber = last.Number
		t.bestHash = last.Hash()
		t.mode = Locked
		return
	}

	prevBest := t.bestNumber
	if last.Number > t.bestNumber {
		t.bestNumber = last.Number
		t.bestHash = last.Hash()
	}

	switch t.mode {
	case Locked, OnlyHash:
		if last.Number > prevBest {
			t.mode = HuntForward
			t.huntLow = last.Number
			t.huntHigh = last.Number + HuntQuery*uint64(1<<HuntFwdShift)
			t.huntStep = 0
		}
	default:
		t.updateHuntPresent(last.Number)
	}
}

// updateHuntPresent records that headers up to highestPresent exist on the
// peer, narrowing the hunt window from below and possibly converging.
func (t *Tracker) updateHuntPresent(highestPresent uint64) {
	if highestPresent > t.huntLow {
		t.huntLow = highestPresent
	}
	t.growHuntStep(HuntFwdShift)
}

// updateHuntAbsent records that lowestAbsent is missing on the peer,
// narrowing the hunt window from above; if the window collapses the
// tracker falls back to an unbounded backward hunt.
func (t *Tracker) updateHuntAbsent(lowestAbsent uint64) {
	if t.huntHigh == 0 || lowestAbsent < t.huntHigh {
		t.huntHigh = lowestAbsent
	}
	t.growHuntStep(HuntBwdShift)
	if t.huntHigh <= t.huntLow {
		t.mode = HuntBackward
		t.huntLow = 0
		t.huntStep = 0
	}
}

func (t *Tracker) growHuntStep(shift uint) {
	if t.huntStep < 1 {
		t.huntStep = 1
	}
	t.huntStep <<= shift

	maxStep := t.maxStep()
	if t.mode == HuntForward || t.mode == HuntBackward {
		if maxStep == 0 || t.huntStep >= maxStep>>shift {
			t.mode = HuntRange
		}
	}
	if t.huntHigh > t.huntLow && t.huntHigh-t.huntLow < HuntQuery {
		t.mode = HuntRangeFinal
	}
}
