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

// Package skeleton implements the backward-extending skeleton sync engine
// of spec.md §4.5: a post-merge header chain grown backward from a
// consensus-layer-announced head, tracked as a set of disjoint subchains
// that merge as they link up, and finally drained forward into the
// canonical chain once fully linked.
//
// Grounded directly on the real go-ethereum skeleton downloader
// (A-Chain-AChain-smart-contract/eth/downloader/skeleton.go), the one
// complete non-test implementation of this subsystem retained in the
// example pack; see DESIGN.md for the detailed mapping.
package skeleton

import (
	"errors"
	"sync"

	"github.com/ethsync/peerpool/syncdb"
	"github.com/ethsync/peerpool/types"
	"github.com/ethsync/peerpool/xlog"
)

// SubchainMergeMin is the minimum gain (in headers) required before two
// adjoining subchains are merged, default per spec.md §4.5.
const SubchainMergeMin = 1000

// FillBackStep is how far fillCanonicalChain rewinds on a validation
// failure, default per spec.md §4.5.
const FillBackStep = 100

var (
	// ErrReorgDenied is returned by SetHead when a conflicting head arrives
	// with force == false; the caller decides whether to escalate.
	ErrReorgDenied = errors.New("skeleton: head conflicts with existing subchain, reorg denied")
	// ErrSyncReorged signals that SetHead tore down state and the caller
	// must call InitSync with the new head.
	ErrSyncReorged = errors.New("skeleton: head reorged, call InitSync again")
	// ErrLinkMismatch is fatal to a PutBlocks batch: a delivered header's
	// hash did not match the subchain's expected next link.
	ErrLinkMismatch = errors.New("skeleton: delivered header does not match the expected link")
)

// Subchain is a contiguous, possibly not-yet-linked run of headers.
type Subchain struct {
	Head uint64
	Tail uint64
	Next types.Hash
}

// Store is the persistence boundary for skeleton state (spec.md §6
// "Persisted state layout"): by-number headers, hash-to-number, and the
// subchain progress record. Wire codecs and the database itself are out
// of scope (spec.md §1); callers back this with their real store.
type Store interface {
	PutHeader(number uint64, h *types.Header)
	GetHeader(number uint64) (*types.Header, bool)
	DeleteHeader(number uint64)

	PutHashToNumber(hash types.Hash, number uint64)
	GetNumberForHash(hash types.Hash) (uint64, bool)

	PutProgress(subchains []Subchain)
	GetProgress() ([]Subchain, bool)
}

// Skeleton is the backward-extending header sync state machine. A single
// instance is driven by every connected peer's worker once it has a
// pivot (spec.md §4.6 multiOk lets those workers overlap), so every
// exported method that touches subchains/canonicalHead/pulled takes mu.
type Skeleton struct {
	store Store
	log   xlog.Logger

	mu sync.Mutex

	subchains []Subchain // most recent (primary) first, per spec.md §4.5

	canonicalHead uint64 // highest number imported via FillCanonicalChain
	pulled        uint64 // headers downloaded in this run
}

// New creates a skeleton backed by store, restoring any previously
// persisted subchains.
func New(store Store, log xlog.Logger) *Skeleton {
	if log == nil {
		log = xlog.Discard()
	}
	sk := &Skeleton{store: store, log: log}
	if subchains, ok := store.GetProgress(); ok {
		sk.subchains = subchains
	}
	return sk
}

// Subchains returns a copy of the current subchain list, most recent
// first.
func (sk *Skeleton) Subchains() []Subchain {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	out := make([]Subchain, len(sk.subchains))
	copy(out, sk.subchains)
	return out
}

func (sk *Skeleton) persist() {
	sk.store.PutProgress(sk.subchains)
}

// InitSync processes a freshly announced head, creating, extending or
// trimming subchains as needed, per spec.md §4.5 "initSync".
func (sk *Skeleton) InitSync(head *types.Header) {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	sk.initSyncLocked(head)
}

// initSyncLocked assumes sk.mu is held; SetHead calls it directly to avoid
// relocking when it already holds the lock.
func (sk *Skeleton) initSyncLocked(head *types.Header) {
	number := head.Number
	hash := head.Hash()

	headchain := Subchain{Head: number, Tail: number, Next: head.ParentHash}

	for len(sk.subchains) > 0 {
		last := sk.subchains[0]
		if last.Tail >= headchain.Tail {
			sk.log.Debug("dropping skeleton subchain", "head", last.Head, "tail", last.Tail)
			sk.subchains = sk.subchains[1:]
			continue
		}
		if last.Head >= headchain.Tail {
			sk.log.Debug("trimming skeleton subchain", "oldhead", last.Head, "newhead", headchain.Tail-1)
			sk.subchains[0].Head = headchain.Tail - 1
		}
		break
	}

	extended := false
	if len(sk.subchains) > 0 {
		last := sk.subchains[0]
		if last.Head == headchain.Tail-1 {
			if stored, ok := sk.store.GetHeader(last.Head); ok && stored.Hash() == head.ParentHash {
				sk.subchains[0].Head = headchain.Tail
				extended = true
				sk.log.Debug("extended skeleton subchain with new head", "head", headchain.Tail, "tail", last.Tail)
			}
		}
	}
	if !extended {
		sk.subchains = append([]Subchain{headchain}, sk.subchains...)
		sk.log.Debug("created new skeleton subchain", "head", number, "tail", number)
	}

	sk.store.PutHeader(number, head)
	sk.store.PutHashToNumber(hash, number)
	sk.persist()
}

// SetHead processes an incremental head announcement, per spec.md §4.5
// "setHead". With force == true a conflicting head returns ErrSyncReorged
// and the caller must call InitSync again; with force == false it returns
// ErrReorgDenied and leaves state untouched.
func (sk *Skeleton) SetHead(head *types.Header, force bool) error {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	if len(sk.subchains) == 0 {
		sk.initSyncLocked(head)
		return nil
	}
	last := sk.subchains[0]
	number := head.Number

	var reorg bool
	switch {
	case number <= last.Head:
		// Within the known range: either the identical header (no-op) or
		// a conflicting one (reorg), never an extension.
		stored, ok := sk.store.GetHeader(number)
		if ok && stored.Hash() == head.Hash() {
			return nil
		}
		reorg = true
	case number == last.Head+1:
		parent, ok := sk.store.GetHeader(last.Head)
		reorg = !ok || parent.Hash() != head.ParentHash
	default:
		// A jump of more than one block ahead of the known head.
		reorg = true
	}
	if reorg {
		if force {
			sk.subchains = nil
			return ErrSyncReorged
		}
		return ErrReorgDenied
	}

	sk.store.PutHeader(number, head)
	sk.store.PutHashToNumber(head.Hash(), number)
	sk.subchains[0].Head = number
	sk.persist()
	return nil
}

// PutBlocks delivers a batch of headers newest-first, extending the
// primary subchain backward, per spec.md §4.5 "putBlocks". It returns
// whether a subchain merge occurred, which the caller must treat as a
// signal to restart the backward fetcher.
func (sk *Skeleton) PutBlocks(headers []*types.Header) (merged bool, err error) {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	for _, h := range headers {
		if len(sk.subchains) == 0 {
			return merged, ErrLinkMismatch
		}
		if h.Hash() != sk.subchains[0].Next {
			return merged, ErrLinkMismatch
		}
		sk.store.PutHeader(h.Number, h)
		sk.store.PutHashToNumber(h.Hash(), h.Number)
		sk.pulled++

		sk.subchains[0].Tail--
		sk.subchains[0].Next = h.ParentHash

		if sk.trySubchainsMerge() {
			merged = true
		}
	}
	sk.persist()
	return merged, nil
}

// trySubchainsMerge trims or merges the second subchain into the primary
// one, per spec.md §4.5's merge rule.
func (sk *Skeleton) trySubchainsMerge() bool {
	for len(sk.subchains) > 1 && sk.subchains[1].Head >= sk.subchains[0].Tail {
		second := sk.subchains[1]
		if second.Tail >= sk.subchains[0].Tail {
			sk.subchains = append(sk.subchains[:1], sk.subchains[2:]...)
			continue
		}
		sk.subchains[1].Head = sk.subchains[0].Tail - 1

		stored, ok := sk.store.GetHeader(sk.subchains[1].Head)
		if ok && stored.Hash() == sk.subchains[0].Next && sk.subchains[1].Head-sk.subchains[1].Tail > SubchainMergeMin {
			sk.subchains[0].Tail = sk.subchains[1].Tail
			sk.subchains[0].Next = sk.subchains[1].Next
			sk.subchains = append(sk.subchains[:1], sk.subchains[2:]...)
			return true
		}
		break
	}
	return false
}

// IsLinked reports whether the primary subchain's tail connects to a
// header already present below it, per spec.md §4.5 "isLinked".
func (sk *Skeleton) IsLinked() bool {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	return sk.isLinkedLocked()
}

func (sk *Skeleton) isLinkedLocked() bool {
	if len(sk.subchains) == 0 || sk.subchains[0].Tail == 0 {
		return false
	}
	stored, ok := sk.store.GetHeader(sk.subchains[0].Tail - 1)
	return ok && stored.Hash() == sk.subchains[0].Next
}

// FillCanonicalChain imports stored headers forward from canonicalHead+1
// (or from the primary subchain's tail, if that is higher, since the linked
// header below the tail is already canonical) up to the primary subchain's
// head once linked, per spec.md §4.5 "fillCanonicalChain". It deletes each
// imported header from the store. On a validation failure it invokes
// backStep.
func (sk *Skeleton) FillCanonicalChain(db syncdb.Database) {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	if !sk.isLinkedLocked() || len(sk.subchains) == 0 {
		return
	}
	head := sk.subchains[0].Head
	start := sk.canonicalHead + 1
	if start < sk.subchains[0].Tail {
		start = sk.subchains[0].Tail
	}
	for n := start; n <= head; n++ {
		h, ok := sk.store.GetHeader(n)
		if !ok {
			break
		}
		if db.PersistBlocks([]*types.Header{h}, []*types.Body{{}}) != syncdb.Ok {
			sk.backStep()
			return
		}
		sk.store.DeleteHeader(n)
		sk.canonicalHead = n
	}
}

// backStep rewinds the primary subchain's tail by FillBackStep headers
// after a fill validation failure, per spec.md §4.5.
func (sk *Skeleton) backStep() {
	if len(sk.subchains) == 0 {
		return
	}
	newTail := sk.subchains[0].Tail
	if newTail > FillBackStep {
		newTail -= FillBackStep
	} else {
		newTail = 0
	}
	h, ok := sk.store.GetHeader(newTail)
	if !ok {
		sk.subchains = nil
		sk.persist()
		return
	}
	sk.subchains[0].Tail = newTail
	sk.subchains[0].Next = h.ParentHash
	sk.persist()
}
