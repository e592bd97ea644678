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

// Package blockqueue implements the pre-merge forward-sync work queue of
// spec.md §4.4: an interval-addressed pipeline of fetch items that lays
// down headers, fills in bodies, stages completed ranges and drains them
// in order into the chain importer.
package blockqueue

import (
	"errors"
	"math"
	"sync"

	"github.com/ethsync/peerpool/interval"
	"github.com/ethsync/peerpool/ordered"
	"github.com/ethsync/peerpool/types"
	"github.com/ethsync/peerpool/wire"
	"github.com/ethsync/peerpool/xlog"
)

// Wire-level limits from spec.md §6.
const (
	MaxHeadersFetch = 192
	MaxBodiesFetch  = 128
)

// Staging thresholds from spec.md §4.4.
const (
	StagedTrigger = 50
	StagedMax     = 70
)

var (
	ErrNoMoreUnprocessed = errors.New("blockqueue: no unprocessed ranges remain")
	ErrNoMorePeerBlocks  = errors.New("blockqueue: peer's known height is below the next unprocessed range")
	ErrEmptyHeaderReply  = errors.New("blockqueue: peer returned no headers")
	ErrBadFirstHeader    = errors.New("blockqueue: first header number does not match the request")
	ErrUnmatchedBody     = errors.New("blockqueue: a header's body could not be matched in the reply")
	ErrBlockNumberGap    = errors.New("blockqueue: least staged item does not continue from topAccepted")
)

// WorkItem is a contiguous range of blocks in flight: headers fetched,
// optionally bodies filled in, on the way to being staged and imported.
type WorkItem struct {
	Blocks interval.Range

	// TopHash, when set, means this item is a backtrack item: headers are
	// fetched by a reverse query starting at this hash rather than by an
	// ascending number range (spec.md §4.4 "Backtrack").
	TopHash *types.Hash

	Headers []*types.Header
	Bodies  []*types.Body
}

// BodyHasher derives the (txRoot, unclesHash) pair a delivered body must
// match against its header. Real trie/RLP hashing is out of scope
// (spec.md §1); callers supply the real implementation.
type BodyHasher func(*types.Body) (txRoot, unclesHash types.Hash)

// Queue is the state shared across peers for forward block-range sync.
// Once a peer's head-tracker locks, the scheduler may run its worker
// concurrently with other peers (spec.md §4.6 multiOk), so every exported
// method that touches the shared interval/staging state takes mu; the
// wire round trips themselves happen outside any lock.
type Queue struct {
	log xlog.Logger

	mu sync.Mutex

	unprocessed *interval.Set
	staged      *ordered.Table[*WorkItem]
	topAccepted uint64
	backtrack   *types.Hash
}

// New creates a queue that will fetch everything above topAccepted.
func New(log xlog.Logger, topAccepted uint64) *Queue {
	if log == nil {
		log = xlog.Discard()
	}
	return &Queue{
		log:         log,
		unprocessed: interval.NewFull(topAccepted+1, math.MaxUint64),
		staged:      ordered.New[*WorkItem](),
		topAccepted: topAccepted,
	}
}

// TopAccepted reports the largest contiguous block number imported so far.
func (q *Queue) TopAccepted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.topAccepted
}

// Backtrack reports the pending backtrack hash, if any.
func (q *Queue) Backtrack() (types.Hash, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.backtrack == nil {
		return types.Hash{}, false
	}
	return *q.backtrack, true
}

// StagedLen reports how many items are currently staged, used by the
// scheduler to decide when to enter pool mode (spec.md §4.4 "stage").
func (q *Queue) StagedLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.staged.Len()
}

// NewWorkItem claims the next unprocessed range up to the peer's known
// height, per spec.md §4.4 "newWorkItem". The range is sized at the full
// MaxHeadersFetch; use NewWorkItemCap to size it to a peer's observed
// capacity instead.
func (q *Queue) NewWorkItem(peerBest uint64) (*WorkItem, error) {
	return q.NewWorkItemCap(peerBest, MaxHeadersFetch)
}

// NewWorkItemCap is NewWorkItem with the claimed range additionally capped
// at capHint items, letting a caller size the request to a peer's observed
// throughput (wire.PeerConnection.HeaderCapacity) rather than always
// asking for the full MaxHeadersFetch.
func (q *Queue) NewWorkItemCap(peerBest, capHint uint64) (*WorkItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.unprocessed.First()
	if !ok {
		return nil, ErrNoMoreUnprocessed
	}
	if r.Lo > peerBest {
		return nil, ErrNoMorePeerBlocks
	}
	if capHint == 0 || capHint > MaxHeadersFetch {
		capHint = MaxHeadersFetch
	}
	hi := r.Lo + capHint - 1
	if hi > r.Hi {
		hi = r.Hi
	}
	if hi > peerBest {
		hi = peerBest
	}
	q.unprocessed.Reduce(r.Lo, hi)
	return &WorkItem{Blocks: interval.Range{Lo: r.Lo, Hi: hi}}, nil
}

// FetchHeadersFunc performs the actual GetBlockHeaders round trip.
type FetchHeadersFunc func(req wire.HeadersRequest) ([]*types.Header, error)

// FetchHeaders issues and validates the GetBlockHeaders call for item,
// per spec.md §4.4 "fetchHeaders". On success item.Headers is populated
// and item.Blocks reflects exactly what was validated; any excess range
// originally claimed is recycled back to unprocessed.
func (q *Queue) FetchHeaders(item *WorkItem, fetch FetchHeadersFunc) error {
	req := wire.HeadersRequest{StartNumber: item.Blocks.Lo, MaxResults: item.Blocks.Len()}
	if item.TopHash != nil {
		req = wire.HeadersRequest{UseHash: true, StartHash: *item.TopHash, MaxResults: MaxHeadersFetch, Reverse: true}
	}

	headers, err := fetch(req)
	if err != nil {
		return err
	}
	if len(headers) == 0 {
		return ErrEmptyHeaderReply
	}
	if item.TopHash == nil && headers[0].Number != item.Blocks.Lo {
		q.Recycle(item)
		return ErrBadFirstHeader
	}

	// Verify strict consecutive numbering and parent linkage, truncating
	// the tail at the first break (handles mid-reply reorgs).
	valid := headers[:1]
	for i := 1; i < len(headers); i++ {
		prev, cur := headers[i-1], headers[i]
		if item.TopHash == nil {
			if cur.Number != prev.Number+1 || cur.ParentHash != prev.Hash() {
				break
			}
		} else {
			if cur.Number != prev.Number-1 || prev.ParentHash != cur.Hash() {
				break
			}
		}
		valid = headers[:i+1]
	}

	item.Headers = valid
	if item.TopHash == nil {
		newHi := valid[len(valid)-1].Number
		if newHi < item.Blocks.Hi {
			// Benign truncation or a broken-link tail: recycle the
			// excess upper portion.
			q.mu.Lock()
			q.unprocessed.Merge(newHi+1, item.Blocks.Hi)
			q.mu.Unlock()
			item.Blocks.Hi = newHi
		}
	} else {
		oldest := valid[len(valid)-1]
		item.Blocks = interval.Range{Lo: oldest.Number, Hi: valid[0].Number}
	}
	return nil
}

// FetchBodiesFunc performs the actual GetBlockBodies round trip for a
// single batch of hashes.
type FetchBodiesFunc func(hashes []types.Hash) ([]*types.Body, error)

// FetchBodies fills in item.Bodies for every header with a non-empty
// body, batching requests at MaxBodiesFetch and re-aligning replies that
// arrive out of order, per spec.md §4.4 "fetchBodies".
func (q *Queue) FetchBodies(item *WorkItem, hash BodyHasher, fetch FetchBodiesFunc) error {
	item.Bodies = make([]*types.Body, len(item.Headers))

	type want struct {
		idx          int
		txRoot, unc types.Hash
	}
	var need []want
	var hashes []types.Hash
	for i, h := range item.Headers {
		if h.EmptyBody() {
			item.Bodies[i] = &types.Body{}
			continue
		}
		need = append(need, want{idx: i, txRoot: h.TxRoot, unc: h.UnclesHash})
		hashes = append(hashes, h.Hash())
	}

	for start := 0; start < len(hashes); start += MaxBodiesFetch {
		end := start + MaxBodiesFetch
		if end > len(hashes) {
			end = len(hashes)
		}
		bodies, err := fetch(hashes[start:end])
		if err != nil {
			return err
		}
		batch := need[start:end]
		for _, b := range bodies {
			txRoot, unc := hash(b)
			matched := false
			for _, w := range batch {
				if item.Bodies[w.idx] != nil {
					continue
				}
				if w.txRoot == txRoot && w.unc == unc {
					item.Bodies[w.idx] = b
					matched = true
					break
				}
			}
			if !matched {
				return ErrUnmatchedBody
			}
		}
		for _, w := range batch {
			if item.Bodies[w.idx] == nil {
				return ErrUnmatchedBody
			}
		}
	}
	return nil
}

// EnterPoolModeFunc is invoked by Stage when the staged count crosses
// StagedTrigger, asking the caller's scheduler to enter pool mode
// (spec.md §4.4).
type EnterPoolModeFunc func()

// Stage inserts item into the staged table, applying the overflow and
// duplicate-key policy of spec.md §4.4 "stage".
func (q *Queue) Stage(item *WorkItem, enterPoolMode EnterPoolModeFunc) {
	q.mu.Lock()
	if existing, ok := q.staged.Get(item.Blocks.Lo); ok {
		if existing.Blocks.Len() < item.Blocks.Len() {
			q.unprocessed.Merge(existing.Blocks.Lo, existing.Blocks.Hi)
		} else {
			q.unprocessed.Merge(item.Blocks.Lo, item.Blocks.Hi)
			q.mu.Unlock()
			return
		}
	}
	q.staged.Put(item.Blocks.Lo, item)

	staged := q.staged.Len()
	if staged > StagedMax {
		q.dropTopmost()
	}
	q.mu.Unlock()

	if staged > StagedTrigger && enterPoolMode != nil {
		enterPoolMode()
	}
}

// dropTopmost assumes q.mu is held.
func (q *Queue) dropTopmost() {
	keys := q.staged.Keys()
	if len(keys) == 0 {
		return
	}
	top := keys[len(keys)-1]
	item, ok := q.staged.Get(top)
	if !ok {
		return
	}
	q.staged.Delete(top)
	q.unprocessed.Merge(item.Blocks.Lo, item.Blocks.Hi)
}

// FetchStaged returns the least-keyed staged item iff it continues
// directly from topAccepted, per spec.md §4.4 "fetchStaged".
func (q *Queue) FetchStaged() (*WorkItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	key, item, ok := q.staged.First()
	if !ok || key != q.topAccepted+1 {
		return nil, ErrBlockNumberGap
	}
	return item, nil
}

// Accept records item as successfully imported and advances topAccepted.
func (q *Queue) Accept(item *WorkItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.staged.Delete(item.Blocks.Lo)
	q.topAccepted = item.Blocks.Hi
}

// Recycle returns item's claimed range to unprocessed after a failure,
// removing it from staged if it was present there.
func (q *Queue) Recycle(item *WorkItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.staged.Delete(item.Blocks.Lo)
	q.unprocessed.Merge(item.Blocks.Lo, item.Blocks.Hi)
}

// Grout performs the pool-mode sweep of spec.md §4.4 "grout()": it fills
// any gap between topAccepted+1 and the next claimed block so that
// FetchStaged is never blocked forever by a hole left by parallel
// fetches.
func (q *Queue) Grout() {
	q.mu.Lock()
	defer q.mu.Unlock()
	lo := q.topAccepted + 1

	var hi uint64
	have := false
	if r, ok := q.unprocessed.First(); ok && r.Lo-1 >= lo {
		hi, have = r.Lo-1, true
	}
	if key, _, ok := q.staged.First(); ok && key-1 >= lo {
		if !have || key-1 < hi {
			hi, have = key-1, true
		}
	}
	if have && hi >= lo {
		q.unprocessed.Merge(lo, hi)
	}
}

// BacktrackFrom records that the next fetch must run in single-peer mode,
// walking backward from item's oldest header's parent, per spec.md §4.4
// "Backtrack".
func (q *Queue) BacktrackFrom(item *WorkItem) {
	if len(item.Headers) == 0 {
		return
	}
	parent := item.Headers[0].ParentHash
	q.mu.Lock()
	q.backtrack = &parent
	q.mu.Unlock()
}

// NewBacktrackItem builds the dummy item the next single-mode worker
// invocation must run a reverse fetch against.
func (q *Queue) NewBacktrackItem() *WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	h := *q.backtrack
	return &WorkItem{TopHash: &h}
}

// ClearBacktrack releases the pending backtrack hash once its item has
// been staged.
func (q *Queue) ClearBacktrack() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.backtrack = nil
}
