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

// Package sync implements the orchestrator of spec.md §4.7 (component C9):
// it binds the peer-pool scheduler's virtual hooks to head tracking, pivot
// negotiation, and block-queue/skeleton-backed fetching, and exposes the
// Start/Stop surface a host application calls.
package sync

import (
	"context"
	"crypto/sha256"
	"errors"
	"math/rand"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/ethsync/peerpool/blockqueue"
	"github.com/ethsync/peerpool/comerr"
	"github.com/ethsync/peerpool/headtracker"
	"github.com/ethsync/peerpool/peerpool"
	"github.com/ethsync/peerpool/pivot"
	"github.com/ethsync/peerpool/skeleton"
	"github.com/ethsync/peerpool/syncdb"
	"github.com/ethsync/peerpool/types"
	"github.com/ethsync/peerpool/wire"
	"github.com/ethsync/peerpool/xclock"
	"github.com/ethsync/peerpool/xlog"
	"github.com/ethsync/peerpool/xprque"
)

// requestTimeout bounds every wire round trip the orchestrator issues,
// per spec.md §5 "header and body fetches default to 10s".
const requestTimeout = 10 * time.Second

// mode selects which of the two downloader pipelines (spec.md §2's "block
// queue" vs "skeleton") the orchestrator drives. A host picks one at
// construction by supplying (or omitting) a skeleton.Store.
type mode int

const (
	modeQueue mode = iota
	modeSkeleton
)

// HeadSourceFunc reports the consensus client's most recently declared
// head, consulted by the daemon loop in skeleton mode (spec.md §4.7
// "runSetup ... decides whether to enable the daemon ... to drive the
// skeleton from an external head-source").
type HeadSourceFunc func() (*types.Header, bool)

type peerState struct {
	conn    *wire.PeerConnection
	tracker *headtracker.Tracker
	com     *comerr.Classifier

	pivotArrived bool
	nextPoll     xclock.AbsTime
}

// Orchestrator wires the peer-pool scheduler to head tracking, pivot
// negotiation, and whichever downloader pipeline this instance was built
// for, per spec.md §4.7.
type Orchestrator struct {
	cfg   Config
	db    syncdb.Database
	log   xlog.Logger
	clock xclock.Clock

	peers      *wire.PeerSet
	pool       *peerpool.Pool
	negotiator *pivot.Negotiator

	mu     stdsync.Mutex
	states map[types.PeerID]*peerState

	runMode mode
	queue   *blockqueue.Queue
	sk      *skeleton.Skeleton
	skStore skeleton.Store

	target     Target
	headSource HeadSourceFunc

	// peerEvents/connected react to wire.PeerSet's join/leave feed so the
	// connected-peer count is maintained incrementally instead of
	// re-counting peers.Len() on every lap.
	peerEvents chan wire.PeeringEvent
	eventsDone chan struct{}
	connected  int32
}

// NewQueueOrchestrator builds an orchestrator that drives the pre-merge
// block-queue pipeline, forward-extending from the local chain head.
func NewQueueOrchestrator(db syncdb.Database, cfg Config, log xlog.Logger, clock xclock.Clock) (*Orchestrator, error) {
	return newOrchestrator(db, cfg, modeQueue, nil, log, clock)
}

// NewSkeletonOrchestrator builds an orchestrator that drives the
// post-merge skeleton pipeline, backed by store for persistence.
func NewSkeletonOrchestrator(db syncdb.Database, cfg Config, store skeleton.Store, log xlog.Logger, clock xclock.Clock) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("sync: NewSkeletonOrchestrator requires a non-nil skeleton.Store")
	}
	return newOrchestrator(db, cfg, modeSkeleton, store, log, clock)
}

func newOrchestrator(db syncdb.Database, cfg Config, m mode, store skeleton.Store, log xlog.Logger, clock xclock.Clock) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = xlog.Discard()
	}
	if clock == nil {
		clock = xclock.System{}
	}
	o := &Orchestrator{
		cfg:        cfg,
		db:         db,
		log:        log,
		clock:      clock,
		peers:      wire.NewPeerSet(),
		states:     make(map[types.PeerID]*peerState),
		runMode:    m,
		skStore:    store,
		peerEvents: make(chan wire.PeeringEvent, 64),
		eventsDone: make(chan struct{}),
	}
	o.negotiator = pivot.New(log, false, o.fetchPivotBest, o.crossCheckPivot)
	o.pool = peerpool.New(cfg.MaxPeers, o.hooks(), clock, log)
	o.peers.Subscribe(o.peerEvents)
	go o.watchPeerEvents()
	return o, nil
}

// watchPeerEvents consumes wire.PeerSet's join/leave feed and maintains
// connected reactively, so ConnectedPeers() never has to re-walk the peer
// set. Runs until Stop closes eventsDone; wire.PeerSet has no unsubscribe
// primitive, so the channel is simply abandoned at that point (matching
// PeerSet.Subscribe's documented narrow, sync-engine-only lifetime).
func (o *Orchestrator) watchPeerEvents() {
	for {
		select {
		case ev := <-o.peerEvents:
			if ev.Join {
				atomic.AddInt32(&o.connected, 1)
				o.log.Debug("peer joined", "peer", ev.Peer.Peer.ID())
			} else {
				atomic.AddInt32(&o.connected, -1)
				o.log.Debug("peer left", "peer", ev.Peer.Peer.ID())
			}
		case <-o.eventsDone:
			return
		}
	}
}

// ConnectedPeers reports the number of peers currently registered with the
// orchestrator's peer set, maintained reactively off wire.PeerSet's
// join/leave feed rather than recomputed on demand.
func (o *Orchestrator) ConnectedPeers() int {
	return int(atomic.LoadInt32(&o.connected))
}

func (o *Orchestrator) hooks() peerpool.Hooks {
	return peerpool.Hooks{
		RunSetup:   o.runSetup,
		RunRelease: o.runRelease,
		RunStart:   o.runStart,
		RunStop:    o.runStop,
		RunPeer:    o.runPeer,
		RunPool:    o.runPool,
		RunDaemon:  o.runDaemon,
	}
}

// SetHeadSource installs the callback the daemon loop consults for a
// freshly announced consensus-layer head. Only meaningful in skeleton
// mode; a nil source falls back to the syncCtrlFile hash override, if any.
func (o *Orchestrator) SetHeadSource(f HeadSourceFunc) { o.headSource = f }

// Start reads any configured sync-ctrl override and starts the scheduler.
func (o *Orchestrator) Start() bool {
	if t, ok, err := LoadCtrlTarget(o.cfg.SyncCtrlFile); err != nil {
		o.log.Warn("failed to read sync ctrl file", "path", o.cfg.SyncCtrlFile, "err", err)
	} else if ok {
		o.target = t
		o.log.Info("sync target override loaded", "kind", t.Kind, "number", t.Number)
	}
	return o.pool.Start()
}

// Stop tears down every peer worker and the daemon.
func (o *Orchestrator) Stop() {
	o.pool.Stop()
	close(o.eventsDone)
}

// OnPeerConnected registers a newly connected peer and admits it to the
// scheduler, per spec.md §6 "onPeerConnected".
func (o *Orchestrator) OnPeerConnected(p wire.Peer) {
	conn := wire.NewPeerConnection(p, o.log.New("peer", p.ID()))
	if err := o.peers.Register(conn); err != nil {
		o.log.Warn("duplicate peer connection ignored", "peer", p.ID(), "err", err)
		return
	}

	o.mu.Lock()
	o.states[p.ID()] = &peerState{conn: conn, com: comerr.New()}
	o.mu.Unlock()

	o.pool.OnPeerConnected(p.ID())
}

// OnPeerDisconnected tears down a peer's bookkeeping, per spec.md §6
// "onPeerDisconnected".
func (o *Orchestrator) OnPeerDisconnected(id types.PeerID) {
	o.pool.OnPeerDisconnected(id)
	o.peers.Unregister(id)

	o.mu.Lock()
	delete(o.states, id)
	o.mu.Unlock()
}

func (o *Orchestrator) state(id types.PeerID) (*peerState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.states[id]
	return st, ok
}

// runSetup initialises the chosen downloader pipeline and decides whether
// the daemon loop is needed, per spec.md §4.7 "runSetup".
func (o *Orchestrator) runSetup() bool {
	if o.cfg.BootstrapResumeOnly && !o.hasPriorProgress() {
		o.log.Info("bootstrapResumeOnly set and no prior sync state found, refusing to start")
		return false
	}

	switch o.runMode {
	case modeSkeleton:
		o.sk = skeleton.New(o.skStore, o.log)
		o.pool.Context().SetDaemon(true)
	default:
		top := o.localHead()
		if o.target.Kind == TargetNumber && o.target.Number > top+1 {
			o.log.Info("sync target override applied, skipping ahead", "from", top, "to", o.target.Number-1)
			top = o.target.Number - 1
		}
		o.queue = blockqueue.New(o.log, top)
	}
	return true
}

func (o *Orchestrator) hasPriorProgress() bool {
	if o.runMode == modeSkeleton {
		_, ok := o.skStore.GetProgress()
		return ok
	}
	_, ok := o.db.GetBlockHash(1)
	return ok
}

// localHead walks forward from genesis while the database has canonical
// hashes recorded. syncdb.Database exposes only point lookups (spec.md
// §6), so there is no cheaper way to recover "the last imported number"
// from this interface alone. runSetup always performs the walk; a
// Config.SyncCtrlFile number override is applied afterwards and only
// moves the start point further ahead.
func (o *Orchestrator) localHead() uint64 {
	var n uint64
	for {
		if _, ok := o.db.GetBlockHash(n + 1); !ok {
			return n
		}
		n++
	}
}

func (o *Orchestrator) runRelease() {
	o.log.Info("sync orchestrator released all peer workers")
}

// runStart performs the handshake validation spec.md §6 requires
// ("validated on handshake, mismatch disconnects with UselessPeer") and
// seeds the peer's head tracker, per spec.md §4.7 "runStart".
func (o *Orchestrator) runStart(id types.PeerID) bool {
	st, ok := o.state(id)
	if !ok {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	status, err := st.conn.Peer.Status(ctx)
	cancel()
	if err != nil {
		o.log.Debug("status handshake failed", "peer", id, "err", err)
		return false
	}
	if status.GenesisHash != o.db.GenesisHash() || status.NetworkID != o.db.NetworkID() {
		o.log.Debug("useless peer", "peer", id, "networkID", status.NetworkID)
		return false
	}

	st.tracker = headtracker.New(o.clock, o.log.New("peer", id), status.BestHash)
	return true
}

func (o *Orchestrator) runStop(id types.PeerID) {
	o.log.Debug("peer worker stopped", "peer", id)
}

// runPeer is the per-peer worker body, per spec.md §4.7: head tracking,
// then pivot negotiation, then queue-or-skeleton-backed fetching.
func (o *Orchestrator) runPeer(id types.PeerID) {
	st, ok := o.state(id)
	if !ok || st.tracker == nil {
		return
	}

	o.pollHead(id, st)

	if !st.pivotArrived {
		st.pivotArrived = true
		o.negotiator.Arrive(id)
	}

	switch o.runMode {
	case modeSkeleton:
		o.runSkeletonWorker(id, st)
	default:
		o.runQueueWorker(id, st)
	}
}

// pollHead issues at most one GetBlockHeaders call per lap, respecting
// both the tracker's overlap guard and its polling cadence (spec.md §4.2).
func (o *Orchestrator) pollHead(id types.PeerID, st *peerState) {
	if st.nextPoll != 0 && o.clock.Now() < st.nextPoll {
		return
	}

	req, err := st.tracker.NextRequest()
	if err != nil {
		return // a request is already pending; nothing to do this lap.
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	headers, err := st.conn.Peer.GetBlockHeaders(ctx, wire.HeadersRequest{
		UseHash:     req.UseHash,
		StartHash:   req.StartHash,
		StartNumber: req.StartNumber,
		MaxResults:  req.Count,
		Skip:        req.Skip,
		Reverse:     req.Reverse,
	})
	cancel()

	if err != nil {
		if errors.Is(err, wire.ErrTimeout) {
			st.tracker.HandleTimeout()
			o.failComm(id, st, comerr.ResponseTimeout)
		} else {
			st.tracker.HandleError()
			o.failComm(id, st, comerr.NetworkProblem)
		}
		return
	}

	if err := st.tracker.HandleReply(headers); err != nil {
		if errors.Is(err, headtracker.ErrExcessHeaders) {
			o.failComm(id, st, comerr.Excessive)
		}
		return
	}
	st.com.Success()
	st.nextPoll = o.clock.Now() + xclock.AbsTime(st.tracker.PollInterval())

	// Once locked onto a believable head the worker can safely interleave
	// its fetches with other peers instead of serializing through the
	// scheduler's single-run slot (spec.md §4.6's multiOk field).
	if st.tracker.Mode() == headtracker.Locked {
		o.pool.SetMultiOk(id, true)
	}
}

func (o *Orchestrator) failComm(id types.PeerID, st *peerState, kind comerr.Kind) {
	outcome := st.com.Fail(kind)
	if outcome.Sleep > 0 {
		o.clock.Sleep(outcome.Sleep)
	}
	if outcome.Zombie {
		o.pool.MarkZombie(id)
	}
}

// runQueueWorker drives one lap of the block-queue pipeline for a single
// peer, per spec.md §4.4 and §4.7.
func (o *Orchestrator) runQueueWorker(id types.PeerID, st *peerState) {
	if _, ok := o.negotiator.PivotHeader(id); !ok {
		return // no pivot agreed yet; spec.md §4.7 gates fetching on it.
	}
	best, _ := st.tracker.Best()
	if best == 0 {
		return
	}

	if _, pending := o.queue.Backtrack(); pending {
		o.runBacktrack(id, st)
		return
	}

	// spec.md §4.4 "newWorkItem" clips strictly to [r.low ..
	// min(r.low+MAX_HEADERS_FETCH-1, peer.bestNumber)]; peer-capacity-based
	// sizing (NewWorkItemCap, SPEC_FULL.md's "peer capacity-based task
	// sizing") is intentionally not substituted here so this call keeps
	// that invariant exactly. The rate trackers fetchHeadersFunc/
	// fetchBodiesFunc feed are still live, just not gating the claim size.
	item, err := o.queue.NewWorkItem(best)
	if err != nil {
		return // ErrNoMoreUnprocessed or ErrNoMorePeerBlocks: nothing to do.
	}

	if err := o.queue.FetchHeaders(item, o.fetchHeadersFunc(st)); err != nil {
		o.queue.Recycle(item)
		if errors.Is(err, blockqueue.ErrEmptyHeaderReply) || errors.Is(err, blockqueue.ErrBadFirstHeader) {
			o.pool.MarkZombie(id)
		}
		return
	}
	if err := o.queue.FetchBodies(item, bodyHasher, o.fetchBodiesFunc(st)); err != nil {
		o.queue.Recycle(item)
		return
	}
	o.queue.Stage(item, func() { o.pool.Context().SetPoolMode(true) })

	o.drainStaged()
}

// runBacktrack services the queue's pending reverse-fetch-and-link state
// (spec.md §4.4 "Backtrack"), which forces single-peer operation until it
// clears.
func (o *Orchestrator) runBacktrack(id types.PeerID, st *peerState) {
	item := o.queue.NewBacktrackItem()
	if err := o.queue.FetchHeaders(item, o.fetchHeadersFunc(st)); err != nil {
		o.log.Debug("backtrack header fetch failed", "peer", id, "err", err)
		return
	}
	if err := o.queue.FetchBodies(item, bodyHasher, o.fetchBodiesFunc(st)); err != nil {
		o.log.Debug("backtrack body fetch failed", "peer", id, "err", err)
		return
	}
	o.queue.Stage(item, func() { o.pool.Context().SetPoolMode(true) })
	o.queue.ClearBacktrack()
}

// drainStaged imports every staged item that continues directly from
// topAccepted, per spec.md §4.4 "fetchStaged". A persistence failure
// recycles the item and enters the backtrack state instead of wedging the
// consumer forever (spec.md's unified "reverse-fetch-and-link" idea, see
// DESIGN.md Open Questions).
func (o *Orchestrator) drainStaged() {
	for {
		item, err := o.queue.FetchStaged()
		if err != nil {
			return
		}
		if o.db.PersistBlocks(item.Headers, item.Bodies) == syncdb.Ok {
			o.queue.Accept(item)
			continue
		}
		o.queue.Recycle(item)
		o.queue.BacktrackFrom(item)
		return
	}
}

// runSkeletonWorker drives one lap of the backward skeleton fill for a
// single peer, per spec.md §4.5 and §4.7.
func (o *Orchestrator) runSkeletonWorker(id types.PeerID, st *peerState) {
	subchains := o.sk.Subchains()
	if len(subchains) == 0 {
		return // nothing announced yet; the daemon loop drives InitSync.
	}
	primary := subchains[0]
	if primary.Tail == 0 {
		return
	}

	// Several peers may be ready to extend the same primary subchain in
	// the same lap; only let the one with the deepest believable reach
	// do it, mirroring skeleton.go's assingTasks ranking idle peers by
	// estimated header capacity before task assignment (DESIGN.md C6).
	if best, ok := o.bestCapacityPeer(); ok && best != id {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	headers, err := st.conn.Peer.GetBlockHeaders(ctx, wire.HeadersRequest{
		UseHash:    true,
		StartHash:  primary.Next,
		MaxResults: headtracker.MaxHeadersFetch,
		Reverse:    true,
	})
	cancel()
	if err != nil {
		o.failComm(id, st, comerr.NetworkProblem)
		return
	}
	if len(headers) == 0 {
		return
	}

	merged, err := o.sk.PutBlocks(headers)
	if err != nil {
		o.log.Debug("skeleton link mismatch, zombying peer", "peer", id, "err", err)
		o.pool.MarkZombie(id)
		return
	}
	if merged {
		o.log.Info("skeleton subchains merged, restarting backward fetch")
	}
	st.com.Success()

	if o.sk.IsLinked() {
		o.sk.FillCanonicalChain(o.db)
	}
}

// runPool is the pool-mode sweep callback, per spec.md §4.7 "runPool":
// grout()/staged-queue cleanup for the block queue, or a canonical-fill
// attempt for the skeleton.
func (o *Orchestrator) runPool(id types.PeerID, last bool) bool {
	switch o.runMode {
	case modeSkeleton:
		if o.sk != nil && o.sk.IsLinked() {
			o.sk.FillCanonicalChain(o.db)
		}
	default:
		if o.queue != nil {
			o.queue.Grout()
			o.drainStaged()
		}
	}
	if last {
		o.pool.Context().SetPoolMode(false)
	}
	return last
}

// runDaemon drives the skeleton from an external head-source, per
// spec.md §4.7. Only meaningful in skeleton mode; runSetup enables the
// daemon only in that case.
func (o *Orchestrator) runDaemon() {
	if o.runMode != modeSkeleton || o.sk == nil {
		return
	}

	if len(o.sk.Subchains()) == 0 {
		head := o.discoverInitialHead()
		if head != nil {
			o.sk.InitSync(head)
		}
		return
	}

	if o.headSource == nil {
		return
	}
	head, ok := o.headSource()
	if !ok {
		return
	}
	if err := o.sk.SetHead(head, true); err != nil && errors.Is(err, skeleton.ErrSyncReorged) {
		o.sk.InitSync(head)
	}
}

// bestCapacityPeer ranks every peer whose head tracker has locked onto a
// believable head by that head's block number and returns the deepest one,
// using xprque the same way skeleton.go's assingTasks ranks idle peers by
// estimated header capacity before handing out a task (DESIGN.md C6/C4).
func (o *Orchestrator) bestCapacityPeer() (types.PeerID, bool) {
	o.mu.Lock()
	pq := xprque.New[int64, types.PeerID]()
	for id, st := range o.states {
		if st.tracker == nil || st.tracker.Mode() != headtracker.Locked {
			continue
		}
		best, _ := st.tracker.Best()
		pq.Push(id, int64(best))
	}
	o.mu.Unlock()

	if pq.Empty() {
		return "", false
	}
	id, _ := pq.Peek()
	return id, true
}

// discoverInitialHead bootstraps the skeleton's first subchain either
// from the configured HeadSourceFunc, or, absent one, from a
// syncCtrlFile hash override fetched from any connected peer.
func (o *Orchestrator) discoverInitialHead() *types.Header {
	if o.headSource != nil {
		if head, ok := o.headSource(); ok {
			return head
		}
		return nil
	}
	if o.target.Kind != TargetHash {
		return nil
	}
	for _, conn := range o.peers.AllPeers() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		headers, err := conn.Peer.GetBlockHeaders(ctx, wire.HeadersRequest{UseHash: true, StartHash: o.target.Hash, MaxResults: 1})
		cancel()
		if err == nil && len(headers) == 1 && headers[0].Hash() == o.target.Hash {
			return headers[0]
		}
	}
	return nil
}

// fetchHeadersFunc wraps the peer's GetBlockHeaders call so every round
// trip also feeds the peer's header-rate tracker (wire.RateTracker). The
// orchestrator itself does not size requests from that tracker (see
// runQueueWorker); PeerConnection.HeaderCapacity exposes its estimate.
func (o *Orchestrator) fetchHeadersFunc(st *peerState) blockqueue.FetchHeadersFunc {
	return func(req wire.HeadersRequest) ([]*types.Header, error) {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		start := o.clock.Now()
		headers, err := st.conn.Peer.GetBlockHeaders(ctx, req)
		cancel()
		if err == nil {
			st.conn.UpdateHeaderRate(len(headers), time.Duration(o.clock.Now()-start))
		}
		return headers, err
	}
}

// fetchBodiesFunc wraps the peer's GetBlockBodies call. If every hash in
// the batch is already known-lacking on this peer (wire.PeerConnection.
// Lacks), it skips the round trip entirely; otherwise it records the
// body-rate measurement and marks any hash the peer failed to deliver as
// lacking, per SPEC_FULL.md's "lacking-hash memory".
func (o *Orchestrator) fetchBodiesFunc(st *peerState) blockqueue.FetchBodiesFunc {
	return func(hashes []types.Hash) ([]*types.Body, error) {
		allLacking := len(hashes) > 0
		for _, h := range hashes {
			if !st.conn.Lacks(h) {
				allLacking = false
				break
			}
		}
		if allLacking {
			return nil, wire.ErrLacking
		}

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		start := o.clock.Now()
		bodies, err := st.conn.Peer.GetBlockBodies(ctx, hashes)
		cancel()
		if err != nil {
			return nil, err
		}
		st.conn.UpdateBodyRate(len(bodies), time.Duration(o.clock.Now()-start))
		if len(bodies) < len(hashes) {
			for _, h := range hashes[len(bodies):] {
				st.conn.MarkLacking(h)
			}
		}
		return bodies, nil
	}
}

// bodyHasher derives a content digest of a body's transaction and uncle
// blobs. Real trie/RLP hashing is out of scope (spec.md §1); this is a
// placeholder consistent enough with itself for the block-queue's
// body-to-header matching (spec.md §4.4 "fetchBodies") to work end to end.
func bodyHasher(b *types.Body) (txRoot, unclesHash types.Hash) {
	return hashBlobs(b.Transactions), hashBlobs(b.Uncles)
}

func hashBlobs(blobs [][]byte) types.Hash {
	h := sha256.New()
	for _, b := range blobs {
		h.Write(b)
	}
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// fetchPivotBest fetches p's self-declared best header by a one-header
// hash-based query against its head-tracker's current best hash, per
// spec.md §4.3 step 1.
func (o *Orchestrator) fetchPivotBest(p types.PeerID) (*types.Header, bool) {
	st, ok := o.state(p)
	if !ok || st.tracker == nil {
		return nil, false
	}
	_, hash := st.tracker.Best()
	if hash == (types.Hash{}) {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	headers, err := st.conn.Peer.GetBlockHeaders(ctx, wire.HeadersRequest{UseHash: true, StartHash: hash, MaxResults: 1})
	cancel()
	if err != nil || len(headers) != 1 {
		return nil, false
	}
	return headers[0], true
}

// crossCheckPivot asks q to confirm p's self-declared best hash, per
// spec.md §4.3 step 3.
func (o *Orchestrator) crossCheckPivot(p, q types.PeerID) pivot.CrossCheckResult {
	pst, pok := o.state(p)
	qst, qok := o.state(q)
	if !pok || !qok || pst.tracker == nil || qst.tracker == nil {
		return pivot.OtherDead
	}
	_, pHash := pst.tracker.Best()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	headers, err := qst.conn.Peer.GetBlockHeaders(ctx, wire.HeadersRequest{UseHash: true, StartHash: pHash, MaxResults: 1})
	cancel()
	if err != nil {
		return pivot.OtherDead
	}
	if len(headers) != 1 || headers[0].Hash() != pHash {
		return pivot.Disagree
	}
	return pivot.Agree
}

// RandomPeer returns a uniformly random connected peer ID, used by hosts
// wiring broadcast fan-out (spec.md §6 "Enumeration for broadcasts").
func (o *Orchestrator) RandomPeer() (types.PeerID, bool) {
	all := o.peers.AllPeers()
	if len(all) == 0 {
		return "", false
	}
	return all[rand.Intn(len(all))].Peer.ID(), true
}

// Queue exposes the block-queue pipeline for inspection (nil in skeleton
// mode), e.g. by metrics or admin RPC surfaces outside this module's
// scope.
func (o *Orchestrator) Queue() *blockqueue.Queue { return o.queue }

// Skeleton exposes the skeleton pipeline for inspection (nil in queue
// mode).
func (o *Orchestrator) Skeleton() *skeleton.Skeleton { return o.sk }
