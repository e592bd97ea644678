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

// Package peerpool implements the cooperative per-peer worker scheduler of
// spec.md §4.6: an LRU-bounded peer table, a single-threaded event loop
// with single/multi/pool running modes, and a daemon coroutine, all driven
// from virtual hooks the application supplies at construction.
package peerpool

import (
	"errors"
	"sync"
	"time"

	"github.com/ethsync/peerpool/types"
	"github.com/ethsync/peerpool/xclock"
	"github.com/ethsync/peerpool/xlog"
	"github.com/ethsync/peerpool/xlru"
)

// MinLap is the minimum wall-clock duration of one worker lap; a lap that
// finishes early sleeps out the remainder, per spec.md §4.6.
const MinLap = 50 * time.Millisecond

// ErrTableFull is never returned to callers; admission always evicts the
// LRU slot instead. Retained because a host can use it to recognise the
// log line emitted on forced eviction.
var ErrTableFull = errors.New("peerpool: table full, dequeuing least used")

// State is a worker's control-block state, per spec.md §4.6's admission
// and disconnection rules.
type State int

const (
	Running State = iota
	Stopped
	ZombieRun
	ZombieStop
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case ZombieRun:
		return "zombie-run"
	case ZombieStop:
		return "zombie-stop"
	default:
		return "unknown"
	}
}

func (s State) zombie() bool { return s == ZombieRun || s == ZombieStop }

// Hooks are the virtual methods spec.md §4.6 calls on the application.
// RunSetup runs once before any worker starts; a false return prevents all
// workers from starting. RunRelease runs once after every worker stops.
// RunStart/RunStop bracket a single worker's lifetime; a false RunStart
// marks the worker a zombie. RunPeer is the worker's single-mode body.
// RunPool is the pool-mode sweep body, called for each worker in
// most-recently-used order; its last argument tells it whether it is the
// final worker of the sweep (the lowest-priority slot), and a true return
// ends the sweep early. RunDaemon runs in a loop while ctx.Daemon() is true.
type Hooks struct {
	RunSetup   func() bool
	RunRelease func()
	RunStart   func(peer types.PeerID) bool
	RunStop    func(peer types.PeerID)
	RunPeer    func(peer types.PeerID)
	RunPool    func(peer types.PeerID, last bool) bool
	RunDaemon  func()
}

type control struct {
	state   State
	multiOk bool
}

// Context exposes the shared scheduler flags an application's hooks may
// need to inspect or flip, per spec.md §4.6's entity list.
type Context struct {
	mu       sync.Mutex
	poolMode bool
	daemon   bool
}

func (c *Context) PoolMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.poolMode
}

func (c *Context) SetPoolMode(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.poolMode = v
}

func (c *Context) Daemon() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.daemon
}

func (c *Context) SetDaemon(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.daemon = v
}

// Pool is the LRU-bounded peer table plus the scheduler's coordination
// flags (spec.md §4.6 "Invariants"). All state is mutated only from
// worker goroutines under mu, mirroring the single-event-loop model of
// spec.md §5 as closely as a real goroutine scheduler allows.
type Pool struct {
	log   xlog.Logger
	clock xclock.Clock
	hooks Hooks
	ctx   Context

	max int

	mu            sync.Mutex
	table         xlru.BasicLRU[types.PeerID, *control]
	singleRunLock bool
	activeMulti   int
	shutdown      bool

	daemonRunning bool
	daemonStop    chan struct{}

	setupOK bool
	wg      sync.WaitGroup
}

// New creates a pool bounded at max(1, maxPeers+1) slots, per spec.md §6's
// configuration rule that the table always has one more slot than the
// nominal peer cap so the evicted slot can still answer in flight.
func New(maxPeers int, hooks Hooks, clock xclock.Clock, log xlog.Logger) *Pool {
	if log == nil {
		log = xlog.Discard()
	}
	if clock == nil {
		clock = xclock.System{}
	}
	size := maxPeers + 1
	if size < 1 {
		size = 1
	}
	return &Pool{
		log:   log,
		clock: clock,
		hooks: hooks,
		max:   size,
		table: xlru.NewBasicLRU[types.PeerID, *control](size),
	}
}

// Context returns the shared pool/daemon flags.
func (p *Pool) Context() *Context { return &p.ctx }

// Start invokes RunSetup once. If it returns false, Start returns false
// and no peer may be admitted.
func (p *Pool) Start() bool {
	if p.hooks.RunSetup != nil {
		p.setupOK = p.hooks.RunSetup()
	} else {
		p.setupOK = true
	}
	return p.setupOK
}

// Stop marks every worker stopped and flips shutdown, then invokes
// RunRelease once all workers have observed it and returned.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.shutdown = true
	for _, id := range p.table.Keys() {
		c, _ := p.table.Peek(id)
		if c.state == Running {
			c.state = Stopped
		}
	}
	p.mu.Unlock()

	p.ctx.SetDaemon(false)
	p.wg.Wait()
	if p.hooks.RunRelease != nil {
		p.hooks.RunRelease()
	}
}

// OnPeerConnected admits a newly connected peer, per spec.md §4.6
// "Admission". A reconnecting zombie is ignored. A full table evicts the
// least-recently-used slot first (silently if it was a zombie, else with
// a warning and a RunStop call).
func (p *Pool) OnPeerConnected(id types.PeerID) {
	if !p.setupOK {
		return
	}
	p.mu.Lock()
	if c, ok := p.table.Peek(id); ok {
		if c.state.zombie() {
			p.mu.Unlock()
			return
		}
	}
	var evictID types.PeerID
	var evictWarn bool
	if p.table.Len() >= p.max {
		if evID, evictC, ok := p.table.RemoveOldest(); ok && !evictC.state.zombie() {
			// Mark stopped; the evicted peer's own runLoop goroutine (if
			// any) observes this on its next lap and calls RunStop itself,
			// the same exit path an ordinary disconnect takes.
			evictC.state = Stopped
			evictID, evictWarn = evID, true
		}
	}
	c := &control{state: Running}
	p.table.Add(id, c)
	p.mu.Unlock()

	if evictWarn {
		p.log.Warn("peer table full, dequeuing least used", "peer", evictID)
	}

	started := true
	if p.hooks.RunStart != nil {
		started = p.hooks.RunStart(id)
	}
	p.mu.Lock()
	if !started {
		c.state = ZombieRun
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.wg.Add(1)
	go p.runLoop(id, c)
}

// OnPeerDisconnected marks the worker stopped and removes it from the
// table unless it is currently a zombie, per spec.md §4.6
// "Disconnection".
func (p *Pool) OnPeerDisconnected(id types.PeerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.table.Peek(id)
	if !ok {
		return
	}
	switch c.state {
	case Running:
		c.state = Stopped
		p.table.Remove(id)
	case Stopped:
		p.table.Remove(id)
	case ZombieRun:
		c.state = ZombieStop
	case ZombieStop:
		// already terminal; stays to block reconnection.
	}
}

// Len reports the current number of occupied table slots, including
// zombies.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.table.Len()
}

// AllPeers returns the non-zombie peer IDs, most-recently-used first.
func (p *Pool) AllPeers() []types.PeerID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allPeersLocked()
}

// allPeersLocked is AllPeers' body for callers that already hold p.mu.
func (p *Pool) allPeersLocked() []types.PeerID {
	keys := p.table.Keys() // oldest first
	out := make([]types.PeerID, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		id := keys[i]
		c, _ := p.table.Peek(id)
		if !c.state.zombie() {
			out = append(out, id)
		}
	}
	return out
}

// runLoop is one worker's cooperative loop, per spec.md §4.6's pseudocode.
func (p *Pool) runLoop(id types.PeerID, c *control) {
	defer p.wg.Done()
	for {
		start := p.clock.Now()

		p.mu.Lock()
		stopped := c.state != Running || p.shutdown
		p.mu.Unlock()
		if stopped {
			if p.hooks.RunStop != nil {
				p.hooks.RunStop(id)
			}
			return
		}

		if p.ctx.PoolMode() {
			p.runPoolSweep()
		} else {
			p.touch(id)
			p.runSingleOrMulti(id)
		}

		if p.ctx.Daemon() {
			p.maybeStartDaemon()
		}

		elapsed := time.Duration(p.clock.Now() - start)
		if remaining := MinLap - elapsed; remaining > 0 {
			p.clock.Sleep(remaining)
		} else {
			p.clock.Sleep(time.Nanosecond)
		}
	}
}

func (p *Pool) touch(id types.PeerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.table.Get(id) // Get bumps recency to the MRU end.
}

// runSingleOrMulti implements the non-pool branch of spec.md §4.6's
// pseudocode: a worker either runs concurrently (multiOk), waits its turn
// for the single-run slot, or takes it.
func (p *Pool) runSingleOrMulti(id types.PeerID) {
	p.mu.Lock()
	c, ok := p.table.Peek(id)
	if !ok {
		p.mu.Unlock()
		return
	}
	switch {
	case c.multiOk && !p.singleRunLock:
		p.activeMulti++
		p.mu.Unlock()

		if p.hooks.RunPeer != nil {
			p.hooks.RunPeer(id)
		}

		p.mu.Lock()
		p.activeMulti--
		p.mu.Unlock()

	case p.singleRunLock:
		p.mu.Unlock() // yield this lap

	default:
		p.singleRunLock = true
		p.mu.Unlock()

		if p.hooks.RunPeer != nil {
			p.hooks.RunPeer(id)
		}

		p.mu.Lock()
		p.singleRunLock = false
		p.mu.Unlock()
	}
}

// SetMultiOk flips whether id's worker may run concurrently with other
// multi-mode workers instead of serializing through singleRunLock, per
// spec.md §3's per-peer control-block field. The sync orchestrator calls
// this once a peer graduates from head-tracking/pivot negotiation into
// contributing to the shared fetch queue.
func (p *Pool) SetMultiOk(id types.PeerID, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, found := p.table.Peek(id); found {
		c.multiOk = ok
	}
}

// MarkZombie transitions a running worker straight to ZombieRun, per
// spec.md §4.6's "Running → ZombieRun (fatal)" transition. Application
// code calls this when a peer commits a protocol violation severe enough
// to warrant eviction-proof quarantine; the worker's own runLoop observes
// the new state on its next lap and exits through the normal RunStop path.
func (p *Pool) MarkZombie(id types.PeerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, found := p.table.Peek(id); found && c.state == Running {
		c.state = ZombieRun
	}
}

// runPoolSweep runs RunPool over every live worker in most-recently-used
// order, stopping at the first one that reports completion, per spec.md
// §4.6. The application is responsible for clearing poolMode.
func (p *Pool) runPoolSweep() {
	p.mu.Lock()
	if p.singleRunLock || p.activeMulti != 0 {
		p.mu.Unlock()
		return
	}
	ids := p.allPeersLocked() // most-recently-used first
	p.mu.Unlock()

	for i, id := range ids {
		last := i == len(ids)-1
		done := true
		if p.hooks.RunPool != nil {
			done = p.hooks.RunPool(id, last)
		}
		if done {
			break
		}
	}
}

func (p *Pool) maybeStartDaemon() {
	p.mu.Lock()
	if p.daemonRunning {
		p.mu.Unlock()
		return
	}
	p.daemonRunning = true
	p.daemonStop = make(chan struct{})
	stop := p.daemonStop
	p.mu.Unlock()

	p.wg.Add(1)
	go p.daemonLoop(stop)
}

func (p *Pool) daemonLoop(stop chan struct{}) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		p.daemonRunning = false
		p.mu.Unlock()
	}()
	for {
		select {
		case <-stop:
			return
		default:
		}
		if !p.ctx.Daemon() {
			return
		}
		start := p.clock.Now()
		if p.hooks.RunDaemon != nil {
			p.hooks.RunDaemon()
		}
		elapsed := time.Duration(p.clock.Now() - start)
		if remaining := MinLap - elapsed; remaining > 0 {
			p.clock.Sleep(remaining)
		} else {
			p.clock.Sleep(time.Nanosecond)
		}
	}
}
