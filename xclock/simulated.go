// Copyright 2018 The go-ethereum Authors
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

package xclock

import (
	"container/heap"
	"sync"
	"time"
)

// Simulated implements Clock and allows testing code that relies on timeouts
// and cadenced sleeps without actually waiting for them to expire.
type Simulated struct {
	mu     sync.Mutex
	now    AbsTime
	timers simTimerHeap
}

type simTimer struct {
	at AbsTime
	ch chan time.Time
}

type simTimerHeap []*simTimer

func (h simTimerHeap) Len() int            { return len(h) }
func (h simTimerHeap) Less(i, j int) bool  { return h[i].at < h[j].at }
func (h simTimerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *simTimerHeap) Push(x interface{}) { *h = append(*h, x.(*simTimer)) }
func (h *simTimerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Now returns the current simulated time.
func (c *Simulated) Now() AbsTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep advances the simulated clock instantly; it never blocks.
func (c *Simulated) Sleep(d time.Duration) {
	c.Run(d)
}

// After returns a channel firing once d has been advanced past via Run.
func (c *Simulated) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	c.timers = append(c.timers, &simTimer{at: c.now + AbsTime(d), ch: ch})
	heap.Init(&c.timers)
	return ch
}

// Run advances the simulated clock by d, firing any timers whose deadline
// has been reached in order.
func (c *Simulated) Run(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	end := c.now + AbsTime(d)
	for len(c.timers) > 0 && c.timers[0].at <= end {
		t := heap.Pop(&c.timers).(*simTimer)
		c.now = t.at
		t.ch <- time.Unix(0, int64(t.at))
	}
	c.now = end
}
