// Copyright 2014 The go-ethereum Authors
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

// Package xprque is a priority queue, modeled on go-ethereum's
// common/prque. Used by the sync orchestrator to pick the locked peer
// with the highest best-known block number without re-sorting a slice
// on every lap.
package xprque

import "container/heap"

// Prque is a priority queue data structure. Higher priority values are
// popped first.
type Prque[P int64 | float64, V any] struct {
	cont items[P, V]
}

// New creates a new priority queue.
func New[P int64 | float64, V any]() *Prque[P, V] {
	return &Prque[P, V]{}
}

// Push adds an item with the given priority.
func (p *Prque[P, V]) Push(data V, priority P) {
	heap.Push(&p.cont, &item[P, V]{data, priority})
}

// Peek returns the value with the greatest priority but does not pop it off.
func (p *Prque[P, V]) Peek() (V, P) {
	it := p.cont[0]
	return it.value, it.priority
}

// Pop removes the item with the greatest priority.
func (p *Prque[P, V]) Pop() (V, P) {
	it := heap.Pop(&p.cont).(*item[P, V])
	return it.value, it.priority
}

// Size returns the number of items in the queue.
func (p *Prque[P, V]) Size() int { return len(p.cont) }

// Empty checks whether the queue is empty.
func (p *Prque[P, V]) Empty() bool { return len(p.cont) == 0 }

// Reset clears the queue.
func (p *Prque[P, V]) Reset() { p.cont = nil }

type item[P int64 | float64, V any] struct {
	value    V
	priority P
}

// items is a plain slice-backed container/heap.Interface implementation.
// Higher priority sorts first (max-heap).
type items[P int64 | float64, V any] []*item[P, V]

func (s items[P, V]) Len() int            { return len(s) }
func (s items[P, V]) Less(i, j int) bool  { return s[i].priority > s[j].priority }
func (s items[P, V]) Swap(i, j int)       { s[i], s[j] = s[j], s[i] }
func (s *items[P, V]) Push(data any)      { *s = append(*s, data.(*item[P, V])) }
func (s *items[P, V]) Pop() any {
	old := *s
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*s = old[:n-1]
	return it
}
