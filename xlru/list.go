// Copyright 2022 The go-ethereum Authors
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

package xlru

// listElem is a node in the intrusive doubly linked list used to track
// recency order. v is the key stored in BasicLRU's map, so eviction never
// needs a second lookup.
type listElem[K any] struct {
	v          K
	next, prev *listElem[K]
}

// list is a minimal doubly linked ring list with a sentinel root element,
// sized precisely for what BasicLRU needs (push-front, move-to-front,
// remove, peek-back, iterate-back-to-front).
type list[K any] struct {
	root listElem[K]
}

func newList[K any]() *list[K] {
	l := new(list[K])
	l.init()
	return l
}

func (l *list[K]) init() {
	l.root.next = &l.root
	l.root.prev = &l.root
}

func (l *list[K]) pushFront(v K) *listElem[K] {
	e := &listElem[K]{v: v}
	l.insertAfter(e, &l.root)
	return e
}

func (l *list[K]) insertAfter(e, at *listElem[K]) {
	n := at.next
	at.next = e
	e.prev = at
	e.next = n
	n.prev = e
}

func (l *list[K]) remove(e *listElem[K]) {
	e.prev.next = e.next
	e.next.prev = e.prev
	e.next, e.prev = nil, nil
}

func (l *list[K]) moveToFront(e *listElem[K]) {
	if l.root.next == e {
		return
	}
	l.remove(e)
	l.insertAfter(e, &l.root)
}

// back returns the least-recently-used element, or nil if the list is empty.
func (l *list[K]) back() *listElem[K] {
	if l.root.prev == &l.root {
		return nil
	}
	return l.root.prev
}

// forEachReverse walks from least to most recently used, i.e. oldest first,
// matching BasicLRU.Keys' documented order. Stops early if fn returns false.
func (l *list[K]) forEachReverse(fn func(K) bool) {
	for e := l.root.prev; e != &l.root; e = e.prev {
		if !fn(e.v) {
			return
		}
	}
}
