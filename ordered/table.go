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

// Package ordered implements the sorted, block-number-keyed table
// described in spec.md §2. It backs the block-queue's staged map
// (package blockqueue) and is general enough for any map keyed by a
// block number that needs range queries and in-order traversal.
package ordered

import "sort"

// Table is a sorted map keyed by uint64, generic over its value type.
// All operations run in O(log N) except Delete/insert, which are O(N) due
// to the backing sorted slice — acceptable here because staged queues are
// bounded by STAGED_MAX (spec.md §4.4), never by chain size.
type Table[V any] struct {
	keys   []uint64
	values []V
}

// New creates an empty table.
func New[V any]() *Table[V] {
	return &Table[V]{}
}

func (t *Table[V]) indexOf(key uint64) (int, bool) {
	i := sort.Search(len(t.keys), func(i int) bool { return t.keys[i] >= key })
	return i, i < len(t.keys) && t.keys[i] == key
}

// Len returns the number of entries.
func (t *Table[V]) Len() int { return len(t.keys) }

// Put inserts or replaces the value stored at key.
func (t *Table[V]) Put(key uint64, value V) {
	i, found := t.indexOf(key)
	if found {
		t.values[i] = value
		return
	}
	t.keys = append(t.keys, 0)
	copy(t.keys[i+1:], t.keys[i:])
	t.keys[i] = key

	var zero V
	t.values = append(t.values, zero)
	copy(t.values[i+1:], t.values[i:])
	t.values[i] = value
}

// Get retrieves the value stored at key.
func (t *Table[V]) Get(key uint64) (V, bool) {
	i, found := t.indexOf(key)
	if !found {
		var zero V
		return zero, false
	}
	return t.values[i], true
}

// Delete removes the entry at key, if present.
func (t *Table[V]) Delete(key uint64) {
	i, found := t.indexOf(key)
	if !found {
		return
	}
	t.keys = append(t.keys[:i], t.keys[i+1:]...)
	t.values = append(t.values[:i], t.values[i+1:]...)
}

// First returns the entry with the least key, if any.
func (t *Table[V]) First() (key uint64, value V, ok bool) {
	if len(t.keys) == 0 {
		return 0, value, false
	}
	return t.keys[0], t.values[0], true
}

// Ge returns the entry with the least key >= x, if any.
func (t *Table[V]) Ge(x uint64) (key uint64, value V, ok bool) {
	i := sort.Search(len(t.keys), func(i int) bool { return t.keys[i] >= x })
	if i == len(t.keys) {
		return 0, value, false
	}
	return t.keys[i], t.values[i], true
}

// Le returns the entry with the greatest key <= x, if any.
func (t *Table[V]) Le(x uint64) (key uint64, value V, ok bool) {
	i := sort.Search(len(t.keys), func(i int) bool { return t.keys[i] > x })
	if i == 0 {
		return 0, value, false
	}
	return t.keys[i-1], t.values[i-1], true
}

// ForEach calls fn for every entry in increasing key order, stopping early
// if fn returns false.
func (t *Table[V]) ForEach(fn func(key uint64, value V) bool) {
	for i, k := range t.keys {
		if !fn(k, t.values[i]) {
			return
		}
	}
}

// Keys returns a copy of the stored keys in increasing order.
func (t *Table[V]) Keys() []uint64 {
	out := make([]uint64, len(t.keys))
	copy(out, t.keys)
	return out
}
