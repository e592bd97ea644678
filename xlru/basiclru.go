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

// Package xlru is a generic, non-thread-safe LRU cache, modeled on
// go-ethereum's common/lru/basiclru.go. The peer-pool scheduler uses it
// as its bounded, most-recently-used peer table: insertion moves a key
// to the MRU end, and Keys() returns entries oldest (LRU) first so
// eviction always pops element zero.
package xlru

// BasicLRU implements a basic LRU with ordinary map and list operations,
// without any instrumentation or locking. The zero value is not usable;
// use NewBasicLRU.
type BasicLRU[K comparable, V any] struct {
	list  *list[K]
	items map[K]lruItem[K, V]
	cap   int
}

type lruItem[K any, V any] struct {
	value V
	elem  *listElem[K]
}

// NewBasicLRU creates a new LRU cache of the given capacity.
func NewBasicLRU[K comparable, V any](capacity int) BasicLRU[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	c := BasicLRU[K, V]{
		items: make(map[K]lruItem[K, V]),
		list:  newList[K](),
		cap:   capacity,
	}
	return c
}

// Len returns the current number of elements in the cache.
func (c *BasicLRU[K, V]) Len() int {
	return len(c.items)
}

// Add adds a value to the cache. Returns true if an item was evicted to store
// the new item.
func (c *BasicLRU[K, V]) Add(key K, value V) (evicted bool) {
	item, ok := c.items[key]
	if ok {
		// Already exists in cache, bump to front and update value.
		c.list.moveToFront(item.elem)
		item.value = value
		c.items[key] = item
		return false
	}
	elem := c.list.pushFront(key)
	c.items[key] = lruItem[K, V]{value, elem}
	return c.removeOldest()
}

// Contains reports whether the given key exists in the cache without
// updating recency.
func (c *BasicLRU[K, V]) Contains(key K) bool {
	_, ok := c.items[key]
	return ok
}

// Get retrieves a value from the cache. It marks the element as recently
// used.
func (c *BasicLRU[K, V]) Get(key K) (value V, ok bool) {
	item, ok := c.items[key]
	if !ok {
		return value, false
	}
	c.list.moveToFront(item.elem)
	return item.value, true
}

// Peek retrieves a value from the cache, but does not mark the element
// as most recently used.
func (c *BasicLRU[K, V]) Peek(key K) (value V, ok bool) {
	item, ok := c.items[key]
	return item.value, ok
}

// Remove drops an item from the cache. Returns true if the key was present
// in the cache.
func (c *BasicLRU[K, V]) Remove(key K) bool {
	item, ok := c.items[key]
	if ok {
		c.list.remove(item.elem)
		delete(c.items, key)
	}
	return ok
}

// RemoveOldest drops the least recently used item.
func (c *BasicLRU[K, V]) RemoveOldest() (key K, value V, ok bool) {
	k := c.list.back()
	if k != nil {
		key = k.v
		item := c.items[key]
		value = item.value
		c.list.remove(k)
		delete(c.items, key)
		ok = true
	}
	return key, value, ok
}

// removeOldest removes the oldest item from the cache if the capacity has
// been exceeded.
func (c *BasicLRU[K, V]) removeOldest() bool {
	if len(c.items) > c.cap {
		_, _, ok := c.RemoveOldest()
		return ok
	}
	return false
}

// Keys returns all keys in the cache, oldest (least recently used) first.
func (c *BasicLRU[K, V]) Keys() []K {
	keys := make([]K, 0, len(c.items))
	fn := func(k K) bool {
		keys = append(keys, k)
		return true
	}
	c.list.forEachReverse(fn)
	return keys
}

// Purge empties the cache.
func (c *BasicLRU[K, V]) Purge() {
	c.list.init()
	clear(c.items)
}
