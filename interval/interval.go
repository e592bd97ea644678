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

// Package interval implements the disjoint union of closed integer ranges
// described in spec.md §4.1. It backs the block-queue's unprocessed set
// (package blockqueue): the set of block numbers not yet claimed by any
// in-flight fetch.
package interval

import "sort"

// Range is a closed interval [Lo, Hi] over the block-number domain. Both
// bounds are included, so a single-block range has Lo == Hi.
type Range struct {
	Lo, Hi uint64
}

func (r Range) Len() uint64 { return r.Hi - r.Lo + 1 }

// Set is a minimal disjoint union of closed ranges, kept sorted by Lo.
// No two stored ranges touch or overlap: for adjacent ranges r_i, r_{i+1},
// r_i.Hi+1 < r_{i+1}.Lo always holds. Every stored range is non-empty.
type Set struct {
	ranges []Range
}

// NewFull returns a set covering the single range [lo, hi].
func NewFull(lo, hi uint64) *Set {
	return &Set{ranges: []Range{{lo, hi}}}
}

// Empty returns a set with no ranges.
func Empty() *Set { return &Set{} }

// Len returns the number of disjoint ranges currently stored.
func (s *Set) Len() int { return len(s.ranges) }

// search returns the index of the first range whose Hi >= x, i.e. the first
// range that could possibly contain or follow x.
func (s *Set) search(x uint64) int {
	return sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].Hi >= x })
}

// Merge inserts [lo, hi] into the set, coalescing with any overlapping or
// adjacent ranges. Returns the number of points in [lo, hi] that were not
// already covered by the set before the call.
func (s *Set) Merge(lo, hi uint64) uint64 {
	if hi < lo {
		return 0
	}
	// Find the span of existing ranges that touch or are adjacent to
	// [lo, hi] (adjacency within 1, so back-to-back ranges coalesce). The
	// comparisons avoid Hi+1 / hi+1 so ranges ending at MaxUint64 work.
	i := sort.Search(len(s.ranges), func(i int) bool {
		return s.ranges[i].Hi >= lo || s.ranges[i].Hi+1 == lo
	})
	j := i
	var (
		newLo, newHi = lo, hi
		alreadyCovered uint64
	)
	for j < len(s.ranges) && (s.ranges[j].Lo <= hi || s.ranges[j].Lo-1 == hi) {
		r := s.ranges[j]
		if r.Lo < newLo {
			newLo = r.Lo
		}
		if r.Hi > newHi {
			newHi = r.Hi
		}
		alreadyCovered += overlapLen(r, Range{lo, hi})
		j++
	}
	merged := Range{newLo, newHi}

	tail := append([]Range{}, s.ranges[j:]...)
	head := append([]Range{}, s.ranges[:i]...)
	s.ranges = append(head, append([]Range{merged}, tail...)...)

	return (hi - lo + 1) - alreadyCovered
}

func overlapLen(a, b Range) uint64 {
	lo, hi := a.Lo, a.Hi
	if b.Lo > lo {
		lo = b.Lo
	}
	if b.Hi < hi {
		hi = b.Hi
	}
	if hi < lo {
		return 0
	}
	return hi - lo + 1
}

// Reduce removes [lo, hi] from the set, splitting any range that straddles
// the boundary.
func (s *Set) Reduce(lo, hi uint64) {
	if hi < lo {
		return
	}
	out := s.ranges[:0:0]
	for _, r := range s.ranges {
		switch {
		case r.Hi < lo || r.Lo > hi:
			// No overlap at all.
			out = append(out, r)
		case r.Lo >= lo && r.Hi <= hi:
			// Fully removed.
		case r.Lo < lo && r.Hi > hi:
			// Split in two.
			out = append(out, Range{r.Lo, lo - 1}, Range{hi + 1, r.Hi})
		case r.Lo < lo:
			out = append(out, Range{r.Lo, lo - 1})
		default: // r.Hi > hi
			out = append(out, Range{hi + 1, r.Hi})
		}
	}
	s.ranges = out
}

// Contains reports whether x lies in some stored range.
func (s *Set) Contains(x uint64) bool {
	i := s.search(x)
	return i < len(s.ranges) && s.ranges[i].Lo <= x
}

// Ge returns the least-valued range whose Lo >= x, if any.
func (s *Set) Ge(x uint64) (Range, bool) {
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].Lo >= x })
	if i < len(s.ranges) {
		return s.ranges[i], true
	}
	return Range{}, false
}

// Le returns the greatest-valued range whose Hi <= x, if any.
func (s *Set) Le(x uint64) (Range, bool) {
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].Hi > x })
	if i == 0 {
		return Range{}, false
	}
	return s.ranges[i-1], true
}

// First returns the least-valued stored range, if any.
func (s *Set) First() (Range, bool) {
	if len(s.ranges) == 0 {
		return Range{}, false
	}
	return s.ranges[0], true
}

// All returns a copy of the stored ranges in increasing order.
func (s *Set) All() []Range {
	out := make([]Range, len(s.ranges))
	copy(out, s.ranges)
	return out
}
