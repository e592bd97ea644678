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

package ordered

import "testing"

func TestPutGetDelete(t *testing.T) {
	tb := New[string]()
	tb.Put(10, "ten")
	tb.Put(5, "five")
	tb.Put(20, "twenty")

	if v, ok := tb.Get(5); !ok || v != "five" {
		t.Fatalf("Get(5) = %v, %v", v, ok)
	}
	if tb.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", tb.Len())
	}

	tb.Delete(10)
	if _, ok := tb.Get(10); ok {
		t.Fatalf("expected 10 to be deleted")
	}
	if tb.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tb.Len())
	}
}

func TestPutReplacesExisting(t *testing.T) {
	tb := New[int]()
	tb.Put(1, 100)
	tb.Put(1, 200)
	if tb.Len() != 1 {
		t.Fatalf("duplicate Put should replace, not insert, Len() = %d", tb.Len())
	}
	if v, _ := tb.Get(1); v != 200 {
		t.Fatalf("Get(1) = %d, want 200", v)
	}
}

func TestFirstGeLe(t *testing.T) {
	tb := New[int]()
	for _, k := range []uint64{5, 1, 9, 3} {
		tb.Put(k, int(k)*10)
	}
	if k, v, ok := tb.First(); !ok || k != 1 || v != 10 {
		t.Fatalf("First() = %d, %d, %v; want 1, 10, true", k, v, ok)
	}
	if k, _, ok := tb.Ge(4); !ok || k != 5 {
		t.Fatalf("Ge(4) = %d, %v; want 5, true", k, ok)
	}
	if k, _, ok := tb.Le(4); !ok || k != 3 {
		t.Fatalf("Le(4) = %d, %v; want 3, true", k, ok)
	}
	if _, _, ok := tb.Ge(10); ok {
		t.Fatalf("Ge(10) should find nothing")
	}
}

func TestForEachInOrder(t *testing.T) {
	tb := New[int]()
	for _, k := range []uint64{5, 1, 9, 3} {
		tb.Put(k, 0)
	}
	var got []uint64
	tb.ForEach(func(key uint64, _ int) bool {
		got = append(got, key)
		return true
	})
	want := []uint64{1, 3, 5, 9}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestForEachStopsEarly(t *testing.T) {
	tb := New[int]()
	tb.Put(1, 0)
	tb.Put(2, 0)
	tb.Put(3, 0)

	var count int
	tb.ForEach(func(key uint64, _ int) bool {
		count++
		return key < 2
	})
	if count != 2 {
		t.Fatalf("expected early stop after 2 entries, got %d", count)
	}
}
