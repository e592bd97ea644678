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

package types

import "testing"

func TestHeaderHashDependsOnNumberAndParent(t *testing.T) {
	a := &Header{Number: 1}
	b := &Header{Number: 2}
	if a.Hash() == b.Hash() {
		t.Fatal("headers with different numbers hashed equal")
	}

	c := &Header{Number: 1, ParentHash: a.Hash()}
	d := &Header{Number: 1, ParentHash: b.Hash()}
	if c.Hash() == d.Hash() {
		t.Fatal("headers with different parent hashes hashed equal")
	}
}

func TestHeaderHashIgnoresUnrelatedFields(t *testing.T) {
	a := &Header{Number: 5, TxRoot: Hash{1}, Timestamp: 100}
	b := &Header{Number: 5, TxRoot: Hash{2}, Timestamp: 200}
	if a.Hash() != b.Hash() {
		t.Fatal("Hash() should depend only on Number and ParentHash")
	}
}

func TestHeaderHashIsDeterministic(t *testing.T) {
	h := &Header{Number: 42, ParentHash: Hash{0xaa}}
	if h.Hash() != h.Hash() {
		t.Fatal("Hash() is not deterministic")
	}
}

func TestEmptyBody(t *testing.T) {
	empty := &Header{TxRoot: EmptyTxRoot, UnclesHash: EmptyUnclesHash}
	if !empty.EmptyBody() {
		t.Fatal("EmptyBody() = false for a header carrying the empty sentinels")
	}

	nonEmpty := &Header{TxRoot: Hash{1}, UnclesHash: EmptyUnclesHash}
	if nonEmpty.EmptyBody() {
		t.Fatal("EmptyBody() = true for a header with a non-empty TxRoot")
	}
}
