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

// Package types holds the minimal data model the sync engine operates on:
// block numbers, hashes, headers and bodies. Wire encoding/decoding (RLP
// framing) is out of scope per spec.md §1 — these are plain in-memory
// structs the wire adapters (package wire) and chain database interface
// (package syncdb) exchange.
package types

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/holiman/uint256"
)

// Hash is a 32-byte opaque block/header identifier.
type Hash [32]byte

// PeerID is a stable identity key for a connected peer, used by the peer
// pool's LRU table (spec.md §4.6) and the pivot negotiator's peer sets
// (spec.md §4.3). Wire-layer identity (node key, enode URL, etc.) is out
// of scope (spec.md §1); callers supply whatever stable string they use
// to key a connection.
type PeerID string

// EmptyTxRoot and EmptyUnclesHash identify headers whose body is empty
// and therefore MUST NOT be requested over the wire (spec.md §3).
var (
	EmptyTxRoot    = Hash{0x56, 0xe8, 0x1f, 0x17, 0x1b, 0xcc, 0x55, 0xa6, 0xff, 0x83, 0x45, 0xe6, 0x92, 0xc0, 0xf8, 0x6e, 0x5b, 0x48, 0xe0, 0x1b, 0x99, 0x6c, 0xad, 0xc0, 0x01, 0x62, 0x2f, 0xb5, 0xe3, 0x63, 0xb4, 0x21}
	EmptyUnclesHash = Hash{0x1d, 0xcc, 0x4d, 0xe8, 0xde, 0xc7, 0x5d, 0x7a, 0xab, 0x85, 0xb5, 0x67, 0xb6, 0xcc, 0xd4, 0x1a, 0xd3, 0x12, 0x45, 0x1b, 0x94, 0x8a, 0x74, 0x13, 0xf0, 0xa1, 0x42, 0xfd, 0x40, 0xd4, 0x93, 0x47}
)

// Header is the minimal header view the core sync engine needs. Consensus
// validation beyond parent-hash linkage is a caller concern (spec.md §1
// Non-goals); this struct carries exactly the fields spec.md §3 lists.
type Header struct {
	Number       uint64
	ParentHash   Hash
	TxRoot       Hash
	UnclesHash   Hash
	ReceiptsRoot Hash
	Timestamp    uint64
	Difficulty   *uint256.Int
}

// Hash computes the header's identifying hash. Production code would hash
// the RLP encoding; since wire codecs are out of scope (spec.md §1) this
// uses a content hash of the fields the core state machine cares about,
// sufficient to satisfy the parent-linkage invariants the sync engine
// checks.
func (h *Header) Hash() Hash {
	var buf [8 + 32]byte
	binary.BigEndian.PutUint64(buf[:8], h.Number)
	copy(buf[8:], h.ParentHash[:])
	return sha256.Sum256(buf[:])
}

// EmptyBody reports whether this header's body is known to be empty
// without fetching it (spec.md §3: "MUST NOT be requested over the wire").
func (h *Header) EmptyBody() bool {
	return h.TxRoot == EmptyTxRoot && h.UnclesHash == EmptyUnclesHash
}

// Body holds a block's transactions and uncles as opaque blobs, plus
// withdrawals post-Shanghai (spec.md §3). The sync engine never inspects
// their contents, only counts and alignment with a header.
type Body struct {
	Transactions [][]byte
	Uncles       [][]byte
	Withdrawals  [][]byte
}

// The block queue matches a delivered body to its header by recomputing
// (TxRoot, UnclesHash) with a caller-supplied blockqueue.BodyHasher (spec.md
// §4.4 fetchBodies); full validation of a body against its header is left
// to the chain database.
