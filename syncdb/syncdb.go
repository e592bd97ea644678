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

// Package syncdb declares the chain/state database boundary the sync
// engine consumes (spec.md §6). Wire codecs and the database itself are
// deliberately out of scope (spec.md §1); this package is the seam a host
// application implements against a real chain database such as geth's
// core/rawdb, and the seam tests implement with an in-memory fake.
package syncdb

import "github.com/ethsync/peerpool/types"

// ImportResult reports whether persistBlocks accepted a range of blocks.
type ImportResult int

const (
	// Ok means the headers and bodies were validated and persisted.
	Ok ImportResult = iota
	// Error means validation failed; the caller must recycle the range.
	Error
)

// Database is the small chain/state interface the sync engine calls into
// to persist imported blocks and to answer ancestry questions, per
// spec.md §6 "Chain/state database interface". Implementations own all
// consensus validation; the sync engine only checks parent-hash linkage
// and numbering before calling PersistBlocks.
type Database interface {
	// PersistBlocks imports a contiguous run of headers with their
	// matching bodies into the canonical chain.
	PersistBlocks(headers []*types.Header, bodies []*types.Body) ImportResult

	// GetBlockHeader looks up a header by hash, if known locally.
	GetBlockHeader(hash types.Hash) (*types.Header, bool)

	// GetBlockHeaderByNumber looks up the canonical header at number, if
	// known locally.
	GetBlockHeaderByNumber(number uint64) (*types.Header, bool)

	// GetBlockHash returns the canonical hash stored at number, if any.
	GetBlockHash(number uint64) (types.Hash, bool)

	// GetScore returns the total difficulty accumulated at hash, used
	// only pre-merge (spec.md §6).
	GetScore(hash types.Hash) (uint64, bool)

	// GenesisHash, NetworkID and ForkID identify the chain the database
	// belongs to, consulted during peer handshake validation.
	GenesisHash() types.Hash
	NetworkID() uint64
	ForkID(number uint64, timestamp uint64) uint64
}
