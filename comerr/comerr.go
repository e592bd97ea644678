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

// Package comerr implements the per-peer communication-error classifier
// of spec.md §4.8: a failing wire call maps to one of a small set of
// named error kinds, each with its own counter, backoff and zombie
// threshold.
package comerr

import "time"

// Kind classifies a wire-call failure.
type Kind int

const (
	// ResponseTimeout is a request that was never answered.
	ResponseTimeout Kind = iota
	// NetworkProblem is a transport-level failure (reset, disconnect).
	NetworkProblem
	// NoData is "NoDataForStateRoot/Accounts/ByteCodes/..." — the peer
	// replied but had nothing useful.
	NoData
	// Excessive is "TooMany*", "MinTooSmall", "MaxTooLarge" — a local or
	// remote protocol-size violation that zombies the peer immediately.
	Excessive
	// Benign is "Empty*Arguments", "EmptyPartialRange", "NothingSerious" —
	// ignored outright.
	Benign
)

// Default thresholds and backoffs from spec.md §4.8.
const (
	TimeoutMax = 2
	NetMax     = 2
	NoDataMax  = 2

	TimeoutSleep = 500 * time.Millisecond
	NetSleep     = 1000 * time.Millisecond
	NoDataSleep  = 500 * time.Millisecond
)

// Outcome tells the caller what to do after a failure is classified.
type Outcome struct {
	Sleep  time.Duration
	Zombie bool
}

// Classifier holds one peer's rolling failure counters.
type Classifier struct {
	nTimeouts int
	nNetwork  int
	nNoData   int
}

// New returns a classifier with all counters at zero.
func New() *Classifier { return &Classifier{} }

// Fail records a failure of the given kind and returns the policy to
// apply: how long to back off, and whether the peer should be zombied.
func (c *Classifier) Fail(kind Kind) Outcome {
	switch kind {
	case ResponseTimeout:
		c.nTimeouts++
		return Outcome{Sleep: TimeoutSleep, Zombie: c.nTimeouts > TimeoutMax}
	case NetworkProblem:
		c.nNetwork++
		return Outcome{Sleep: NetSleep, Zombie: c.nNetwork > NetMax}
	case NoData:
		c.nNoData++
		return Outcome{Sleep: NoDataSleep, Zombie: c.nNoData > NoDataMax}
	case Excessive:
		return Outcome{Zombie: true}
	default: // Benign
		return Outcome{}
	}
}

// Success resets all counters, per spec.md §4.8 "On any successful reply
// all counters reset."
func (c *Classifier) Success() {
	c.nTimeouts = 0
	c.nNetwork = 0
	c.nNoData = 0
}

// Counters reports the current rolling failure counts, for observability.
func (c *Classifier) Counters() (timeouts, network, noData int) {
	return c.nTimeouts, c.nNetwork, c.nNoData
}
