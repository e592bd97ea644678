// Copyright 2018 The go-ethereum Authors
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

// Package xclock provides a logical clock abstraction, modeled on
// go-ethereum's common/mclock package, so the scheduler's MIN_LAP pacing
// and the head-tracker's polling cadence can be driven deterministically
// by tests instead of real wall-clock sleeps.
package xclock

import "time"

// AbsTime represents absolute monotonic time in nanoseconds.
type AbsTime int64

// Clock interface makes it possible to replace the monotonic system clock with
// a simulated clock in tests.
type Clock interface {
	Now() AbsTime
	Sleep(time.Duration)
	After(time.Duration) <-chan time.Time
}

// System implements Clock using the real system clock.
type System struct{}

func (System) Now() AbsTime { return AbsTime(time.Now().UnixNano()) }

func (System) Sleep(d time.Duration) { time.Sleep(d) }

func (System) After(d time.Duration) <-chan time.Time { return time.After(d) }
