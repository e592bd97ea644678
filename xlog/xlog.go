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

// Package xlog is a small leveled, contextual logger used throughout the
// sync engine. It mirrors the Trace/Debug/Info/Warn/Error/Crit API surface
// of go-ethereum's own log package, backed by golang.org/x/exp/slog instead
// of rolling a handler chain from scratch.
package xlog

import (
	"io"
	"os"

	"golang.org/x/exp/slog"
)

// Level mirrors the five (plus fatal) severities the sync engine logs at.
type Level int

const (
	LvlCrit Level = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LvlCrit, LvlError:
		return slog.LevelError
	case LvlWarn:
		return slog.LevelWarn
	case LvlInfo:
		return slog.LevelInfo
	case LvlDebug:
		return slog.LevelDebug
	default:
		return slog.LevelDebug - 4
	}
}

// Logger is the contextual logging interface consumed by every package in
// this module. Call New to attach persistent key/value context (e.g. a
// peer ID) that is prepended to every subsequent call.
type Logger interface {
	Trace(msg string, ctx ...any)
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Warn(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	Crit(msg string, ctx ...any)
	New(ctx ...any) Logger
}

type logger struct {
	s *slog.Logger
}

var root Logger = &logger{s: slog.New(NewTerminalHandler(os.Stderr, LvlInfo))}

// Root returns the package-wide root logger.
func Root() Logger { return root }

// SetDefault replaces the root logger, e.g. to raise verbosity in tests.
func SetDefault(l Logger) { root = l }

// New returns a root-derived logger with additional persistent context.
func New(ctx ...any) Logger { return root.New(ctx...) }

func (l *logger) log(level slog.Level, msg string, ctx []any) {
	l.s.Log(nil, level, msg, ctx...)
}

func (l *logger) Trace(msg string, ctx ...any) { l.log(slog.LevelDebug-4, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...any) { l.log(slog.LevelDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...any)  { l.log(slog.LevelInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...any)  { l.log(slog.LevelWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...any) { l.log(slog.LevelError, msg, ctx) }

// Crit logs at the highest severity and terminates the process, matching
// go-ethereum's log.Crit semantics (reserved for invariant violations that
// make continuing unsafe, e.g. a failed database batch write).
func (l *logger) Crit(msg string, ctx ...any) {
	l.log(slog.LevelError+4, msg, ctx)
	os.Exit(1)
}

func (l *logger) New(ctx ...any) Logger {
	return &logger{s: l.s.With(ctx...)}
}

// NewTerminalHandler builds a human-readable handler filtered to lvl and
// above, mirroring LvlFilterHandler(lvl, StreamHandler(w, TerminalFormat))
// from go-ethereum's log package.
func NewTerminalHandler(w io.Writer, lvl Level) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl.slogLevel()})
}

// Discard returns a logger that drops everything; useful for tests that
// don't want to assert on log output.
func Discard() Logger {
	return &logger{s: slog.New(slog.NewTextHandler(io.Discard, nil))}
}
