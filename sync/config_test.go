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

package sync

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
		is      error
	}{
		{"zero MaxPeers", Config{MaxPeers: 0}, true, ErrInvalidMaxPeers},
		{"negative MaxPeers", Config{MaxPeers: -1}, true, ErrInvalidMaxPeers},
		{"negative ChunkSize", Config{MaxPeers: 4, ChunkSize: -1}, true, nil},
		{"valid", Config{MaxPeers: 4, ChunkSize: 128}, false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("want error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("err = %v, want nil", err)
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Fatalf("err = %v, want %v", err, tt.is)
			}
		})
	}
}

func TestParseCtrlLineDecimal(t *testing.T) {
	target, err := ParseCtrlLine("  12345  ")
	if err != nil {
		t.Fatal(err)
	}
	if target.Kind != TargetNumber || target.Number != 12345 {
		t.Fatalf("target = %+v, want number 12345", target)
	}
}

func TestParseCtrlLineHash(t *testing.T) {
	line := "0xab000000000000000000000000000000000000000000000000000000000000cd"
	target, err := ParseCtrlLine(line)
	if err != nil {
		t.Fatal(err)
	}
	if target.Kind != TargetHash {
		t.Fatalf("target.Kind = %v, want TargetHash", target.Kind)
	}
	if target.Hash[0] != 0xab || target.Hash[31] != 0xcd {
		t.Fatalf("hash = %x, want first byte ab and last byte cd", target.Hash)
	}
}

func TestParseCtrlLineRejectsShortHash(t *testing.T) {
	if _, err := ParseCtrlLine("0xabcd"); !errors.Is(err, ErrBadCtrlLine) {
		t.Fatalf("err = %v, want ErrBadCtrlLine", err)
	}
}

func TestParseCtrlLineRejectsGarbage(t *testing.T) {
	if _, err := ParseCtrlLine("not-a-number"); !errors.Is(err, ErrBadCtrlLine) {
		t.Fatalf("err = %v, want ErrBadCtrlLine", err)
	}
}

func TestParseCtrlLineRejectsEmpty(t *testing.T) {
	if _, err := ParseCtrlLine("   "); !errors.Is(err, ErrBadCtrlLine) {
		t.Fatalf("err = %v, want ErrBadCtrlLine", err)
	}
}

func TestLoadCtrlTargetEmptyPath(t *testing.T) {
	target, ok, err := LoadCtrlTarget("")
	if err != nil || ok || target.Kind != TargetNone {
		t.Fatalf("LoadCtrlTarget(\"\") = %+v, %v, %v; want zero Target, false, nil", target, ok, err)
	}
}

func TestLoadCtrlTargetReadsFirstLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sync.ctrl")
	if err := os.WriteFile(path, []byte("999\nignored second line\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	target, ok, err := LoadCtrlTarget(path)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || target.Kind != TargetNumber || target.Number != 999 {
		t.Fatalf("target = %+v, ok = %v, want number 999", target, ok)
	}
}

func TestLoadCtrlTargetMissingFile(t *testing.T) {
	if _, _, err := LoadCtrlTarget("/nonexistent/path/sync.ctrl"); err == nil {
		t.Fatal("want error for missing file")
	}
}
