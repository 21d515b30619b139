// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package snapshot publishes the latest status frame and bit image so
// that other processes, or the gateway after a restart, can read them.
package snapshot

import (
	"fmt"

	"github.com/ffutop/h2tech-gateway/internal/status"
)

// Snapshot is one published status.
type Snapshot struct {
	Seq   uint32
	Frame []byte
	Bits  status.BitImage
}

// Status decodes the frame.
func (s Snapshot) Status() (status.AggregatedStatus, error) {
	return status.DecodeFrame(s.Frame)
}

// Storage defines where snapshots go.
type Storage interface {
	// Publish replaces the current snapshot.
	Publish(frame []byte, bits status.BitImage) error

	// Load returns the current snapshot. A storage that has never been
	// published to returns a zero Snapshot.
	Load() (Snapshot, error)

	Close() error
}

// New opens a storage by type: "memory" (default), "file" or "mmap".
func New(typ, path string) (Storage, error) {
	switch typ {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "file":
		return NewFileStorage(path)
	case "mmap":
		return NewMmapStorage(path)
	default:
		return nil, fmt.Errorf("snapshot: unknown storage type %q", typ)
	}
}
