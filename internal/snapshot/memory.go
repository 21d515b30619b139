// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package snapshot

import (
	"sync"

	"github.com/ffutop/h2tech-gateway/internal/status"
)

// MemoryStorage keeps the snapshot in process memory only.
type MemoryStorage struct {
	mu   sync.Mutex
	last Snapshot
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (ms *MemoryStorage) Publish(frame []byte, bits status.BitImage) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.last = Snapshot{Seq: ms.last.Seq + 1, Frame: append([]byte(nil), frame...), Bits: bits}
	return nil
}

func (ms *MemoryStorage) Load() (Snapshot, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	s := ms.last
	s.Frame = append([]byte(nil), s.Frame...)
	return s, nil
}

func (ms *MemoryStorage) Close() error {
	return nil
}
