// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package snapshot

import (
	"fmt"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"

	"github.com/ffutop/h2tech-gateway/internal/status"
)

// MmapStorage publishes into a memory-mapped file, so a reader process
// mapping the same file sees every status as it is published.
type MmapStorage struct {
	mu   sync.Mutex
	path string
	file *os.File
	data mmap.MMap
	seq  uint32
}

// NewMmapStorage maps path, creating it if necessary.
func NewMmapStorage(path string) (*MmapStorage, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open mmap file: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() != int64(totalSize) {
		if err := f.Truncate(int64(totalSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to resize mmap file: %w", err)
		}
	}
	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	ms := &MmapStorage{path: path, file: f, data: data}
	if s, err := decode(data); err == nil {
		ms.seq = s.Seq
	}
	return ms, nil
}

// Publish writes in place and flushes the mapping to disk.
func (ms *MmapStorage) Publish(frame []byte, bits status.BitImage) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.data == nil {
		return fmt.Errorf("mmap data is nil")
	}
	if err := encode(ms.data, Snapshot{Seq: ms.seq + 1, Frame: frame, Bits: bits}); err != nil {
		return err
	}
	ms.seq++
	return ms.data.Flush()
}

func (ms *MmapStorage) Load() (Snapshot, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.data == nil {
		return Snapshot{}, fmt.Errorf("mmap data is nil")
	}
	return decode(ms.data)
}

// Close unmaps and closes the file.
func (ms *MmapStorage) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	var err error
	if ms.data != nil {
		if e := ms.data.Unmap(); e != nil {
			err = e
		}
		ms.data = nil
	}
	if ms.file != nil {
		if e := ms.file.Close(); e != nil {
			err = e
		}
		ms.file = nil
	}
	return err
}
