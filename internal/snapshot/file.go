// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package snapshot

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ffutop/h2tech-gateway/internal/status"
)

// FileStorage rewrites a small file on every publish and syncs it.
type FileStorage struct {
	mu   sync.Mutex
	path string
	file *os.File
	data []byte
	seq  uint32
}

// NewFileStorage opens path, creating it if necessary. An existing
// snapshot is kept and its sequence continued.
func NewFileStorage(path string) (*FileStorage, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() != int64(totalSize) {
		if err := f.Truncate(int64(totalSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to resize snapshot file: %w", err)
		}
	}
	data := make([]byte, totalSize)
	if _, err := io.ReadFull(f, data); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}
	ms := &FileStorage{path: path, file: f, data: data}
	if s, err := decode(data); err == nil {
		ms.seq = s.Seq
	}
	return ms, nil
}

func (ms *FileStorage) Publish(frame []byte, bits status.BitImage) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.file == nil {
		return os.ErrClosed
	}
	if err := encode(ms.data, Snapshot{Seq: ms.seq + 1, Frame: frame, Bits: bits}); err != nil {
		return err
	}
	ms.seq++
	if _, err := ms.file.WriteAt(ms.data, 0); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}
	if err := ms.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync snapshot file: %w", err)
	}
	return nil
}

func (ms *FileStorage) Load() (Snapshot, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return decode(ms.data)
}

func (ms *FileStorage) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.file == nil {
		return nil
	}
	err := ms.file.Close()
	ms.file = nil
	return err
}
