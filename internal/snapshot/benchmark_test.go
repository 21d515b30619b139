// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package snapshot

import (
	"path/filepath"
	"testing"

	"github.com/ffutop/h2tech-gateway/internal/status"
)

func benchmarkPublish(b *testing.B, typ string) {
	st, err := New(typ, filepath.Join(b.TempDir(), "bench.bin"))
	if err != nil {
		b.Fatalf("Failed to open %s storage: %v", typ, err)
	}
	defer st.Close()
	s := status.New(0)
	var bits status.BitImage

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.TimestampMs = uint32(i)
		if err := st.Publish(status.EncodeFrame(&s), bits); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMemoryStorage_Publish(b *testing.B) { benchmarkPublish(b, "memory") }

// BenchmarkFileStorage_Publish includes an fsync per call.
func BenchmarkFileStorage_Publish(b *testing.B) { benchmarkPublish(b, "file") }

// BenchmarkMmapStorage_Publish includes an msync per call.
func BenchmarkMmapStorage_Publish(b *testing.B) { benchmarkPublish(b, "mmap") }

// BenchmarkEncodeFrame is the baseline without storage.
func BenchmarkEncodeFrame(b *testing.B) {
	s := status.New(0)
	for i := 0; i < b.N; i++ {
		_ = status.EncodeFrame(&s)
	}
}
