// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ffutop/h2tech-gateway/internal/status"
)

func sampleFrame(ts uint32) []byte {
	s := status.New(ts)
	s.MainDI = 0x03
	s.ErrorFlags = status.ErrCommHPSB
	return status.EncodeFrame(&s)
}

func TestStorages(t *testing.T) {
	for _, typ := range []string{"memory", "file", "mmap"} {
		t.Run(typ, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "status.bin")
			st, err := New(typ, path)
			require.NoError(t, err)
			defer st.Close()

			empty, err := st.Load()
			require.NoError(t, err)
			assert.Equal(t, uint32(0), empty.Seq)
			assert.Empty(t, empty.Frame)

			var bits status.BitImage
			bits.Set(status.Alarm1, true)
			require.NoError(t, st.Publish(sampleFrame(100), bits))
			require.NoError(t, st.Publish(sampleFrame(600), bits))

			got, err := st.Load()
			require.NoError(t, err)
			assert.Equal(t, uint32(2), got.Seq)
			assert.Equal(t, sampleFrame(600), got.Frame)
			assert.True(t, got.Bits.Get(status.Alarm1))

			s, err := got.Status()
			require.NoError(t, err)
			assert.Equal(t, uint32(600), s.TimestampMs)
			assert.Equal(t, uint8(0x03), s.MainDI)
		})
	}
}

func TestPersistentStoragesSurviveRestart(t *testing.T) {
	for _, typ := range []string{"file", "mmap"} {
		t.Run(typ, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "status.bin")
			st, err := New(typ, path)
			require.NoError(t, err)
			require.NoError(t, st.Publish(sampleFrame(42), status.BitImage{}))
			require.NoError(t, st.Close())

			fi, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, int64(totalSize), fi.Size())

			st, err = New(typ, path)
			require.NoError(t, err)
			defer st.Close()
			got, err := st.Load()
			require.NoError(t, err)
			assert.Equal(t, sampleFrame(42), got.Frame)

			// the sequence continues
			require.NoError(t, st.Publish(sampleFrame(43), status.BitImage{}))
			got, err = st.Load()
			require.NoError(t, err)
			assert.Equal(t, uint32(2), got.Seq)
		})
	}
}

func TestCorruptFileIsReported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.bin")
	garbage := make([]byte, totalSize)
	garbage[0] = 'X'
	require.NoError(t, os.WriteFile(path, garbage, 0644))

	st, err := NewFileStorage(path)
	require.NoError(t, err)
	defer st.Close()
	_, err = st.Load()
	assert.ErrorIs(t, err, ErrCorrupt)

	// publishing repairs it
	require.NoError(t, st.Publish(sampleFrame(1), status.BitImage{}))
	got, err := st.Load()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), got.Seq)
}

func TestUnknownStorageType(t *testing.T) {
	_, err := New("sql", "")
	assert.Error(t, err)
}

func TestOversizedFrame(t *testing.T) {
	st := NewMemoryStorage()
	require.NoError(t, st.Publish(make([]byte, 200), status.BitImage{}))
	fs, err := NewFileStorage(filepath.Join(t.TempDir(), "s.bin"))
	require.NoError(t, err)
	defer fs.Close()
	assert.Error(t, fs.Publish(make([]byte, sizeFrame+1), status.BitImage{}))
}
