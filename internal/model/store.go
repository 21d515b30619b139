// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package model

import "sort"

// Store keeps one Image per downstream slave.
type Store struct {
	images map[byte]*Image
}

func NewStore() *Store {
	return &Store{images: make(map[byte]*Image)}
}

// Add creates the image for slaveID, replacing any previous one.
func (s *Store) Add(slaveID byte, l Layout) *Image {
	img := NewImage(l)
	s.images[slaveID] = img
	return img
}

// Image returns the image of slaveID.
func (s *Store) Image(slaveID byte) (*Image, bool) {
	img, ok := s.images[slaveID]
	return img, ok
}

// Slaves returns the known slave IDs in ascending order.
func (s *Store) Slaves() []byte {
	ids := make([]byte, 0, len(s.images))
	for id := range s.images {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Reset zeroes every image.
func (s *Store) Reset() {
	for _, img := range s.images {
		img.Reset()
	}
}
