// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package hal

import "sync"

// MemIO is an in-memory IO and Analog bank. Inputs and outputs share the
// channel space, so a test can set an input and read back an output.
type MemIO struct {
	mu     sync.Mutex
	bits   map[int]bool
	analog map[int]uint16
	writes map[int]int
}

func NewMemIO() *MemIO {
	return &MemIO{
		bits:   make(map[int]bool),
		analog: make(map[int]uint16),
		writes: make(map[int]int),
	}
}

func (m *MemIO) ReadBit(channel int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bits[channel]
}

func (m *MemIO) WriteBit(channel int, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bits[channel] = on
	m.writes[channel]++
}

// SetInput changes a channel without counting it as a driven write.
func (m *MemIO) SetInput(channel int, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bits[channel] = on
}

// Writes returns how many times channel has been driven.
func (m *MemIO) Writes(channel int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[channel]
}

func (m *MemIO) ReadRaw(channel int) uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.analog[channel]
}

func (m *MemIO) SetRaw(channel int, v uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analog[channel] = v
}
