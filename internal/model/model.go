// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package model

import (
	"errors"
	"fmt"
)

var ErrOutOfRange = errors.New("model: address range out of bounds")

// TableType represents the type of Modbus data table.
type TableType int

const (
	TableCoils TableType = iota
	TableDiscreteInputs
	TableHoldingRegisters
	TableInputRegisters
)

func (t TableType) String() string {
	switch t {
	case TableCoils:
		return "coils"
	case TableDiscreteInputs:
		return "discretes"
	case TableHoldingRegisters:
		return "holding"
	case TableInputRegisters:
		return "inputs"
	}
	return fmt.Sprintf("table(%d)", int(t))
}

// IsBit reports whether the table holds single bits.
func (t TableType) IsBit() bool {
	return t == TableCoils || t == TableDiscreteInputs
}

// Layout fixes the size of each table of an image.
type Layout struct {
	Coils     int
	Discretes int
	Holding   int
	Inputs    int
}

// WriteHook is called after a successful write to a table.
type WriteHook func(table TableType, address, quantity uint16)

// Image holds the four tables of one slave. It has no lock: it belongs to
// the single loop that polls or serves it.
type Image struct {
	layout Layout

	// 0x Coils (Read/Write).
	coils []bool
	// 1x Discrete Inputs (Read Only on the wire).
	discretes []bool
	// 4x Holding Registers (Read/Write).
	holding []uint16
	// 3x Input Registers (Read Only on the wire).
	inputs []uint16

	hooks []WriteHook
}

// NewImage creates an image initialized to zero.
func NewImage(l Layout) *Image {
	return &Image{
		layout:    l,
		coils:     make([]bool, l.Coils),
		discretes: make([]bool, l.Discretes),
		holding:   make([]uint16, l.Holding),
		inputs:    make([]uint16, l.Inputs),
	}
}

func (m *Image) Layout() Layout {
	return m.layout
}

// Size returns the number of points in table t.
func (m *Image) Size(t TableType) int {
	switch t {
	case TableCoils:
		return len(m.coils)
	case TableDiscreteInputs:
		return len(m.discretes)
	case TableHoldingRegisters:
		return len(m.holding)
	case TableInputRegisters:
		return len(m.inputs)
	}
	return 0
}

// OnWrite registers a hook run after every successful write.
func (m *Image) OnWrite(h WriteHook) {
	m.hooks = append(m.hooks, h)
}

// Reset zeroes every table.
func (m *Image) Reset() {
	clear(m.coils)
	clear(m.discretes)
	clear(m.holding)
	clear(m.inputs)
}

func (m *Image) validateRange(t TableType, address, quantity int) error {
	if quantity <= 0 || address < 0 || address+quantity > m.Size(t) {
		return fmt.Errorf("%w: %s[%d:%d] of %d", ErrOutOfRange, t, address, address+quantity, m.Size(t))
	}
	return nil
}

func (m *Image) bits(t TableType) []bool {
	if t == TableCoils {
		return m.coils
	}
	return m.discretes
}

func (m *Image) regs(t TableType) []uint16 {
	if t == TableHoldingRegisters {
		return m.holding
	}
	return m.inputs
}

func (m *Image) notify(t TableType, address, quantity int) {
	for _, h := range m.hooks {
		h(t, uint16(address), uint16(quantity))
	}
}

// ReadBits copies quantity bits of a bit table starting at address.
func (m *Image) ReadBits(t TableType, address, quantity int) ([]bool, error) {
	if !t.IsBit() {
		return nil, fmt.Errorf("model: %s is not a bit table", t)
	}
	if err := m.validateRange(t, address, quantity); err != nil {
		return nil, err
	}
	out := make([]bool, quantity)
	copy(out, m.bits(t)[address:])
	return out, nil
}

// WriteBits stores bits into a bit table starting at address.
func (m *Image) WriteBits(t TableType, address int, bits []bool) error {
	if !t.IsBit() {
		return fmt.Errorf("model: %s is not a bit table", t)
	}
	if err := m.validateRange(t, address, len(bits)); err != nil {
		return err
	}
	copy(m.bits(t)[address:], bits)
	m.notify(t, address, len(bits))
	return nil
}

// ReadRegisters copies quantity registers of a register table starting at address.
func (m *Image) ReadRegisters(t TableType, address, quantity int) ([]uint16, error) {
	if t.IsBit() {
		return nil, fmt.Errorf("model: %s is not a register table", t)
	}
	if err := m.validateRange(t, address, quantity); err != nil {
		return nil, err
	}
	out := make([]uint16, quantity)
	copy(out, m.regs(t)[address:])
	return out, nil
}

// WriteRegisters stores values into a register table starting at address.
func (m *Image) WriteRegisters(t TableType, address int, values []uint16) error {
	if t.IsBit() {
		return fmt.Errorf("model: %s is not a register table", t)
	}
	if err := m.validateRange(t, address, len(values)); err != nil {
		return err
	}
	copy(m.regs(t)[address:], values)
	m.notify(t, address, len(values))
	return nil
}

// Bit returns one bit; indices outside the table read as false.
func (m *Image) Bit(t TableType, index int) bool {
	if !t.IsBit() || m.validateRange(t, index, 1) != nil {
		return false
	}
	return m.bits(t)[index]
}

// Register returns one register; indices outside the table read as 0.
func (m *Image) Register(t TableType, index int) uint16 {
	if t.IsBit() || m.validateRange(t, index, 1) != nil {
		return 0
	}
	return m.regs(t)[index]
}

// PackedBits returns the first n bits of a bit table as a bitmap, bit 0 first.
func (m *Image) PackedBits(t TableType, n int) uint16 {
	bits := make([]bool, n)
	for i := range bits {
		bits[i] = m.Bit(t, i)
	}
	return Bitmap(bits)
}

// Bitmap packs up to 16 bits into a register value, bit 0 first.
func Bitmap(bits []bool) uint16 {
	var v uint16
	for i, b := range bits {
		if b && i < 16 {
			v |= 1 << uint(i)
		}
	}
	return v
}
