// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package board describes the power sub-boards behind the gateway and binds
// a sub-board's register image to its local IO.
package board

import (
	"fmt"
	"math"

	"github.com/ffutop/h2tech-gateway/internal/hal"
	"github.com/ffutop/h2tech-gateway/internal/model"
)

// Kind is the sub-board hardware variant.
type Kind int

const (
	KindHPSB Kind = iota
	KindLPSB
)

func (k Kind) String() string {
	if k == KindHPSB {
		return "hpsb"
	}
	return "lpsb"
}

// ParseKind accepts "hpsb" or "lpsb".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "hpsb", "HPSB":
		return KindHPSB, nil
	case "lpsb", "LPSB":
		return KindLPSB, nil
	}
	return 0, fmt.Errorf("board: unknown kind %q", s)
}

// Default slave addresses on the downstream bus.
const (
	SlaveHPSB  byte = 1
	SlaveLPSB1 byte = 2
	SlaveLPSB2 byte = 3
	SlaveLPSB3 byte = 4
)

// Addresses lists the downstream slave addresses: HPSB, LPSB1, LPSB2, LPSB3.
type Addresses [4]byte

func DefaultAddresses() Addresses {
	return Addresses{SlaveHPSB, SlaveLPSB1, SlaveLPSB2, SlaveLPSB3}
}

func (a Addresses) HPSB() byte { return a[0] }

// LPSB returns the address of LPSB n (1..3).
func (a Addresses) LPSB(n int) byte { return a[n] }

// Kind returns the board kind at position i.
func (a Addresses) Kind(i int) Kind {
	if i == 0 {
		return KindHPSB
	}
	return KindLPSB
}

const (
	CoilCount     = 8
	DiscreteCount = 8
	HoldingCount  = 4
	// Sensed output channels per board.
	Channels = 3
)

// Holding register indices.
const (
	HoldingStatus = 0
	HoldingAlarm  = 1
)

// Input register indices. RMS registers exist on the HPSB only.
const (
	InputDIImage     = 0
	InputCurrentBase = 1
	InputRMSBase     = 4
)

// Local channel numbering on a sub-board.
const (
	OutputBase      = 8
	TxEnableChannel = 31
)

// Main board channels. Relays share the sub-board output numbering.
const (
	MainDICount   = 8
	MainDOCount   = 4
	DIDoorMagnet1 = 0
	DIDoorMagnet2 = 1
	DIDoorButton1 = 2
	DIDoorButton2 = 3
	RelayDoor1    = OutputBase
	RelayDoor2    = OutputBase + 1
)

// Layout returns the register image layout of a board kind.
func Layout(k Kind) model.Layout {
	inputs := 1 + Channels
	if k == KindHPSB {
		inputs += Channels
	}
	return model.Layout{
		Coils:     CoilCount,
		Discretes: DiscreteCount,
		Holding:   HoldingCount,
		Inputs:    inputs,
	}
}

// Binding connects a sub-board image to the board's IO: discretes and input
// registers are refreshed from inputs, coil writes drive outputs.
type Binding struct {
	Kind   Kind
	IO     hal.IO
	Analog hal.Analog

	meanSquare [Channels]float64
}

// Attach installs the coil write hook on img.
func (b *Binding) Attach(img *model.Image) {
	img.OnWrite(func(table model.TableType, address, quantity uint16) {
		if table != model.TableCoils {
			return
		}
		for i := int(address); i < int(address)+int(quantity); i++ {
			b.IO.WriteBit(OutputBase+i, img.Bit(model.TableCoils, i))
		}
	})
}

// Refresh reloads table from the hardware before it is served. It fails
// when img was not built from the binding's layout.
func (b *Binding) Refresh(img *model.Image, table model.TableType) error {
	switch table {
	case model.TableDiscreteInputs:
		return img.WriteBits(model.TableDiscreteInputs, 0, b.readDI())
	case model.TableInputRegisters:
		return img.WriteRegisters(model.TableInputRegisters, 0, b.inputRegisters())
	}
	return nil
}

func (b *Binding) readDI() []bool {
	di := make([]bool, DiscreteCount)
	for i := range di {
		di[i] = b.IO.ReadBit(i)
	}
	return di
}

func (b *Binding) inputRegisters() []uint16 {
	regs := make([]uint16, Layout(b.Kind).Inputs)
	regs[InputDIImage] = model.Bitmap(b.readDI())
	for ch := 0; ch < Channels; ch++ {
		raw := uint16(0)
		if b.Analog != nil {
			raw = b.Analog.ReadRaw(ch)
		}
		regs[InputCurrentBase+ch] = raw
		if b.Kind == KindHPSB {
			// exponential mean of squares, 1/8 weight per sample
			b.meanSquare[ch] += (float64(raw)*float64(raw) - b.meanSquare[ch]) / 8
			regs[InputRMSBase+ch] = uint16(math.Round(math.Sqrt(b.meanSquare[ch])))
		}
	}
	return regs
}
