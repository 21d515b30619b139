// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package h2tech

// RegSource is what a holding register window reads.
type RegSource int

const (
	RegConst0 RegSource = iota
	// RegCurrent is the raw current of Board (0 = HPSB, 1..3 = LPSB)
	// channel Channel.
	RegCurrent
	RegDIBitmap
	RegDOBitmap
)

const (
	// DIMask keeps the valid main-board inputs of the DI bitmap.
	DIMask = 0x000F
	// DOMask keeps the relay bits of a DO bitmap write.
	DOMask = 0x000F
)

// Register is a holding register window entry. Unlike the bit table,
// Addr is the Modbus register address as sent on the wire.
type Register struct {
	Addr    uint16
	Access  Access
	Source  RegSource
	Board   int
	Channel int
	Name    string
}

func current(addr uint16, board, ch int, name string) Register {
	return Register{Addr: addr, Access: Read, Source: RegCurrent, Board: board, Channel: ch, Name: name}
}

var registers = []Register{
	current(2000, 0, 0, "HPSB_CH1_RAW"),
	current(2001, 0, 1, "HPSB_CH2_RAW"),
	current(2002, 0, 2, "HPSB_CH3_RAW"),
	current(2003, 1, 0, "LPSB1_CH1_RAW"),
	current(2004, 1, 1, "LPSB1_CH2_RAW"),
	current(2005, 1, 2, "LPSB1_CH3_RAW"),
	current(2006, 2, 0, "LPSB2_CH1_RAW"),
	current(2007, 2, 1, "LPSB2_CH2_RAW"),
	current(2008, 2, 2, "LPSB2_CH3_RAW"),
	current(2009, 3, 0, "LPSB3_CH1_RAW"),
	current(2010, 3, 1, "LPSB3_CH2_RAW"),
	current(2011, 3, 2, "LPSB3_CH3_RAW"),
	{Addr: 2012, Access: Read, Source: RegConst0, Name: "DOOR1_RAW"},
	{Addr: 2013, Access: Read, Source: RegConst0, Name: "DOOR2_RAW"},

	{Addr: 2100, Access: Read, Source: RegDIBitmap, Name: "MAIN_DI"},
	{Addr: 2101, Access: Write, Source: RegDOBitmap, Name: "MAIN_DO"},
}

var regIndex = func() map[uint16]int {
	idx := make(map[uint16]int, len(registers))
	for i, r := range registers {
		if _, dup := idx[r.Addr]; dup {
			panic("h2tech: register window overlaps")
		}
		idx[r.Addr] = i
	}
	return idx
}()

// LookupRegister finds a holding register window entry. Write entries are
// also readable.
func LookupRegister(addr uint16) (Register, bool) {
	i, ok := regIndex[addr]
	if !ok {
		return Register{}, false
	}
	return registers[i], true
}

// Registers returns the windows in address order.
func Registers() []Register {
	return append([]Register(nil), registers...)
}
