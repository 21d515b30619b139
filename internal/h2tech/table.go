// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package h2tech serves the cabinet to the upstream PC in the H2TECH
// logical address space and turns upstream writes into actions.
package h2tech

import (
	"fmt"
	"sort"

	"github.com/ffutop/h2tech-gateway/internal/status"
)

// Area is one of the four Modbus data areas.
type Area int

const (
	AreaCoil Area = iota
	AreaDiscrete
	AreaHolding
	AreaInput
)

func (a Area) String() string {
	switch a {
	case AreaCoil:
		return "coil"
	case AreaDiscrete:
		return "discrete"
	case AreaHolding:
		return "holding"
	case AreaInput:
		return "input"
	}
	return fmt.Sprintf("Area(%d)", int(a))
}

// Access tells whether an entry is read or written by the PC.
type Access int

const (
	Read Access = iota
	Write
)

// Source is where a readable bit comes from.
type Source int

const (
	SourceNone Source = iota
	SourceBit
	SourceConst0
	// SourceWriteFail reads the sticky downstream write failure flag and
	// acknowledges it.
	SourceWriteFail
)

// ActionKind selects what a write does.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionPulseDoor
	ActionToggle
)

// Action is the tagged variant run when true is written to an entry.
type Action struct {
	Kind ActionKind
	// Door is 1 or 2 for ActionPulseDoor.
	Door int
	// OnOff is the ON/OFF status number toggled by ActionToggle, on LPSB
	// Board (1..3) coil Coil.
	OnOff int
	Board int
	Coil  uint16
}

// Entry is one logical address. Addr is the 1-based decimal address of the
// H2TECH documents, one more than the Modbus address on the wire.
type Entry struct {
	Addr   uint16
	Area   Area
	Access Access
	Source Source
	Bit    status.BitIndex
	Action Action
	Name   string
}

func bit(addr uint16, b status.BitIndex, name string) Entry {
	return Entry{Addr: addr, Area: AreaDiscrete, Access: Read, Source: SourceBit, Bit: b, Name: name}
}

func zero(addr uint16, name string) Entry {
	return Entry{Addr: addr, Area: AreaDiscrete, Access: Read, Source: SourceConst0, Name: name}
}

func toggle(addr uint16, onoff, board int, coil uint16) Entry {
	return Entry{
		Addr:   addr,
		Area:   AreaCoil,
		Access: Write,
		Action: Action{Kind: ActionToggle, OnOff: onoff, Board: board, Coil: coil},
		Name:   fmt.Sprintf("VB_ONOFF_%d", onoff),
	}
}

func door(addr uint16, n int) Entry {
	return Entry{
		Addr:   addr,
		Area:   AreaCoil,
		Access: Write,
		Action: Action{Kind: ActionPulseDoor, Door: n},
		Name:   fmt.Sprintf("DOOR_OPEN_CTRL_%d", n),
	}
}

var table = []Entry{
	// 0821..0836 ON/OFF status
	bit(821, status.OnOff1, "ONOFF_1_DOOR1"),
	bit(822, status.OnOff2, "ONOFF_2_DOOR2"),
	bit(823, status.OnOff3, "ONOFF_3_HPSB_CH1"),
	bit(824, status.OnOff4, "ONOFF_4_HPSB_CH2"),
	bit(825, status.OnOff5, "ONOFF_5_HPSB_CH3"),
	bit(826, status.OnOff6, "ONOFF_6_LPSB1_CH1"),
	bit(827, status.OnOff7, "ONOFF_7_LPSB1_CH2"),
	bit(828, status.OnOff8, "ONOFF_8_LPSB1_CH3"),
	bit(829, status.OnOff9, "ONOFF_9_LPSB2_CH1"),
	bit(830, status.OnOff10, "ONOFF_10_LPSB2_CH2"),
	bit(831, status.OnOff11, "ONOFF_11_LPSB2_CH3"),
	bit(832, status.OnOff12, "ONOFF_12_LPSB3_CH1"),
	bit(833, status.OnOff13, "ONOFF_13_LPSB3_CH2"),
	bit(834, status.OnOff14, "ONOFF_14_LPSB3_CH3"),
	zero(835, "ONOFF_15_RESERVED"),
	zero(836, "ONOFF_16_RESERVED"),

	// 0853..0860 door sensors
	bit(853, status.DoorMag1, "DOOR_MAG_1"),
	bit(854, status.DoorMag2, "DOOR_MAG_2"),
	zero(855, "DOOR_MAG_3_UNUSED"),
	zero(856, "DOOR_MAG_4_UNUSED"),
	bit(857, status.DoorBtn1, "DOOR_BTN_1"),
	bit(858, status.DoorBtn2, "DOOR_BTN_2"),
	zero(859, "DOOR_BTN_3_UNUSED"),
	zero(860, "DOOR_BTN_4_UNUSED"),

	// 0869..0880 alarms
	bit(869, status.Alarm1, "ALM_1_HPSB_COMM"),
	bit(870, status.Alarm2, "ALM_2_LPSB_ANY_COMM"),
	bit(871, status.Alarm3, "ALM_3_ENV_SENSOR"),
	bit(872, status.Alarm4, "ALM_4_DOOR_SENSOR_FAULT"),
	bit(873, status.Alarm5, "ALM_5_HPSB_OC1"),
	bit(874, status.Alarm6, "ALM_6_HPSB_OC2"),
	bit(875, status.Alarm7, "ALM_7_HPSB_OC3"),
	bit(876, status.Alarm8, "ALM_8_LPSB1_OC_ANY"),
	bit(877, status.Alarm9, "ALM_9_LPSB2_OC_ANY"),
	bit(878, status.Alarm10, "ALM_10_LPSB3_OC_ANY"),
	bit(879, status.Alarm11, "ALM_11_PC_LINK_FAIL"),
	{Addr: 880, Area: AreaDiscrete, Access: Read, Source: SourceWriteFail, Bit: status.Alarm12, Name: "ALM_12_DOWNSTREAM_WRITE_FAIL"},

	// 0885..0891 command echoes
	bit(885, status.CmdOnOff1, "CMD_ONOFF_1"),
	bit(886, status.CmdOnOff2, "CMD_ONOFF_2"),
	bit(887, status.CmdOnOff3, "CMD_ONOFF_3"),
	bit(888, status.CmdOnOff4, "CMD_ONOFF_4"),
	bit(889, status.CmdOnOff5, "CMD_ONOFF_5"),
	bit(890, status.CmdOnOff6, "CMD_ONOFF_6"),
	bit(891, status.CmdOnOff7, "CMD_ONOFF_7"),

	// 0892..0898 virtual buttons and door open control
	toggle(892, 8, 1, 2),
	toggle(893, 9, 2, 0),
	toggle(894, 10, 2, 1),
	toggle(895, 11, 2, 2),
	toggle(896, 12, 3, 0),
	door(897, 1),
	door(898, 2),
}

type key struct {
	area Area
	addr uint16
}

var index = buildIndex(table)

func buildIndex(entries []Entry) map[key]int {
	idx := make(map[key]int, len(entries))
	for i, e := range entries {
		k := key{e.Area, e.Addr}
		if _, dup := idx[k]; dup {
			panic(fmt.Sprintf("h2tech: %s address %d mapped twice", e.Area, e.Addr))
		}
		idx[k] = i
	}
	return idx
}

// Lookup finds the entry of a logical address by exact match.
func Lookup(area Area, addr uint16) (Entry, bool) {
	i, ok := index[key{area, addr}]
	if !ok {
		return Entry{}, false
	}
	return table[i], true
}

// RangeDefined reports whether every address of [addr, addr+count) has an
// entry in area.
func RangeDefined(area Area, addr, count uint16) bool {
	for i := uint32(0); i < uint32(count); i++ {
		a := uint32(addr) + i
		if a > 0xFFFF {
			return false
		}
		if _, ok := Lookup(area, uint16(a)); !ok {
			return false
		}
	}
	return true
}

// Entries returns the table ordered by area, then address.
func Entries() []Entry {
	out := append([]Entry(nil), table...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Area != out[j].Area {
			return out[i].Area < out[j].Area
		}
		return out[i].Addr < out[j].Addr
	})
	return out
}
