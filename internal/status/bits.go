// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package status

import "fmt"

// BitIndex is the fixed position of a logical status bit.
type BitIndex int

const (
	OnOff1 BitIndex = iota
	OnOff2
	OnOff3
	OnOff4
	OnOff5
	OnOff6
	OnOff7
	OnOff8
	OnOff9
	OnOff10
	OnOff11
	OnOff12
	OnOff13
	OnOff14
	OnOff15
	OnOff16
	DoorMag1
	DoorMag2
	DoorMag3
	DoorMag4
	DoorBtn1
	DoorBtn2
	DoorBtn3
	DoorBtn4
	Alarm1
	Alarm2
	Alarm3
	Alarm4
	Alarm5
	Alarm6
	Alarm7
	Alarm8
	Alarm9
	Alarm10
	Alarm11
	Alarm12
	CmdOnOff1
	CmdOnOff2
	CmdOnOff3
	CmdOnOff4
	CmdOnOff5
	CmdOnOff6
	CmdOnOff7

	BitCount
)

// Alarm numbers.
const (
	AlarmCommHPSB   = 1
	AlarmCommLPSB   = 2
	AlarmEnv        = 3
	AlarmDoorSensor = 4
	AlarmOCHPSB1    = 5 // 5..7 HPSB channel 1..3
	AlarmOCLPSB1    = 8 // 8..10 LPSB1..3, any channel
	AlarmPCLink     = 11
	AlarmWriteFail  = 12
)

// OnOff returns the bit of ON/OFF status n (1..16).
func OnOff(n int) BitIndex { return OnOff1 + BitIndex(n-1) }

// DoorMag returns the bit of door magnet n (1..4).
func DoorMag(n int) BitIndex { return DoorMag1 + BitIndex(n-1) }

// DoorBtn returns the bit of door button n (1..4).
func DoorBtn(n int) BitIndex { return DoorBtn1 + BitIndex(n-1) }

// Alarm returns the bit of alarm n (1..12).
func Alarm(n int) BitIndex { return Alarm1 + BitIndex(n-1) }

// CmdOnOff returns the bit of command echo n (1..7).
func CmdOnOff(n int) BitIndex { return CmdOnOff1 + BitIndex(n-1) }

func (b BitIndex) String() string {
	switch {
	case b >= OnOff1 && b <= OnOff16:
		return fmt.Sprintf("ONOFF_%d", int(b-OnOff1)+1)
	case b >= DoorMag1 && b <= DoorMag4:
		return fmt.Sprintf("DOOR_MAG_%d", int(b-DoorMag1)+1)
	case b >= DoorBtn1 && b <= DoorBtn4:
		return fmt.Sprintf("DOOR_BTN_%d", int(b-DoorBtn1)+1)
	case b >= Alarm1 && b <= Alarm12:
		return fmt.Sprintf("ALM_%d", int(b-Alarm1)+1)
	case b >= CmdOnOff1 && b <= CmdOnOff7:
		return fmt.Sprintf("CMD_ONOFF_%d", int(b-CmdOnOff1)+1)
	}
	return fmt.Sprintf("BitIndex(%d)", int(b))
}

// BitImage is the packed array of logical status bits, bit 0 of byte 0
// first. The aggregator is its only writer.
type BitImage [(BitCount + 7) / 8]byte

func (m *BitImage) Set(i BitIndex, on bool) {
	if i < 0 || i >= BitCount {
		return
	}
	if on {
		m[i/8] |= 1 << (i % 8)
	} else {
		m[i/8] &^= 1 << (i % 8)
	}
}

// Get returns false for an index outside the enumeration.
func (m *BitImage) Get(i BitIndex) bool {
	if i < 0 || i >= BitCount {
		return false
	}
	return m[i/8]&(1<<(i%8)) != 0
}

func (m *BitImage) Clear() {
	*m = BitImage{}
}

// AnyAlarm reports whether any of alarms 1..12 is set.
func (m *BitImage) AnyAlarm() bool {
	for i := Alarm1; i <= Alarm12; i++ {
		if m.Get(i) {
			return true
		}
	}
	return false
}
