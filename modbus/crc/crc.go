// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package crc

import "github.com/sigurn/crc16"

// Modbus CRC16: poly 0x8005 reflected (0xA001), init 0xFFFF, no final xor.
var table = crc16.MakeTable(crc16.CRC16_MODBUS)

// CRC is an incremental Modbus CRC16 accumulator.
type CRC struct {
	value uint16
}

func (crc *CRC) Reset() *CRC {
	crc.value = crc16.Init(table)
	return crc
}

func (crc *CRC) PushBytes(bs []byte) *CRC {
	crc.value = crc16.Update(crc.value, bs, table)
	return crc
}

func (crc *CRC) Value() uint16 {
	return crc16.Complete(crc.value, table)
}

// Checksum returns the CRC16 of b.
func Checksum(b []byte) uint16 {
	return crc16.Checksum(b, table)
}

// Append appends the CRC of frame to it, low byte first.
func Append(frame []byte) []byte {
	sum := Checksum(frame)
	return append(frame, byte(sum), byte(sum>>8))
}

// Check validates a frame whose last two bytes are its CRC.
func Check(frame []byte) bool {
	n := len(frame)
	if n < 3 {
		return false
	}
	return Checksum(frame[:n-2]) == uint16(frame[n-1])<<8|uint16(frame[n-2])
}
