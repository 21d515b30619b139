// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

// ByteCount returns the number of bytes needed to carry n bits.
func ByteCount(n int) int {
	return (n + 7) / 8
}

// PackBits packs bits LSB-first: bit 0 of the range lands in bit 0 of byte 0.
func PackBits(bits []bool) []byte {
	out := make([]byte, ByteCount(len(bits)))
	for i, b := range bits {
		if b {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// UnpackBits is the inverse of PackBits. Bits beyond len(data)*8 read as false.
func UnpackBits(data []byte, count int) []bool {
	bits := make([]bool, count)
	for i := 0; i < count; i++ {
		if i/8 >= len(data) {
			break
		}
		bits[i] = (data[i/8]>>uint(i%8))&1 == 1
	}
	return bits
}
