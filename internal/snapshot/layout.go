// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ffutop/h2tech-gateway/internal/status"
)

// On-disk layout, little-endian:
//
//	magic  4 bytes  "H2GS"
//	seq    4 bytes
//	len    1 byte   status frame length
//	frame  64 bytes status frame, zero padded
//	bits   6 bytes  bit image
const (
	sizeMagic = 4
	sizeSeq   = 4
	sizeLen   = 1
	sizeFrame = status.PayloadSize + 4
	sizeBits  = len(status.BitImage{})
	totalSize = sizeMagic + sizeSeq + sizeLen + sizeFrame + sizeBits

	offsetMagic = 0
	offsetSeq   = offsetMagic + sizeMagic
	offsetLen   = offsetSeq + sizeSeq
	offsetFrame = offsetLen + sizeLen
	offsetBits  = offsetFrame + sizeFrame
)

var magic = [sizeMagic]byte{'H', '2', 'G', 'S'}

var ErrCorrupt = errors.New("snapshot: corrupt snapshot")

func encode(buf []byte, s Snapshot) error {
	if len(s.Frame) > sizeFrame {
		return fmt.Errorf("snapshot: frame of %d bytes exceeds %d", len(s.Frame), sizeFrame)
	}
	copy(buf[offsetMagic:], magic[:])
	binary.LittleEndian.PutUint32(buf[offsetSeq:], s.Seq)
	buf[offsetLen] = byte(len(s.Frame))
	n := copy(buf[offsetFrame:offsetFrame+sizeFrame], s.Frame)
	clear(buf[offsetFrame+n : offsetFrame+sizeFrame])
	copy(buf[offsetBits:offsetBits+sizeBits], s.Bits[:])
	return nil
}

// decode treats an all-zero buffer as "never published".
func decode(buf []byte) (Snapshot, error) {
	var s Snapshot
	if len(buf) < totalSize {
		return s, ErrCorrupt
	}
	if [sizeMagic]byte(buf[offsetMagic:offsetMagic+sizeMagic]) != magic {
		for _, b := range buf[:totalSize] {
			if b != 0 {
				return s, ErrCorrupt
			}
		}
		return s, nil
	}
	n := int(buf[offsetLen])
	if n > sizeFrame {
		return s, ErrCorrupt
	}
	s.Seq = binary.LittleEndian.Uint32(buf[offsetSeq:])
	s.Frame = append([]byte(nil), buf[offsetFrame:offsetFrame+n]...)
	copy(s.Bits[:], buf[offsetBits:offsetBits+sizeBits])
	return s, nil
}
