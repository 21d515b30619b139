// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package status

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Status frame delimiters: STX LEN payload CHK ETX.
const (
	STX byte = 0x02
	ETX byte = 0x03
)

// PayloadSize is the encoded size of an AggregatedStatus.
const PayloadSize = 4 + 2 + 2 + 1 + 1 + (1+LPSBCount)*6 + (1+LPSBCount)*3*2 + 2

var (
	ErrFrameDelimiter = errors.New("status: bad frame delimiter")
	ErrFrameChecksum  = errors.New("status: bad frame checksum")
)

// Checksum is the XOR of p.
func Checksum(p []byte) byte {
	var chk byte
	for _, b := range p {
		chk ^= b
	}
	return chk
}

// MarshalBinary encodes s little-endian: timestamp, environment, main
// DI/DO, per-board coils/discretes/status/alarm (HPSB, LPSB1..3), every
// channel current, error flags.
func (s *AggregatedStatus) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, PayloadSize)
	out = binary.LittleEndian.AppendUint32(out, s.TimestampMs)
	out = binary.LittleEndian.AppendUint16(out, uint16(s.EnvTempCx10))
	out = binary.LittleEndian.AppendUint16(out, s.EnvRHx10)
	out = append(out, s.MainDI, s.MainDO)
	boards := append([]Board{s.HPSB}, s.LPSB[:]...)
	for _, b := range boards {
		out = append(out, b.Coils, b.Discrete)
		out = binary.LittleEndian.AppendUint16(out, b.Status)
		out = binary.LittleEndian.AppendUint16(out, b.Alarm)
	}
	for _, b := range boards {
		for _, c := range b.Current {
			out = binary.LittleEndian.AppendUint16(out, c)
		}
	}
	out = binary.LittleEndian.AppendUint16(out, s.ErrorFlags)
	return out, nil
}

// UnmarshalBinary is the inverse of MarshalBinary. CommOK and the
// overcurrent counters are not carried and come back zero.
func (s *AggregatedStatus) UnmarshalBinary(p []byte) error {
	if len(p) != PayloadSize {
		return fmt.Errorf("status: payload is %d bytes, want %d", len(p), PayloadSize)
	}
	*s = AggregatedStatus{}
	s.TimestampMs = binary.LittleEndian.Uint32(p)
	s.EnvTempCx10 = int16(binary.LittleEndian.Uint16(p[4:]))
	s.EnvRHx10 = binary.LittleEndian.Uint16(p[6:])
	s.MainDI, s.MainDO = p[8], p[9]
	p = p[10:]
	boards := []*Board{&s.HPSB, &s.LPSB[0], &s.LPSB[1], &s.LPSB[2]}
	for _, b := range boards {
		b.Coils, b.Discrete = p[0], p[1]
		b.Status = binary.LittleEndian.Uint16(p[2:])
		b.Alarm = binary.LittleEndian.Uint16(p[4:])
		p = p[6:]
	}
	for _, b := range boards {
		for i := range b.Current {
			b.Current[i] = binary.LittleEndian.Uint16(p)
			p = p[2:]
		}
	}
	s.ErrorFlags = binary.LittleEndian.Uint16(p)
	return nil
}

// EncodeFrame wraps the encoded status in STX LEN payload CHK ETX, where
// CHK is the XOR of LEN and the payload.
func EncodeFrame(s *AggregatedStatus) []byte {
	payload, _ := s.MarshalBinary()
	frame := make([]byte, 0, len(payload)+4)
	frame = append(frame, STX, byte(len(payload)))
	frame = append(frame, payload...)
	frame = append(frame, Checksum(frame[1:]), ETX)
	return frame
}

// DecodeFrame validates and decodes a frame built by EncodeFrame.
func DecodeFrame(frame []byte) (AggregatedStatus, error) {
	var s AggregatedStatus
	if len(frame) < 4 || frame[0] != STX || frame[len(frame)-1] != ETX {
		return s, ErrFrameDelimiter
	}
	if int(frame[1]) != len(frame)-4 {
		return s, fmt.Errorf("status: length byte %d does not match frame of %d bytes", frame[1], len(frame))
	}
	if Checksum(frame[1:len(frame)-2]) != frame[len(frame)-2] {
		return s, ErrFrameChecksum
	}
	err := s.UnmarshalBinary(frame[2 : len(frame)-2])
	return s, err
}
