// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package hal is the narrow peripheral contract the protocol engines run on:
// digital IO, analog sense inputs, a half-duplex serial line and a
// monotonic millisecond tick.
package hal

import (
	"errors"
	"time"
)

var ErrTxTimeout = errors.New("hal: transmit timed out")

// IO reads and drives digital channels.
type IO interface {
	ReadBit(channel int) bool
	WriteBit(channel int, on bool)
}

// Analog reads raw converter values.
type Analog interface {
	ReadRaw(channel int) uint16
}

// Line is one half-duplex serial port. Transmit blocks for at most timeout;
// ReceiveByte never blocks.
type Line interface {
	Transmit(p []byte, timeout time.Duration) error
	ReceiveByte() (byte, bool)
}

// Clock is a monotonic millisecond tick that wraps at 2^32.
type Clock interface {
	NowMs() uint32
}

// Pin is a single output, typically an RS-485 driver enable.
type Pin interface {
	Set(on bool)
}

// Elapsed returns the milliseconds from since to now, tolerating wrap.
func Elapsed(now, since uint32) uint32 {
	return now - since
}

// Reached reports whether now is at or past deadline, tolerating wrap.
func Reached(now, deadline uint32) bool {
	return int32(now-deadline) >= 0
}

// OutputPin drives one channel of an IO.
type OutputPin struct {
	IO      IO
	Channel int
}

func (p OutputPin) Set(on bool) {
	p.IO.WriteBit(p.Channel, on)
}

// NopPin is used when the transceiver switches direction by itself.
type NopPin struct{}

func (NopPin) Set(bool) {}

// TransmitFrame drives de high for exactly the duration of the transmit.
func TransmitFrame(line Line, de Pin, frame []byte, timeout time.Duration) error {
	if de == nil {
		de = NopPin{}
	}
	de.Set(true)
	defer de.Set(false)
	return line.Transmit(frame, timeout)
}
