// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package hal

import (
	"sync"
	"time"
)

const busHandoffDepth = 64

// Bus is an in-memory multi-drop RS-485 segment: whatever one attached
// line transmits is received by every other line.
type Bus struct {
	mu    sync.Mutex
	lines []*BusLine
}

func NewBus() *Bus {
	return &Bus{}
}

// Attach adds a new drop to the bus.
func (b *Bus) Attach() *BusLine {
	b.mu.Lock()
	defer b.mu.Unlock()
	l := &BusLine{bus: b, rx: NewRxHandoff(busHandoffDepth)}
	b.lines = append(b.lines, l)
	return l
}

func (b *Bus) deliver(from *BusLine, p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, l := range b.lines {
		if l != from {
			l.rx.Notify(p)
		}
	}
}

// BusLine implements Line on a Bus.
type BusLine struct {
	bus *Bus
	rx  *RxHandoff

	mu      sync.Mutex
	failing bool
	sent    [][]byte
}

func (l *BusLine) Transmit(p []byte, timeout time.Duration) error {
	l.mu.Lock()
	failing := l.failing
	if !failing {
		l.sent = append(l.sent, append([]byte(nil), p...))
	}
	l.mu.Unlock()
	if failing {
		return ErrTxTimeout
	}
	l.bus.deliver(l, p)
	return nil
}

func (l *BusLine) ReceiveByte() (byte, bool) {
	return l.rx.ReceiveByte()
}

// Inject makes p arrive on this line as if another drop had sent it.
func (l *BusLine) Inject(p []byte) {
	l.rx.Notify(p)
}

// SetFailing makes every following Transmit fail with ErrTxTimeout.
func (l *BusLine) SetFailing(failing bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failing = failing
}

// Sent returns the frames transmitted so far.
func (l *BusLine) Sent() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.sent...)
}
