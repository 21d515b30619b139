// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package h2tech

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ffutop/h2tech-gateway/internal/board"
	"github.com/ffutop/h2tech-gateway/internal/hal"
	"github.com/ffutop/h2tech-gateway/internal/model"
)

const DefaultDoorPulse = 300 * time.Millisecond

// CoilWriter is the master engine's write path. done reports whether the
// request went out on the bus.
type CoilWriter interface {
	WriteCoil(slaveID byte, address uint16, on bool, done func(error))
}

type coilKey struct {
	slaveID byte
	coil    uint16
}

type doorPulse struct {
	relay   int
	active  bool
	started uint32
}

// Actions executes upstream writes: door pulses on the main board relays
// and coil toggles on the sub-boards. A failed downstream write leaves a
// sticky flag behind until it is acknowledged.
type Actions struct {
	io     hal.IO
	writer CoilWriter
	store  *model.Store
	slaves board.Addresses
	pulse  uint32

	doors       [2]doorPulse
	writeFailed bool
	// coil values written but not yet on the bus
	inflight map[coilKey]bool
}

func NewActions(io hal.IO, writer CoilWriter, store *model.Store, slaves board.Addresses, pulse time.Duration) *Actions {
	if pulse <= 0 {
		pulse = DefaultDoorPulse
	}
	return &Actions{
		io:       io,
		writer:   writer,
		store:    store,
		slaves:   slaves,
		pulse:    uint32(pulse.Milliseconds()),
		inflight: make(map[coilKey]bool),
		doors: [2]doorPulse{
			{relay: board.RelayDoor1},
			{relay: board.RelayDoor2},
		},
	}
}

// Run executes act as the result of writing true to its entry.
func (a *Actions) Run(act Action, now uint32) error {
	switch act.Kind {
	case ActionNone:
		return nil
	case ActionPulseDoor:
		a.PulseDoor(act.Door, now)
		return nil
	case ActionToggle:
		return a.Toggle(act.Board, act.Coil)
	default:
		return fmt.Errorf("h2tech: unhandled action kind %d", act.Kind)
	}
}

// PulseDoor energises the lock relay of door (1 or 2) for the pulse
// length. A pulse in progress is neither restarted nor extended; false is
// returned in that case.
func (a *Actions) PulseDoor(door int, now uint32) bool {
	if door < 1 || door > len(a.doors) {
		return false
	}
	d := &a.doors[door-1]
	if d.active {
		return false
	}
	a.io.WriteBit(d.relay, true)
	d.active = true
	d.started = now
	slog.Info("door pulse started", "door", door)
	return true
}

// PulseActive reports whether door (1 or 2) is being pulsed.
func (a *Actions) PulseActive(door int) bool {
	if door < 1 || door > len(a.doors) {
		return false
	}
	return a.doors[door-1].active
}

// Update ends pulses whose time is up.
func (a *Actions) Update(now uint32) {
	for i := range a.doors {
		d := &a.doors[i]
		if d.active && hal.Elapsed(now, d.started) >= a.pulse {
			a.io.WriteBit(d.relay, false)
			d.active = false
		}
	}
}

// Toggle inverts coil on sub-board n (0 = HPSB, 1..3 = LPSB). The write
// is handed to the master; the local image follows only once it went out,
// and a failure raises the sticky flag. A toggle of a coil whose previous
// toggle is still queued inverts the queued value.
func (a *Actions) Toggle(n int, coil uint16) error {
	if n < 0 || n >= len(a.slaves) {
		return fmt.Errorf("h2tech: no sub-board %d", n)
	}
	slaveID := a.slaves[n]
	img, ok := a.store.Image(slaveID)
	if !ok {
		return fmt.Errorf("h2tech: slave %d has no image", slaveID)
	}
	if int(coil) >= img.Size(model.TableCoils) {
		return fmt.Errorf("h2tech: slave %d has no coil %d", slaveID, coil)
	}
	k := coilKey{slaveID, coil}
	current, queued := a.inflight[k]
	if !queued {
		current = img.Bit(model.TableCoils, int(coil))
	}
	next := !current
	a.inflight[k] = next
	a.writer.WriteCoil(slaveID, coil, next, func(err error) {
		if a.inflight[k] == next {
			delete(a.inflight, k)
		}
		if err != nil {
			if !a.writeFailed {
				slog.Warn("downstream write failed", "slave", slaveID, "addr", coil, "err", err)
			}
			a.writeFailed = true
			return
		}
		_ = img.WriteBits(model.TableCoils, int(coil), []bool{next})
	})
	return nil
}

// SetDO drives the main board relays from a DO bitmap.
func (a *Actions) SetDO(bitmap uint16) {
	for i := 0; i < board.MainDOCount; i++ {
		a.io.WriteBit(board.OutputBase+i, bitmap&(1<<i) != 0)
	}
}

// DO returns the main board relay bitmap.
func (a *Actions) DO() uint16 {
	var v uint16
	for i := 0; i < board.MainDOCount; i++ {
		if a.io.ReadBit(board.OutputBase + i) {
			v |= 1 << i
		}
	}
	return v
}

func (a *Actions) WriteFailed() bool {
	return a.writeFailed
}

// ClearWriteFail acknowledges the sticky write failure.
func (a *Actions) ClearWriteFail() {
	if a.writeFailed {
		slog.Info("downstream write failure acknowledged")
	}
	a.writeFailed = false
}
