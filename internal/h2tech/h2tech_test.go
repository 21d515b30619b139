// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package h2tech

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ffutop/h2tech-gateway/internal/board"
	"github.com/ffutop/h2tech-gateway/internal/hal"
	"github.com/ffutop/h2tech-gateway/internal/model"
	"github.com/ffutop/h2tech-gateway/internal/status"
	"github.com/ffutop/h2tech-gateway/modbus"
)

type coilWrite struct {
	slaveID byte
	address uint16
	on      bool
}

// fakeWriter completes every write at once unless hold is set, in which
// case done callbacks wait in pending.
type fakeWriter struct {
	err     error
	hold    bool
	writes  []coilWrite
	pending []func(error)
}

func (w *fakeWriter) WriteCoil(slaveID byte, address uint16, on bool, done func(error)) {
	w.writes = append(w.writes, coilWrite{slaveID, address, on})
	if w.hold {
		w.pending = append(w.pending, done)
		return
	}
	done(w.err)
}

func (w *fakeWriter) release(err error) {
	for _, done := range w.pending {
		done(err)
	}
	w.pending = nil
}

type fixture struct {
	io      *hal.MemIO
	store   *model.Store
	bits    status.BitImage
	writer  *fakeWriter
	actions *Actions
	gw      *Gateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		io:     hal.NewMemIO(),
		store:  model.NewStore(),
		writer: &fakeWriter{},
	}
	slaves := board.DefaultAddresses()
	for i, id := range slaves {
		f.store.Add(id, board.Layout(slaves.Kind(i)))
	}
	f.actions = NewActions(f.io, f.writer, f.store, slaves, 0)
	f.gw = NewGateway(&f.bits, f.actions, f.io, f.store, slaves)
	return f
}

func exception(fc, code byte) modbus.ProtocolDataUnit {
	return modbus.ProtocolDataUnit{FunctionCode: fc | modbus.ExceptionFlag, Data: []byte{code}}
}

func (f *fixture) readBits(fc byte, start, quantity uint16) modbus.ProtocolDataUnit {
	return f.gw.Handle(modbus.ReadRequest(fc, start, quantity), 0)
}

func TestTableIsExplicit(t *testing.T) {
	entries := Entries()
	require.Len(t, entries, 16+8+12+7+7)

	ranges := map[Area][][2]uint16{
		AreaDiscrete: {{821, 836}, {853, 860}, {869, 880}, {885, 891}},
		AreaCoil:     {{892, 898}},
	}
	for area, rs := range ranges {
		for _, r := range rs {
			assert.True(t, RangeDefined(area, r[0], r[1]-r[0]+1), "%s %d..%d", area, r[0], r[1])
			assert.False(t, RangeDefined(area, r[0]-1, 1))
			assert.False(t, RangeDefined(area, r[1]+1, 1))
		}
	}
	for _, addr := range []uint16{899, 900} {
		for _, area := range []Area{AreaCoil, AreaDiscrete, AreaHolding, AreaInput} {
			_, ok := Lookup(area, addr)
			assert.False(t, ok)
		}
	}
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		assert.True(t, prev.Area < cur.Area || prev.Addr < cur.Addr, "total order at %d", cur.Addr)
	}

	assert.Panics(t, func() {
		buildIndex([]Entry{{Addr: 821, Area: AreaDiscrete}, {Addr: 821, Area: AreaDiscrete}})
	})
	assert.NotPanics(t, func() {
		buildIndex([]Entry{{Addr: 821, Area: AreaDiscrete}, {Addr: 821, Area: AreaCoil}})
	})
}

func TestReadStatusBlocks(t *testing.T) {
	f := newFixture(t)
	f.bits.Set(status.OnOff1, true)
	f.bits.Set(status.OnOff3, true)
	f.bits.Set(status.OnOff14, true)
	f.bits.Set(status.DoorBtn2, true)
	f.bits.Set(status.Alarm11, true)
	f.bits.Set(status.CmdOnOff7, true)

	resp := f.readBits(modbus.FuncCodeReadDiscreteInputs, 820, 16)
	assert.Equal(t, modbus.ProtocolDataUnit{FunctionCode: 0x02, Data: []byte{2, 0x05, 0x20}}, resp)

	resp = f.readBits(modbus.FuncCodeReadDiscreteInputs, 852, 8)
	assert.Equal(t, []byte{1, 0x20}, resp.Data)

	resp = f.readBits(modbus.FuncCodeReadDiscreteInputs, 868, 12)
	assert.Equal(t, []byte{2, 0x00, 0x04}, resp.Data)

	resp = f.readBits(modbus.FuncCodeReadDiscreteInputs, 884, 7)
	assert.Equal(t, []byte{1, 0x40}, resp.Data)
}

func TestReadErrors(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		req  modbus.ProtocolDataUnit
		want modbus.ProtocolDataUnit
	}{
		{"write-only door control via FC01", modbus.ReadRequest(0x01, 896, 1), exception(0x01, 0x02)},
		{"door control is not a discrete", modbus.ReadRequest(0x02, 896, 1), exception(0x02, 0x02)},
		{"status is not a coil", modbus.ReadRequest(0x01, 820, 1), exception(0x01, 0x02)},
		{"range crosses a hole", modbus.ReadRequest(0x02, 835, 20), exception(0x02, 0x02)},
		{"address 899", modbus.ReadRequest(0x02, 898, 1), exception(0x02, 0x02)},
		{"zero quantity", modbus.ReadRequest(0x02, 820, 0), exception(0x02, 0x03)},
		{"quantity over limit", modbus.ReadRequest(0x02, 820, 2001), exception(0x02, 0x03)},
		{"short request", modbus.ProtocolDataUnit{FunctionCode: 0x02, Data: []byte{0x03}}, exception(0x02, 0x03)},
		{"input registers unmapped", modbus.ReadRequest(0x04, 2000, 1), exception(0x04, 0x02)},
		{"unsupported function", modbus.ProtocolDataUnit{FunctionCode: 0x07}, exception(0x07, 0x01)},
		{"diagnostics", modbus.ProtocolDataUnit{FunctionCode: 0x08, Data: []byte{0, 0, 0, 0}}, exception(0x08, 0x01)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.gw.Handle(tt.req, 0))
		})
	}
}

func TestWriteErrors(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		req  modbus.ProtocolDataUnit
		want modbus.ProtocolDataUnit
	}{
		{"read-only status", modbus.WriteSingleCoilRequest(820, true), exception(0x05, 0x03)},
		{"read-only alarm", modbus.WriteSingleCoilRequest(879, false), exception(0x05, 0x03)},
		{"address 899", modbus.WriteSingleCoilRequest(898, true), exception(0x05, 0x02)},
		{"unknown address", modbus.WriteSingleCoilRequest(10, true), exception(0x05, 0x02)},
		{"bad coil value", modbus.ProtocolDataUnit{FunctionCode: 0x05, Data: []byte{0x03, 0x80, 0x12, 0x34}}, exception(0x05, 0x03)},
		{"multiple crossing 899", modbus.WriteMultipleCoilsRequest(895, []bool{true, true, true, true}), exception(0x0F, 0x02)},
		{"multiple with read-only", modbus.WriteMultipleCoilsRequest(890, []bool{true, true}), exception(0x0F, 0x03)},
		{"DI bitmap is read-only", modbus.WriteSingleRegisterRequest(2100, 1), exception(0x06, 0x03)},
		{"current is read-only", modbus.WriteMultipleRegistersRequest(2000, []uint16{1}), exception(0x10, 0x03)},
		{"unmapped register", modbus.WriteSingleRegisterRequest(2050, 1), exception(0x06, 0x02)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.gw.Handle(tt.req, 0))
		})
	}
	// nothing was applied by the rejected requests
	assert.False(t, f.actions.PulseActive(1))
	assert.False(t, f.actions.PulseActive(2))
	assert.Empty(t, f.writer.writes)
	assert.Equal(t, 0, f.io.Writes(board.RelayDoor1))
}

func TestDoorPulseIsSingle(t *testing.T) {
	f := newFixture(t)
	req := modbus.WriteSingleCoilRequest(896, true) // 0897
	assert.Equal(t, req, f.gw.Handle(req, 1000))
	assert.True(t, f.io.ReadBit(board.RelayDoor1))
	assert.True(t, f.actions.PulseActive(1))
	assert.False(t, f.actions.PulseActive(2))

	// a second write while active neither restarts nor extends
	assert.Equal(t, req, f.gw.Handle(req, 1200))
	assert.Equal(t, 1, f.io.Writes(board.RelayDoor1))

	f.actions.Update(1299)
	assert.True(t, f.io.ReadBit(board.RelayDoor1))
	f.actions.Update(1300)
	assert.False(t, f.io.ReadBit(board.RelayDoor1))
	assert.False(t, f.actions.PulseActive(1))
	assert.Equal(t, 2, f.io.Writes(board.RelayDoor1))

	// a new write after the pulse ended starts a new one
	f.gw.Handle(req, 2000)
	assert.True(t, f.actions.PulseActive(1))
}

func TestWriteFalseIsAcceptedNoop(t *testing.T) {
	f := newFixture(t)
	req := modbus.WriteSingleCoilRequest(897, false) // 0898
	assert.Equal(t, req, f.gw.Handle(req, 0))
	assert.False(t, f.actions.PulseActive(2))

	resp := f.gw.Handle(modbus.WriteMultipleCoilsRequest(891, []bool{false, false, false, false, false}), 0)
	assert.Equal(t, modbus.WriteMultipleResponse(0x0F, 891, 5), resp)
	assert.Empty(t, f.writer.writes)
}

func TestToggleWritesDownstream(t *testing.T) {
	f := newFixture(t)
	lpsb2, _ := f.store.Image(board.SlaveLPSB2)
	require.NoError(t, lpsb2.WriteBits(model.TableCoils, 1, []bool{true}))

	resp := f.gw.Handle(modbus.WriteMultipleCoilsRequest(891, []bool{true, false, true}), 0)
	assert.Equal(t, modbus.WriteMultipleResponse(0x0F, 891, 3), resp)

	assert.Equal(t, []coilWrite{
		{board.SlaveLPSB1, 2, true},  // ON/OFF 8
		{board.SlaveLPSB2, 1, false}, // ON/OFF 10
	}, f.writer.writes)
	lpsb1, _ := f.store.Image(board.SlaveLPSB1)
	assert.True(t, lpsb1.Bit(model.TableCoils, 2))
	assert.False(t, lpsb2.Bit(model.TableCoils, 1))
	assert.False(t, f.actions.WriteFailed())
}

func TestToggleWaitsForTransmit(t *testing.T) {
	f := newFixture(t)
	f.writer.hold = true
	lpsb2, _ := f.store.Image(board.SlaveLPSB2)

	req := modbus.WriteSingleCoilRequest(892, true) // 0893, LPSB2 coil 0
	assert.Equal(t, req, f.gw.Handle(req, 0))
	assert.False(t, lpsb2.Bit(model.TableCoils, 0), "image follows the transmit, not the request")

	// a second toggle before the first went out inverts the queued value
	f.gw.Handle(req, 0)
	assert.Equal(t, []coilWrite{
		{board.SlaveLPSB2, 0, true},
		{board.SlaveLPSB2, 0, false},
	}, f.writer.writes)

	f.writer.release(nil)
	assert.False(t, lpsb2.Bit(model.TableCoils, 0))
	assert.False(t, f.actions.WriteFailed())

	// the queue is empty again, so the image is the base
	f.gw.Handle(req, 0)
	f.writer.release(nil)
	assert.True(t, lpsb2.Bit(model.TableCoils, 0))
	assert.Equal(t, coilWrite{board.SlaveLPSB2, 0, true}, f.writer.writes[2])
}

func TestToggleTransmitFailure(t *testing.T) {
	f := newFixture(t)
	f.writer.hold = true
	req := modbus.WriteSingleCoilRequest(892, true)
	f.gw.Handle(req, 0)
	assert.False(t, f.actions.WriteFailed(), "nothing failed yet")

	f.writer.release(errors.New("tx timeout"))
	lpsb2, _ := f.store.Image(board.SlaveLPSB2)
	assert.False(t, lpsb2.Bit(model.TableCoils, 0))
	assert.True(t, f.actions.WriteFailed())
}

func TestWriteFailIsStickyUntilRead(t *testing.T) {
	f := newFixture(t)
	f.writer.err = errors.New("bus busy")

	req := modbus.WriteSingleCoilRequest(895, true) // 0896, LPSB3 coil 0
	assert.Equal(t, req, f.gw.Handle(req, 0), "the upstream write itself succeeds")
	lpsb3, _ := f.store.Image(board.SlaveLPSB3)
	assert.False(t, lpsb3.Bit(model.TableCoils, 0), "image untouched on failure")
	assert.True(t, f.actions.WriteFailed())

	// a later success does not clear it
	f.writer.err = nil
	f.gw.Handle(req, 0)
	assert.True(t, f.actions.WriteFailed())

	// a failed read covering 0880 is not an acknowledgement
	assert.Equal(t, exception(0x02, 0x02), f.readBits(0x02, 879, 2))
	assert.True(t, f.actions.WriteFailed())

	// other reads have no side effect
	f.readBits(0x02, 820, 16)
	assert.True(t, f.actions.WriteFailed())

	resp := f.readBits(0x02, 868, 12)
	assert.Equal(t, []byte{2, 0x00, 0x08}, resp.Data)
	assert.False(t, f.actions.WriteFailed())

	resp = f.readBits(0x02, 879, 1)
	assert.Equal(t, []byte{1, 0x00}, resp.Data)
}

func TestRegisterWindows(t *testing.T) {
	f := newFixture(t)
	slaves := board.DefaultAddresses()
	for n, id := range slaves {
		img, _ := f.store.Image(id)
		require.NoError(t, img.WriteRegisters(model.TableInputRegisters, board.InputCurrentBase,
			[]uint16{uint16(100*n + 1), uint16(100*n + 2), uint16(100*n + 3)}))
	}
	f.io.SetInput(board.DIDoorMagnet1, true)
	f.io.SetInput(board.DIDoorButton2, true)
	f.io.SetInput(7, true) // outside the valid bits

	resp := f.gw.Handle(modbus.ReadRequest(0x03, 2000, 14), 0)
	assert.Equal(t, modbus.ReadRegistersResponse(0x03, []uint16{
		1, 2, 3, 101, 102, 103, 201, 202, 203, 301, 302, 303, 0, 0,
	}), resp)

	assert.Equal(t, exception(0x03, 0x02), f.gw.Handle(modbus.ReadRequest(0x03, 2013, 2), 0))

	req := modbus.WriteSingleRegisterRequest(2101, 0xFFF5)
	assert.Equal(t, req, f.gw.Handle(req, 0))
	assert.True(t, f.io.ReadBit(board.OutputBase+0))
	assert.False(t, f.io.ReadBit(board.OutputBase+1))
	assert.True(t, f.io.ReadBit(board.OutputBase+2))
	assert.False(t, f.io.ReadBit(board.OutputBase+4), "bits above 3 are masked")

	resp = f.gw.Handle(modbus.ReadRequest(0x03, 2100, 2), 0)
	assert.Equal(t, modbus.ReadRegistersResponse(0x03, []uint16{0x0009, 0x0005}), resp)

	resp = f.gw.Handle(modbus.WriteMultipleRegistersRequest(2101, []uint16{0x0002}), 0)
	assert.Equal(t, modbus.WriteMultipleResponse(0x10, 2101, 1), resp)
	assert.Equal(t, uint16(0x0002), f.actions.DO())
}

func TestActionKindsAreExhaustive(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.actions.Run(Action{Kind: ActionNone}, 0))
	assert.Error(t, f.actions.Run(Action{Kind: ActionKind(99)}, 0))
	assert.Error(t, f.actions.Toggle(7, 0))
	assert.False(t, f.actions.PulseDoor(3, 0))
	for _, e := range Entries() {
		if e.Access == Write {
			assert.NotEqual(t, ActionNone, e.Action.Kind, e.Name)
		}
	}
}
