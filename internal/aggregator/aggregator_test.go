// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package aggregator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ffutop/h2tech-gateway/internal/board"
	"github.com/ffutop/h2tech-gateway/internal/hal"
	"github.com/ffutop/h2tech-gateway/internal/model"
	"github.com/ffutop/h2tech-gateway/internal/status"
)

type health map[byte]bool

func (h health) CommOK(id byte) bool { return h[id] }

type actions struct {
	failed bool
	pulse  [3]bool
}

func (a *actions) WriteFailed() bool         { return a.failed }
func (a *actions) PulseActive(door int) bool { return a.pulse[door] }

type link bool

func (l link) LinkOK(uint32) bool { return bool(l) }

type env struct{ err error }

func (e env) Read() (int16, uint16, error) { return 215, 455, e.err }

type fixture struct {
	io    *hal.MemIO
	store *model.Store
	comm  health
	act   *actions
	agg   *Aggregator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		io:    hal.NewMemIO(),
		store: model.NewStore(),
		comm:  health{1: true, 2: true, 3: true, 4: true},
		act:   &actions{},
	}
	f.store.Add(board.SlaveHPSB, board.Layout(board.KindHPSB))
	for _, id := range []byte{board.SlaveLPSB1, board.SlaveLPSB2, board.SlaveLPSB3} {
		f.store.Add(id, board.Layout(board.KindLPSB))
	}
	f.agg = New(DefaultConfig(), Sources{
		IO:      f.io,
		Store:   f.store,
		Comm:    f.comm,
		Actions: f.act,
		Link:    link(true),
	}, nil)
	return f
}

func (f *fixture) setCurrent(t *testing.T, slaveID byte, ch int, raw uint16) {
	t.Helper()
	img, ok := f.store.Image(slaveID)
	require.True(t, ok)
	require.NoError(t, img.WriteRegisters(model.TableInputRegisters, board.InputCurrentBase+ch, []uint16{raw}))
}

func TestOvercurrentDebounce(t *testing.T) {
	alarm := status.Alarm(status.AlarmOCHPSB1 + 1)

	t.Run("two cycles then drop", func(t *testing.T) {
		f := newFixture(t)
		f.setCurrent(t, board.SlaveHPSB, 1, 3500)
		f.agg.Update(100)
		f.agg.Update(200)
		assert.False(t, f.agg.Bits().Get(alarm))
		f.setCurrent(t, board.SlaveHPSB, 1, 100)
		s := f.agg.Update(300)
		assert.False(t, f.agg.Bits().Get(alarm))
		assert.Equal(t, uint8(0), s.OvercurrentCount[1])
	})

	t.Run("raised on the third cycle", func(t *testing.T) {
		f := newFixture(t)
		f.setCurrent(t, board.SlaveHPSB, 1, 3500)
		f.agg.Update(100)
		f.agg.Update(200)
		assert.False(t, f.agg.Bits().Get(alarm))
		s := f.agg.Update(300)
		assert.True(t, f.agg.Bits().Get(alarm))
		assert.True(t, s.Has(status.FlagFault))
		assert.False(t, f.agg.Bits().Get(status.Alarm(status.AlarmOCHPSB1)))
	})

	t.Run("one low sample resets", func(t *testing.T) {
		f := newFixture(t)
		seq := []uint16{3500, 3500, 2000, 3500, 3500}
		for i, raw := range seq {
			f.setCurrent(t, board.SlaveHPSB, 1, raw)
			f.agg.Update(uint32(100 * (i + 1)))
			assert.False(t, f.agg.Bits().Get(alarm), "cycle %d", i)
		}
		f.agg.Update(600)
		assert.True(t, f.agg.Bits().Get(alarm))
	})

	t.Run("threshold itself is in range", func(t *testing.T) {
		f := newFixture(t)
		f.setCurrent(t, board.SlaveHPSB, 1, DefaultThreshold)
		for i := 0; i < 5; i++ {
			f.agg.Update(uint32(i))
		}
		assert.False(t, f.agg.Bits().Get(alarm))
	})
}

func TestOvercurrentCounterSaturates(t *testing.T) {
	f := newFixture(t)
	f.setCurrent(t, board.SlaveLPSB3, 2, 4000)
	var s status.AggregatedStatus
	for i := 0; i < 300; i++ {
		s = f.agg.Update(uint32(i))
	}
	assert.Equal(t, uint8(0xFF), s.OvercurrentCount[11])
	assert.True(t, f.agg.Bits().Get(status.Alarm(status.AlarmOCLPSB1+2)))
	assert.False(t, f.agg.Bits().Get(status.Alarm(status.AlarmOCLPSB1)))
}

func TestBitsFromImagesAndIO(t *testing.T) {
	f := newFixture(t)
	f.io.SetInput(board.DIDoorMagnet2, true)
	f.io.SetInput(board.DIDoorButton1, true)
	f.io.WriteBit(board.RelayDoor1, true)

	hpsb, _ := f.store.Image(board.SlaveHPSB)
	require.NoError(t, hpsb.WriteBits(model.TableCoils, 0, []bool{false, true, false}))
	lpsb1, _ := f.store.Image(board.SlaveLPSB1)
	require.NoError(t, lpsb1.WriteBits(model.TableCoils, 2, []bool{true}))
	lpsb3, _ := f.store.Image(board.SlaveLPSB3)
	require.NoError(t, lpsb3.WriteBits(model.TableCoils, 0, []bool{true}))
	require.NoError(t, lpsb3.WriteRegisters(model.TableHoldingRegisters, board.HoldingAlarm, []uint16{0x0004}))
	f.act.pulse[2] = true

	s := f.agg.Update(1234)
	bits := f.agg.Bits()

	assert.Equal(t, uint32(1234), s.TimestampMs)
	assert.Equal(t, uint8(0x06), s.MainDI)
	assert.Equal(t, uint8(0x01), s.MainDO)
	assert.Equal(t, uint16(0x0004), s.LPSB[2].Alarm)
	assert.False(t, s.EnvValid())

	on := map[status.BitIndex]bool{
		status.OnOff(1):    true,
		status.OnOff(4):    true,
		status.OnOff(8):    true,
		status.OnOff(12):   true,
		status.DoorMag(2):  true,
		status.DoorBtn(1):  true,
		status.CmdOnOff(1): true, // echoes ON/OFF 8
		status.CmdOnOff(5): true, // echoes ON/OFF 12
		status.CmdOnOff(7): true,
	}
	for i := status.BitIndex(0); i < status.BitCount; i++ {
		assert.Equal(t, on[i], bits.Get(i), i.String())
	}
	assert.Equal(t, uint16(0), s.ErrorFlags)
}

func TestHealthAlarmsAndFlags(t *testing.T) {
	f := newFixture(t)
	f.comm[board.SlaveHPSB] = false
	f.comm[board.SlaveLPSB2] = false
	f.act.failed = true
	f.agg.src.Link = link(false)
	f.agg.src.Env = env{err: errors.New("no ack")}

	s := f.agg.Update(10)
	bits := f.agg.Bits()
	for _, n := range []int{status.AlarmCommHPSB, status.AlarmCommLPSB, status.AlarmEnv, status.AlarmPCLink, status.AlarmWriteFail} {
		assert.True(t, bits.Get(status.Alarm(n)), "alarm %d", n)
	}
	assert.False(t, bits.Get(status.Alarm(status.AlarmDoorSensor)))
	want := status.ErrCommHPSB | status.ErrCommLPSB | status.ErrCommLPSB2 | status.ErrEnvSensor |
		status.ErrUpstreamRx | status.ErrWriteFail | status.FlagFault
	assert.Equal(t, want, s.ErrorFlags)

	// every bit is rewritten, so recovery clears the image
	f.comm[board.SlaveHPSB] = true
	f.comm[board.SlaveLPSB2] = true
	f.act.failed = false
	f.agg.src.Link = link(true)
	f.agg.src.Env = env{}
	s = f.agg.Update(20)
	assert.Equal(t, status.BitImage{}, *f.agg.Bits())
	assert.Equal(t, uint16(0), s.ErrorFlags)
	assert.True(t, s.EnvValid())
	assert.Equal(t, int16(215), s.EnvTempCx10)
	assert.Equal(t, s, f.agg.Status())
}
