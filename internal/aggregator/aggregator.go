// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package aggregator folds the sub-board register images, the main board
// IO and the gateway's own health into one status and one bit image.
package aggregator

import (
	"log/slog"

	"github.com/ffutop/h2tech-gateway/internal/board"
	"github.com/ffutop/h2tech-gateway/internal/hal"
	"github.com/ffutop/h2tech-gateway/internal/model"
	"github.com/ffutop/h2tech-gateway/internal/status"
)

const (
	DefaultThreshold   = 3000
	DefaultConsecutive = 3
)

// CommHealth is the master engine's per-slave view.
type CommHealth interface {
	CommOK(slaveID byte) bool
}

// ActionState exposes what the upstream write actions left behind.
type ActionState interface {
	WriteFailed() bool
	PulseActive(door int) bool
}

// LinkMonitor reports whether the PC is still talking to the gateway.
type LinkMonitor interface {
	LinkOK(now uint32) bool
}

// EnvSensor reads temperature in 0.1 °C and relative humidity in 0.1 %.
type EnvSensor interface {
	Read() (tempCx10 int16, rhX10 uint16, err error)
}

type Config struct {
	// Threshold is the raw current above which a sample counts as over.
	Threshold uint16
	// Consecutive is how many over samples in a row raise the alarm.
	Consecutive uint8
	Slaves      board.Addresses
}

// DefaultConfig uses the default slave addresses.
func DefaultConfig() Config {
	return Config{
		Threshold:   DefaultThreshold,
		Consecutive: DefaultConsecutive,
		Slaves:      board.DefaultAddresses(),
	}
}

// Sources are what the aggregator reads. Actions, Link and Env may be nil.
type Sources struct {
	IO      hal.IO
	Store   *model.Store
	Comm    CommHealth
	Actions ActionState
	Link    LinkMonitor
	Env     EnvSensor
}

// Aggregator is the only writer of its bit image.
type Aggregator struct {
	cfg Config
	src Sources

	counters [status.SensedChannels]uint8
	last     status.AggregatedStatus
	bits     *status.BitImage
}

// New wires an aggregator writing into bits, or into an image of its own
// when bits is nil.
func New(cfg Config, src Sources, bits *status.BitImage) *Aggregator {
	if cfg.Consecutive == 0 {
		cfg.Consecutive = DefaultConsecutive
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if bits == nil {
		bits = new(status.BitImage)
	}
	return &Aggregator{
		cfg:  cfg,
		src:  src,
		last: status.New(0),
		bits: bits,
	}
}

// Bits is the image served upstream. Only Update writes it.
func (a *Aggregator) Bits() *status.BitImage {
	return a.bits
}

// Status returns the result of the last Update.
func (a *Aggregator) Status() status.AggregatedStatus {
	return a.last
}

// Update runs one aggregation cycle.
func (a *Aggregator) Update(now uint32) status.AggregatedStatus {
	s := status.New(now)

	envFail := false
	if a.src.Env != nil {
		t, rh, err := a.src.Env.Read()
		if err != nil {
			envFail = true
			slog.Debug("environment sensor read failed", "err", err)
		} else {
			s.EnvTempCx10, s.EnvRHx10 = t, rh
		}
	}

	for i := 0; i < board.MainDICount; i++ {
		if a.src.IO.ReadBit(i) {
			s.MainDI |= 1 << i
		}
	}
	for i := 0; i < board.MainDOCount; i++ {
		if a.src.IO.ReadBit(board.OutputBase + i) {
			s.MainDO |= 1 << i
		}
	}

	s.HPSB = a.readBoard(a.cfg.Slaves.HPSB())
	for i := range s.LPSB {
		s.LPSB[i] = a.readBoard(a.cfg.Slaves.LPSB(i + 1))
	}

	var over [status.SensedChannels]bool
	for k, raw := range s.Currents() {
		if raw > a.cfg.Threshold {
			if a.counters[k] < 0xFF {
				a.counters[k]++
			}
		} else {
			a.counters[k] = 0
		}
		over[k] = a.counters[k] >= a.cfg.Consecutive
	}
	s.OvercurrentCount = a.counters

	linkOK := a.src.Link == nil || a.src.Link.LinkOK(now)
	writeFailed := a.src.Actions != nil && a.src.Actions.WriteFailed()

	if !s.HPSB.CommOK {
		s.ErrorFlags |= status.ErrCommHPSB
	}
	lpsbFlags := [status.LPSBCount]uint16{status.ErrCommLPSB1, status.ErrCommLPSB2, status.ErrCommLPSB3}
	anyLPSBDown := false
	for i := range s.LPSB {
		if !s.LPSB[i].CommOK {
			anyLPSBDown = true
			s.ErrorFlags |= lpsbFlags[i]
		}
	}
	if anyLPSBDown {
		s.ErrorFlags |= status.ErrCommLPSB
	}
	if envFail {
		s.ErrorFlags |= status.ErrEnvSensor
	}
	if !linkOK {
		s.ErrorFlags |= status.ErrUpstreamRx
	}
	if writeFailed {
		s.ErrorFlags |= status.ErrWriteFail
	}

	prev := *a.bits
	var bits status.BitImage

	bits.Set(status.OnOff(1), s.MainDO&(1<<0) != 0)
	bits.Set(status.OnOff(2), s.MainDO&(1<<1) != 0)
	boards := append([]status.Board{s.HPSB}, s.LPSB[:]...)
	for bi, b := range boards {
		for ch := 0; ch < board.Channels; ch++ {
			bits.Set(status.OnOff(3+bi*board.Channels+ch), b.Coils&(1<<ch) != 0)
		}
	}
	bits.Set(status.OnOff(15), false)
	bits.Set(status.OnOff(16), false)

	bits.Set(status.DoorMag(1), s.MainDI&(1<<board.DIDoorMagnet1) != 0)
	bits.Set(status.DoorMag(2), s.MainDI&(1<<board.DIDoorMagnet2) != 0)
	bits.Set(status.DoorBtn(1), s.MainDI&(1<<board.DIDoorButton1) != 0)
	bits.Set(status.DoorBtn(2), s.MainDI&(1<<board.DIDoorButton2) != 0)
	for n := 3; n <= 4; n++ {
		bits.Set(status.DoorMag(n), false)
		bits.Set(status.DoorBtn(n), false)
	}

	bits.Set(status.Alarm(status.AlarmCommHPSB), !s.HPSB.CommOK)
	bits.Set(status.Alarm(status.AlarmCommLPSB), anyLPSBDown)
	bits.Set(status.Alarm(status.AlarmEnv), envFail)
	bits.Set(status.Alarm(status.AlarmDoorSensor), false)
	for ch := 0; ch < board.Channels; ch++ {
		bits.Set(status.Alarm(status.AlarmOCHPSB1+ch), over[ch])
	}
	for i := range s.LPSB {
		base := (1 + i) * board.Channels
		bits.Set(status.Alarm(status.AlarmOCLPSB1+i), over[base] || over[base+1] || over[base+2])
	}
	bits.Set(status.Alarm(status.AlarmPCLink), !linkOK)
	bits.Set(status.Alarm(status.AlarmWriteFail), writeFailed)

	for n := 1; n <= 5; n++ {
		bits.Set(status.CmdOnOff(n), bits.Get(status.OnOff(7+n)))
	}
	for door := 1; door <= 2; door++ {
		bits.Set(status.CmdOnOff(5+door), a.src.Actions != nil && a.src.Actions.PulseActive(door))
	}

	if bits.AnyAlarm() {
		s.ErrorFlags |= status.FlagFault
	}

	for i := status.Alarm1; i <= status.Alarm12; i++ {
		if bits.Get(i) != prev.Get(i) {
			if bits.Get(i) {
				slog.Warn("alarm raised", "alarm", i.String())
			} else {
				slog.Info("alarm cleared", "alarm", i.String())
			}
		}
	}

	*a.bits = bits
	a.last = s
	return s
}

func (a *Aggregator) readBoard(slaveID byte) status.Board {
	b := status.Board{CommOK: a.src.Comm != nil && a.src.Comm.CommOK(slaveID)}
	img, ok := a.src.Store.Image(slaveID)
	if !ok {
		return b
	}
	b.Coils = uint8(img.PackedBits(model.TableCoils, board.CoilCount))
	b.Discrete = uint8(img.PackedBits(model.TableDiscreteInputs, board.DiscreteCount))
	b.Status = img.Register(model.TableHoldingRegisters, board.HoldingStatus)
	b.Alarm = img.Register(model.TableHoldingRegisters, board.HoldingAlarm)
	for ch := range b.Current {
		b.Current[ch] = img.Register(model.TableInputRegisters, board.InputCurrentBase+ch)
	}
	return b
}
