// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package status holds the consolidated view of the cabinet that the
// aggregator rebuilds every cycle, and the packed bit image served upstream.
package status

// Error flag bits of AggregatedStatus.ErrorFlags.
const (
	ErrCommHPSB   uint16 = 1 << 0
	ErrCommLPSB   uint16 = 1 << 1 // any LPSB
	ErrEnvSensor  uint16 = 1 << 2
	ErrUpstreamRx uint16 = 1 << 3
	FlagFault     uint16 = 1 << 4 // any alarm active
	ErrWriteFail  uint16 = 1 << 5
	ErrCommLPSB1  uint16 = 1 << 6
	ErrCommLPSB2  uint16 = 1 << 7
	ErrCommLPSB3  uint16 = 1 << 8
)

// Environment readings when no sensor answers.
const (
	EnvTempInvalid int16  = -32768
	EnvRHInvalid   uint16 = 0xFFFF
)

const (
	// LPSBCount is the number of low power sub-boards.
	LPSBCount = 3
	// SensedChannels counts the current sensed channels of all sub-boards.
	SensedChannels = (1 + LPSBCount) * 3
)

// Board is one sub-board's share of the status.
type Board struct {
	CommOK   bool
	Coils    uint8
	Discrete uint8
	Status   uint16
	Alarm    uint16
	Current  [3]uint16
}

// AggregatedStatus is recreated by every aggregation cycle.
type AggregatedStatus struct {
	TimestampMs uint32
	EnvTempCx10 int16
	EnvRHx10    uint16
	MainDI      uint8
	MainDO      uint8
	HPSB        Board
	LPSB        [LPSBCount]Board
	// OvercurrentCount is the consecutive over-threshold cycle count per
	// sensed channel: HPSB ch1..3 followed by LPSB1..3 ch1..3.
	OvercurrentCount [SensedChannels]uint8
	ErrorFlags       uint16
}

// New returns a cleared status stamped with now.
func New(now uint32) AggregatedStatus {
	return AggregatedStatus{
		TimestampMs: now,
		EnvTempCx10: EnvTempInvalid,
		EnvRHx10:    EnvRHInvalid,
	}
}

// EnvValid reports whether the environment readings came from a sensor.
func (s *AggregatedStatus) EnvValid() bool {
	return s.EnvTempCx10 != EnvTempInvalid && s.EnvRHx10 != EnvRHInvalid
}

// Has reports whether all bits of flag are set.
func (s *AggregatedStatus) Has(flag uint16) bool {
	return s.ErrorFlags&flag == flag
}

// Currents returns the raw current of every sensed channel, HPSB first.
func (s *AggregatedStatus) Currents() []uint16 {
	out := make([]uint16, 0, SensedChannels)
	out = append(out, s.HPSB.Current[:]...)
	for i := range s.LPSB {
		out = append(out, s.LPSB[i].Current[:]...)
	}
	return out
}
