// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package h2tech

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ffutop/h2tech-gateway/internal/hal"
	"github.com/ffutop/h2tech-gateway/internal/status"
	"github.com/ffutop/h2tech-gateway/modbus"
	"github.com/ffutop/h2tech-gateway/modbus/rtu"
)

type requestLog struct {
	fcs        []byte
	exceptions []byte
}

func (r *requestLog) Request(fc, exception byte) {
	r.fcs = append(r.fcs, fc)
	r.exceptions = append(r.exceptions, exception)
}

func frame(t *testing.T, slaveID byte, pdu modbus.ProtocolDataUnit) []byte {
	t.Helper()
	raw, err := (&rtu.ApplicationDataUnit{SlaveID: slaveID, Pdu: pdu}).Encode()
	require.NoError(t, err)
	return raw
}

func newLink(t *testing.T) (*Link, *hal.BusLine, *fixture, *requestLog) {
	t.Helper()
	f := newFixture(t)
	line := hal.NewBus().Attach()
	log := &requestLog{}
	l := NewLink(LinkConfig{SlaveID: 1, PCLinkTimeout: time.Second, Observer: log}, line, nil, f.gw)
	return l, line, f, log
}

func TestLinkAnswersRequests(t *testing.T) {
	l, line, f, log := newLink(t)
	f.bits.Set(status.OnOff2, true)

	line.Inject(frame(t, 1, modbus.ReadRequest(0x02, 820, 2)))
	l.Poll(100)
	assert.Empty(t, line.Sent(), "waits for the inter-frame silence")
	l.Poll(105)
	require.Len(t, line.Sent(), 1)
	assert.Equal(t, frame(t, 1, modbus.ProtocolDataUnit{FunctionCode: 0x02, Data: []byte{1, 0x02}}), line.Sent()[0])

	line.Inject(frame(t, 1, modbus.ReadRequest(0x01, 896, 1)))
	l.Poll(110)
	l.Poll(115)
	require.Len(t, line.Sent(), 2)
	assert.Equal(t, frame(t, 1, exception(0x01, 0x02)), line.Sent()[1])
	assert.Len(t, line.Sent()[1], 5, "exceptions are two PDU bytes")

	assert.Equal(t, []byte{0x02, 0x01}, log.fcs)
	assert.Equal(t, []byte{0x00, 0x02}, log.exceptions)
}

func TestLinkDropsForeignAndCorruptFrames(t *testing.T) {
	l, line, _, log := newLink(t)

	line.Inject(frame(t, 7, modbus.ReadRequest(0x02, 820, 1)))
	l.Poll(100)
	l.Poll(110)

	bad := frame(t, 1, modbus.ReadRequest(0x02, 820, 1))
	bad[len(bad)-1] ^= 0xFF
	line.Inject(bad)
	l.Poll(120)
	l.Poll(130)

	assert.Empty(t, line.Sent())
	assert.Empty(t, log.fcs)
}

func TestLinkMonitor(t *testing.T) {
	l, line, _, _ := newLink(t)
	assert.True(t, l.LinkOK(0), "unknown before the loop starts")

	l.Poll(1000)
	assert.True(t, l.LinkOK(1999))
	assert.False(t, l.LinkOK(2000))

	// a frame for another slave does not count as the PC talking to us
	line.Inject(frame(t, 9, modbus.ReadRequest(0x02, 820, 1)))
	l.Poll(2100)
	l.Poll(2110)
	assert.False(t, l.LinkOK(2110))

	line.Inject(frame(t, 1, modbus.ReadRequest(0x02, 820, 1)))
	l.Poll(2200)
	l.Poll(2210)
	assert.True(t, l.LinkOK(2210))
	assert.True(t, l.LinkOK(3209))
	assert.False(t, l.LinkOK(3210))
}
