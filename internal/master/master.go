// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package master is the RTU master that polls the sub-boards.
package master

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ffutop/h2tech-gateway/internal/hal"
	"github.com/ffutop/h2tech-gateway/internal/model"
	"github.com/ffutop/h2tech-gateway/modbus"
	"github.com/ffutop/h2tech-gateway/modbus/crc"
	"github.com/ffutop/h2tech-gateway/modbus/rtu"
)

const (
	DefaultResponseTimeout = 50 * time.Millisecond
	// DefaultTurnaround is the default 5 ms slave frame silence plus a
	// 2 ms margin; both ends measure silence at tick resolution.
	DefaultTurnaround = 7 * time.Millisecond
	defaultTxTimeout  = 50 * time.Millisecond

	// writes waiting for a gap between transactions
	maxPendingWrites = 8

	// FC05/06 echo frames are always this long.
	writeEchoSize = 8
)

// State of the transaction state machine.
type State int

const (
	StateIdle State = iota
	StateSend
	StateWaitResponse
	StateParse
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSend:
		return "send"
	case StateWaitResponse:
		return "wait_response"
	case StateParse:
		return "parse"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Result is the terminal outcome of one poll transaction.
type Result int

const (
	ResultOK Result = iota
	ResultTimeout
	ResultException
	ResultParseError
	ResultTxError
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultTimeout:
		return "timeout"
	case ResultException:
		return "exception"
	case ResultParseError:
		return "parse_error"
	case ResultTxError:
		return "tx_error"
	}
	return fmt.Sprintf("result(%d)", int(r))
}

// Observer is told about every finished transaction and every write.
type Observer interface {
	Transaction(entry PollEntry, result Result)
	Write(slaveID byte, fc byte, err error)
}

// Config holds the engine settings.
type Config struct {
	ResponseTimeout time.Duration
	// Turnaround is the bus silence kept before every request. It must be
	// longer than the inter-frame silence the slaves delimit frames with.
	Turnaround time.Duration
	TxTimeout  time.Duration
	Observer   Observer
}

// Stats counts transaction outcomes.
type Stats struct {
	Transactions uint64
	Timeouts     uint64
	Exceptions   uint64
	ParseErrors  uint64
	TxErrors     uint64
	Writes       uint64
	WriteErrors  uint64
}

var ErrWriteQueueFull = errors.New("master: write queue full")

type pendingWrite struct {
	slaveID byte
	pdu     modbus.ProtocolDataUnit
	done    func(error)
}

// Engine drives the poll table one transaction at a time:
// IDLE -> SEND -> WAIT_RESPONSE -> PARSE -> IDLE. The poll index advances
// after every transaction whatever its outcome.
type Engine struct {
	cfg   Config
	line  hal.Line
	de    hal.Pin
	store *model.Store
	table []PollEntry

	state    State
	index    int
	deadline uint32
	rx       []byte

	lastActivity uint32
	writes       []pendingWrite

	commOK map[byte]bool
	stats  Stats
}

// New creates an engine over store. The images in store are reset and every
// slave starts with comm-health false.
func New(cfg Config, line hal.Line, de hal.Pin, store *model.Store, table []PollEntry) (*Engine, error) {
	if err := validateTable(store, table); err != nil {
		return nil, err
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
	if cfg.Turnaround <= 0 {
		cfg.Turnaround = DefaultTurnaround
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = defaultTxTimeout
	}
	if de == nil {
		de = hal.NopPin{}
	}
	store.Reset()
	m := &Engine{
		cfg:    cfg,
		line:   line,
		de:     de,
		store:  store,
		table:  append([]PollEntry(nil), table...),
		rx:     make([]byte, 0, rtu.MaxSize),
		commOK: make(map[byte]bool),
	}
	for _, e := range table {
		m.commOK[e.SlaveID] = false
	}
	return m, nil
}

func (m *Engine) State() State {
	return m.state
}

// Index returns the poll table position of the current or next transaction.
func (m *Engine) Index() int {
	return m.index
}

func (m *Engine) Table() []PollEntry {
	return m.table
}

func (m *Engine) Stats() Stats {
	return m.stats
}

// CommOK reports the comm-health of a slave. Unknown slaves are never ok.
func (m *Engine) CommOK(slaveID byte) bool {
	return m.commOK[slaveID]
}

// Poll advances the state machine. It never blocks except for the bounded
// transmit of a request. Queued writes go out ahead of the next poll
// request, each after its own turnaround.
func (m *Engine) Poll(now uint32) {
	m.drain(now)
	switch m.state {
	case StateIdle, StateSend:
		if hal.Elapsed(now, m.lastActivity) < uint32(m.cfg.Turnaround.Milliseconds()) {
			return
		}
		if len(m.writes) > 0 {
			m.sendWrite(now)
			return
		}
		m.send(now)
	case StateWaitResponse:
		m.wait(now)
	case StateParse:
		m.parse()
	}
}

func (m *Engine) drain(now uint32) {
	for {
		b, ok := m.line.ReceiveByte()
		if !ok {
			return
		}
		m.lastActivity = now
		// bytes outside WAIT_RESPONSE belong to no transaction
		if m.state == StateWaitResponse && len(m.rx) < cap(m.rx) {
			m.rx = append(m.rx, b)
		}
	}
}

func (m *Engine) send(now uint32) {
	m.state = StateSend
	entry := m.table[m.index]
	frame, err := (&rtu.ApplicationDataUnit{
		SlaveID: entry.SlaveID,
		Pdu:     modbus.ReadRequest(entry.Type.FunctionCode(), entry.Start, entry.Count),
	}).Encode()
	if err == nil {
		m.rx = m.rx[:0]
		err = hal.TransmitFrame(m.line, m.de, frame, m.cfg.TxTimeout)
	}
	if err != nil {
		slog.Debug("poll request not sent", "entry", entry.String(), "err", err)
		m.finish(entry, ResultTxError)
		return
	}
	m.lastActivity = now
	m.deadline = now + uint32(m.cfg.ResponseTimeout.Milliseconds())
	m.state = StateWaitResponse
}

func (m *Engine) wait(now uint32) {
	m.stripWriteEchoes()
	if len(m.rx) >= 2 {
		n, err := rtu.ResponseLength(m.rx)
		switch {
		case err == nil && m.rx[1]&modbus.ExceptionFlag != 0 && len(m.rx) >= n:
			entry := m.table[m.index]
			if m.rx[0] != entry.SlaveID || !crc.Check(m.rx[:n]) {
				slog.Debug("exception response rejected", "entry", entry.String(), "frame", fmt.Sprintf("% X", m.rx[:n]))
				m.finish(entry, ResultParseError)
				return
			}
			m.finish(entry, ResultException)
			return
		case err == nil && len(m.rx) >= n:
			m.rx = m.rx[:n]
			m.state = StateParse
			m.parse()
			return
		case err != nil && !errors.Is(err, rtu.ErrIncomplete):
			// not a response to anything we sent
			m.state = StateParse
			m.parse()
			return
		}
	}
	if hal.Reached(now, m.deadline) {
		m.finish(m.table[m.index], ResultTimeout)
	}
}

// stripWriteEchoes removes answers to WriteCoil/WriteHoldingReg that land in
// the receive buffer of a poll transaction. Polls never use FC05/06.
func (m *Engine) stripWriteEchoes() {
	for len(m.rx) >= writeEchoSize &&
		(m.rx[1] == modbus.FuncCodeWriteSingleCoil || m.rx[1] == modbus.FuncCodeWriteSingleRegister) &&
		crc.Check(m.rx[:writeEchoSize]) {
		m.rx = append(m.rx[:0], m.rx[writeEchoSize:]...)
	}
}

func (m *Engine) parse() {
	entry := m.table[m.index]
	if err := m.decodeInto(entry); err != nil {
		slog.Debug("poll response rejected", "entry", entry.String(), "err", err)
		m.finish(entry, ResultParseError)
		return
	}
	m.finish(entry, ResultOK)
}

// decodeInto decodes the buffered response to entry into the slave image.
func (m *Engine) decodeInto(entry PollEntry) error {
	adu, err := rtu.Decode(m.rx)
	if err != nil {
		return err
	}
	if adu.SlaveID != entry.SlaveID {
		return fmt.Errorf("master: response from slave %d, want %d", adu.SlaveID, entry.SlaveID)
	}
	img, _ := m.store.Image(entry.SlaveID)
	fc := entry.Type.FunctionCode()
	table := entry.Type.Table()
	if table.IsBit() {
		bits, err := modbus.ParseReadBitsResponse(adu.Pdu, fc, int(entry.Count))
		if err != nil {
			return err
		}
		return img.WriteBits(table, int(entry.Start), bits)
	}
	regs, err := modbus.ParseReadRegistersResponse(adu.Pdu, fc, int(entry.Count))
	if err != nil {
		return err
	}
	return img.WriteRegisters(table, int(entry.Start), regs)
}

func (m *Engine) finish(entry PollEntry, result Result) {
	m.stats.Transactions++
	switch result {
	case ResultOK:
		m.setComm(entry.SlaveID, true)
	case ResultTimeout:
		m.stats.Timeouts++
		m.setComm(entry.SlaveID, false)
	case ResultParseError:
		m.stats.ParseErrors++
		m.setComm(entry.SlaveID, false)
	case ResultTxError:
		m.stats.TxErrors++
		m.setComm(entry.SlaveID, false)
	case ResultException:
		// the slave is alive; its data is simply not refreshed
		m.stats.Exceptions++
	}
	if m.cfg.Observer != nil {
		m.cfg.Observer.Transaction(entry, result)
	}
	m.rx = m.rx[:0]
	m.index = (m.index + 1) % len(m.table)
	m.state = StateIdle
}

func (m *Engine) setComm(slaveID byte, ok bool) {
	if m.commOK[slaveID] == ok {
		return
	}
	m.commOK[slaveID] = ok
	if ok {
		slog.Info("slave comm restored", "slave", slaveID)
	} else {
		slog.Warn("slave comm lost", "slave", slaveID)
	}
}

// Pending returns how many writes wait for the bus.
func (m *Engine) Pending() int {
	return len(m.writes)
}

// WriteCoil queues an FC05 request. It is transmitted by Poll between two
// poll transactions and done is called with the transmit result. The echo
// is not awaited. done may run before WriteCoil returns when the queue is
// full.
func (m *Engine) WriteCoil(slaveID byte, address uint16, on bool, done func(error)) {
	m.enqueue(slaveID, modbus.WriteSingleCoilRequest(address, on), done)
}

// WriteHoldingReg queues an FC06 request like WriteCoil.
func (m *Engine) WriteHoldingReg(slaveID byte, address, value uint16, done func(error)) {
	m.enqueue(slaveID, modbus.WriteSingleRegisterRequest(address, value), done)
}

func (m *Engine) enqueue(slaveID byte, pdu modbus.ProtocolDataUnit, done func(error)) {
	if len(m.writes) >= maxPendingWrites {
		m.completeWrite(pendingWrite{slaveID: slaveID, pdu: pdu, done: done}, ErrWriteQueueFull)
		return
	}
	m.writes = append(m.writes, pendingWrite{slaveID: slaveID, pdu: pdu, done: done})
}

func (m *Engine) sendWrite(now uint32) {
	w := m.writes[0]
	m.writes = append(m.writes[:0], m.writes[1:]...)
	frame, err := (&rtu.ApplicationDataUnit{SlaveID: w.slaveID, Pdu: w.pdu}).Encode()
	if err == nil {
		err = hal.TransmitFrame(m.line, m.de, frame, m.cfg.TxTimeout)
	}
	m.lastActivity = now
	m.completeWrite(w, err)
}

func (m *Engine) completeWrite(w pendingWrite, err error) {
	m.stats.Writes++
	if err != nil {
		m.stats.WriteErrors++
		err = fmt.Errorf("master: write fc 0x%02X to slave %d: %w", w.pdu.FunctionCode, w.slaveID, err)
	}
	if m.cfg.Observer != nil {
		m.cfg.Observer.Write(w.slaveID, w.pdu.FunctionCode, err)
	}
	if w.done != nil {
		w.done(err)
	}
}
