// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package slave is the RTU slave engine that runs on each sub-board.
//
// Unlike the upstream gateway, a sub-board never answers with an exception:
// frames for another address, frames with a bad CRC and requests outside
// the image are dropped without a response.
package slave

import (
	"log/slog"
	"time"

	"github.com/ffutop/h2tech-gateway/internal/hal"
	"github.com/ffutop/h2tech-gateway/internal/model"
	"github.com/ffutop/h2tech-gateway/modbus"
	"github.com/ffutop/h2tech-gateway/modbus/rtu"
)

const defaultTxTimeout = 50 * time.Millisecond

// Refresher reloads a table from hardware before it is served.
type Refresher interface {
	Refresh(img *model.Image, table model.TableType) error
}

// Config holds the engine settings.
type Config struct {
	Address   byte
	Silence   time.Duration
	TxTimeout time.Duration
}

// Stats counts what the engine did with received frames.
type Stats struct {
	Frames    uint64
	Dropped   uint64
	Responses uint64
	TxErrors  uint64
}

// Engine answers requests for one slave address from a register image.
type Engine struct {
	cfg       Config
	line      hal.Line
	de        hal.Pin
	rx        *Receiver
	img       *model.Image
	refresher Refresher

	stats Stats
}

// NewEngine creates an engine. refresher may be nil.
func NewEngine(cfg Config, line hal.Line, de hal.Pin, img *model.Image, refresher Refresher) *Engine {
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = defaultTxTimeout
	}
	if de == nil {
		de = hal.NopPin{}
	}
	return &Engine{
		cfg:       cfg,
		line:      line,
		de:        de,
		rx:        NewReceiver(line, cfg.Silence),
		img:       img,
		refresher: refresher,
	}
}

func (e *Engine) Address() byte {
	return e.cfg.Address
}

func (e *Engine) Image() *model.Image {
	return e.img
}

func (e *Engine) Stats() Stats {
	return e.stats
}

// Poll must be called often from the loop. It never blocks except while
// transmitting a response.
func (e *Engine) Poll(now uint32) {
	frame, ok := e.rx.Poll(now)
	if !ok {
		return
	}
	e.stats.Frames++
	resp, ok := e.Process(frame)
	if !ok {
		e.stats.Dropped++
		return
	}
	if err := hal.TransmitFrame(e.line, e.de, resp, e.cfg.TxTimeout); err != nil {
		e.stats.TxErrors++
		slog.Warn("slave response not sent", "slave", e.cfg.Address, "err", err)
		return
	}
	e.stats.Responses++
}

// Process validates one complete frame and returns the response frame, or
// false when the frame must be ignored.
func (e *Engine) Process(frame []byte) ([]byte, bool) {
	if len(frame) < rtu.MinSize || frame[0] != e.cfg.Address {
		return nil, false
	}
	adu, err := rtu.Decode(frame)
	if err != nil {
		slog.Debug("slave dropped frame", "slave", e.cfg.Address, "err", err)
		return nil, false
	}
	pdu, ok := e.dispatch(adu.Pdu)
	if !ok {
		slog.Debug("slave ignored request", "slave", e.cfg.Address, "fc", adu.Pdu.FunctionCode)
		return nil, false
	}
	resp, err := (&rtu.ApplicationDataUnit{SlaveID: e.cfg.Address, Pdu: pdu}).Encode()
	if err != nil {
		return nil, false
	}
	return resp, true
}

func (e *Engine) dispatch(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, bool) {
	switch req.FunctionCode {
	case modbus.FuncCodeReadCoils:
		return e.handleReadBits(req, model.TableCoils)
	case modbus.FuncCodeReadDiscreteInputs:
		return e.handleReadBits(req, model.TableDiscreteInputs)
	case modbus.FuncCodeReadHoldingRegisters:
		return e.handleReadRegisters(req, model.TableHoldingRegisters)
	case modbus.FuncCodeReadInputRegisters:
		return e.handleReadRegisters(req, model.TableInputRegisters)
	case modbus.FuncCodeWriteSingleCoil:
		return e.handleWriteSingleCoil(req)
	case modbus.FuncCodeWriteSingleRegister:
		return e.handleWriteSingleRegister(req)
	case modbus.FuncCodeWriteMultipleCoils:
		return e.handleWriteMultipleCoils(req)
	case modbus.FuncCodeWriteMultipleRegisters:
		return e.handleWriteMultipleRegisters(req)
	default:
		return modbus.ProtocolDataUnit{}, false
	}
}

func (e *Engine) refresh(table model.TableType) {
	if e.refresher == nil {
		return
	}
	if err := e.refresher.Refresh(e.img, table); err != nil {
		slog.Debug("table refresh failed, serving the last values", "slave", e.cfg.Address, "table", table.String(), "err", err)
	}
}

func (e *Engine) handleReadBits(req modbus.ProtocolDataUnit, table model.TableType) (modbus.ProtocolDataUnit, bool) {
	address, quantity, err := modbus.ParseReadRequest(req)
	if err != nil {
		return modbus.ProtocolDataUnit{}, false
	}
	e.refresh(table)
	bits, err := e.img.ReadBits(table, int(address), int(quantity))
	if err != nil {
		return modbus.ProtocolDataUnit{}, false
	}
	return modbus.ReadBitsResponse(req.FunctionCode, bits), true
}

func (e *Engine) handleReadRegisters(req modbus.ProtocolDataUnit, table model.TableType) (modbus.ProtocolDataUnit, bool) {
	address, quantity, err := modbus.ParseReadRequest(req)
	if err != nil {
		return modbus.ProtocolDataUnit{}, false
	}
	e.refresh(table)
	regs, err := e.img.ReadRegisters(table, int(address), int(quantity))
	if err != nil {
		return modbus.ProtocolDataUnit{}, false
	}
	return modbus.ReadRegistersResponse(req.FunctionCode, regs), true
}

func (e *Engine) handleWriteSingleCoil(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, bool) {
	address, value, err := modbus.ParseWriteSingle(req)
	if err != nil {
		return modbus.ProtocolDataUnit{}, false
	}
	if err := e.img.WriteBits(model.TableCoils, int(address), []bool{value == modbus.CoilOn}); err != nil {
		return modbus.ProtocolDataUnit{}, false
	}
	return req, true // Echo request
}

func (e *Engine) handleWriteSingleRegister(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, bool) {
	address, value, err := modbus.ParseWriteSingle(req)
	if err != nil {
		return modbus.ProtocolDataUnit{}, false
	}
	if err := e.img.WriteRegisters(model.TableHoldingRegisters, int(address), []uint16{value}); err != nil {
		return modbus.ProtocolDataUnit{}, false
	}
	return req, true // Echo request
}

func (e *Engine) handleWriteMultipleCoils(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, bool) {
	address, bits, err := modbus.ParseWriteMultipleCoils(req)
	if err != nil || len(bits) == 0 {
		return modbus.ProtocolDataUnit{}, false
	}
	if err := e.img.WriteBits(model.TableCoils, int(address), bits); err != nil {
		return modbus.ProtocolDataUnit{}, false
	}
	return modbus.WriteMultipleResponse(req.FunctionCode, address, uint16(len(bits))), true
}

func (e *Engine) handleWriteMultipleRegisters(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, bool) {
	address, values, err := modbus.ParseWriteMultipleRegisters(req)
	if err != nil || len(values) == 0 {
		return modbus.ProtocolDataUnit{}, false
	}
	if err := e.img.WriteRegisters(model.TableHoldingRegisters, int(address), values); err != nil {
		return modbus.ProtocolDataUnit{}, false
	}
	return modbus.WriteMultipleResponse(req.FunctionCode, address, uint16(len(values))), true
}
