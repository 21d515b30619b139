// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package h2tech

import (
	"log/slog"

	"github.com/ffutop/h2tech-gateway/internal/board"
	"github.com/ffutop/h2tech-gateway/internal/hal"
	"github.com/ffutop/h2tech-gateway/internal/model"
	"github.com/ffutop/h2tech-gateway/internal/status"
	"github.com/ffutop/h2tech-gateway/modbus"
)

// Gateway answers upstream requests. Reads and writes are all-or-nothing:
// every address of a request is checked before anything is returned or
// applied.
type Gateway struct {
	bits    *status.BitImage
	actions *Actions
	io      hal.IO
	store   *model.Store
	slaves  board.Addresses
}

// NewGateway serves bits (written by the aggregator), the main board IO
// and the sub-board images of store.
func NewGateway(bits *status.BitImage, actions *Actions, io hal.IO, store *model.Store, slaves board.Addresses) *Gateway {
	return &Gateway{
		bits:    bits,
		actions: actions,
		io:      io,
		store:   store,
		slaves:  slaves,
	}
}

// Handle answers one request PDU. Errors come back as exception PDUs.
func (g *Gateway) Handle(req modbus.ProtocolDataUnit, now uint32) modbus.ProtocolDataUnit {
	switch req.FunctionCode {
	case modbus.FuncCodeReadCoils:
		return g.readBits(req, AreaCoil)
	case modbus.FuncCodeReadDiscreteInputs:
		return g.readBits(req, AreaDiscrete)
	case modbus.FuncCodeReadHoldingRegisters:
		return g.readRegisters(req)
	case modbus.FuncCodeReadInputRegisters:
		return g.readInputRegisters(req)
	case modbus.FuncCodeWriteSingleCoil:
		return g.writeSingleCoil(req, now)
	case modbus.FuncCodeWriteMultipleCoils:
		return g.writeMultipleCoils(req, now)
	case modbus.FuncCodeWriteSingleRegister:
		return g.writeSingleRegister(req)
	case modbus.FuncCodeWriteMultipleRegisters:
		return g.writeMultipleRegisters(req)
	default:
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalFunction)
	}
}

// logical converts the i-th wire address of a request to the 1-based
// table address.
func logical(start uint16, i int) (uint16, bool) {
	a := uint32(start) + 1 + uint32(i)
	if a > 0xFFFF {
		return 0, false
	}
	return uint16(a), true
}

func (g *Gateway) readBits(req modbus.ProtocolDataUnit, area Area) modbus.ProtocolDataUnit {
	start, quantity, err := modbus.ParseReadRequest(req)
	if err != nil || quantity == 0 || quantity > modbus.MaxReadBits {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	bits := make([]bool, quantity)
	ack := false
	for i := range bits {
		addr, ok := logical(start, i)
		if !ok {
			return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
		}
		e, ok := Lookup(area, addr)
		if !ok || e.Access != Read {
			return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
		}
		switch e.Source {
		case SourceBit:
			bits[i] = g.bits.Get(e.Bit)
		case SourceWriteFail:
			bits[i] = g.actions.WriteFailed()
			ack = true
		}
	}
	if ack {
		g.actions.ClearWriteFail()
	}
	return modbus.ReadBitsResponse(req.FunctionCode, bits)
}

func (g *Gateway) readRegisters(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	start, quantity, err := modbus.ParseReadRequest(req)
	if err != nil || quantity == 0 || quantity > modbus.MaxReadRegisters {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	regs := make([]uint16, quantity)
	for i := range regs {
		a := uint32(start) + uint32(i)
		r, ok := LookupRegister(uint16(a))
		if a > 0xFFFF || !ok {
			return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
		}
		regs[i] = g.registerValue(r)
	}
	return modbus.ReadRegistersResponse(req.FunctionCode, regs)
}

func (g *Gateway) readInputRegisters(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	_, quantity, err := modbus.ParseReadRequest(req)
	if err != nil || quantity == 0 || quantity > modbus.MaxReadRegisters {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	// nothing is mapped in the input register area
	return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
}

func (g *Gateway) registerValue(r Register) uint16 {
	switch r.Source {
	case RegCurrent:
		img, ok := g.store.Image(g.slaves[r.Board])
		if !ok {
			return 0
		}
		return img.Register(model.TableInputRegisters, board.InputCurrentBase+r.Channel)
	case RegDIBitmap:
		var v uint16
		for i := 0; i < board.MainDICount; i++ {
			if g.io.ReadBit(i) {
				v |= 1 << i
			}
		}
		return v & DIMask
	case RegDOBitmap:
		return g.actions.DO() & DOMask
	default:
		return 0
	}
}

// coilEntry resolves a writable bit. A read-only bit is an illegal value,
// an unknown one an illegal address.
func coilEntry(addr uint16) (Entry, byte) {
	e, ok := Lookup(AreaCoil, addr)
	if !ok {
		if _, readOnly := Lookup(AreaDiscrete, addr); readOnly {
			return Entry{}, modbus.ExceptionCodeIllegalDataValue
		}
		return Entry{}, modbus.ExceptionCodeIllegalDataAddress
	}
	if e.Access != Write {
		return Entry{}, modbus.ExceptionCodeIllegalDataValue
	}
	return e, 0
}

func (g *Gateway) run(e Entry, on bool, now uint32) {
	if !on {
		return
	}
	if err := g.actions.Run(e.Action, now); err != nil {
		slog.Debug("upstream write action failed", "addr", e.Addr, "name", e.Name, "err", err)
	}
}

func (g *Gateway) writeSingleCoil(req modbus.ProtocolDataUnit, now uint32) modbus.ProtocolDataUnit {
	start, value, err := modbus.ParseWriteSingle(req)
	if err != nil {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	addr, ok := logical(start, 0)
	if !ok {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	e, code := coilEntry(addr)
	if code != 0 {
		return modbus.Exception(req.FunctionCode, code)
	}
	g.run(e, value == modbus.CoilOn, now)
	return req
}

func (g *Gateway) writeMultipleCoils(req modbus.ProtocolDataUnit, now uint32) modbus.ProtocolDataUnit {
	start, bits, err := modbus.ParseWriteMultipleCoils(req)
	if err != nil || len(bits) == 0 || len(bits) > modbus.MaxWriteBits {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	entries := make([]Entry, len(bits))
	for i := range bits {
		addr, ok := logical(start, i)
		if !ok {
			return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
		}
		e, code := coilEntry(addr)
		if code != 0 {
			return modbus.Exception(req.FunctionCode, code)
		}
		entries[i] = e
	}
	for i, e := range entries {
		g.run(e, bits[i], now)
	}
	return modbus.WriteMultipleResponse(req.FunctionCode, start, uint16(len(bits)))
}

func writableRegister(addr uint32) (Register, byte) {
	if addr > 0xFFFF {
		return Register{}, modbus.ExceptionCodeIllegalDataAddress
	}
	r, ok := LookupRegister(uint16(addr))
	if !ok {
		return Register{}, modbus.ExceptionCodeIllegalDataAddress
	}
	if r.Access != Write {
		return Register{}, modbus.ExceptionCodeIllegalDataValue
	}
	return r, 0
}

func (g *Gateway) writeRegister(r Register, value uint16) {
	switch r.Source {
	case RegDOBitmap:
		g.actions.SetDO(value & DOMask)
	default:
		slog.Debug("write to register without a sink", "addr", r.Addr)
	}
}

func (g *Gateway) writeSingleRegister(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	start, value, err := modbus.ParseWriteSingle(req)
	if err != nil {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	r, code := writableRegister(uint32(start))
	if code != 0 {
		return modbus.Exception(req.FunctionCode, code)
	}
	g.writeRegister(r, value)
	return req
}

func (g *Gateway) writeMultipleRegisters(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	start, values, err := modbus.ParseWriteMultipleRegisters(req)
	if err != nil || len(values) == 0 || len(values) > modbus.MaxWriteRegisters {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	regs := make([]Register, len(values))
	for i := range values {
		r, code := writableRegister(uint32(start) + uint32(i))
		if code != 0 {
			return modbus.Exception(req.FunctionCode, code)
		}
		regs[i] = r
	}
	for i, r := range regs {
		g.writeRegister(r, values[i])
	}
	return modbus.WriteMultipleResponse(req.FunctionCode, start, uint16(len(values)))
}
