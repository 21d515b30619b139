// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"errors"
	"fmt"

	"github.com/ffutop/h2tech-gateway/modbus"
	"github.com/ffutop/h2tech-gateway/modbus/crc"
)

var (
	ErrIncomplete = errors.New("rtu: frame incomplete")
	ErrCRC        = errors.New("rtu: crc mismatch")
)

// ApplicationDataUnit is a PDU addressed to one slave.
type ApplicationDataUnit struct {
	SlaveID byte
	Pdu     modbus.ProtocolDataUnit
}

// Frame lays out address, function code and data without the CRC.
func Frame(slaveID byte, pdu modbus.ProtocolDataUnit) []byte {
	raw := make([]byte, 2, 2+len(pdu.Data)+2)
	raw[0] = slaveID
	raw[1] = pdu.FunctionCode
	return append(raw, pdu.Data...)
}

// Encode encodes PDU in an RTU frame:
//
//	Slave Address   : 1 byte
//	Function        : 1 byte
//	Data            : 0 up to 252 bytes
//	CRC             : 2 bytes
func (adu *ApplicationDataUnit) Encode() ([]byte, error) {
	length := len(adu.Pdu.Data) + 4
	if length > MaxSize {
		return nil, fmt.Errorf("rtu: length of data '%v' must not be bigger than '%v'", length, MaxSize)
	}
	return crc.Append(Frame(adu.SlaveID, adu.Pdu)), nil
}

// Decode validates the CRC of raw and splits it. The returned PDU data
// is a copy, so raw may be reused by the caller.
func Decode(raw []byte) (*ApplicationDataUnit, error) {
	length := len(raw)
	if length < MinSize {
		return nil, fmt.Errorf("rtu: frame length '%v' does not meet minimum '%v'", length, MinSize)
	}
	if !crc.Check(raw) {
		return nil, ErrCRC
	}
	data := make([]byte, length-4)
	copy(data, raw[2:length-2])
	return &ApplicationDataUnit{
		SlaveID: raw[0],
		Pdu:     modbus.ProtocolDataUnit{FunctionCode: raw[1], Data: data},
	}, nil
}

// RequestLength returns the expected total length of a request ADU from its
// leading bytes.
func RequestLength(header []byte) (int, error) {
	if len(header) < 2 {
		return 0, ErrIncomplete
	}
	switch header[1] {
	case modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister:
		// [SlaveID, Func, Addr(2), Val(2), CRC(2)]
		return 8, nil
	case modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteMultipleRegisters:
		// [SlaveID, Func, Addr(2), Quant(2), ByteCount(1), Data(N), CRC(2)]
		if len(header) < multipleWriteHeader {
			return 0, ErrIncomplete
		}
		return multipleWriteHeader + int(header[6]) + 2, nil
	default:
		return 0, fmt.Errorf("rtu: unsupported function code: 0x%02X", header[1])
	}
}

// ResponseLength returns the expected total length of a response ADU from
// its leading bytes. Exception responses are always ExceptionSize long.
func ResponseLength(header []byte) (int, error) {
	if len(header) < 2 {
		return 0, ErrIncomplete
	}
	fc := header[1]
	if fc&modbus.ExceptionFlag != 0 {
		return ExceptionSize, nil
	}
	switch fc {
	case modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters:
		if len(header) < 3 {
			return 0, ErrIncomplete
		}
		// [SlaveID, Func, ByteCount, Data(N), CRC(2)]
		return 3 + int(header[2]) + 2, nil
	case modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister,
		modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteMultipleRegisters:
		return 8, nil
	default:
		return 0, fmt.Errorf("rtu: unsupported function code: 0x%02X", fc)
	}
}
