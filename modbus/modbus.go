// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"errors"
	"fmt"
)

const (
	// Bit access
	FuncCodeReadDiscreteInputs = 0x02
	FuncCodeReadCoils          = 0x01
	FuncCodeWriteSingleCoil    = 0x05
	FuncCodeWriteMultipleCoils = 0x0F

	// 16-bit access
	FuncCodeReadInputRegisters     = 0x04
	FuncCodeReadHoldingRegisters   = 0x03
	FuncCodeWriteSingleRegister    = 0x06
	FuncCodeWriteMultipleRegisters = 0x10

	// ExceptionFlag is set on the function code of every exception response.
	ExceptionFlag = 0x80
)

const (
	ExceptionCodeIllegalFunction     = 0x01
	ExceptionCodeIllegalDataAddress  = 0x02
	ExceptionCodeIllegalDataValue    = 0x03
	ExceptionCodeServerDeviceFailure = 0x04
)

// Coil values on the wire for FC05.
const (
	CoilOn  uint16 = 0xFF00
	CoilOff uint16 = 0x0000
)

// Protocol limits for a single request.
const (
	MaxReadBits       = 2000
	MaxReadRegisters  = 125
	MaxWriteBits      = 1968
	MaxWriteRegisters = 123
)

var (
	ErrShortPDU         = errors.New("modbus: pdu too short")
	ErrByteCount        = errors.New("modbus: byte count mismatch")
	ErrUnexpectedFunc   = errors.New("modbus: unexpected function code")
	ErrInvalidCoilValue = errors.New("modbus: coil value must be 0x0000 or 0xFF00")
)

// Error is a protocol exception reported by a slave.
type Error struct {
	FunctionCode  byte
	ExceptionCode byte
}

// Error converts known modbus exception code to error message.
func (e *Error) Error() string {
	var name string
	switch e.ExceptionCode {
	case ExceptionCodeIllegalFunction:
		name = "illegal function"
	case ExceptionCodeIllegalDataAddress:
		name = "illegal data address"
	case ExceptionCodeIllegalDataValue:
		name = "illegal data value"
	case ExceptionCodeServerDeviceFailure:
		name = "server device failure"
	default:
		name = "unknown"
	}
	return fmt.Sprintf("modbus: exception '%v' (%s), function '%v'", e.ExceptionCode, name, e.FunctionCode&^ExceptionFlag)
}

// ProtocolDataUnit (PDU) is independent of underlying communication layers.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// IsException reports whether the PDU carries an exception response.
func (pdu ProtocolDataUnit) IsException() bool {
	return pdu.FunctionCode&ExceptionFlag != 0
}

// Exception builds the two byte exception response for fc.
func Exception(fc, code byte) ProtocolDataUnit {
	return ProtocolDataUnit{
		FunctionCode: fc | ExceptionFlag,
		Data:         []byte{code},
	}
}

// AsError returns the exception carried by pdu, or nil for a normal response.
func (pdu ProtocolDataUnit) AsError() error {
	if !pdu.IsException() {
		return nil
	}
	e := &Error{FunctionCode: pdu.FunctionCode}
	if len(pdu.Data) > 0 {
		e.ExceptionCode = pdu.Data[0]
	}
	return e
}
