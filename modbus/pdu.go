// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"encoding/binary"
	"fmt"
)

func dataBlock(value ...uint16) []byte {
	data := make([]byte, 2*len(value))
	for i, v := range value {
		binary.BigEndian.PutUint16(data[i*2:], v)
	}
	return data
}

// ReadRequest builds an FC01/02/03/04 request.
func ReadRequest(fc byte, address, quantity uint16) ProtocolDataUnit {
	return ProtocolDataUnit{FunctionCode: fc, Data: dataBlock(address, quantity)}
}

// WriteSingleCoilRequest builds an FC05 request.
func WriteSingleCoilRequest(address uint16, on bool) ProtocolDataUnit {
	value := CoilOff
	if on {
		value = CoilOn
	}
	return ProtocolDataUnit{FunctionCode: FuncCodeWriteSingleCoil, Data: dataBlock(address, value)}
}

// WriteSingleRegisterRequest builds an FC06 request.
func WriteSingleRegisterRequest(address, value uint16) ProtocolDataUnit {
	return ProtocolDataUnit{FunctionCode: FuncCodeWriteSingleRegister, Data: dataBlock(address, value)}
}

// WriteMultipleCoilsRequest builds an FC15 request.
func WriteMultipleCoilsRequest(address uint16, bits []bool) ProtocolDataUnit {
	packed := PackBits(bits)
	data := dataBlock(address, uint16(len(bits)))
	data = append(data, byte(len(packed)))
	data = append(data, packed...)
	return ProtocolDataUnit{FunctionCode: FuncCodeWriteMultipleCoils, Data: data}
}

// WriteMultipleRegistersRequest builds an FC16 request.
func WriteMultipleRegistersRequest(address uint16, values []uint16) ProtocolDataUnit {
	data := dataBlock(address, uint16(len(values)))
	data = append(data, byte(2*len(values)))
	data = append(data, dataBlock(values...)...)
	return ProtocolDataUnit{FunctionCode: FuncCodeWriteMultipleRegisters, Data: data}
}

// ReadBitsResponse builds the FC01/02 response carrying bits.
func ReadBitsResponse(fc byte, bits []bool) ProtocolDataUnit {
	packed := PackBits(bits)
	data := make([]byte, 1+len(packed))
	data[0] = byte(len(packed))
	copy(data[1:], packed)
	return ProtocolDataUnit{FunctionCode: fc, Data: data}
}

// ReadRegistersResponse builds the FC03/04 response carrying regs.
func ReadRegistersResponse(fc byte, regs []uint16) ProtocolDataUnit {
	data := make([]byte, 1, 1+2*len(regs))
	data[0] = byte(2 * len(regs))
	data = append(data, dataBlock(regs...)...)
	return ProtocolDataUnit{FunctionCode: fc, Data: data}
}

// WriteMultipleResponse builds the FC15/16 response. It echoes address and
// quantity, never the written data.
func WriteMultipleResponse(fc byte, address, quantity uint16) ProtocolDataUnit {
	return ProtocolDataUnit{FunctionCode: fc, Data: dataBlock(address, quantity)}
}

// ParseReadRequest decodes the address and quantity of an FC01..04 request.
func ParseReadRequest(pdu ProtocolDataUnit) (address, quantity uint16, err error) {
	if len(pdu.Data) != 4 {
		return 0, 0, fmt.Errorf("%w: read request carries %d bytes", ErrShortPDU, len(pdu.Data))
	}
	return binary.BigEndian.Uint16(pdu.Data), binary.BigEndian.Uint16(pdu.Data[2:]), nil
}

// ParseWriteSingle decodes an FC05/06 request (or its echo).
func ParseWriteSingle(pdu ProtocolDataUnit) (address, value uint16, err error) {
	if len(pdu.Data) != 4 {
		return 0, 0, fmt.Errorf("%w: single write carries %d bytes", ErrShortPDU, len(pdu.Data))
	}
	address = binary.BigEndian.Uint16(pdu.Data)
	value = binary.BigEndian.Uint16(pdu.Data[2:])
	if pdu.FunctionCode == FuncCodeWriteSingleCoil && value != CoilOn && value != CoilOff {
		return address, value, ErrInvalidCoilValue
	}
	return address, value, nil
}

func parseWriteMultipleHeader(pdu ProtocolDataUnit, expectedBytes func(quantity int) int) (uint16, uint16, []byte, error) {
	if len(pdu.Data) < 5 {
		return 0, 0, nil, fmt.Errorf("%w: multiple write carries %d bytes", ErrShortPDU, len(pdu.Data))
	}
	address := binary.BigEndian.Uint16(pdu.Data)
	quantity := binary.BigEndian.Uint16(pdu.Data[2:])
	byteCount := int(pdu.Data[4])
	if byteCount != expectedBytes(int(quantity)) || len(pdu.Data) != 5+byteCount {
		return address, quantity, nil, fmt.Errorf("%w: quantity %d, byte count %d, payload %d",
			ErrByteCount, quantity, byteCount, len(pdu.Data)-5)
	}
	return address, quantity, pdu.Data[5:], nil
}

// ParseWriteMultipleCoils decodes an FC15 request.
func ParseWriteMultipleCoils(pdu ProtocolDataUnit) (address uint16, bits []bool, err error) {
	address, quantity, payload, err := parseWriteMultipleHeader(pdu, ByteCount)
	if err != nil {
		return address, nil, err
	}
	return address, UnpackBits(payload, int(quantity)), nil
}

// ParseWriteMultipleRegisters decodes an FC16 request.
func ParseWriteMultipleRegisters(pdu ProtocolDataUnit) (address uint16, values []uint16, err error) {
	address, quantity, payload, err := parseWriteMultipleHeader(pdu, func(q int) int { return 2 * q })
	if err != nil {
		return address, nil, err
	}
	values = make([]uint16, quantity)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(payload[2*i:])
	}
	return address, values, nil
}

func responsePayload(pdu ProtocolDataUnit, fc byte, want int) ([]byte, error) {
	if pdu.IsException() {
		return nil, pdu.AsError()
	}
	if pdu.FunctionCode != fc {
		return nil, fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrUnexpectedFunc, pdu.FunctionCode, fc)
	}
	if len(pdu.Data) < 1 {
		return nil, ErrShortPDU
	}
	if int(pdu.Data[0]) != want || len(pdu.Data) != 1+want {
		return nil, fmt.Errorf("%w: byte count %d, payload %d, want %d",
			ErrByteCount, pdu.Data[0], len(pdu.Data)-1, want)
	}
	return pdu.Data[1:], nil
}

// ParseReadBitsResponse decodes an FC01/02 response for a request of quantity bits.
func ParseReadBitsResponse(pdu ProtocolDataUnit, fc byte, quantity int) ([]bool, error) {
	payload, err := responsePayload(pdu, fc, ByteCount(quantity))
	if err != nil {
		return nil, err
	}
	return UnpackBits(payload, quantity), nil
}

// ParseReadRegistersResponse decodes an FC03/04 response for a request of quantity registers.
func ParseReadRegistersResponse(pdu ProtocolDataUnit, fc byte, quantity int) ([]uint16, error) {
	payload, err := responsePayload(pdu, fc, 2*quantity)
	if err != nil {
		return nil, err
	}
	regs := make([]uint16, quantity)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(payload[2*i:])
	}
	return regs, nil
}
