// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"fmt"

	"github.com/ffutop/h2tech-gateway/internal/model"
	"github.com/ffutop/h2tech-gateway/modbus"
)

// EntryType selects which table of a slave a poll entry reads.
type EntryType int

const (
	ReadDiscrete EntryType = iota
	ReadCoil
	ReadHolding
	ReadInput
)

func (t EntryType) String() string {
	switch t {
	case ReadDiscrete:
		return "read_discrete"
	case ReadCoil:
		return "read_coil"
	case ReadHolding:
		return "read_holding"
	case ReadInput:
		return "read_input"
	}
	return fmt.Sprintf("entry(%d)", int(t))
}

// FunctionCode returns the request function code of the entry type.
func (t EntryType) FunctionCode() byte {
	switch t {
	case ReadDiscrete:
		return modbus.FuncCodeReadDiscreteInputs
	case ReadCoil:
		return modbus.FuncCodeReadCoils
	case ReadHolding:
		return modbus.FuncCodeReadHoldingRegisters
	default:
		return modbus.FuncCodeReadInputRegisters
	}
}

// Table returns the image table the entry fills.
func (t EntryType) Table() model.TableType {
	switch t {
	case ReadDiscrete:
		return model.TableDiscreteInputs
	case ReadCoil:
		return model.TableCoils
	case ReadHolding:
		return model.TableHoldingRegisters
	default:
		return model.TableInputRegisters
	}
}

// PollEntry is one read transaction of the poll cycle.
type PollEntry struct {
	SlaveID byte
	Type    EntryType
	Start   uint16
	Count   uint16
}

func (e PollEntry) String() string {
	return fmt.Sprintf("%d/%s[%d:%d]", e.SlaveID, e.Type, e.Start, int(e.Start)+int(e.Count))
}

// DefaultPollTable reads every table of every slave in full: discretes,
// coils, holding and input registers, slave by slave in the given order.
func DefaultPollTable(store *model.Store, slaves []byte) []PollEntry {
	var table []PollEntry
	for _, id := range slaves {
		img, ok := store.Image(id)
		if !ok {
			continue
		}
		for _, t := range []EntryType{ReadDiscrete, ReadCoil, ReadHolding, ReadInput} {
			if n := img.Size(t.Table()); n > 0 {
				table = append(table, PollEntry{SlaveID: id, Type: t, Start: 0, Count: uint16(n)})
			}
		}
	}
	return table
}

// validateTable checks that every entry resolves to a slave image and stays
// inside the table it fills.
func validateTable(store *model.Store, table []PollEntry) error {
	if len(table) == 0 {
		return fmt.Errorf("master: empty poll table")
	}
	for i, e := range table {
		img, ok := store.Image(e.SlaveID)
		if !ok {
			return fmt.Errorf("master: poll entry %d: unknown slave %d", i, e.SlaveID)
		}
		if e.Count == 0 || int(e.Start)+int(e.Count) > img.Size(e.Type.Table()) {
			return fmt.Errorf("master: poll entry %d (%s) exceeds %s size %d", i, e, e.Type.Table(), img.Size(e.Type.Table()))
		}
	}
	return nil
}
