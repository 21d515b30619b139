// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/ffutop/h2tech-gateway/internal/h2tech"
)

// Client is the part of a Modbus client the tool uses.
type Client interface {
	ReadDiscreteInputs(ctx context.Context, address, quantity uint16) ([]byte, error)
	ReadHoldingRegisters(ctx context.Context, address, quantity uint16) ([]byte, error)
	WriteSingleCoil(ctx context.Context, address, value uint16) ([]byte, error)
}

// block is one read request, in wire addresses.
type block struct {
	start uint16
	count uint16
}

func (b block) next() uint16 {
	return b.start + b.count
}

// discreteBlocks groups the readable status points into contiguous reads.
// Bit table addresses are one above the wire address.
func discreteBlocks() []block {
	var out []block
	for _, e := range h2tech.Entries() {
		if e.Area != h2tech.AreaDiscrete || e.Access != h2tech.Read {
			continue
		}
		wire := e.Addr - 1
		if n := len(out); n > 0 && out[n-1].next() == wire {
			out[n-1].count++
			continue
		}
		out = append(out, block{start: wire, count: 1})
	}
	return out
}

func registerBlocks() []block {
	var out []block
	for _, r := range h2tech.Registers() {
		if n := len(out); n > 0 && out[n-1].next() == r.Addr {
			out[n-1].count++
			continue
		}
		out = append(out, block{start: r.Addr, count: 1})
	}
	return out
}

type BitPoint struct {
	Addr  uint16 `yaml:"addr"`
	Name  string `yaml:"name"`
	Value bool   `yaml:"value"`
}

type RegisterPoint struct {
	Addr  uint16 `yaml:"addr"`
	Name  string `yaml:"name"`
	Value uint16 `yaml:"value"`
}

// Report is every readable point of the gateway.
type Report struct {
	Bits      []BitPoint      `yaml:"bits"`
	Registers []RegisterPoint `yaml:"registers"`
}

func readReport(ctx context.Context, c Client) (*Report, error) {
	r := &Report{}
	for _, b := range discreteBlocks() {
		results, err := c.ReadDiscreteInputs(ctx, b.start, b.count)
		if err != nil {
			return nil, fmt.Errorf("read discrete inputs %d/%d: %w", b.start, b.count, err)
		}
		if len(results) < (int(b.count)+7)/8 {
			return nil, fmt.Errorf("read discrete inputs %d/%d: short response of %d bytes", b.start, b.count, len(results))
		}
		for i := 0; i < int(b.count); i++ {
			addr := b.start + 1 + uint16(i)
			e, _ := h2tech.Lookup(h2tech.AreaDiscrete, addr)
			r.Bits = append(r.Bits, BitPoint{
				Addr:  addr,
				Name:  e.Name,
				Value: results[i/8]&(1<<(i%8)) != 0,
			})
		}
	}
	for _, b := range registerBlocks() {
		results, err := c.ReadHoldingRegisters(ctx, b.start, b.count)
		if err != nil {
			return nil, fmt.Errorf("read holding registers %d/%d: %w", b.start, b.count, err)
		}
		if len(results) < 2*int(b.count) {
			return nil, fmt.Errorf("read holding registers %d/%d: short response of %d bytes", b.start, b.count, len(results))
		}
		for i := 0; i < int(b.count); i++ {
			addr := b.start + uint16(i)
			reg, _ := h2tech.LookupRegister(addr)
			r.Registers = append(r.Registers, RegisterPoint{
				Addr:  addr,
				Name:  reg.Name,
				Value: binary.BigEndian.Uint16(results[2*i:]),
			})
		}
	}
	return r, nil
}

func writeReport(w io.Writer, r *Report, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case "text":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ADDR\tNAME\tVALUE")
		for _, p := range r.Bits {
			v := 0
			if p.Value {
				v = 1
			}
			fmt.Fprintf(tw, "%d\t%s\t%d\n", p.Addr, p.Name, v)
		}
		for _, p := range r.Registers {
			fmt.Fprintf(tw, "%d\t%s\t%d\n", p.Addr, p.Name, p.Value)
		}
		return tw.Flush()
	}
	return fmt.Errorf("unknown output format %q", format)
}

// coilFor is the wire address of the coil that runs the action.
func coilFor(kind h2tech.ActionKind, n int) (uint16, error) {
	for _, e := range h2tech.Entries() {
		if e.Area != h2tech.AreaCoil || e.Action.Kind != kind {
			continue
		}
		if (kind == h2tech.ActionPulseDoor && e.Action.Door == n) ||
			(kind == h2tech.ActionToggle && e.Action.OnOff == n) {
			return e.Addr - 1, nil
		}
	}
	return 0, fmt.Errorf("no coil for %d", n)
}
