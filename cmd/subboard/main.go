// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Command subboard emulates one HPSB or LPSB on a real serial port, for
// bench testing a gateway without the power boards.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ffutop/h2tech-gateway/internal/board"
	"github.com/ffutop/h2tech-gateway/internal/config"
	"github.com/ffutop/h2tech-gateway/internal/hal"
	"github.com/ffutop/h2tech-gateway/internal/model"
	"github.com/ffutop/h2tech-gateway/internal/slave"
	"github.com/ffutop/h2tech-gateway/transport/rtu"
)

func main() {
	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	config.SetupLogger(cfg.Log())

	if err := run(cfg); err != nil {
		slog.Error("Sub-board stopped with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *Config) error {
	kind, err := board.ParseKind(cfg.Kind)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	port := rtu.NewPort(cfg.Serial())
	if err := port.Connect(ctx); err != nil {
		return err
	}
	defer port.Close()

	eng := newBoard(cfg, kind, port)
	slog.Info("Sub-board emulator started", "kind", kind, "slave_id", cfg.SlaveID, "device", cfg.Device)

	clock := hal.NewSystemClock()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			st := eng.Stats()
			slog.Info("Shutting down...", "frames", st.Frames, "responses", st.Responses,
				"dropped", st.Dropped, "tx_errors", st.TxErrors, "rx_overruns", port.Dropped())
			return nil
		case <-ticker.C:
			eng.Poll(clock.NowMs())
		}
	}
}

// newBoard builds the slave engine of one board whose IO lives in memory,
// preset from cfg.
func newBoard(cfg *Config, kind board.Kind, line hal.Line) *slave.Engine {
	io := hal.NewMemIO()
	for ch := 0; ch < board.DiscreteCount; ch++ {
		io.SetInput(ch, cfg.Inputs&(1<<ch) != 0)
	}
	for ch, raw := range cfg.Currents {
		io.SetRaw(ch, uint16(raw))
	}

	img := model.NewImage(board.Layout(kind))
	b := &board.Binding{Kind: kind, IO: io, Analog: io}
	b.Attach(img)
	return slave.NewEngine(slave.Config{
		Address:   byte(cfg.SlaveID),
		Silence:   cfg.FrameSilence,
		TxTimeout: cfg.Timeout,
	}, line, nil, img, b)
}
