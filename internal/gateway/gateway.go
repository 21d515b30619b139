// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package gateway owns every piece of main-board state and runs the
// cooperative loop that drives them.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ffutop/h2tech-gateway/internal/aggregator"
	"github.com/ffutop/h2tech-gateway/internal/board"
	"github.com/ffutop/h2tech-gateway/internal/config"
	"github.com/ffutop/h2tech-gateway/internal/h2tech"
	"github.com/ffutop/h2tech-gateway/internal/hal"
	"github.com/ffutop/h2tech-gateway/internal/master"
	"github.com/ffutop/h2tech-gateway/internal/metrics"
	"github.com/ffutop/h2tech-gateway/internal/model"
	"github.com/ffutop/h2tech-gateway/internal/slave"
	"github.com/ffutop/h2tech-gateway/internal/snapshot"
	"github.com/ffutop/h2tech-gateway/internal/status"
)

// TickPeriod is how often Run steps the loop.
const TickPeriod = time.Millisecond

// Hardware is what the main board is wired to. Nil IO and Upstream fall
// back to in-memory stand-ins; Downstream is replaced in simulate mode.
type Hardware struct {
	MainIO       hal.IO
	Upstream     hal.Line
	UpstreamDE   hal.Pin
	Downstream   hal.Line
	DownstreamDE hal.Pin
	Env          aggregator.EnvSensor
}

type task struct {
	name   string
	period uint32
	last   uint32
	run    func(now uint32)
}

// Gateway is the main-board context.
type Gateway struct {
	cfg     *config.Config
	slaves  board.Addresses
	store   *model.Store
	bits    status.BitImage
	status  status.AggregatedStatus
	master  *master.Engine
	actions *h2tech.Actions
	handler *h2tech.Gateway
	link    *h2tech.Link
	agg     *aggregator.Aggregator
	sink    snapshot.Storage
	metrics *metrics.Metrics

	simBoards []*slave.Engine
	simIO     map[byte]*hal.MemIO

	tasks []*task

	publishFailing bool
}

// New wires the gateway. m may be nil.
func New(cfg *config.Config, hw Hardware, sink snapshot.Storage, m *metrics.Metrics) (*Gateway, error) {
	if sink == nil {
		return nil, errors.New("gateway: no snapshot storage")
	}
	g := &Gateway{
		cfg:     cfg,
		slaves:  cfg.Addresses(),
		store:   model.NewStore(),
		status:  status.New(0),
		sink:    sink,
		metrics: m,
		simIO:   make(map[byte]*hal.MemIO),
	}
	for i, id := range g.slaves {
		g.store.Add(id, board.Layout(g.slaves.Kind(i)))
	}

	if hw.MainIO == nil {
		hw.MainIO = hal.NewMemIO()
	}
	if hw.Upstream == nil {
		hw.Upstream = hal.NewBus().Attach()
	}
	if cfg.Simulate {
		hw.Downstream = g.simulate()
		hw.DownstreamDE = nil
	}
	if hw.Downstream == nil {
		return nil, errors.New("gateway: no downstream line")
	}

	var masterObs master.Observer
	var requestObs h2tech.RequestObserver
	if m != nil {
		masterObs = m
		requestObs = m
	}

	var err error
	g.master, err = master.New(master.Config{
		ResponseTimeout: cfg.Downstream.ResponseTimeout,
		Turnaround:      cfg.Timing.Turnaround,
		TxTimeout:       cfg.Downstream.Serial.Timeout,
		Observer:        masterObs,
	}, hw.Downstream, hw.DownstreamDE, g.store, master.DefaultPollTable(g.store, g.slaves[:]))
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}

	g.actions = h2tech.NewActions(hw.MainIO, g.master, g.store, g.slaves, cfg.Timing.DoorPulse)
	g.handler = h2tech.NewGateway(&g.bits, g.actions, hw.MainIO, g.store, g.slaves)
	g.link = h2tech.NewLink(h2tech.LinkConfig{
		SlaveID:       byte(cfg.Upstream.SlaveID),
		Silence:       cfg.Timing.FrameSilence,
		PCLinkTimeout: cfg.Upstream.PCLinkTimeout,
		TxTimeout:     cfg.Upstream.Serial.Timeout,
		Observer:      requestObs,
	}, hw.Upstream, hw.UpstreamDE, g.handler)
	g.agg = aggregator.New(aggregator.Config{
		Threshold:   uint16(cfg.Overcurrent.Threshold),
		Consecutive: uint8(cfg.Overcurrent.Consecutive),
		Slaves:      g.slaves,
	}, aggregator.Sources{
		IO:      hw.MainIO,
		Store:   g.store,
		Comm:    g.master,
		Actions: g.actions,
		Link:    g.link,
		Env:     hw.Env,
	}, &g.bits)

	g.tasks = []*task{
		{name: "upstream", run: g.link.Poll},
		{name: "downstream", run: g.master.Poll},
	}
	if len(g.simBoards) > 0 {
		g.tasks = append(g.tasks, &task{name: "subboards", run: g.pollBoards})
	}
	g.tasks = append(g.tasks,
		&task{name: "actions", run: g.actions.Update},
		&task{name: "aggregate", period: ms(cfg.Timing.AggregatePeriod), run: g.aggregate},
		&task{name: "status", period: ms(cfg.Timing.StatusPeriod), run: g.publish},
	)

	slog.Info("Gateway ready",
		"upstream_id", cfg.Upstream.SlaveID,
		"hpsb", g.slaves.HPSB(),
		"lpsb", []byte{g.slaves.LPSB(1), g.slaves.LPSB(2), g.slaves.LPSB(3)},
		"simulate", cfg.Simulate)
	return g, nil
}

func ms(d time.Duration) uint32 {
	return uint32(d / time.Millisecond)
}

// simulate puts one in-process sub-board per address on a shared bus and
// returns the master's drop.
func (g *Gateway) simulate() hal.Line {
	bus := hal.NewBus()
	for i, id := range g.slaves {
		kind := g.slaves.Kind(i)
		io := hal.NewMemIO()
		img := model.NewImage(board.Layout(kind))
		b := &board.Binding{Kind: kind, IO: io, Analog: io}
		b.Attach(img)
		eng := slave.NewEngine(slave.Config{
			Address: id,
			Silence: g.cfg.Timing.FrameSilence,
		}, bus.Attach(), nil, img, b)
		g.simBoards = append(g.simBoards, eng)
		g.simIO[id] = io
	}
	return bus.Attach()
}

func (g *Gateway) pollBoards(now uint32) {
	for _, b := range g.simBoards {
		b.Poll(now)
	}
}

func (g *Gateway) aggregate(now uint32) {
	g.status = g.agg.Update(now)
	if g.metrics != nil {
		g.metrics.ObserveStatus(g.status, &g.bits)
	}
}

func (g *Gateway) publish(uint32) {
	frame := status.EncodeFrame(&g.status)
	if err := g.sink.Publish(frame, g.bits); err != nil {
		if !g.publishFailing {
			slog.Error("Failed to publish status snapshot", "err", err)
		}
		g.publishFailing = true
		return
	}
	if g.publishFailing {
		slog.Info("Status snapshot publishing recovered")
	}
	g.publishFailing = false
}

// Step runs every task that is due at now. Tasks without a period run on
// every step.
func (g *Gateway) Step(now uint32) {
	for _, t := range g.tasks {
		if t.period == 0 || hal.Elapsed(now, t.last) >= t.period {
			t.last = now
			t.run(now)
		}
	}
}

// Run steps the loop until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context, clock hal.Clock) error {
	ticker := time.NewTicker(TickPeriod)
	defer ticker.Stop()

	slog.Info("Gateway loop started", "tasks", len(g.tasks))
	for {
		select {
		case <-ctx.Done():
			slog.Info("Gateway loop stopped")
			return nil
		case <-ticker.C:
			g.Step(clock.NowMs())
		}
	}
}

func (g *Gateway) Store() *model.Store {
	return g.store
}

func (g *Gateway) Master() *master.Engine {
	return g.master
}

func (g *Gateway) Actions() *h2tech.Actions {
	return g.actions
}

func (g *Gateway) Bits() status.BitImage {
	return g.bits
}

// Status is the most recent aggregation.
func (g *Gateway) Status() status.AggregatedStatus {
	return g.status
}

// SimulatedIO is the IO of the in-process sub-board at slaveID.
func (g *Gateway) SimulatedIO(slaveID byte) (*hal.MemIO, bool) {
	io, ok := g.simIO[slaveID]
	return io, ok
}
