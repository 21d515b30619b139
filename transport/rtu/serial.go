// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtu puts a serial port behind hal.Line.
package rtu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/grid-x/serial"

	"github.com/ffutop/h2tech-gateway/internal/config"
	"github.com/ffutop/h2tech-gateway/internal/hal"
)

const (
	// read timeout of the port; the reader loop wakes this often to notice Close
	readTimeout = 50 * time.Millisecond
	// chunks the reader may queue ahead of the polling loop
	handoffDepth = 64
	readBufSize  = 256
)

var ErrNotConnected = errors.New("rtu: port not connected")

// Port is a serial port used as a half-duplex hal.Line. A reader goroutine
// hands received chunks to the polling loop.
type Port struct {
	// Serial port configuration.
	serial.Config

	mu sync.Mutex
	// port is platform-dependent data structure for serial port.
	port     io.ReadWriteCloser
	rx       *hal.RxHandoff
	done     chan struct{}
	wg       sync.WaitGroup
	lastRead time.Time
}

// NewPort configures, but does not open, the port described by cfg.
func NewPort(cfg config.SerialConfig) *Port {
	p := &Port{
		Config: serial.Config{
			Address:  cfg.Device,
			BaudRate: cfg.BaudRate,
			DataBits: cfg.DataBits,
			StopBits: cfg.StopBits,
			Parity:   cfg.Parity,
			Timeout:  readTimeout,
		},
		rx: hal.NewRxHandoff(handoffDepth),
	}
	if cfg.RS485 {
		p.Config.RS485 = serial.RS485Config{
			Enabled:            true,
			DelayRtsBeforeSend: cfg.DelayRtsBeforeSend,
			DelayRtsAfterSend:  cfg.DelayRtsAfterSend,
			RtsHighDuringSend:  cfg.RtsHighDuringSend,
			RtsHighAfterSend:   cfg.RtsHighAfterSend,
			RxDuringTx:         cfg.RxDuringTx,
		}
	}
	return p
}

// Connect opens the port and starts its reader.
func (p *Port) Connect(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port != nil {
		return nil
	}
	port, err := serial.Open(&p.Config)
	if err != nil {
		return fmt.Errorf("could not open %s: %w", p.Config.Address, err)
	}
	p.attach(port)
	slog.Info("Serial port opened", "device", p.Config.Address, "baudRate", p.Config.BaudRate,
		"parity", p.Config.Parity, "rs485", p.Config.RS485.Enabled)
	return nil
}

// attach starts reading from port. Caller must hold the mutex.
func (p *Port) attach(port io.ReadWriteCloser) {
	p.port = port
	p.done = make(chan struct{})
	p.wg.Add(1)
	go p.readLoop(port, p.done)
}

func (p *Port) readLoop(port io.Reader, done <-chan struct{}) {
	defer p.wg.Done()
	buf := make([]byte, readBufSize)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			if !p.rx.Notify(buf[:n]) {
				slog.Warn("Serial receive overrun, chunk dropped", "device", p.Config.Address, "bytes", n)
			}
			p.mu.Lock()
			p.lastRead = time.Now()
			p.mu.Unlock()
		}
		if err == nil {
			continue
		}
		select {
		case <-done:
			return
		default:
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
			slog.Error("Serial port reader stopped", "device", p.Config.Address, "err", err)
			return
		}
		// read timeouts land here
	}
}

// Transmit writes one frame, giving up after timeout.
func (p *Port) Transmit(b []byte, timeout time.Duration) error {
	p.mu.Lock()
	port := p.port
	p.mu.Unlock()
	if port == nil {
		return ErrNotConnected
	}

	result := make(chan error, 1)
	go func() {
		_, err := port.Write(b)
		result <- err
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-result:
		if err != nil {
			return fmt.Errorf("rtu: write %s: %w", p.Config.Address, err)
		}
		return nil
	case <-timer.C:
		return hal.ErrTxTimeout
	}
}

// ReceiveByte returns the next received byte without blocking.
func (p *Port) ReceiveByte() (byte, bool) {
	return p.rx.ReceiveByte()
}

// Dropped is the number of received chunks lost to overrun.
func (p *Port) Dropped() uint64 {
	return p.rx.Dropped()
}

// LastRead is when bytes last arrived.
func (p *Port) LastRead() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRead
}

// Close stops the reader and closes the port.
func (p *Port) Close() (err error) {
	p.mu.Lock()
	if p.port != nil {
		close(p.done)
		err = p.port.Close()
		p.port = nil
	}
	p.mu.Unlock()
	p.wg.Wait()
	return
}
