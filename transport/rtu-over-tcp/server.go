// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtuovertcp carries raw RTU frames over TCP, the way serial device
// servers do.
package rtuovertcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/ffutop/h2tech-gateway/internal/hal"
	rtupacket "github.com/ffutop/h2tech-gateway/modbus/rtu"
)

const handoffDepth = 64

var ErrNoClient = errors.New("rtuovertcp: no client connected")

// Server is a TCP listener used as a hal.Line. Only the newest client is
// served; connecting replaces the previous one.
type Server struct {
	Address  string
	listener net.Listener
	rx       *hal.RxHandoff

	mu   sync.Mutex
	conn net.Conn
	wg   sync.WaitGroup
}

// NewServer creates a new RTU over TCP Server.
func NewServer(address string) *Server {
	return &Server{
		Address: address,
		rx:      hal.NewRxHandoff(handoffDepth),
	}
}

// Start listens and accepts clients in the background until ctx is done or
// Close is called.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Address, err)
	}
	s.listener = listener
	slog.Info("RTU over TCP server listening", "addr", listener.Addr())

	s.wg.Add(1)
	go s.acceptLoop()
	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return nil
}

// Addr is the listening address, useful after listening on port 0.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Error("Failed to accept connection", "err", err)
			continue
		}
		s.mu.Lock()
		if s.conn != nil {
			slog.Info("RTU over TCP client replaced", "old", s.conn.RemoteAddr(), "new", conn.RemoteAddr())
			s.conn.Close()
		}
		s.conn = conn
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		conn.Close()
	}()
	slog.Info("New RTU over TCP client connected", "addr", conn.RemoteAddr())

	buf := make([]byte, rtupacket.MaxSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 && !s.rx.Notify(buf[:n]) {
			slog.Warn("RTU over TCP receive overrun, chunk dropped", "addr", conn.RemoteAddr(), "bytes", n)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				slog.Error("Connection read error", "addr", conn.RemoteAddr(), "err", err)
			}
			return
		}
	}
}

// Transmit writes p to the current client.
func (s *Server) Transmit(p []byte, timeout time.Duration) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNoClient
	}
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	if _, err := conn.Write(p); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return hal.ErrTxTimeout
		}
		return fmt.Errorf("rtuovertcp: write: %w", err)
	}
	return nil
}

// ReceiveByte returns the next received byte without blocking.
func (s *Server) ReceiveByte() (byte, bool) {
	return s.rx.ReceiveByte()
}

// Close stops listening and drops the client.
func (s *Server) Close() error {
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
