// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package rtuovertcp

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ffutop/h2tech-gateway/modbus"
	rtupacket "github.com/ffutop/h2tech-gateway/modbus/rtu"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer("127.0.0.1:0")
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() {
		cancel()
		s.Close()
	})
	return s
}

func receive(t *testing.T, s *Server, n int) []byte {
	t.Helper()
	var got []byte
	require.Eventually(t, func() bool {
		for {
			b, ok := s.ReceiveByte()
			if !ok {
				break
			}
			got = append(got, b)
		}
		return len(got) >= n
	}, time.Second, time.Millisecond)
	return got
}

// waitClient waits until the server has accepted a client.
func waitClient(t *testing.T, s *Server) {
	t.Helper()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.conn != nil
	}, time.Second, time.Millisecond)
}

func TestServer_LifeCycle(t *testing.T) {
	s := startServer(t)
	assert.ErrorIs(t, s.Transmit([]byte{0x01}, time.Second), ErrNoClient)

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	waitClient(t, s)

	req, err := (&rtupacket.ApplicationDataUnit{SlaveID: 1, Pdu: modbus.ReadRequest(0x03, 2000, 1)}).Encode()
	require.NoError(t, err)
	_, err = conn.Write(req)
	require.NoError(t, err)
	assert.Equal(t, req, receive(t, s, len(req)))

	resp, err := (&rtupacket.ApplicationDataUnit{SlaveID: 1, Pdu: modbus.ReadRegistersResponse(0x03, []uint16{0xAABB})}).Encode()
	require.NoError(t, err)
	require.NoError(t, s.Transmit(resp, time.Second))

	buf := make([]byte, len(resp))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, resp, buf)
}

func TestNewClientReplacesOld(t *testing.T) {
	s := startServer(t)

	first, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer first.Close()
	waitClient(t, s)

	second, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer second.Close()

	// the server closes the first connection
	require.NoError(t, first.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = first.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	_, err = second.Write([]byte{0x01, 0x02})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, receive(t, s, 2))
}

func TestCloseStopsServing(t *testing.T) {
	s := startServer(t)
	addr := s.Addr().String()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
	assert.Error(t, err)
}
