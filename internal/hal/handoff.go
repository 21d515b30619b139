// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package hal

import "sync/atomic"

// RxHandoff carries received chunks from the notification context (a port
// reader goroutine, the moral equivalent of a receive interrupt) to the
// polling loop. It is the one piece of state touched by two goroutines:
// exactly one producer calls Notify and exactly one consumer calls
// ReceiveByte. Notify copies, so the producer may rearm its buffer at once.
type RxHandoff struct {
	ch      chan []byte
	pending []byte
	dropped atomic.Uint64
}

func NewRxHandoff(depth int) *RxHandoff {
	if depth <= 0 {
		depth = 1
	}
	return &RxHandoff{ch: make(chan []byte, depth)}
}

// Notify publishes a received chunk. It returns false and counts the chunk
// as dropped when the consumer has fallen behind.
func (h *RxHandoff) Notify(p []byte) bool {
	if len(p) == 0 {
		return true
	}
	chunk := make([]byte, len(p))
	copy(chunk, p)
	select {
	case h.ch <- chunk:
		return true
	default:
		h.dropped.Add(1)
		return false
	}
}

// ReceiveByte returns the next received byte without blocking.
func (h *RxHandoff) ReceiveByte() (byte, bool) {
	for len(h.pending) == 0 {
		select {
		case chunk := <-h.ch:
			h.pending = chunk
		default:
			return 0, false
		}
	}
	b := h.pending[0]
	h.pending = h.pending[1:]
	return b, true
}

// Dropped returns how many chunks were lost to a full handoff.
func (h *RxHandoff) Dropped() uint64 {
	return h.dropped.Load()
}
