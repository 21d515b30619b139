// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package slave

import (
	"time"

	"github.com/ffutop/h2tech-gateway/internal/hal"
	"github.com/ffutop/h2tech-gateway/modbus/rtu"
)

// DefaultSilence closes a frame after this much quiet on the line.
const DefaultSilence = 5 * time.Millisecond

// Receiver accumulates bytes from a line and delimits frames by
// inter-frame silence.
type Receiver struct {
	line    hal.Line
	silence uint32

	buf      []byte
	last     uint32
	overflow bool
}

func NewReceiver(line hal.Line, silence time.Duration) *Receiver {
	if silence <= 0 {
		silence = DefaultSilence
	}
	return &Receiver{
		line:    line,
		silence: uint32(silence.Milliseconds()),
		buf:     make([]byte, 0, rtu.MaxSize),
	}
}

// Poll returns a frame once the line has been quiet for the silence
// interval, otherwise it drains the line. A finished frame is returned
// before any newer byte is read, so two frames never merge because the
// loop polled late. The frame is only valid until the next Poll.
// Oversized frames are discarded whole.
func (r *Receiver) Poll(now uint32) ([]byte, bool) {
	if frame, ok := r.complete(now); ok {
		return frame, true
	}
	for {
		b, ok := r.line.ReceiveByte()
		if !ok {
			break
		}
		r.last = now
		if len(r.buf) == rtu.MaxSize {
			r.overflow = true
			continue
		}
		r.buf = append(r.buf, b)
	}
	return r.complete(now)
}

func (r *Receiver) complete(now uint32) ([]byte, bool) {
	if len(r.buf) == 0 || hal.Elapsed(now, r.last) < r.silence {
		return nil, false
	}
	frame, overflow := r.buf, r.overflow
	r.buf = r.buf[:0]
	r.overflow = false
	if overflow {
		return nil, false
	}
	return frame, true
}

// Pending returns how many bytes of an unfinished frame are buffered.
func (r *Receiver) Pending() int {
	return len(r.buf)
}
