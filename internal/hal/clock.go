// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package hal

import (
	"sync/atomic"
	"time"
)

// SystemClock counts milliseconds since it was created.
type SystemClock struct {
	start time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) NowMs() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

// ManualClock only moves when told to.
type ManualClock struct {
	ms atomic.Uint32
}

func NewManualClock(start uint32) *ManualClock {
	c := &ManualClock{}
	c.ms.Store(start)
	return c
}

func (c *ManualClock) NowMs() uint32 {
	return c.ms.Load()
}

func (c *ManualClock) Advance(ms uint32) uint32 {
	return c.ms.Add(ms)
}

func (c *ManualClock) Set(ms uint32) {
	c.ms.Store(ms)
}
