// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package h2tech

import (
	"log/slog"
	"time"

	"github.com/ffutop/h2tech-gateway/internal/hal"
	"github.com/ffutop/h2tech-gateway/internal/slave"
	"github.com/ffutop/h2tech-gateway/modbus/rtu"
)

const (
	DefaultSlaveID       = 1
	DefaultPCLinkTimeout = 10 * time.Second
	defaultTxTimeout     = 100 * time.Millisecond
)

// RequestObserver sees every answered upstream request. exception is zero
// for a normal response.
type RequestObserver interface {
	Request(fc byte, exception byte)
}

type LinkConfig struct {
	SlaveID byte
	Silence time.Duration
	// PCLinkTimeout is how long the PC may stay silent before the link
	// counts as failed.
	PCLinkTimeout time.Duration
	TxTimeout     time.Duration
	Observer      RequestObserver
}

// Link is the gateway's slave port towards the PC.
type Link struct {
	cfg  LinkConfig
	line hal.Line
	de   hal.Pin
	rx   *slave.Receiver
	gw   *Gateway

	started   bool
	lastValid uint32
	linkOK    bool
}

func NewLink(cfg LinkConfig, line hal.Line, de hal.Pin, gw *Gateway) *Link {
	if cfg.SlaveID == 0 {
		cfg.SlaveID = DefaultSlaveID
	}
	if cfg.PCLinkTimeout <= 0 {
		cfg.PCLinkTimeout = DefaultPCLinkTimeout
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = defaultTxTimeout
	}
	if de == nil {
		de = hal.NopPin{}
	}
	return &Link{
		cfg:    cfg,
		line:   line,
		de:     de,
		rx:     slave.NewReceiver(line, cfg.Silence),
		gw:     gw,
		linkOK: true,
	}
}

// Poll answers at most one complete request. Frames with a bad CRC or for
// another address are dropped without a response.
func (l *Link) Poll(now uint32) {
	if !l.started {
		l.started = true
		l.lastValid = now
	}
	frame, ok := l.rx.Poll(now)
	if !ok {
		return
	}
	if len(frame) < rtu.MinSize || frame[0] != l.cfg.SlaveID {
		return
	}
	adu, err := rtu.Decode(frame)
	if err != nil {
		slog.Debug("upstream frame dropped", "err", err)
		return
	}
	l.lastValid = now
	if !l.linkOK {
		slog.Info("pc link restored")
		l.linkOK = true
	}

	resp := l.gw.Handle(adu.Pdu, now)
	if l.cfg.Observer != nil {
		var code byte
		if resp.IsException() && len(resp.Data) > 0 {
			code = resp.Data[0]
		}
		l.cfg.Observer.Request(adu.Pdu.FunctionCode, code)
	}
	out, err := (&rtu.ApplicationDataUnit{SlaveID: l.cfg.SlaveID, Pdu: resp}).Encode()
	if err != nil {
		slog.Warn("upstream response not encoded", "fc", adu.Pdu.FunctionCode, "err", err)
		return
	}
	if err := hal.TransmitFrame(l.line, l.de, out, l.cfg.TxTimeout); err != nil {
		slog.Warn("upstream response not sent", "fc", adu.Pdu.FunctionCode, "err", err)
	}
}

// LinkOK reports whether a valid request arrived within the PC link
// timeout.
func (l *Link) LinkOK(now uint32) bool {
	if !l.started {
		return true
	}
	ok := hal.Elapsed(now, l.lastValid) < uint32(l.cfg.PCLinkTimeout.Milliseconds())
	if !ok && l.linkOK {
		slog.Warn("pc link lost", "timeout", l.cfg.PCLinkTimeout)
		l.linkOK = false
	}
	return ok
}
