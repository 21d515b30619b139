// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Command h2tech-cli talks to the gateway the way the station PC does:
//
//	h2tech-cli -p /dev/ttyUSB0 status
//	h2tech-cli -p /dev/ttyUSB0 door 1
//	h2tech-cli -p /dev/ttyUSB0 toggle 8-10
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/grid-x/modbus"
	"github.com/grid-x/serial"
	"github.com/spf13/pflag"

	"github.com/ffutop/h2tech-gateway/internal/config"
	"github.com/ffutop/h2tech-gateway/internal/h2tech"
)

type option struct {
	device   string
	baudRate int
	dataBits int
	parity   string
	stopBits int
	rs485    bool
	slaveID  int
	timeout  time.Duration
	format   string
	logFrame bool
}

func main() {
	var opt option
	pflag.StringVarP(&opt.device, "device", "p", "/dev/ttyUSB0", "Serial port wired to the gateway's PC link.")
	pflag.IntVarP(&opt.baudRate, "baud_rate", "s", 9600, "Serial port speed.")
	pflag.IntVar(&opt.dataBits, "data_bits", 8, "5, 6, 7 or 8")
	pflag.StringVar(&opt.parity, "parity", "N", "Parity: N - None, E - Even, O - Odd")
	pflag.IntVar(&opt.stopBits, "stop_bits", 1, "1 or 2")
	pflag.BoolVar(&opt.rs485, "rs485", false, "Enable RS485 mode of the port.")
	pflag.IntVarP(&opt.slaveID, "slave_id", "a", h2tech.DefaultSlaveID, "Gateway slave address.")
	pflag.DurationVarP(&opt.timeout, "timeout", "W", time.Second, "Response timeout.")
	pflag.StringVarP(&opt.format, "output", "o", "yaml", "Status output format (yaml, text).")
	pflag.BoolVar(&opt.logFrame, "log-frame", false, "Log every frame sent and received.")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [status | door N | toggle N]\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	level := slog.LevelInfo
	if opt.logFrame {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	handler := modbus.NewRTUClientHandler(opt.device)
	handler.BaudRate = opt.baudRate
	handler.DataBits = opt.dataBits
	handler.Parity = strings.ToUpper(opt.parity)
	handler.StopBits = opt.stopBits
	handler.SlaveID = byte(opt.slaveID)
	handler.Timeout = opt.timeout
	handler.RS485 = serial.RS485Config{Enabled: opt.rs485}
	if opt.logFrame {
		handler.Logger = &debugAdapter{logger}
	}
	if err := handler.Connect(context.Background()); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
	defer handler.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, modbus.NewClient(handler), pflag.Args(), opt.format, os.Stdout); err != nil {
		logger.Error(err.Error())
		stop()
		handler.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, c Client, args []string, format string, w io.Writer) error {
	cmd := "status"
	if len(args) > 0 {
		cmd = args[0]
	}
	switch cmd {
	case "status":
		if len(args) > 1 {
			return errors.New("status takes no arguments")
		}
		r, err := readReport(ctx, c)
		if err != nil {
			return describe(err)
		}
		return writeReport(w, r, format)
	case "door":
		return actions(ctx, c, args, h2tech.ActionPulseDoor, 1, 2, w)
	case "toggle":
		return actions(ctx, c, args, h2tech.ActionToggle, 8, 12, w)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func actions(ctx context.Context, c Client, args []string, kind h2tech.ActionKind, min, max int, w io.Writer) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: %s N, N in %d-%d", args[0], min, max)
	}
	nums, err := config.ParseList(args[1], min, max)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	for _, n := range nums {
		addr, err := coilFor(kind, n)
		if err != nil {
			return err
		}
		if _, err := c.WriteSingleCoil(ctx, addr, 0xFF00); err != nil {
			return fmt.Errorf("%s %d: %w", args[0], n, describe(err))
		}
		fmt.Fprintf(w, "%s %d: ok\n", args[0], n)
	}
	return nil
}

// describe names the exception a gateway answered with.
func describe(err error) error {
	var mbErr *modbus.Error
	if !errors.As(err, &mbErr) {
		return err
	}
	switch mbErr.ExceptionCode {
	case modbus.ExceptionCodeIllegalDataAddress:
		return fmt.Errorf("%w: address not mapped on the gateway", err)
	case modbus.ExceptionCodeIllegalDataValue:
		return fmt.Errorf("%w: address is read-only or quantity out of range", err)
	}
	return err
}
