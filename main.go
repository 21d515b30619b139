// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ffutop/h2tech-gateway/internal/config"
	"github.com/ffutop/h2tech-gateway/internal/gateway"
	"github.com/ffutop/h2tech-gateway/internal/hal"
	"github.com/ffutop/h2tech-gateway/internal/metrics"
	"github.com/ffutop/h2tech-gateway/internal/snapshot"
	"github.com/ffutop/h2tech-gateway/transport/rtu"
	rtuovertcp "github.com/ffutop/h2tech-gateway/transport/rtu-over-tcp"
)

func main() {
	configFile := pflag.StringP("config", "c", "", "Path to config file")
	pflag.Parse()

	// Load Configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	config.SetupLogger(cfg.Log)

	slog.Info("Starting H2TECH gateway...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("Gateway stopped with error", "err", err)
		os.Exit(1)
	}
	slog.Info("Goodbye.")
}

func run(ctx context.Context, cfg *config.Config) error {
	sink, err := snapshot.New(cfg.Snapshot.Type, cfg.Snapshot.Path)
	if err != nil {
		return err
	}
	defer sink.Close()

	var hw gateway.Hardware
	switch {
	case cfg.Upstream.TCPListen != "":
		up := rtuovertcp.NewServer(cfg.Upstream.TCPListen)
		if err := up.Start(ctx); err != nil {
			return fmt.Errorf("upstream: %w", err)
		}
		defer up.Close()
		hw.Upstream = up
	case cfg.Upstream.Serial.Device != "":
		up := rtu.NewPort(cfg.Upstream.Serial)
		if err := up.Connect(ctx); err != nil {
			return fmt.Errorf("upstream: %w", err)
		}
		defer up.Close()
		hw.Upstream = up
	default:
		slog.Warn("No upstream configured, the PC link stays idle")
	}
	if !cfg.Simulate {
		down := rtu.NewPort(cfg.Downstream.Serial)
		if err := down.Connect(ctx); err != nil {
			return fmt.Errorf("downstream: %w", err)
		}
		defer down.Close()
		hw.Downstream = down
	}

	m := metrics.New()
	gw, err := gateway.New(cfg, hw, sink, m)
	if err != nil {
		return err
	}

	if cfg.Metrics.Listen != "" {
		srv := serveMetrics(cfg.Metrics.Listen, m)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	err = gw.Run(ctx, hal.NewSystemClock())
	slog.Info("Shutting down...")
	return err
}

func serveMetrics(addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("Metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "err", err)
		}
	}()
	return srv
}
