// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ffutop/h2tech-gateway/internal/board"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func defaults(t *testing.T, set map[string]any) (*Config, error) {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	for k, val := range set {
		v.Set(k, val)
	}
	return Decode(v)
}

func TestDefaults(t *testing.T) {
	cfg, err := defaults(t, map[string]any{"simulate": true})
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Upstream.SlaveID)
	assert.Equal(t, 10*time.Second, cfg.Upstream.PCLinkTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.Downstream.ResponseTimeout)
	assert.Equal(t, 5*time.Millisecond, cfg.Timing.FrameSilence)
	assert.Equal(t, 7*time.Millisecond, cfg.Timing.Turnaround, "frame silence plus margin")
	assert.Equal(t, 100*time.Millisecond, cfg.Timing.AggregatePeriod)
	assert.Equal(t, 500*time.Millisecond, cfg.Timing.StatusPeriod)
	assert.Equal(t, 300*time.Millisecond, cfg.Timing.DoorPulse)
	assert.Equal(t, 3000, cfg.Overcurrent.Threshold)
	assert.Equal(t, 3, cfg.Overcurrent.Consecutive)
	assert.Equal(t, "memory", cfg.Snapshot.Type)
	assert.Equal(t, board.DefaultAddresses(), cfg.Addresses())

	// serial fixups
	assert.Equal(t, "N", cfg.Downstream.Serial.Parity)
	assert.Equal(t, 8, cfg.Downstream.Serial.DataBits)
	assert.Equal(t, 1, cfg.Downstream.Serial.StopBits)
	assert.Equal(t, 100*time.Millisecond, cfg.Downstream.Serial.Timeout)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
upstream:
  slave_id: 7
  serial:
    device: /dev/ttyS0
    baud_rate: 19200
    parity: e
downstream:
  serial:
    device: /dev/ttyS1
    rs485: true
    delay_rts_before_send: 1ms
  slaves:
    hpsb: 11
    lpsb: [12, 13, 14]
timing:
  door_pulse: 500ms
snapshot:
  type: mmap
  path: /run/h2gw/status.bin
metrics:
  listen: ":9105"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 7, cfg.Upstream.SlaveID)
	assert.Equal(t, 19200, cfg.Upstream.Serial.BaudRate)
	assert.Equal(t, "E", cfg.Upstream.Serial.Parity)
	assert.True(t, cfg.Downstream.Serial.RS485)
	assert.Equal(t, time.Millisecond, cfg.Downstream.Serial.DelayRtsBeforeSend)
	assert.Equal(t, board.Addresses{11, 12, 13, 14}, cfg.Addresses())
	assert.Equal(t, 500*time.Millisecond, cfg.Timing.DoorPulse)
	assert.Equal(t, "mmap", cfg.Snapshot.Type)
	assert.Equal(t, ":9105", cfg.Metrics.Listen)
	assert.False(t, cfg.Simulate)
}

func TestLoadConfigEnv(t *testing.T) {
	path := writeConfig(t, "simulate: false\n")
	t.Setenv("H2GW_DOWNSTREAM_SERIAL_DEVICE", "/dev/ttyAMA0")
	t.Setenv("H2GW_OVERCURRENT_THRESHOLD", "2500")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyAMA0", cfg.Downstream.Serial.Device)
	assert.Equal(t, 2500, cfg.Overcurrent.Threshold)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]map[string]any{
		"no downstream device":      {},
		"broadcast upstream id":     {"simulate": true, "upstream.slave_id": 0},
		"two lpsb":                  {"simulate": true, "downstream.slaves.lpsb": []int{2, 3}},
		"duplicate address":         {"simulate": true, "downstream.slaves.hpsb": 2},
		"address out of range":      {"simulate": true, "downstream.slaves.hpsb": 248},
		"threshold out of range":    {"simulate": true, "overcurrent.threshold": 70000},
		"zero consecutive":          {"simulate": true, "overcurrent.consecutive": 0},
		"file snapshot needs path":  {"simulate": true, "snapshot.type": "file"},
		"unknown snapshot":          {"simulate": true, "snapshot.type": "redis"},
		"turnaround equals silence": {"simulate": true, "timing.turnaround": 5 * time.Millisecond},
		"turnaround below silence":  {"simulate": true, "timing.frame_silence": 10 * time.Millisecond, "timing.turnaround": 8 * time.Millisecond},
		"no frame silence":          {"simulate": true, "timing.frame_silence": 0},
	}
	for name, set := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := defaults(t, set)
			assert.Error(t, err)
		})
	}
}

func TestTurnaroundFollowsSilence(t *testing.T) {
	cfg, err := defaults(t, map[string]any{"simulate": true, "timing.frame_silence": 10 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 12*time.Millisecond, cfg.Timing.Turnaround)

	cfg, err = defaults(t, map[string]any{"simulate": true, "timing.turnaround": 9 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 9*time.Millisecond, cfg.Timing.Turnaround)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
