// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ffutop/h2tech-gateway/internal/board"
)

// Config defines the gateway configuration
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Upstream    UpstreamConfig    `mapstructure:"upstream"`
	Downstream  DownstreamConfig  `mapstructure:"downstream"`
	Timing      TimingConfig      `mapstructure:"timing"`
	Overcurrent OvercurrentConfig `mapstructure:"overcurrent"`
	Snapshot    SnapshotConfig    `mapstructure:"snapshot"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Simulate    bool              `mapstructure:"simulate"` // in-process sub-boards instead of the downstream port
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// UpstreamConfig is the slave port the PC polls
type UpstreamConfig struct {
	Serial        SerialConfig  `mapstructure:"serial"`
	TCPListen     string        `mapstructure:"tcp_listen"` // RTU over TCP instead of the serial port
	SlaveID       int           `mapstructure:"slave_id"`
	PCLinkTimeout time.Duration `mapstructure:"pc_link_timeout"`
}

// DownstreamConfig is the master port towards the sub-boards
type DownstreamConfig struct {
	Serial          SerialConfig  `mapstructure:"serial"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`
	Slaves          SlavesConfig  `mapstructure:"slaves"`
}

// SlavesConfig holds the sub-board addresses
type SlavesConfig struct {
	HPSB int   `mapstructure:"hpsb"`
	LPSB []int `mapstructure:"lpsb"`
}

// TimingConfig defines the loop periods
type TimingConfig struct {
	FrameSilence    time.Duration `mapstructure:"frame_silence"`
	Turnaround      time.Duration `mapstructure:"turnaround"` // master bus gap, longer than frame_silence
	AggregatePeriod time.Duration `mapstructure:"aggregate_period"`
	StatusPeriod    time.Duration `mapstructure:"status_period"`
	DoorPulse       time.Duration `mapstructure:"door_pulse"`
}

// OvercurrentConfig defines the overcurrent debounce
type OvercurrentConfig struct {
	Threshold   int `mapstructure:"threshold"`   // raw sense value
	Consecutive int `mapstructure:"consecutive"` // aggregation cycles
}

// SnapshotConfig defines where status snapshots go
type SnapshotConfig struct {
	Type string `mapstructure:"type"` // "memory", "file", "mmap"
	Path string `mapstructure:"path"` // File path for "file/mmap" type
}

// MetricsConfig defines the Prometheus endpoint
type MetricsConfig struct {
	Listen string `mapstructure:"listen"` // e.g. ":9105", empty disables
}

// SerialConfig defines RTU settings
type SerialConfig struct {
	Device   string        `mapstructure:"device"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	Parity   string        `mapstructure:"parity"`
	StopBits int           `mapstructure:"stop_bits"`
	Timeout  time.Duration `mapstructure:"timeout"` // transmit timeout

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// SetDefaults installs the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("upstream.slave_id", 1)
	v.SetDefault("upstream.pc_link_timeout", 10*time.Second)
	v.SetDefault("upstream.serial.device", "")
	v.SetDefault("upstream.tcp_listen", "")
	v.SetDefault("upstream.serial.baud_rate", 9600)
	v.SetDefault("downstream.serial.device", "")
	v.SetDefault("downstream.serial.baud_rate", 9600)
	v.SetDefault("downstream.response_timeout", 50*time.Millisecond)
	v.SetDefault("downstream.slaves.hpsb", int(board.SlaveHPSB))
	v.SetDefault("downstream.slaves.lpsb", []int{int(board.SlaveLPSB1), int(board.SlaveLPSB2), int(board.SlaveLPSB3)})
	v.SetDefault("timing.frame_silence", 5*time.Millisecond)
	v.SetDefault("timing.turnaround", 0) // frame_silence + turnaroundMargin
	v.SetDefault("timing.aggregate_period", 100*time.Millisecond)
	v.SetDefault("timing.status_period", 500*time.Millisecond)
	v.SetDefault("timing.door_pulse", 300*time.Millisecond)
	v.SetDefault("overcurrent.threshold", 3000)
	v.SetDefault("overcurrent.consecutive", 3)
	v.SetDefault("snapshot.type", "memory")
	v.SetDefault("snapshot.path", "")
	v.SetDefault("metrics.listen", "")
	v.SetDefault("simulate", false)
}

// LoadConfig loads configuration from file. Without an explicit file a
// missing config.yaml leaves every key at its default.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/h2gw/")
		v.AddConfigPath("$HOME/.h2gw")
		v.AddConfigPath(".")
	}
	SetDefaults(v)
	// H2GW_DOWNSTREAM_SERIAL_DEVICE overrides downstream.serial.device
	v.SetEnvPrefix("h2gw")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return Decode(v)
}

// Decode unmarshals v, applies fixups and validates the result.
func Decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate / Fixups
	fixupSerial(&config.Upstream.Serial)
	fixupSerial(&config.Downstream.Serial)
	if config.Timing.Turnaround == 0 {
		config.Timing.Turnaround = config.Timing.FrameSilence + turnaroundMargin
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Parity == "" {
		s.Parity = "N"
	}
	if s.DataBits == 0 {
		s.DataBits = 8
	}
	if s.StopBits == 0 {
		s.StopBits = 1
	}
	if s.Timeout == 0 {
		s.Timeout = 100 * time.Millisecond
	}
}

// turnaroundMargin covers the tick both ends lose when measuring silence.
const turnaroundMargin = 2 * time.Millisecond

func validAddress(id int) bool {
	return id >= 1 && id <= 247
}

func (c *Config) validate() error {
	if !validAddress(c.Upstream.SlaveID) {
		return fmt.Errorf("upstream.slave_id %d is not a slave address", c.Upstream.SlaveID)
	}
	if c.Upstream.TCPListen != "" && c.Upstream.Serial.Device != "" {
		return errors.New("upstream.serial.device and upstream.tcp_listen are exclusive")
	}
	if len(c.Downstream.Slaves.LPSB) != 3 {
		return fmt.Errorf("downstream.slaves.lpsb lists %d addresses, want 3", len(c.Downstream.Slaves.LPSB))
	}
	seen := make(map[int]bool)
	for _, id := range append([]int{c.Downstream.Slaves.HPSB}, c.Downstream.Slaves.LPSB...) {
		if !validAddress(id) {
			return fmt.Errorf("sub-board address %d is not a slave address", id)
		}
		if seen[id] {
			return fmt.Errorf("sub-board address %d used twice", id)
		}
		seen[id] = true
	}
	if c.Timing.FrameSilence < time.Millisecond {
		return fmt.Errorf("timing.frame_silence %s is below 1ms", c.Timing.FrameSilence)
	}
	if c.Timing.Turnaround <= c.Timing.FrameSilence {
		return fmt.Errorf("timing.turnaround %s must exceed timing.frame_silence %s",
			c.Timing.Turnaround, c.Timing.FrameSilence)
	}
	if c.Overcurrent.Threshold < 0 || c.Overcurrent.Threshold > 0xFFFF {
		return fmt.Errorf("overcurrent.threshold %d out of range", c.Overcurrent.Threshold)
	}
	if c.Overcurrent.Consecutive < 1 || c.Overcurrent.Consecutive > 255 {
		return fmt.Errorf("overcurrent.consecutive %d out of range", c.Overcurrent.Consecutive)
	}
	switch c.Snapshot.Type {
	case "memory":
	case "file", "mmap":
		if c.Snapshot.Path == "" {
			return fmt.Errorf("snapshot.path is required for %q", c.Snapshot.Type)
		}
	default:
		return fmt.Errorf("unknown snapshot.type %q", c.Snapshot.Type)
	}
	if !c.Simulate && c.Downstream.Serial.Device == "" {
		return errors.New("downstream.serial.device is required unless simulate is set")
	}
	return nil
}

// Addresses returns the sub-board addresses, HPSB first.
func (c *Config) Addresses() board.Addresses {
	a := board.Addresses{byte(c.Downstream.Slaves.HPSB)}
	for i, id := range c.Downstream.Slaves.LPSB {
		a[1+i] = byte(id)
	}
	return a
}
