// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ffutop/h2tech-gateway/internal/config"
)

// Config holds every setting of one emulated sub-board
type Config struct {
	// Board
	Kind     string `mapstructure:"kind"`     // hpsb or lpsb
	SlaveID  int    `mapstructure:"slave_id"` // address on the sub-board bus
	Inputs   uint8  `mapstructure:"inputs"`   // initial discrete input bitmap
	Currents []int  `mapstructure:"currents"` // initial raw current per channel

	// Serial/RTU
	Device       string        `mapstructure:"device"`        // e.g. "/dev/ttyUSB0"
	BaudRate     int           `mapstructure:"baud_rate"`     // bits per second
	DataBits     int           `mapstructure:"data_bits"`     // 7 or 8
	Parity       string        `mapstructure:"parity"`        // N, E, O
	StopBits     int           `mapstructure:"stop_bits"`     // 1 or 2
	Timeout      time.Duration `mapstructure:"timeout"`       // transmit timeout
	FrameSilence time.Duration `mapstructure:"frame_silence"` // silence that closes a request

	// Serial/RTU RS485
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`

	LogLevel string `mapstructure:"log_level"` // debug, info, warn, error
	LogFile  string `mapstructure:"log_file"`  // empty logs to stdout

	ConfigFile string `mapstructure:"-"`
}

// LoadConfig reads flags from args, then the config file, over the defaults.
func LoadConfig(args []string) (*Config, error) {
	v := viper.New()

	// 1. defaults
	v.SetDefault("kind", "lpsb")
	v.SetDefault("slave_id", 2)
	v.SetDefault("device", "/tmp/pts1")
	v.SetDefault("baud_rate", 9600)
	v.SetDefault("data_bits", 8)
	v.SetDefault("parity", "N")
	v.SetDefault("stop_bits", 1)
	v.SetDefault("timeout", 100*time.Millisecond)
	v.SetDefault("frame_silence", 5*time.Millisecond)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")

	// 2. flags
	flags := pflag.NewFlagSet("subboard", pflag.ContinueOnError)
	flags.StringP("config", "c", "", "Configuration file path.")
	flags.StringP("kind", "k", v.GetString("kind"), "Board kind (hpsb, lpsb).")
	flags.IntP("slave_id", "a", v.GetInt("slave_id"), "Slave address on the sub-board bus.")
	flags.Uint8P("inputs", "i", 0, "Initial discrete input bitmap.")
	flags.IntSlice("currents", nil, "Initial raw current of channels 1..3.")
	flags.StringP("device", "p", v.GetString("device"), "Serial port device name.")
	flags.IntP("baud_rate", "s", v.GetInt("baud_rate"), "Serial port speed.")
	flags.String("parity", v.GetString("parity"), "Serial port parity (N, E, O).")
	flags.DurationP("timeout", "W", v.GetDuration("timeout"), "Transmit timeout.")
	flags.Duration("frame_silence", v.GetDuration("frame_silence"), "Silence that ends a request frame.")
	flags.Bool("rs485", false, "Enable RS485 mode of the port.")
	flags.StringP("log_level", "v", v.GetString("log_level"), "Log verbosity level (debug, info, warn, error).")
	flags.StringP("log_file", "L", v.GetString("log_file"), "Log file name ('-' for logging to STDOUT only).")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	// 3. flags only override when set
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			if err := v.BindPFlag(f.Name, f); err != nil {
				bindErr = err
			}
		}
	})
	if bindErr != nil {
		return nil, fmt.Errorf("failed to bind pflags: %w", bindErr)
	}

	// 4. config file
	configFile, _ := flags.GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("subboard")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/h2gw/")
		v.AddConfigPath("$HOME/.h2gw")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// 5. unmarshal
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.ConfigFile = configFile
	cfg.Parity = strings.ToUpper(cfg.Parity)

	if cfg.SlaveID < 1 || cfg.SlaveID > 247 {
		return nil, fmt.Errorf("slave_id %d is not a slave address", cfg.SlaveID)
	}
	if len(cfg.Currents) > 3 {
		return nil, fmt.Errorf("%d currents given, a board has 3 channels", len(cfg.Currents))
	}
	return &cfg, nil
}

// Serial is the port part of the config.
func (c *Config) Serial() config.SerialConfig {
	return config.SerialConfig{
		Device:             c.Device,
		BaudRate:           c.BaudRate,
		DataBits:           c.DataBits,
		Parity:             c.Parity,
		StopBits:           c.StopBits,
		Timeout:            c.Timeout,
		RS485:              c.RS485,
		DelayRtsBeforeSend: c.DelayRtsBeforeSend,
		DelayRtsAfterSend:  c.DelayRtsAfterSend,
		RtsHighDuringSend:  c.RtsHighDuringSend,
		RtsHighAfterSend:   c.RtsHighAfterSend,
		RxDuringTx:         c.RxDuringTx,
	}
}

func (c *Config) Log() config.LogConfig {
	return config.LogConfig{Level: c.LogLevel, File: c.LogFile}
}
