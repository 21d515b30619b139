// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package metrics exports the gateway's health as Prometheus metrics.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ffutop/h2tech-gateway/internal/master"
	"github.com/ffutop/h2tech-gateway/internal/status"
)

var boardNames = [1 + status.LPSBCount]string{"hpsb", "lpsb1", "lpsb2", "lpsb3"}

// Metrics observes the master engine, the upstream link and every
// aggregated status. It has its own registry.
type Metrics struct {
	reg *prometheus.Registry

	transactions *prometheus.CounterVec
	writes       *prometheus.CounterVec
	requests     *prometheus.CounterVec
	commOK       *prometheus.GaugeVec
	alarms       *prometheus.GaugeVec
	current      *prometheus.GaugeVec
	errorFlags   prometheus.Gauge
	lastStatus   prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "h2gw_downstream_transactions_total",
				Help: "Poll transactions by slave, poll type and result",
			},
			[]string{"slave", "type", "result"}),
		writes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "h2gw_downstream_writes_total",
				Help: "Synchronous downstream writes by slave and result",
			},
			[]string{"slave", "result"}),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "h2gw_upstream_requests_total",
				Help: "Upstream requests answered, by function code and exception code",
			},
			[]string{"fc", "exception"}),
		commOK: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "h2gw_board_comm_ok",
				Help: "1 while the sub-board answers its polls",
			},
			[]string{"board"}),
		alarms: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "h2gw_alarm_active",
				Help: "1 while the alarm bit is set",
			},
			[]string{"alarm"}),
		current: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "h2gw_channel_current_raw",
				Help: "Raw current sense value per sub-board channel",
			},
			[]string{"board", "channel"}),
		errorFlags: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "h2gw_error_flags",
			Help: "Error flag bitmask of the last aggregated status",
		}),
		lastStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "h2gw_last_status_tick_ms",
			Help: "Monotonic tick of the last aggregated status",
		}),
	}
	m.reg.MustRegister(m.transactions, m.writes, m.requests, m.commOK, m.alarms, m.current, m.errorFlags, m.lastStatus)
	m.reg.MustRegister(collectors.NewBuildInfoCollector())
	m.reg.MustRegister(collectors.NewGoCollector())

	// Instantiate the series to zero
	for _, b := range boardNames {
		m.commOK.WithLabelValues(b)
	}
	for i := status.Alarm1; i <= status.Alarm12; i++ {
		m.alarms.WithLabelValues(i.String())
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func slaveLabel(id byte) string {
	return strconv.Itoa(int(id))
}

// Transaction implements master.Observer.
func (m *Metrics) Transaction(entry master.PollEntry, result master.Result) {
	m.transactions.WithLabelValues(slaveLabel(entry.SlaveID), entry.Type.String(), result.String()).Inc()
}

// Write implements master.Observer.
func (m *Metrics) Write(slaveID byte, fc byte, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.writes.WithLabelValues(slaveLabel(slaveID), result).Inc()
}

// Request counts an upstream request. exception is zero for a normal
// response.
func (m *Metrics) Request(fc byte, exception byte) {
	m.requests.WithLabelValues(fmt.Sprintf("0x%02X", fc), fmt.Sprintf("0x%02X", exception)).Inc()
}

// ObserveStatus mirrors an aggregated status and its bit image.
func (m *Metrics) ObserveStatus(s status.AggregatedStatus, bits *status.BitImage) {
	boards := append([]status.Board{s.HPSB}, s.LPSB[:]...)
	for i, b := range boards {
		m.commOK.WithLabelValues(boardNames[i]).Set(boolGauge(b.CommOK))
		for ch, raw := range b.Current {
			m.current.WithLabelValues(boardNames[i], strconv.Itoa(ch+1)).Set(float64(raw))
		}
	}
	for i := status.Alarm1; i <= status.Alarm12; i++ {
		m.alarms.WithLabelValues(i.String()).Set(boolGauge(bits.Get(i)))
	}
	m.errorFlags.Set(float64(s.ErrorFlags))
	m.lastStatus.Set(float64(s.TimestampMs))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
