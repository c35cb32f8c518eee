// Package stats tracks and exports mpipc's runtime counters: messages
// sent/received/canceled, bytes on the wire, active connection and pool
// counts, and send latency. Grounded on the teacher's coreStats Tracker
// (map of named counters/latencies, deleted stats/common_statsd.go) but
// re-expressed with github.com/prometheus/client_golang instead of the
// teacher's StatsD client, since the teacher's statsd sink and its
// core/meta.Snode label dependency have no analogue in this module (see
// DESIGN.md).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Tracker is the surface a connection/pool/service reports through;
// kept narrow so callers don't need a concrete *Stats in tests.
type Tracker interface {
	IncSent(typeID uint64)
	IncReceived(typeID uint64)
	IncCanceled()
	IncKeepAlive()
	AddBytesOut(n int)
	AddBytesIn(n int)
	ObserveSendLatency(d time.Duration)
	SetActiveConns(n int)
	SetActivePools(n int)
}

// Stats is the Prometheus-backed Tracker, registering its collectors on reg (pass
// prometheus.DefaultRegisterer for process-wide export).
type Stats struct {
	sent        *prometheus.CounterVec
	received    *prometheus.CounterVec
	canceled    prometheus.Counter
	keepAlives  prometheus.Counter
	bytesOut    prometheus.Counter
	bytesIn     prometheus.Counter
	sendLatency prometheus.Histogram
	activeConns prometheus.Gauge
	activePools prometheus.Gauge
}

// New builds and registers mpipc's metric set. Safe to call once per
// process; registering twice against the same reg panics in the
// underlying MustRegister call, matching client_golang convention for
// singleton collectors.
func New(reg prometheus.Registerer, namespace string) *Stats {
	s := &Stats{
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_sent_total",
			Help: "Messages handed to the writer, by message type id.",
		}, []string{"type_id"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_received_total",
			Help: "Messages completed by the reader, by message type id.",
		}, []string{"type_id"}),
		canceled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_canceled_total",
			Help: "Messages canceled before or during transmission.",
		}),
		keepAlives: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "keepalive_packets_total",
			Help: "KeepAlive packets observed across all connections.",
		}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_sent_total",
			Help: "Raw bytes written to the wire.",
		}),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_received_total",
			Help: "Raw bytes read from the wire.",
		}),
		sendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "send_latency_seconds",
			Help:    "Time from Send() to the message's completion callback.",
			Buckets: prometheus.DefBuckets,
		}),
		activeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_connections",
			Help: "Connections currently in the Active state.",
		}),
		activePools: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_pools",
			Help: "Pools currently in the Active state.",
		}),
	}
	reg.MustRegister(s.sent, s.received, s.canceled, s.keepAlives,
		s.bytesOut, s.bytesIn, s.sendLatency, s.activeConns, s.activePools)
	return s
}

func (s *Stats) IncSent(typeID uint64)     { s.sent.WithLabelValues(typeIDLabel(typeID)).Inc() }
func (s *Stats) IncReceived(typeID uint64) { s.received.WithLabelValues(typeIDLabel(typeID)).Inc() }
func (s *Stats) IncCanceled()              { s.canceled.Inc() }
func (s *Stats) IncKeepAlive()             { s.keepAlives.Inc() }
func (s *Stats) AddBytesOut(n int)         { s.bytesOut.Add(float64(n)) }
func (s *Stats) AddBytesIn(n int)          { s.bytesIn.Add(float64(n)) }
func (s *Stats) ObserveSendLatency(d time.Duration) { s.sendLatency.Observe(d.Seconds()) }
func (s *Stats) SetActiveConns(n int)      { s.activeConns.Set(float64(n)) }
func (s *Stats) SetActivePools(n int)      { s.activePools.Set(float64(n)) }

func typeIDLabel(id uint64) string {
	const hextab = "0123456789abcdef"
	if id == 0 {
		return "0"
	}
	var buf [16]byte
	i := len(buf)
	for id > 0 {
		i--
		buf[i] = hextab[id&0xf]
		id >>= 4
	}
	return string(buf[i:])
}

// Noop satisfies Tracker for callers that don't want metrics overhead
// (e.g. unit tests of other packages).
type Noop struct{}

func (Noop) IncSent(uint64)                   {}
func (Noop) IncReceived(uint64)               {}
func (Noop) IncCanceled()                     {}
func (Noop) IncKeepAlive()                    {}
func (Noop) AddBytesOut(int)                  {}
func (Noop) AddBytesIn(int)                   {}
func (Noop) ObserveSendLatency(time.Duration) {}
func (Noop) SetActiveConns(int)               {}
func (Noop) SetActivePools(int)               {}
