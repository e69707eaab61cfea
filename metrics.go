// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Filipe Johansson

package gocollab

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the collaboration layer.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RoomsActive     prometheus.Gauge
	SessionsActive  prometheus.Gauge
	EventsReceived  *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	FramesDelivered prometheus.Counter
	SendFailures    prometheus.Counter
	RelayPublished  prometheus.Counter
	RelayReceived   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RoomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gocollab",
			Name:      "rooms_active",
			Help:      "Project rooms with at least one attached connection.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gocollab",
			Name:      "sessions_active",
			Help:      "Open per-connection sessions.",
		}),
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gocollab",
			Name:      "events_received_total",
			Help:      "Inbound events accepted by the router.",
		}, []string{"event"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gocollab",
			Name:      "events_dropped_total",
			Help:      "Inbound events dropped before reaching a room.",
		}, []string{"reason"}),
		FramesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gocollab",
			Name:      "frames_delivered_total",
			Help:      "Frames queued to connections.",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gocollab",
			Name:      "send_failures_total",
			Help:      "Frames that could not be queued to a connection.",
		}),
		RelayPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gocollab",
			Name:      "relay_published_total",
			Help:      "Frames published to the cross-process relay.",
		}),
		RelayReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gocollab",
			Name:      "relay_received_total",
			Help:      "Frames received from other processes through the relay.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.RoomsActive, m.SessionsActive, m.EventsReceived, m.EventsDropped,
			m.FramesDelivered, m.SendFailures, m.RelayPublished, m.RelayReceived,
		)
	}
	return m
}

func (m *Metrics) roomCreated() {
	if m != nil {
		m.RoomsActive.Inc()
	}
}

func (m *Metrics) roomRemoved() {
	if m != nil {
		m.RoomsActive.Dec()
	}
}

func (m *Metrics) sessionOpened() {
	if m != nil {
		m.SessionsActive.Inc()
	}
}

func (m *Metrics) sessionClosed() {
	if m != nil {
		m.SessionsActive.Dec()
	}
}

func (m *Metrics) eventReceived(event string) {
	if m != nil {
		m.EventsReceived.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) eventDropped(reason string) {
	if m != nil {
		m.EventsDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) delivered(n int) {
	if m != nil && n > 0 {
		m.FramesDelivered.Add(float64(n))
	}
}

func (m *Metrics) sendFailed() {
	if m != nil {
		m.SendFailures.Inc()
	}
}

func (m *Metrics) relayPublished() {
	if m != nil {
		m.RelayPublished.Inc()
	}
}

func (m *Metrics) relayReceived() {
	if m != nil {
		m.RelayReceived.Inc()
	}
}
