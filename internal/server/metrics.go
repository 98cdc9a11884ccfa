// Package server exports Prometheus metrics for connections, messages, and
// broadcasts.
package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection metrics
var (
	// ConnectionsCurrent tracks live registered connections.
	ConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wsrelay_connections_current",
			Help: "Number of connections currently registered",
		},
	)

	// ConnectionsTotal counts successful registrations.
	ConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wsrelay_connections_total",
			Help: "Total connections registered since start",
		},
	)

	// DisconnectsTotal counts session endings by close kind (graceful/error/fault).
	DisconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wsrelay_disconnects_total",
			Help: "Total session endings by close kind",
		},
		[]string{"kind"},
	)
)

// Message metrics
var (
	// MessagesReceivedTotal counts inbound client messages.
	MessagesReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wsrelay_messages_received_total",
			Help: "Total messages received from clients",
		},
	)

	// MessagesRateLimitedTotal counts inbound messages dropped by the rate limiter.
	MessagesRateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wsrelay_messages_rate_limited_total",
			Help: "Total client messages discarded by the per-connection rate limiter",
		},
	)
)

// Broadcast metrics
var (
	// BroadcastsTotal counts broadcast calls by source (client/operator).
	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wsrelay_broadcasts_total",
			Help: "Total broadcasts by source",
		},
		[]string{"source"},
	)

	// BroadcastSendsTotal counts per-recipient sends by result (delivered/failed).
	BroadcastSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wsrelay_broadcast_sends_total",
			Help: "Per-recipient broadcast sends by result",
		},
		[]string{"result"},
	)

	// BroadcastDuration tracks how long a full fan-out takes to join.
	BroadcastDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wsrelay_broadcast_duration_seconds",
			Help:    "Time from snapshot to all recipient sends resolved",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		},
	)
)
