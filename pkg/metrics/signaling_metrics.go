package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Signaling metrics for monitoring the relay and presence directory
var (
	SignalingConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signaling_connections_active",
		Help: "Current number of registered signaling connections",
	})

	SignalingConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signaling_connections_total",
		Help: "Total number of accepted signaling connections",
	})

	SignalingConnectionsSuperseded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signaling_connections_superseded_total",
		Help: "Total number of connections evicted by a newer connection for the same user",
	})

	SignalingConnectionUnauthorizedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signaling_connection_unauthorized_total",
		Help: "Total number of rejected signaling connections",
	})

	SignalingMessagesRelayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaling_messages_relayed_total",
		Help: "Total number of signaling messages relayed, by kind",
	}, []string{"kind"})

	SignalingMessagesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaling_messages_dropped_total",
		Help: "Total number of signaling messages dropped, by reason",
	}, []string{"reason"}) // "offline", "slow_consumer", "invalid"
)

// Call metrics for monitoring call lifecycle
var (
	CallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calls_total",
		Help: "Total number of calls initiated, by media kind",
	}, []string{"media_kind"})

	CallsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calls_finished_total",
		Help: "Total number of calls reaching a terminal status",
	}, []string{"status"}) // "completed", "missed", "rejected"

	CallDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "call_duration_seconds",
		Help:    "Duration of completed calls",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})
)
