// Package metrics registers the monitor's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AlertsFired counts alerts emitted by the engine, by alert type.
	AlertsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hawkeye_alerts_fired_total",
			Help: "Alerts emitted by the engine",
		},
		[]string{"type"},
	)

	// Escalations counts fires admitted through an active cooldown.
	Escalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hawkeye_alert_escalations_total",
			Help: "Alert fires admitted through cooldown by severity escalation",
		},
	)

	// SendsAttempted counts outbound send attempts, by channel.
	SendsAttempted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hawkeye_sends_attempted_total",
			Help: "Outbound send attempts",
		},
		[]string{"channel"},
	)

	// SendsFailed counts outbound sends that exhausted retries, by channel.
	SendsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hawkeye_sends_failed_total",
			Help: "Outbound sends that failed after retries",
		},
		[]string{"channel"},
	)

	// StreamReconnects counts websocket reconnect attempts, by market.
	StreamReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hawkeye_stream_reconnects_total",
			Help: "Market stream reconnect attempts",
		},
		[]string{"market"},
	)

	// TicksProcessed counts coalesced ticks dispatched to the engine.
	TicksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hawkeye_ticks_processed_total",
			Help: "Coalesced ticker updates processed",
		},
		[]string{"market"},
	)

	// DepthFetches counts order book depth samples fetched.
	DepthFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hawkeye_depth_fetches_total",
			Help: "Order book depth snapshots fetched",
		},
		[]string{"market"},
	)
)
