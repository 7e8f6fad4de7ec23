// Package metrics provides Prometheus metrics for the call coordinator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OpenSessions tracks sessions currently held in the registry.
	OpenSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "teleconsult_open_sessions",
			Help: "Number of call sessions currently held by the coordinator",
		},
	)

	// SessionsCreated tracks the total number of sessions created.
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "teleconsult_sessions_created_total",
			Help: "Total number of call sessions created",
		},
	)

	// SessionStateTransitions tracks session phase changes.
	SessionStateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teleconsult_session_state_transitions_total",
			Help: "Total number of call session phase transitions",
		},
		[]string{"from_state", "to_state"},
	)

	// RelayedMessages counts payloads delivered to a counterpart.
	RelayedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teleconsult_relayed_messages_total",
			Help: "Total number of signaling and chat payloads relayed",
		},
		[]string{"kind"},
	)

	// RelayDropped counts payloads dropped because no counterpart could take them.
	RelayDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teleconsult_relay_dropped_total",
			Help: "Total number of relayed payloads dropped",
		},
		[]string{"kind"},
	)

	// CommitFailures counts calls left pending settlement.
	CommitFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "teleconsult_commit_failures_total",
			Help: "Total number of call finalizations that failed or timed out",
		},
	)

	// CommitDuration tracks how long the final record commit takes.
	CommitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "teleconsult_commit_duration_seconds",
			Help:    "Duration of the final call record commit",
			Buckets: prometheus.DefBuckets,
		},
	)

	// BilledMinutes counts minutes billed on completed calls.
	BilledMinutes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "teleconsult_billed_minutes_total",
			Help: "Total number of minutes billed",
		},
	)
)

// RecordSessionCreated increments session creation metrics.
func RecordSessionCreated() {
	SessionsCreated.Inc()
	OpenSessions.Inc()
}

// RecordSessionEvicted decrements the open session gauge.
func RecordSessionEvicted() {
	OpenSessions.Dec()
}

// RecordStateTransition records a session phase change.
func RecordStateTransition(from, to string) {
	SessionStateTransitions.WithLabelValues(from, to).Inc()
}

func RecordRelay(kind string, delivered bool) {
	if delivered {
		RelayedMessages.WithLabelValues(kind).Inc()
		return
	}
	RelayDropped.WithLabelValues(kind).Inc()
}
