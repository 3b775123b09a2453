// Package metrics exposes the orchestrator's Prometheus series, served at
// /metrics in the text exposition format.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	IntentDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_intent_decisions_total",
			Help: "Order intents by decision type and reason code",
		},
		[]string{"decision", "reason"},
	)

	ThrottleBlocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_throttle_blocks_total",
			Help: "Signals blocked by the throttle gate, by reason",
		},
		[]string{"reason"},
	)

	FallbackAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_fallback_attempts_total",
			Help: "Fallback retries by error class and result",
		},
		[]string{"class", "result"},
	)

	BracketOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_bracket_outcomes_total",
			Help: "Bracket creation passes by terminal outcome",
		},
		[]string{"outcome"},
	)

	PlacementsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_placements_in_flight",
			Help: "Order placements currently holding a symbol lock",
		},
	)
)

func init() {
	prometheus.MustRegister(IntentDecisions, ThrottleBlocks, FallbackAttempts, BracketOutcomes, PlacementsInFlight)
}
