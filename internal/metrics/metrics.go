// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProviderCallsTotal tracks every external provider call by outcome
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_provider_calls_total",
			Help: "Total number of provider calls",
		},
		[]string{"provider", "outcome"},
	)

	// ProviderErrorsTotal tracks failed provider calls by error kind
	ProviderErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_provider_errors_total",
			Help: "Total number of failed provider calls",
		},
		[]string{"provider", "kind"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quill_provider_latency_seconds",
			Help:    "Provider call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// ProviderCircuitState is 0 closed, 1 half-open, 2 open.
	ProviderCircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quill_provider_circuit_state",
			Help: "Circuit breaker state per provider (0 closed, 1 half-open, 2 open)",
		},
		[]string{"provider"},
	)

	CircuitTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_provider_circuit_transitions_total",
			Help: "Total number of circuit breaker transitions",
		},
		[]string{"provider", "to"},
	)

	// HealthChecksTotal tracks background health checks
	HealthChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_provider_health_checks_total",
			Help: "Total number of background provider health checks",
		},
		[]string{"provider", "outcome"},
	)

	// RecoveryActionsTotal tracks recovery actions by category, action and result
	RecoveryActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_recovery_actions_total",
			Help: "Total number of recovery actions attempted",
		},
		[]string{"category", "action", "result"},
	)

	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_alerts_total",
			Help: "Total number of system failure alerts raised",
		},
		[]string{"code"},
	)

	// RunsTotal tracks finished runs by terminal state
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_runs_total",
			Help: "Total number of finished pipeline runs",
		},
		[]string{"state"},
	)

	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quill_runs_active",
			Help: "Number of pipeline runs in progress",
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quill_stage_duration_seconds",
			Help:    "Stage execution time in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage", "outcome"},
	)

	// SynthesisConfidence tracks the overall confidence of synthesized results
	SynthesisConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quill_synthesis_confidence",
			Help:    "Overall confidence of synthesized results",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	SynthesisConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_synthesis_conflicts_total",
			Help: "Total number of conflicts detected during synthesis",
		},
		[]string{"type", "severity"},
	)
)

// CircuitValue maps a circuit state name onto the ProviderCircuitState gauge value.
func CircuitValue(state string) float64 {
	switch state {
	case "open":
		return 2
	case "half_open":
		return 1
	default:
		return 0
	}
}
