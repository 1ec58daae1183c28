// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package health

import "time"

// Status is the coarse health classification of a provider.
type Status string

const (
	StatusHealthy     Status = "healthy"
	StatusDegraded    Status = "degraded"
	StatusUnhealthy   Status = "unhealthy"
	StatusMaintenance Status = "maintenance"
)

// CircuitState is the state of a provider's circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// ProviderHealth exposes the current health state of a provider for monitoring
// and operator visibility. All fields are point-in-time snapshots safe
// to serialize to JSON.
type ProviderHealth struct {
	Provider            string        `json:"provider"`
	Status              Status        `json:"status"`
	Circuit             CircuitState  `json:"circuit"`
	Available           bool          `json:"available"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	TotalRequests       int64         `json:"total_requests"`
	TotalFailures       int64         `json:"total_failures"`
	SuccessRate         float64       `json:"success_rate"`
	AvgLatency          time.Duration `json:"avg_latency"`
	Weight              float64       `json:"weight"`
	LastSuccessAt       *time.Time    `json:"last_success_at,omitempty"`
	LastCheckAt         *time.Time    `json:"last_check_at,omitempty"`
	LastFailureAt       *time.Time    `json:"last_failure_at,omitempty"`
	CooldownUntil       *time.Time    `json:"cooldown_until,omitempty"`
	LastError           string        `json:"last_error,omitempty"`
}
