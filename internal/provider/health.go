// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"sync"
	"time"

	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/sigil-dev/quill/pkg/health"
)

// HealthPolicy holds the thresholds a HealthTracker applies.
type HealthPolicy struct {
	CircuitThreshold    int
	Cooldown            time.Duration
	LatencyWindow       int
	DegradedSuccessRate float64
}

const (
	// DefaultCircuitThreshold is the number of consecutive failures that opens a circuit.
	DefaultCircuitThreshold = 3
	// DefaultHealthCooldown is how long a circuit stays open before a half-open health check.
	DefaultHealthCooldown      = 60 * time.Second
	DefaultLatencyWindow       = 50
	DefaultDegradedSuccessRate = 0.8
)

// DefaultHealthPolicy returns the stock thresholds.
func DefaultHealthPolicy() HealthPolicy {
	return HealthPolicy{
		CircuitThreshold:    DefaultCircuitThreshold,
		Cooldown:            DefaultHealthCooldown,
		LatencyWindow:       DefaultLatencyWindow,
		DegradedSuccessRate: DefaultDegradedSuccessRate,
	}
}

// Validate rejects thresholds the circuit breaker cannot work with.
func (p HealthPolicy) Validate() error {
	if p.CircuitThreshold <= 0 {
		return quillerr.Errorf(quillerr.CodeConfigValidateInvalidValue,
			"circuit threshold must be positive, got %d", p.CircuitThreshold)
	}
	if p.Cooldown <= 0 {
		return quillerr.Errorf(quillerr.CodeConfigValidateInvalidValue,
			"health tracker cooldown must be positive, got %s", p.Cooldown)
	}
	if p.LatencyWindow <= 0 {
		return quillerr.Errorf(quillerr.CodeConfigValidateInvalidValue,
			"latency window must be positive, got %d", p.LatencyWindow)
	}
	return nil
}

// HealthTracker is the health record of one provider. All mutation happens
// under its own lock so updates to different providers never contend.
type HealthTracker struct {
	mu sync.RWMutex

	name   string
	weight float64
	policy HealthPolicy

	circuit             health.CircuitState
	maintenance         bool
	consecutiveFailures int
	totalRequests       int64
	totalFailures       int64
	latencies           []time.Duration
	latencyNext         int

	openedAt      time.Time
	lastSuccessAt time.Time
	lastFailureAt time.Time
	lastCheckAt   time.Time
	lastError     string

	nowFunc func() time.Time // for testing
}

// NewHealthTracker creates a closed, healthy record.
func NewHealthTracker(name string, weight float64, policy HealthPolicy) (*HealthTracker, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if weight <= 0 {
		weight = 1
	}
	return &HealthTracker{
		name:      name,
		weight:    weight,
		policy:    policy,
		circuit:   health.CircuitClosed,
		latencies: make([]time.Duration, 0, policy.LatencyWindow),
		nowFunc:   time.Now,
	}, nil
}

// Transition describes a circuit change so callers can emit metrics
// without holding the lock.
type Transition struct {
	From, To health.CircuitState
}

// Changed reports whether the circuit moved.
func (t Transition) Changed() bool { return t.From != t.To }

// RecordOutcome applies the result of one real call.
func (h *HealthTracker) RecordOutcome(success bool, latency time.Duration, err error) Transition {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.nowFunc()
	from := h.circuit

	h.totalRequests++
	h.addLatencyLocked(latency)

	if success {
		h.consecutiveFailures = 0
		h.circuit = health.CircuitClosed
		h.lastSuccessAt = now
		return Transition{from, h.circuit}
	}

	h.totalFailures++
	h.lastFailureAt = now
	if err != nil {
		h.lastError = err.Error()
	}
	h.failLocked(now)
	return Transition{from, h.circuit}
}

// RecordHealthCheck applies the result of a background health check,
// which never changes the request totals.
func (h *HealthTracker) RecordHealthCheck(err error, latency time.Duration) Transition {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.nowFunc()
	from := h.circuit
	h.lastCheckAt = now
	h.refreshLocked(now)

	if err != nil {
		h.lastError = err.Error()
		h.failLocked(now)
		return Transition{from, h.circuit}
	}

	h.addLatencyLocked(latency)
	switch h.circuit {
	case health.CircuitHalfOpen:
		h.circuit = health.CircuitClosed
		h.consecutiveFailures = 0
	case health.CircuitClosed:
		h.consecutiveFailures = 0
	}
	return Transition{from, h.circuit}
}

// failLocked counts a failure and opens the circuit at the threshold.
// A failure while half-open reopens it for a fresh cooldown.
func (h *HealthTracker) failLocked(now time.Time) {
	h.consecutiveFailures++
	if h.consecutiveFailures >= h.policy.CircuitThreshold {
		if h.circuit != health.CircuitOpen {
			h.openedAt = now
		}
		h.circuit = health.CircuitOpen
	}
}

// refreshLocked moves an open circuit to half-open once the cooldown has elapsed.
func (h *HealthTracker) refreshLocked(now time.Time) {
	if h.circuit == health.CircuitOpen && now.Sub(h.openedAt) >= h.policy.Cooldown {
		h.circuit = health.CircuitHalfOpen
	}
}

// Refresh applies the cooldown and reports whether the provider may be
// selected, and whether it is only half-open.
func (h *HealthTracker) Refresh() (available, halfOpen bool, t Transition) {
	h.mu.Lock()
	defer h.mu.Unlock()

	from := h.circuit
	h.refreshLocked(h.nowFunc())
	t = Transition{from, h.circuit}

	if h.maintenance || h.circuit == health.CircuitOpen {
		return false, false, t
	}
	return true, h.circuit == health.CircuitHalfOpen, t
}

func (h *HealthTracker) addLatencyLocked(d time.Duration) {
	if len(h.latencies) < h.policy.LatencyWindow {
		h.latencies = append(h.latencies, d)
		return
	}
	h.latencies[h.latencyNext] = d
	h.latencyNext = (h.latencyNext + 1) % h.policy.LatencyWindow
}

func (h *HealthTracker) avgLatencyLocked() time.Duration {
	if len(h.latencies) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range h.latencies {
		sum += d
	}
	return sum / time.Duration(len(h.latencies))
}

func (h *HealthTracker) successRateLocked() float64 {
	if h.totalRequests == 0 {
		return 1
	}
	return float64(h.totalRequests-h.totalFailures) / float64(h.totalRequests)
}

func (h *HealthTracker) statusLocked() health.Status {
	switch {
	case h.maintenance:
		return health.StatusMaintenance
	case h.circuit != health.CircuitClosed:
		return health.StatusUnhealthy
	case h.successRateLocked() < h.policy.DegradedSuccessRate:
		return health.StatusDegraded
	default:
		return health.StatusHealthy
	}
}

// SetMaintenance toggles maintenance mode. A provider in maintenance is
// never selected.
func (h *HealthTracker) SetMaintenance(on bool) {
	h.mu.Lock()
	h.maintenance = on
	h.mu.Unlock()
}

// SetNowFunc overrides the time source (for testing).
func (h *HealthTracker) SetNowFunc(fn func() time.Time) {
	h.mu.Lock()
	h.nowFunc = fn
	h.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the record.
// The returned struct is safe to serialize and does not hold any references to
// internal tracker state.
func (h *HealthTracker) Snapshot() health.ProviderHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	circuit := h.circuit
	if circuit == health.CircuitOpen && h.nowFunc().Sub(h.openedAt) >= h.policy.Cooldown {
		circuit = health.CircuitHalfOpen
	}

	s := health.ProviderHealth{
		Provider:            h.name,
		Status:              h.statusLocked(),
		Circuit:             circuit,
		Available:           !h.maintenance && circuit != health.CircuitOpen,
		ConsecutiveFailures: h.consecutiveFailures,
		TotalRequests:       h.totalRequests,
		TotalFailures:       h.totalFailures,
		SuccessRate:         h.successRateLocked(),
		AvgLatency:          h.avgLatencyLocked(),
		Weight:              h.weight,
		LastError:           h.lastError,
	}
	if !h.lastSuccessAt.IsZero() {
		t := h.lastSuccessAt
		s.LastSuccessAt = &t
	}
	if !h.lastFailureAt.IsZero() {
		t := h.lastFailureAt
		s.LastFailureAt = &t
	}
	if !h.lastCheckAt.IsZero() {
		t := h.lastCheckAt
		s.LastCheckAt = &t
	}
	if circuit == health.CircuitOpen {
		until := h.openedAt.Add(h.policy.Cooldown)
		s.CooldownUntil = &until
	}
	return s
}

// score inputs read under one lock so a selection sees a consistent record.
type scoreInput struct {
	weight      float64
	status      health.Status
	halfOpen    bool
	avgLatency  time.Duration
	successRate float64
}

func (h *HealthTracker) scoreInput() scoreInput {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return scoreInput{
		weight:      h.weight,
		status:      h.statusLocked(),
		halfOpen:    h.circuit == health.CircuitHalfOpen,
		avgLatency:  h.avgLatencyLocked(),
		successRate: h.successRateLocked(),
	}
}
