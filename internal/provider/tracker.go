// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/sigil-dev/quill/internal/metrics"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/sigil-dev/quill/pkg/health"
)

// Strategy picks one provider among the available candidates.
type Strategy string

const (
	StrategyWeightedRoundRobin Strategy = "weighted-round-robin"
	StrategyLeastLoaded        Strategy = "least-loaded"
)

// ParseStrategy maps a config value onto a Strategy. Empty selects the default.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyWeightedRoundRobin:
		return StrategyWeightedRoundRobin, nil
	case StrategyLeastLoaded:
		return StrategyLeastLoaded, nil
	default:
		return "", quillerr.Errorf(quillerr.CodeConfigValidateInvalidValue, "unknown selection strategy %q", s)
	}
}

// Registration announces one provider to the Tracker.
type Registration struct {
	Name   string
	Weight float64
}

// Tracker owns the health record of every registered provider. The map is
// only written by Register; each record serializes its own updates, so
// outcomes for different providers never block each other.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]*HealthTracker
	order   map[string]int
	names   []string

	policy  HealthPolicy
	nowFunc func() time.Time
}

// NewTracker creates an empty Tracker applying policy to every provider.
func NewTracker(policy HealthPolicy) (*Tracker, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Tracker{
		entries: make(map[string]*HealthTracker),
		order:   make(map[string]int),
		policy:  policy,
		nowFunc: time.Now,
	}, nil
}

// Register initializes a healthy, closed record for each provider.
// Registering a known name again is an error.
func (t *Tracker) Register(regs ...Registration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, r := range regs {
		if r.Name == "" {
			return quillerr.New(quillerr.CodeProviderRequestInvalid, "provider name must not be empty")
		}
		if _, ok := t.entries[r.Name]; ok {
			return quillerr.New(quillerr.CodeProviderRequestInvalid,
				"provider already registered: "+r.Name, quillerr.FieldProvider(r.Name))
		}
		h, err := NewHealthTracker(r.Name, r.Weight, t.policy)
		if err != nil {
			return err
		}
		h.SetNowFunc(t.nowFunc)
		t.entries[r.Name] = h
		t.order[r.Name] = len(t.names)
		t.names = append(t.names, r.Name)
		metrics.ProviderCircuitState.WithLabelValues(r.Name).Set(metrics.CircuitValue(string(health.CircuitClosed)))
		slog.Debug("registered provider", "provider", r.Name, "weight", h.weight)
	}
	return nil
}

// Names returns registered providers in registration order.
func (t *Tracker) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.names...)
}

func (t *Tracker) entry(name string) (*HealthTracker, error) {
	t.mu.RLock()
	h, ok := t.entries[name]
	t.mu.RUnlock()
	if !ok {
		return nil, quillerr.New(quillerr.CodeProviderNotFound,
			"provider not found: "+name, quillerr.FieldProvider(name))
	}
	return h, nil
}

// RecordOutcome applies the result of one call. Unknown providers are ignored.
func (t *Tracker) RecordOutcome(name string, success bool, latency time.Duration, err error) {
	h, lookupErr := t.entry(name)
	if lookupErr != nil {
		slog.Warn("outcome for unregistered provider", "provider", name)
		return
	}
	observe(name, h.RecordOutcome(success, latency, err))
}

// RecordHealthCheck applies the result of a background health check.
func (t *Tracker) RecordHealthCheck(name string, err error, latency time.Duration) {
	h, lookupErr := t.entry(name)
	if lookupErr != nil {
		return
	}
	observe(name, h.RecordHealthCheck(err, latency))
}

// SetMaintenance toggles maintenance mode for one provider.
func (t *Tracker) SetMaintenance(name string, on bool) error {
	h, err := t.entry(name)
	if err != nil {
		return err
	}
	h.SetMaintenance(on)
	slog.Info("provider maintenance changed", "provider", name, "maintenance", on)
	return nil
}

// AvailableProviders returns the candidates that may be selected, in
// registration order. Open circuits whose cooldown has elapsed become
// half-open and are included.
func (t *Tracker) AvailableProviders(candidates []string) []string {
	var out []string
	for _, name := range t.ordered(candidates) {
		h, err := t.entry(name)
		if err != nil {
			continue
		}
		ok, _, tr := h.Refresh()
		observe(name, tr)
		if ok {
			out = append(out, name)
		}
	}
	return out
}

// Select picks one available candidate with the given strategy. ok is false
// when no candidate is available; that is a signal, not an error.
func (t *Tracker) Select(candidates []string, strategy Strategy) (name string, ok bool) {
	available := t.AvailableProviders(candidates)
	if len(available) == 0 {
		return "", false
	}

	best := ""
	bestScore := 0.0
	for _, n := range available {
		h, err := t.entry(n)
		if err != nil {
			continue
		}
		in := h.scoreInput()

		var s float64
		switch strategy {
		case StrategyLeastLoaded:
			// lower load wins; negate so the comparison below is shared
			s = -loadScore(in)
		default:
			s = weightedScore(in)
		}
		if best == "" || s > bestScore {
			best, bestScore = n, s
		}
	}
	return best, best != ""
}

// weightedScore is baseWeight × healthMultiplier × responseTimeMultiplier.
func weightedScore(in scoreInput) float64 {
	healthMultiplier := 1.0
	switch {
	case in.halfOpen:
		healthMultiplier = 0.25
	case in.status == health.StatusDegraded:
		healthMultiplier = 0.5
	}

	responseTimeMultiplier := 1.0
	if in.avgLatency > time.Second {
		responseTimeMultiplier = float64(time.Second) / float64(in.avgLatency)
	}

	return in.weight * healthMultiplier * responseTimeMultiplier
}

// loadScore is avgLatency × (1 − successRate), in milliseconds.
func loadScore(in scoreInput) float64 {
	ms := float64(in.avgLatency) / float64(time.Millisecond)
	return ms * math.Max(0, 1-in.successRate)
}

// ordered filters candidates to registered names and sorts them by
// registration order so ties resolve deterministically.
func (t *Tracker) ordered(candidates []string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if candidates == nil {
		return append([]string(nil), t.names...)
	}

	want := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		want[c] = true
	}
	out := make([]string, 0, len(candidates))
	for _, name := range t.names {
		if want[name] {
			out = append(out, name)
		}
	}
	return out
}

// Snapshot returns the health of one provider.
func (t *Tracker) Snapshot(name string) (health.ProviderHealth, error) {
	h, err := t.entry(name)
	if err != nil {
		return health.ProviderHealth{}, err
	}
	return h.Snapshot(), nil
}

// Snapshots returns every provider's health in registration order.
func (t *Tracker) Snapshots() []health.ProviderHealth {
	names := t.Names()
	out := make([]health.ProviderHealth, 0, len(names))
	for _, n := range names {
		if s, err := t.Snapshot(n); err == nil {
			out = append(out, s)
		}
	}
	return out
}

// SetNowFunc overrides the time source of every current and future record (for testing).
func (t *Tracker) SetNowFunc(fn func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nowFunc = fn
	for _, h := range t.entries {
		h.SetNowFunc(fn)
	}
}

func observe(name string, tr Transition) {
	if !tr.Changed() {
		return
	}
	metrics.ProviderCircuitState.WithLabelValues(name).Set(metrics.CircuitValue(string(tr.To)))
	metrics.CircuitTransitionsTotal.WithLabelValues(name, string(tr.To)).Inc()

	if tr.To == health.CircuitOpen {
		slog.Warn("provider circuit opened", "provider", name, "from", tr.From)
		return
	}
	slog.Info("provider circuit changed", "provider", name, "from", tr.From, "to", tr.To)
}
