// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/sigil-dev/quill/internal/metrics"
	"github.com/sigil-dev/quill/pkg/health"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultCheckInterval = 30 * time.Second
	DefaultCheckTimeout  = 10 * time.Second
	maxConcurrentChecks  = 8
)

// Monitor checks every provider that implements HealthChecker on a fixed
// interval, independently of any pipeline run.
type Monitor struct {
	tracker  *Tracker
	checkers map[string]HealthChecker
	interval time.Duration
	timeout  time.Duration
	nowFunc  func() time.Time
}

// NewMonitor creates a Monitor. Non-positive durations take the defaults.
func NewMonitor(tracker *Tracker, checkers map[string]HealthChecker, interval, timeout time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &Monitor{
		tracker:  tracker,
		checkers: checkers,
		interval: interval,
		timeout:  timeout,
		nowFunc:  time.Now,
	}
}

// Run checks all providers every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	if len(m.checkers) == 0 {
		slog.Debug("health monitor has no providers to check")
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	slog.Info("health monitor started", "providers", len(m.checkers), "interval", m.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Debug("health monitor stopped")
			return
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll checks every provider once, concurrently. Providers in
// maintenance are skipped.
func (m *Monitor) CheckAll(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentChecks)

	for _, name := range m.tracker.Names() {
		p, ok := m.checkers[name]
		if !ok {
			continue
		}
		if snap, err := m.tracker.Snapshot(name); err == nil && snap.Status == health.StatusMaintenance {
			continue
		}

		g.Go(func() error {
			m.check(gctx, name, p)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Monitor) check(ctx context.Context, name string, p HealthChecker) {
	checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := m.nowFunc()
	err := p.CheckHealth(checkCtx)
	latency := m.nowFunc().Sub(start)

	if ctx.Err() != nil {
		return
	}

	m.tracker.RecordHealthCheck(name, err, latency)
	if err != nil {
		metrics.HealthChecksTotal.WithLabelValues(name, "failure").Inc()
		slog.Warn("provider health check failed", "provider", name, "error", err)
		return
	}
	metrics.HealthChecksTotal.WithLabelValues(name, "success").Inc()
}
