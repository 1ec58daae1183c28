// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/sigil-dev/quill/internal/metrics"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
)

// Backoff is an exponential delay schedule.
type Backoff struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
}

// Delay returns the wait after the given 1-based failed attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 || b.Base <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(b.Base) * math.Pow(mult, float64(attempt-1))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

// Options bound one logical operation.
type Options struct {
	MaxRetries     int
	PerCallTimeout time.Duration
	Backoff        Backoff
	Strategy       Strategy
}

// DefaultOptions returns 3 attempts, a 30s call timeout and 1s·2ⁿ backoff.
func DefaultOptions() Options {
	return Options{
		MaxRetries:     3,
		PerCallTimeout: 30 * time.Second,
		Backoff:        Backoff{Base: time.Second, Multiplier: 2, Max: 30 * time.Second},
		Strategy:       StrategyWeightedRoundRobin,
	}
}

// Option overrides one field of the coordinator defaults for a single call.
type Option func(*Options)

// WithMaxRetries caps the number of calls. Values below 1 mean one call.
func WithMaxRetries(n int) Option { return func(o *Options) { o.MaxRetries = n } }

// WithPerCallTimeout bounds each call. Non-positive values keep the default.
func WithPerCallTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.PerCallTimeout = d
		}
	}
}

// WithBackoff replaces the delay schedule between calls.
func WithBackoff(b Backoff) Option { return func(o *Options) { o.Backoff = b } }

// WithStrategy picks how the next provider is chosen.
func WithStrategy(s Strategy) Option { return func(o *Options) { o.Strategy = s } }

// Attempt records one external call made by Execute.
type Attempt struct {
	Provider string
	Latency  time.Duration
	Err      error
}

// Result is the outcome of a successful Execute.
type Result[T any] struct {
	Value    T
	Provider string
	Attempts []Attempt
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Coordinator runs operations against providers chosen by a Tracker,
// retrying with backoff. It is the only place provider calls are made.
type Coordinator struct {
	tracker  *Tracker
	defaults Options
	sleep    SleepFunc
	nowFunc  func() time.Time
}

// NewCoordinator creates a Coordinator. Zero fields in defaults take the
// values from DefaultOptions.
func NewCoordinator(tracker *Tracker, defaults Options) *Coordinator {
	d := DefaultOptions()
	if defaults.MaxRetries > 0 {
		d.MaxRetries = defaults.MaxRetries
	}
	if defaults.PerCallTimeout > 0 {
		d.PerCallTimeout = defaults.PerCallTimeout
	}
	if defaults.Backoff != (Backoff{}) {
		d.Backoff = defaults.Backoff
	}
	if defaults.Strategy != "" {
		d.Strategy = defaults.Strategy
	}
	return &Coordinator{
		tracker:  tracker,
		defaults: d,
		sleep:    sleepContext,
		nowFunc:  time.Now,
	}
}

// Tracker returns the health tracker the coordinator reports to.
func (c *Coordinator) Tracker() *Tracker { return c.tracker }

// Defaults returns the options applied when a call passes none.
func (c *Coordinator) Defaults() Options { return c.defaults }

// SetSleepFunc replaces the backoff sleeper (for testing).
func (c *Coordinator) SetSleepFunc(fn SleepFunc) { c.sleep = fn }

// SetNowFunc overrides the clock used for latency (for testing).
func (c *Coordinator) SetNowFunc(fn func() time.Time) { c.nowFunc = fn }

type callResult[T any] struct {
	value T
	err   error
}

// Execute runs op against providers selected from candidates. It makes at
// most MaxRetries calls and records every call's outcome exactly once.
// Calls cut short by cancellation of ctx are abandoned without a recorded
// outcome since they say nothing about the provider.
//
// A provider that rejects the request is not selected again for this
// operation, and the next candidate is tried without a backoff delay.
func Execute[T any](ctx context.Context, c *Coordinator, candidates []string, op func(ctx context.Context, provider string) (T, error), opts ...Option) (Result[T], error) {
	o := c.defaults
	for _, opt := range opts {
		opt(&o)
	}
	if o.MaxRetries < 1 {
		o.MaxRetries = 1
	}

	var (
		res      Result[T]
		lastErr  error
		rejected []string
	)

	for attempt := 1; attempt <= o.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return res, canceled(err, len(res.Attempts))
		}

		name, ok := c.tracker.Select(candidates, o.Strategy)
		if !ok && len(rejected) > 0 {
			break
		}
		if !ok {
			last := "none"
			if lastErr != nil {
				last = lastErr.Error()
			}
			return res, quillerr.New(quillerr.CodeProviderRoutingUnavailable,
				"no provider available, last error: "+last,
				quillerr.FieldAttempts(len(res.Attempts)))
		}

		start := c.nowFunc()
		value, err := callWithTimeout(ctx, o.PerCallTimeout, name, op)
		latency := c.nowFunc().Sub(start)

		if err != nil && ctx.Err() != nil {
			// the caller gave up; not the provider's fault
			return res, canceled(ctx.Err(), len(res.Attempts))
		}

		res.Attempts = append(res.Attempts, Attempt{Provider: name, Latency: latency, Err: err})
		metrics.ProviderLatency.WithLabelValues(name).Observe(latency.Seconds())

		if err == nil {
			c.tracker.RecordOutcome(name, true, latency, nil)
			metrics.ProviderCallsTotal.WithLabelValues(name, "success").Inc()
			res.Value = value
			res.Provider = name
			return res, nil
		}

		c.tracker.RecordOutcome(name, false, latency, err)
		metrics.ProviderCallsTotal.WithLabelValues(name, "failure").Inc()
		metrics.ProviderErrorsTotal.WithLabelValues(name, string(quillerr.KindOf(err))).Inc()
		lastErr = err

		slog.Debug("provider call failed",
			"provider", name,
			"attempt", attempt,
			"max_attempts", o.MaxRetries,
			"latency", latency,
			"error", err,
		)

		if !quillerr.IsRetryable(err) {
			return res, quillerr.With(err, quillerr.FieldAttempts(len(res.Attempts)))
		}

		if quillerr.HasCode(err, quillerr.CodeProviderRequestRejected) {
			rejected = append(rejected, name)
			candidates = excluding(candidates, c.tracker, rejected)
			if len(candidates) == 0 {
				break
			}
			continue
		}

		if attempt < o.MaxRetries {
			if serr := c.sleep(ctx, o.Backoff.Delay(attempt)); serr != nil {
				return res, canceled(serr, len(res.Attempts))
			}
		}
	}

	n := len(res.Attempts)
	return res, quillerr.New(quillerr.CodeProviderFailoverExhausted,
		fmt.Sprintf("provider call failed after %d attempts, last error: %v", n, lastErr),
		quillerr.FieldAttempts(n),
		quillerr.Field("last_error", lastErr.Error()),
		quillerr.FieldProvider(res.Attempts[n-1].Provider),
	)
}

// excluding returns the candidates not in skip. An empty candidate list
// means every registered provider.
func excluding(candidates []string, tr *Tracker, skip []string) []string {
	if len(candidates) == 0 {
		candidates = tr.Names()
	}
	return slices.DeleteFunc(slices.Clone(candidates), func(n string) bool {
		return slices.Contains(skip, n)
	})
}

// callWithTimeout races op against the per-call timeout. A transport that
// ignores cancellation keeps running in its goroutine; the result is dropped.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, name string, op func(context.Context, string) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan callResult[T], 1)
	go func() {
		v, err := op(callCtx, name)
		done <- callResult[T]{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return r.value, classify(callCtx, name, r.err)
		}
		return r.value, nil
	case <-callCtx.Done():
		var zero T
		return zero, classify(callCtx, name, callCtx.Err())
	}
}

// classify gives uncoded failures a provider code.
func classify(callCtx context.Context, name string, err error) error {
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		if quillerr.IsTimeout(err) {
			return err
		}
		return quillerr.New(quillerr.CodeProviderCallTimeout,
			fmt.Sprintf("provider %s call timed out: %v", name, err), quillerr.FieldProvider(name))
	}
	if quillerr.CodeOf(err) != "" {
		return err
	}
	return quillerr.Wrap(err, quillerr.CodeProviderUpstreamFailure,
		"provider call failed", quillerr.FieldProvider(name))
}

func canceled(err error, attempts int) error {
	return quillerr.Wrap(err, quillerr.CodeProviderCallCanceled, "provider call canceled",
		quillerr.FieldAttempts(attempts))
}
