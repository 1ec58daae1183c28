// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider_test

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sigil-dev/quill/internal/provider"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCoordinator(t *testing.T, names ...string) (*provider.Coordinator, *provider.Tracker, *recordingSleeper) {
	t.Helper()
	clock := newFakeClock()
	tr := newTracker(t, clock, names...)
	c := provider.NewCoordinator(tr, provider.Options{})
	sleeper := &recordingSleeper{}
	c.SetSleepFunc(sleeper.Sleep)
	return c, tr, sleeper
}

func TestBackoffDelay(t *testing.T) {
	b := provider.Backoff{Base: time.Second, Multiplier: 2, Max: 5 * time.Second}
	assert.Equal(t, time.Duration(0), b.Delay(0))
	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, 2*time.Second, b.Delay(2))
	assert.Equal(t, 4*time.Second, b.Delay(3))
	assert.Equal(t, 5*time.Second, b.Delay(4), "capped at Max")
}

func TestExecute_SuccessRecordsOnce(t *testing.T) {
	c, tr, sleeper := newCoordinator(t, "a")

	res, err := provider.Execute(context.Background(), c, []string{"a"},
		func(_ context.Context, name string) (string, error) { return "hello from " + name, nil })
	require.NoError(t, err)

	assert.Equal(t, "hello from a", res.Value)
	assert.Equal(t, "a", res.Provider)
	assert.Len(t, res.Attempts, 1)
	assert.Empty(t, sleeper.Delays())

	s, err := tr.Snapshot("a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.TotalRequests)
	assert.Equal(t, int64(0), s.TotalFailures)
}

func TestExecute_AllRetriesFail(t *testing.T) {
	c, tr, sleeper := newCoordinator(t, "a", "b")
	var calls atomic.Int32

	_, err := provider.Execute(context.Background(), c, []string{"a", "b"},
		func(_ context.Context, name string) (int, error) {
			n := calls.Add(1)
			return 0, errors.New("upstream 502 #" + string(rune('0'+n)))
		}, provider.WithMaxRetries(4))
	require.Error(t, err)

	assert.Equal(t, int32(4), calls.Load(), "never more than MaxRetries calls")
	assert.True(t, quillerr.HasCode(err, quillerr.CodeProviderFailoverExhausted))
	assert.Equal(t, 4, quillerr.FieldsOf(err)["attempts"])
	assert.Contains(t, err.Error(), "4 attempts")
	assert.Contains(t, err.Error(), "upstream 502 #4")
	assert.True(t, quillerr.IsRetryable(err))

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeper.Delays(),
		"no backoff after the final attempt")

	var total int64
	for _, s := range tr.Snapshots() {
		total += s.TotalRequests
	}
	assert.Equal(t, int64(4), total, "every call recorded exactly once")
}

func TestExecute_FailsOverToNextProvider(t *testing.T) {
	c, _, _ := newCoordinator(t, "primary", "backup")

	res, err := provider.Execute(context.Background(), c, nil,
		func(_ context.Context, name string) (string, error) {
			if name == "primary" {
				return "", errors.New("connection refused")
			}
			return name, nil
		})
	require.NoError(t, err)

	// primary scores 0.5 after its failure, backup 1.0
	assert.Equal(t, "backup", res.Value)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, "primary", res.Attempts[0].Provider)
	assert.Error(t, res.Attempts[0].Err)
}

func TestExecute_NoProviderAvailable(t *testing.T) {
	c, tr, _ := newCoordinator(t, "only")
	for range 3 {
		tr.RecordOutcome("only", false, 0, errors.New("rate limit exceeded"))
	}

	var called bool
	_, err := provider.Execute(context.Background(), c, []string{"only"},
		func(context.Context, string) (string, error) {
			called = true
			return "", nil
		})
	require.Error(t, err)

	assert.False(t, called, "open circuit receives no call")
	assert.True(t, quillerr.HasCode(err, quillerr.CodeProviderRoutingUnavailable))
	assert.Equal(t, quillerr.KindProviderUnavailable, quillerr.KindOf(err))
	assert.Contains(t, err.Error(), "no provider available, last error: none")
}

func TestExecute_CircuitOpensMidOperation(t *testing.T) {
	c, _, _ := newCoordinator(t, "only")

	_, err := provider.Execute(context.Background(), c, []string{"only"},
		func(context.Context, string) (string, error) { return "", errors.New("503 service unavailable") },
		provider.WithMaxRetries(5))
	require.Error(t, err)

	// three failures open the circuit; the fourth selection finds nothing
	assert.True(t, quillerr.HasCode(err, quillerr.CodeProviderRoutingUnavailable))
	assert.Contains(t, err.Error(), "last error:")
	assert.Contains(t, err.Error(), "503 service unavailable")
	assert.Equal(t, 3, quillerr.FieldsOf(err)["attempts"])
}

func TestExecute_PerCallTimeout(t *testing.T) {
	c, tr, _ := newCoordinator(t, "slow")
	release := make(chan struct{})
	defer close(release)

	_, err := provider.Execute(context.Background(), c, []string{"slow"},
		func(ctx context.Context, _ string) (string, error) {
			<-release // ignores ctx like a transport without cancellation
			return "late", nil
		},
		provider.WithMaxRetries(1),
		provider.WithPerCallTimeout(20*time.Millisecond))
	require.Error(t, err)

	assert.True(t, quillerr.HasCode(err, quillerr.CodeProviderFailoverExhausted))
	s, _ := tr.Snapshot("slow")
	assert.Equal(t, int64(1), s.TotalFailures, "timeout counts as a provider error")
	assert.Contains(t, s.LastError, "timed out")
}

func TestExecute_RejectedRequestFailsOver(t *testing.T) {
	c, tr, sleeper := newCoordinator(t, "a", "b")
	var calls []string

	res, err := provider.Execute(context.Background(), c, nil,
		func(_ context.Context, name string) (string, error) {
			calls = append(calls, name)
			if name == "a" {
				return "", provider.UpstreamError(name, http.StatusBadRequest, errors.New("prompt too long"))
			}
			return "plan from " + name, nil
		})
	require.NoError(t, err)

	assert.Equal(t, "plan from b", res.Value)
	assert.Equal(t, []string{"a", "b"}, calls)
	assert.Empty(t, sleeper.Delays(), "a rejection moves on without backoff")

	s, err := tr.Snapshot("a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.TotalFailures)
}

func TestExecute_EveryProviderRejects(t *testing.T) {
	c, _, sleeper := newCoordinator(t, "a", "b")
	var calls []string

	_, err := provider.Execute(context.Background(), c, nil,
		func(_ context.Context, name string) (string, error) {
			calls = append(calls, name)
			return "", provider.UpstreamError(name, http.StatusUnprocessableEntity, errors.New("content rejected"))
		}, provider.WithMaxRetries(5))
	require.Error(t, err)

	assert.Equal(t, []string{"a", "b"}, calls, "a rejecting provider is not called twice")
	assert.Empty(t, sleeper.Delays())
	assert.True(t, quillerr.HasCode(err, quillerr.CodeProviderFailoverExhausted))
	assert.Equal(t, quillerr.KindProviderError, quillerr.KindOf(err))
	assert.True(t, quillerr.IsRetryable(err))
	assert.Contains(t, err.Error(), "request rejected")
}

func TestExecute_NonRetryableStopsImmediately(t *testing.T) {
	c, _, sleeper := newCoordinator(t, "a", "b")
	var calls int

	_, err := provider.Execute(context.Background(), c, nil,
		func(context.Context, string) (string, error) {
			calls++
			return "", quillerr.New(quillerr.CodeSystemResourceFailure, "disk full")
		})
	require.Error(t, err)

	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.Delays())
	assert.Equal(t, quillerr.KindSystem, quillerr.KindOf(err))
	assert.Equal(t, 1, quillerr.FieldsOf(err)["attempts"])
}

func TestWithPerCallTimeout_IgnoresNonPositive(t *testing.T) {
	c, _, _ := newCoordinator(t, "a")

	res, err := provider.Execute(context.Background(), c, nil,
		func(ctx context.Context, name string) (string, error) {
			_, ok := ctx.Deadline()
			assert.True(t, ok)
			return name, ctx.Err()
		}, provider.WithPerCallTimeout(0))
	require.NoError(t, err)
	assert.Equal(t, "a", res.Value)

	o := c.Defaults()
	provider.WithPerCallTimeout(-time.Second)(&o)
	assert.Equal(t, c.Defaults().PerCallTimeout, o.PerCallTimeout)
}

func TestExecute_CanceledBeforeFirstCall(t *testing.T) {
	c, tr, _ := newCoordinator(t, "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := provider.Execute(ctx, c, nil, func(context.Context, string) (string, error) {
		t.Fatal("must not be called")
		return "", nil
	})
	require.Error(t, err)
	assert.True(t, quillerr.IsCanceled(err))

	s, _ := tr.Snapshot("a")
	assert.Zero(t, s.TotalRequests, "no outcome for a call never made")
}

func TestExecute_CanceledDuringBackoff(t *testing.T) {
	c, _, _ := newCoordinator(t, "a")
	ctx, cancel := context.WithCancel(context.Background())
	c.SetSleepFunc(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	})

	var calls int
	_, err := provider.Execute(ctx, c, nil, func(context.Context, string) (string, error) {
		calls++
		return "", errors.New("flaky")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, quillerr.IsCanceled(err))
	assert.Equal(t, quillerr.KindCanceled, quillerr.KindOf(err))
}
