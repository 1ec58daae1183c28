// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sigil-dev/quill/internal/provider"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source shared by trackers and coordinators.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTracker(t *testing.T, clock *fakeClock, names ...string) *provider.Tracker {
	t.Helper()
	tr, err := provider.NewTracker(provider.DefaultHealthPolicy())
	require.NoError(t, err)
	tr.SetNowFunc(clock.Now)
	for _, n := range names {
		require.NoError(t, tr.Register(provider.Registration{Name: n, Weight: 1}))
	}
	return tr
}

// recordingSleeper captures backoff delays instead of waiting.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type mockModel struct {
	name      string
	invoke    func(ctx context.Context, req provider.InvokeRequest) (*provider.InvokeResponse, error)
	healthErr error
	closed    bool
}

func (m *mockModel) Name() string { return m.name }

func (m *mockModel) Close() error {
	m.closed = true
	return nil
}

func (m *mockModel) Invoke(ctx context.Context, req provider.InvokeRequest) (*provider.InvokeResponse, error) {
	if m.invoke != nil {
		return m.invoke(ctx, req)
	}
	return &provider.InvokeResponse{Content: "ok from " + m.name}, nil
}

func (m *mockModel) CheckHealth(context.Context) error { return m.healthErr }

type mockSearch struct {
	name string
}

func (m *mockSearch) Name() string { return m.name }

func (m *mockSearch) Close() error { return nil }

func (m *mockSearch) Search(context.Context, provider.SearchQuery) ([]provider.SearchResultItem, error) {
	return []provider.SearchResultItem{{ID: "1", Title: "t", Source: m.name}}, nil
}
