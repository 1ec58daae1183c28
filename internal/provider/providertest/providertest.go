// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package providertest provides scripted providers and a ready-made
// coordinator for tests of code that sits above the provider layer.
package providertest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/quill/internal/provider"
)

// Model is a ModelProvider whose replies come from Reply. A nil Reply
// answers with Content.
type Model struct {
	ID      string
	Content string
	Reply   func(ctx context.Context, req provider.InvokeRequest) (string, error)

	mu       sync.Mutex
	requests []provider.InvokeRequest
}

func (m *Model) Name() string { return m.ID }

func (m *Model) Close() error { return nil }

func (m *Model) Invoke(ctx context.Context, req provider.InvokeRequest) (*provider.InvokeResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.Reply == nil {
		return &provider.InvokeResponse{Content: m.Content}, nil
	}
	content, err := m.Reply(ctx, req)
	if err != nil {
		return nil, err
	}
	return &provider.InvokeResponse{Content: content}, nil
}

func (m *Model) CheckHealth(context.Context) error { return nil }

// Requests returns a copy of every request received.
func (m *Model) Requests() []provider.InvokeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]provider.InvokeRequest(nil), m.requests...)
}

// Search is a SearchProvider serving fixed results per query. Queries
// without an entry get Default. A non-nil Err fails every call; Errs
// fails single queries.
type Search struct {
	ID      string
	Results map[string][]provider.SearchResultItem
	Default []provider.SearchResultItem
	Err     error
	Errs    map[string]error

	mu      sync.Mutex
	queries []string
}

func (s *Search) Name() string { return s.ID }

func (s *Search) Close() error { return nil }

func (s *Search) Search(_ context.Context, q provider.SearchQuery) ([]provider.SearchResultItem, error) {
	s.mu.Lock()
	s.queries = append(s.queries, q.Query)
	s.mu.Unlock()

	if s.Err != nil {
		return nil, s.Err
	}
	if err := s.Errs[q.Query]; err != nil {
		return nil, err
	}
	items, ok := s.Results[q.Query]
	if !ok {
		items = s.Default
	}
	out := make([]provider.SearchResultItem, len(items))
	for i, it := range items {
		it.Source = s.ID
		out[i] = it
	}
	return out, nil
}

// Queries returns every query received, in arrival order.
func (s *Search) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

func (s *Search) CheckHealth(context.Context) error { return s.Err }

// Env is a registry, tracker and coordinator wired over fake providers.
// Backoff sleeps return immediately.
type Env struct {
	Registry    *provider.Registry
	Tracker     *provider.Tracker
	Coordinator *provider.Coordinator
}

// New registers providers with weight 1 and returns the wired Env. The
// registry is closed when the test ends.
func New(t testing.TB, providers ...provider.Provider) *Env {
	t.Helper()

	reg := provider.NewRegistry()
	tr, err := provider.NewTracker(provider.DefaultHealthPolicy())
	require.NoError(t, err)
	for _, p := range providers {
		require.NoError(t, reg.Register(p.Name(), p))
		require.NoError(t, tr.Register(provider.Registration{Name: p.Name(), Weight: 1}))
	}

	co := provider.NewCoordinator(tr, provider.Options{PerCallTimeout: 5 * time.Second})
	co.SetSleepFunc(func(ctx context.Context, _ time.Duration) error { return ctx.Err() })
	t.Cleanup(func() { _ = reg.Close() })

	return &Env{Registry: reg, Tracker: tr, Coordinator: co}
}
