// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/quill/internal/pipeline"
	"github.com/sigil-dev/quill/internal/provider"
	"github.com/sigil-dev/quill/internal/server"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/sigil-dev/quill/pkg/types"
)

// fakeRuns is an in-memory RunService.
type fakeRuns struct {
	mu      sync.Mutex
	next    int
	runs    map[string]*pipeline.Status
	listErr error
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{runs: make(map[string]*pipeline.Status)}
}

func (f *fakeRuns) Start(_ context.Context, requestID string, input map[string]any) (string, error) {
	if topic, _ := input["topic"].(string); topic == "" {
		return "", quillerr.New(quillerr.CodePipelineInputInvalid, "topic is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := fmt.Sprintf("run-%d", f.next)
	now := time.Date(2026, 3, 1, 12, 0, f.next, 0, time.UTC)
	f.runs[id] = &pipeline.Status{
		RunID:     id,
		RequestID: requestID,
		State:     types.RunStatePlanning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return id, nil
}

func (f *fakeRuns) GetStatus(_ context.Context, runID string) (*pipeline.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.runs[runID]
	if !ok {
		return nil, quillerr.New(quillerr.CodePipelineRunNotFound, "run not found: "+runID)
	}
	cp := *st
	return &cp, nil
}

func (f *fakeRuns) Cancel(_ context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.runs[runID]
	if !ok {
		return quillerr.New(quillerr.CodePipelineRunNotFound, "run not found: "+runID)
	}
	if st.Done() {
		return quillerr.New(quillerr.CodePipelineTransitionInvalid, "run "+runID+" already finished")
	}
	st.State = types.RunStateFailed
	st.Failure = quillerr.Describe(quillerr.New(quillerr.CodePipelineRunCanceled, "run canceled"))
	return nil
}

func (f *fakeRuns) List(_ context.Context, limit int) ([]pipeline.Summary, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []pipeline.Summary
	for i := f.next; i >= 1; i-- {
		st, ok := f.runs[fmt.Sprintf("run-%d", i)]
		if !ok {
			continue
		}
		out = append(out, pipeline.Summary{
			RunID:     st.RunID,
			RequestID: st.RequestID,
			State:     st.State,
			CreatedAt: st.CreatedAt,
			UpdatedAt: st.UpdatedAt,
		})
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRuns) finish(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[id].State = types.RunStateCompleted
}

func newTracker(t *testing.T, names ...string) *provider.Tracker {
	t.Helper()
	tr, err := provider.NewTracker(provider.DefaultHealthPolicy())
	require.NoError(t, err)
	for _, n := range names {
		require.NoError(t, tr.Register(provider.Registration{Name: n, Weight: 1}))
	}
	return tr
}

type testServer struct {
	*server.Server
	runs    *fakeRuns
	tracker *provider.Tracker
}

func newTestServer(t *testing.T, mutate ...func(*server.Config)) *testServer {
	t.Helper()
	runs := newFakeRuns()
	tr := newTracker(t, "anthropic", "openai", "web")
	svc, err := server.NewServices(runs, tr)
	require.NoError(t, err)

	cfg := server.Config{
		ListenAddr:  "127.0.0.1:0",
		MetricsPath: "/metrics",
		Services:    svc,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	srv, err := server.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return &testServer{Server: srv, runs: runs, tracker: tr}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}
