// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package pipeline_test

import (
	"context"
	"errors"
	"maps"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/quill/internal/pipeline"
	"github.com/sigil-dev/quill/internal/stage"
	"github.com/sigil-dev/quill/pkg/types"
)

// stageFields are the fields each scripted stage adds on success.
var stageFields = map[types.Stage]map[string]any{
	types.StagePlanning: {
		"title":   "Tidal energy",
		"queries": []any{"tidal turbines"},
		"outline": []any{"Summary"},
	},
	types.StageGathering: {
		"findings": []any{map[string]any{"title": "t", "url": "https://a"}},
		"sources":  []any{"https://a"},
	},
	types.StageSpecializing: {
		"sections": []any{map[string]any{"heading": "Summary", "body": "b"}},
		"summary":  "short",
	},
	types.StageCompiling: {
		"document": "# Tidal energy\n",
	},
}

// scripted is a stage whose behaviour a test controls per call.
type scripted struct {
	stage types.Stage

	mu       sync.Mutex
	calls    int
	execute  func(ctx context.Context, call int, input map[string]any) (stage.Output, error)
	fallback func(ctx context.Context, input map[string]any) (map[string]any, error)
}

func (s *scripted) Stage() types.Stage { return s.stage }

func (s *scripted) Execute(ctx context.Context, input map[string]any) (stage.Output, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	if s.execute != nil {
		return s.execute(ctx, call, input)
	}
	return succeed(s.stage, input, 0.9), nil
}

func (s *scripted) Fallback(ctx context.Context, input map[string]any) (map[string]any, error) {
	if s.fallback == nil {
		return nil, errors.New("no fallback")
	}
	return s.fallback(ctx, input)
}

func (s *scripted) Defaults(input map[string]any) map[string]any {
	return withFields(s.stage, input)
}

func (s *scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func withFields(st types.Stage, input map[string]any) map[string]any {
	out := maps.Clone(input)
	if out == nil {
		out = map[string]any{}
	}
	maps.Copy(out, stageFields[st])
	return out
}

func succeed(st types.Stage, input map[string]any, confidence float64) stage.Output {
	return stage.Output{Success: true, Data: withFields(st, input), Confidence: confidence}
}

// stages returns scripted executors for every stage, with overrides
// replacing the defaults.
func stages(overrides ...*scripted) (map[types.Stage]*scripted, *stage.Set) {
	byStage := make(map[types.Stage]*scripted)
	for _, st := range types.Stages() {
		byStage[st] = &scripted{stage: st}
	}
	for _, o := range overrides {
		byStage[o.stage] = o
	}
	execs := make([]stage.Executor, 0, len(byStage))
	for _, st := range types.Stages() {
		execs = append(execs, byStage[st])
	}
	return byStage, stage.NewSetOf(execs...)
}

// transitions records every state change per run.
type transitions struct {
	mu     sync.Mutex
	states map[string][]types.RunState
}

func (tr *transitions) hooks() *pipeline.Hooks {
	tr.states = make(map[string][]types.RunState)
	return &pipeline.Hooks{
		OnTransition: func(runID string, _, to types.RunState) {
			tr.mu.Lock()
			tr.states[runID] = append(tr.states[runID], to)
			tr.mu.Unlock()
		},
	}
}

func (tr *transitions) of(runID string) []types.RunState {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]types.RunState(nil), tr.states[runID]...)
}

func newOrchestrator(t *testing.T, cfg pipeline.Config) *pipeline.Orchestrator {
	t.Helper()
	if cfg.Validate == nil {
		cfg.Validate = stage.Normalize
	}
	o, err := pipeline.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Shutdown(context.Background()) })
	return o
}

func brief() map[string]any {
	return map[string]any{"topic": "tidal energy", "audience": "engineers"}
}
