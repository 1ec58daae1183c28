// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package stage implements the four research-brief stages: planning,
// gathering, specializing and compiling. Each stage consumes the previous
// stage's payload and carries the brief's identity fields forward.
package stage

import (
	"context"

	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/sigil-dev/quill/pkg/types"
)

// Output is what one stage execution produced. Data may hold partial
// output even when Execute returns an error.
type Output struct {
	Success    bool
	Data       map[string]any
	Confidence float64
	Errors     []string
	Warnings   []string
	Sources    []types.SourceAttribution
	// Provider is the provider that served the stage's main call, if any.
	Provider string
}

// Executor is one stage role.
type Executor interface {
	Stage() types.Stage
	// Execute runs the normal path.
	Execute(ctx context.Context, input map[string]any) (Output, error)
	// Fallback runs a simplified path that needs fewer providers.
	Fallback(ctx context.Context, input map[string]any) (map[string]any, error)
	// Defaults returns generic values good enough for later stages.
	Defaults(input map[string]any) map[string]any
}

// Set holds one Executor per stage. It serves the recovery manager's
// fallback and defaults lookups.
type Set struct {
	executors map[types.Stage]Executor
}

// NewSet creates the default research-brief stages over b.
func NewSet(b *Backends) *Set {
	return NewSetOf(
		&planning{b: b},
		&gathering{b: b},
		&specializing{b: b},
		&compiling{b: b},
	)
}

// NewSetOf builds a Set from explicit executors. Later executors replace
// earlier ones for the same stage.
func NewSetOf(executors ...Executor) *Set {
	s := &Set{executors: make(map[types.Stage]Executor, len(executors))}
	for _, e := range executors {
		s.executors[e.Stage()] = e
	}
	return s
}

// Executor returns the executor for stage.
func (s *Set) Executor(stage types.Stage) (Executor, error) {
	e, ok := s.executors[stage]
	if !ok {
		return nil, quillerr.New(quillerr.CodeStageInputInvalid,
			"no executor for stage "+string(stage), quillerr.FieldStage(string(stage)))
	}
	return e, nil
}

// Fallback runs stage's fallback path.
func (s *Set) Fallback(ctx context.Context, stage types.Stage, input map[string]any) (map[string]any, error) {
	e, err := s.Executor(stage)
	if err != nil {
		return nil, err
	}
	return e.Fallback(ctx, input)
}

// Defaults returns stage's default values.
func (s *Set) Defaults(stage types.Stage, input map[string]any) (map[string]any, bool) {
	e, err := s.Executor(stage)
	if err != nil {
		return nil, false
	}
	return e.Defaults(input), true
}

func stageError(stage types.Stage, msg string, err error) error {
	if err == nil {
		return quillerr.New(quillerr.CodeStageExecuteFailure, string(stage)+": "+msg,
			quillerr.FieldStage(string(stage)))
	}
	return quillerr.Wrap(err, quillerr.CodeStageExecuteFailure, string(stage)+": "+msg,
		quillerr.FieldStage(string(stage)))
}

// clampConfidence keeps a score within [floor, 1].
func clampConfidence(v, floor float64) float64 {
	return max(floor, min(1, v))
}
