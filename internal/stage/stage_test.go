// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package stage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/quill/internal/stage"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/sigil-dev/quill/pkg/types"
)

type stubExecutor struct {
	stage    types.Stage
	fallback map[string]any
}

func (s stubExecutor) Stage() types.Stage { return s.stage }

func (s stubExecutor) Execute(context.Context, map[string]any) (stage.Output, error) {
	return stage.Output{Success: true}, nil
}

func (s stubExecutor) Fallback(context.Context, map[string]any) (map[string]any, error) {
	return s.fallback, nil
}

func (s stubExecutor) Defaults(map[string]any) map[string]any {
	return map[string]any{"default": string(s.stage)}
}

func TestNewSetCoversEveryStage(t *testing.T) {
	set := newSet(t, replyWith(""))
	for _, s := range types.Stages() {
		e, err := set.Executor(s)
		require.NoError(t, err)
		assert.Equal(t, s, e.Stage())
	}
}

func TestSetOf_LookupsAndOverrides(t *testing.T) {
	set := stage.NewSetOf(
		stubExecutor{stage: types.StagePlanning, fallback: map[string]any{"v": 1}},
		stubExecutor{stage: types.StagePlanning, fallback: map[string]any{"v": 2}},
	)

	data, err := set.Fallback(context.Background(), types.StagePlanning, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"v": 2}, data)

	defaults, ok := set.Defaults(types.StagePlanning, nil)
	assert.True(t, ok)
	assert.Equal(t, "planning", defaults["default"])

	_, err = set.Executor(types.StageCompiling)
	require.Error(t, err)
	assert.Equal(t, quillerr.CodeStageInputInvalid, quillerr.CodeOf(err))

	_, err = set.Fallback(context.Background(), types.StageCompiling, nil)
	assert.Error(t, err)
	_, ok = set.Defaults(types.StageCompiling, nil)
	assert.False(t, ok)
}

func TestBackendsCandidates(t *testing.T) {
	b := &stage.Backends{Models: []string{"m1", "m2"}, Searchers: []string{"s1"}}
	assert.Equal(t, []string{"m1", "m2"}, b.Candidates(types.StagePlanning))
	assert.Equal(t, []string{"s1"}, b.Candidates(types.StageGathering))
	assert.Equal(t, []string{"m1", "m2"}, b.Candidates(types.StageCompiling))

	var none *stage.Backends
	assert.Nil(t, none.Candidates(types.StageGathering))
}
