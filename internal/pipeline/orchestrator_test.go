// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package pipeline_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/quill/internal/pipeline"
	"github.com/sigil-dev/quill/internal/recovery"
	"github.com/sigil-dev/quill/internal/stage"
	"github.com/sigil-dev/quill/internal/store"
	"github.com/sigil-dev/quill/internal/store/memory"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/sigil-dev/quill/pkg/types"
)

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []recovery.Alert
}

func (a *recordingAlerter) Alert(_ context.Context, al recovery.Alert) {
	a.mu.Lock()
	a.alerts = append(a.alerts, al)
	a.mu.Unlock()
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

func failing(st types.Stage, code quillerr.Code, fields ...quillerr.Attr) *scripted {
	return &scripted{
		stage: st,
		execute: func(context.Context, int, map[string]any) (stage.Output, error) {
			return stage.Output{}, quillerr.New(code, string(st)+" broke", fields...)
		},
	}
}

func TestRunPipeline_AllStagesSucceed(t *testing.T) {
	_, set := stages()
	var tr transitions
	o := newOrchestrator(t, pipeline.Config{Stages: set, Hooks: tr.hooks()})

	status, err := o.RunPipeline(context.Background(), "req-1", brief())
	require.NoError(t, err)

	assert.Equal(t, types.RunStateCompleted, status.State)
	assert.Equal(t, "req-1", status.RequestID)
	assert.InDelta(t, 1.0, status.Progress, 1e-9)
	require.Len(t, status.StageResults, 4)
	for i, st := range types.Stages() {
		assert.Equal(t, st, status.StageResults[i].Stage)
		assert.True(t, status.StageResults[i].Success)
		assert.False(t, status.StageResults[i].Degraded)
	}

	require.NotNil(t, status.Result)
	assert.True(t, status.Result.Success)
	assert.GreaterOrEqual(t, status.Result.Confidence, 0.85)
	assert.Empty(t, status.Result.Conflicts)
	assert.Nil(t, status.Failure)

	assert.Equal(t, []types.RunState{
		types.RunStateGathering,
		types.RunStateSpecializing,
		types.RunStateCompiling,
		types.RunStateCompleted,
	}, tr.of(status.RunID))
}

func TestRunPipeline_EachStageGetsPreviousOutput(t *testing.T) {
	var seen map[string]any
	spec := &scripted{
		stage: types.StageSpecializing,
		execute: func(_ context.Context, _ int, input map[string]any) (stage.Output, error) {
			seen = input
			return succeed(types.StageSpecializing, input, 0.9), nil
		},
	}
	_, set := stages(spec)
	o := newOrchestrator(t, pipeline.Config{Stages: set})

	_, err := o.RunPipeline(context.Background(), "", brief())
	require.NoError(t, err)

	assert.Equal(t, "tidal energy", seen["topic"])
	assert.Equal(t, "Tidal energy", seen["title"])
	assert.Equal(t, []any{"https://a"}, seen["sources"])
	assert.NotContains(t, seen, "document")
}

func TestRunPipeline_InvalidInputCreatesNoRun(t *testing.T) {
	byStage, set := stages()
	o := newOrchestrator(t, pipeline.Config{Stages: set})

	status, err := o.RunPipeline(context.Background(), "req", map[string]any{"audience": "x"})
	require.Error(t, err)
	assert.Nil(t, status)
	assert.Equal(t, quillerr.KindValidation, quillerr.KindOf(err))
	assert.Zero(t, byStage[types.StagePlanning].Calls())

	runs, err := o.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRunPipeline_StageFallbackMarksDegraded(t *testing.T) {
	gathering := failing(types.StageGathering, quillerr.CodeStageExecuteFailure)
	gathering.fallback = func(_ context.Context, input map[string]any) (map[string]any, error) {
		return withFields(types.StageGathering, input), nil
	}
	byStage, set := stages(gathering)
	o := newOrchestrator(t, pipeline.Config{Stages: set})

	status, err := o.RunPipeline(context.Background(), "req", brief())
	require.NoError(t, err)
	assert.Equal(t, types.RunStateCompleted, status.State)

	// two retries before the fallback
	assert.Equal(t, 3, byStage[types.StageGathering].Calls())

	require.Len(t, status.StageResults, 4)
	g := status.StageResults[1]
	assert.Equal(t, types.StageGathering, g.Stage)
	assert.True(t, g.Degraded)
	assert.True(t, g.Success)
	assert.Equal(t, string(recovery.ActionFallback), g.Recovery)
	assert.Equal(t, 3, g.Attempts)
	require.NotEmpty(t, g.Errors)
	assert.Contains(t, g.Errors[0], "gathering broke")

	require.NotNil(t, status.Result)
	assert.Contains(t, status.Result.Warnings, "stage gathering produced degraded data (recovery: fallback)")
}

func TestRunPipeline_ValidationErrorInStageAbortsWithoutRecovery(t *testing.T) {
	gathering := failing(types.StageGathering, quillerr.CodeStageInputInvalid)
	gathering.fallback = func(context.Context, map[string]any) (map[string]any, error) {
		t.Fatal("fallback must not run for validation errors")
		return nil, nil
	}
	byStage, set := stages(gathering)
	o := newOrchestrator(t, pipeline.Config{Stages: set})

	status, err := o.RunPipeline(context.Background(), "req", brief())
	require.Error(t, err)
	assert.Equal(t, 1, byStage[types.StageGathering].Calls())
	assert.Equal(t, types.RunStateFailed, status.State)
	require.NotNil(t, status.Failure)
	assert.Equal(t, quillerr.KindValidation, status.Failure.Kind)
	assert.False(t, status.Failure.Retryable)

	// planning completed, so a degraded partial synthesis exists
	require.Len(t, status.StageResults, 1)
	require.NotNil(t, status.Result)
	assert.True(t, status.Result.Degraded)
}

func TestRunPipeline_ProviderFailureUsesCachedData(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(0)
	cache := store.NewStaleLookup(mem, mem, 0)

	planned := withFields(types.StagePlanning, map[string]any{"topic": "tidal energy", "audience": "engineers"})
	require.NoError(t, cache.Remember(ctx, types.StageGathering, planned,
		withFields(types.StageGathering, planned), 0.8))

	gathering := failing(types.StageGathering, quillerr.CodeProviderFailoverExhausted, quillerr.FieldProvider("search"))
	_, set := stages(gathering)
	o := newOrchestrator(t, pipeline.Config{
		Stages:     set,
		Cache:      cache,
		Candidates: func(types.Stage) []string { return []string{"search"} },
		Recovery: recovery.NewManager(recovery.Options{
			Cache:        cache,
			Availability: fixed{},
		}),
	})

	status, err := o.RunPipeline(ctx, "req", brief())
	require.NoError(t, err)
	g := status.StageResults[1]
	assert.True(t, g.Degraded)
	assert.Equal(t, string(recovery.ActionCachedData), g.Recovery)
	assert.Equal(t, []any{"https://a"}, g.Data["sources"])
}

// fixed reports no provider as available.
type fixed struct{}

func (fixed) AvailableProviders([]string) []string { return nil }

func TestRunPipeline_RestartsOnceFromPlanning(t *testing.T) {
	specializing := &scripted{
		stage: types.StageSpecializing,
		execute: func(_ context.Context, call int, input map[string]any) (stage.Output, error) {
			if call == 1 {
				return stage.Output{}, quillerr.New(quillerr.CodePipelineRunFailure, "outline and findings are inconsistent")
			}
			return succeed(types.StageSpecializing, input, 0.9), nil
		},
	}
	byStage, set := stages(specializing)
	var tr transitions
	o := newOrchestrator(t, pipeline.Config{Stages: set, Hooks: tr.hooks()})

	status, err := o.RunPipeline(context.Background(), "req", brief())
	require.NoError(t, err)

	assert.Equal(t, types.RunStateCompleted, status.State)
	assert.Equal(t, 1, status.Restarts)
	assert.Equal(t, 2, byStage[types.StagePlanning].Calls())
	require.Len(t, status.StageResults, 4, "a restart discards the earlier results")

	assert.Equal(t, []types.RunState{
		types.RunStateGathering,
		types.RunStateSpecializing,
		types.RunStatePlanning,
		types.RunStateGathering,
		types.RunStateSpecializing,
		types.RunStateCompiling,
		types.RunStateCompleted,
	}, tr.of(status.RunID))
}

func TestRunPipeline_SkipsNonCriticalStageAfterRestart(t *testing.T) {
	gathering := failing(types.StageGathering, quillerr.CodePipelineRunFailure)
	byStage, set := stages(gathering)
	o := newOrchestrator(t, pipeline.Config{
		Stages: set,
		Recovery: recovery.NewManager(recovery.Options{
			CriticalStages: []types.Stage{types.StagePlanning, types.StageCompiling},
		}),
	})

	status, err := o.RunPipeline(context.Background(), "req", brief())
	require.NoError(t, err)
	assert.Equal(t, types.RunStateCompleted, status.State)
	assert.Equal(t, 2, byStage[types.StageGathering].Calls())

	g := status.StageResults[1]
	assert.False(t, g.Success)
	assert.True(t, g.Degraded)
	assert.Equal(t, string(recovery.ActionSkip), g.Recovery)
	assert.Equal(t, 1, status.Restarts)
}

func TestRunPipeline_CriticalStageFailureFailsRun(t *testing.T) {
	planning := failing(types.StagePlanning, quillerr.CodeStageExecuteFailure)
	byStage, set := stages(planning)
	o := newOrchestrator(t, pipeline.Config{
		Stages: set,
		Recovery: recovery.NewManager(recovery.Options{
			CriticalStages: []types.Stage{types.StagePlanning},
		}),
	})

	status, err := o.RunPipeline(context.Background(), "req", brief())
	require.Error(t, err)
	assert.Equal(t, types.RunStateFailed, status.State)
	// three attempts, a restart, three more attempts
	assert.Equal(t, 6, byStage[types.StagePlanning].Calls())
	assert.Empty(t, status.StageResults)
	assert.Nil(t, status.Result)
	require.NotNil(t, status.Failure)
	assert.Equal(t, quillerr.KindStageExecution, status.Failure.Kind)
	assert.True(t, status.Failure.Retryable)
}

func TestRunPipeline_SystemFailureAlertsAndSynthesizesPartial(t *testing.T) {
	specializing := failing(types.StageSpecializing, quillerr.CodeSystemResourceFailure)
	alerter := &recordingAlerter{}
	byStage, set := stages(specializing)
	o := newOrchestrator(t, pipeline.Config{
		Stages:   set,
		Recovery: recovery.NewManager(recovery.Options{Fallbacks: set, Defaults: set, Alerter: alerter}),
	})

	status, err := o.RunPipeline(context.Background(), "req", brief())
	require.Error(t, err)
	assert.Equal(t, quillerr.KindSystem, quillerr.KindOf(err))
	assert.Equal(t, 1, byStage[types.StageSpecializing].Calls())
	assert.Equal(t, 1, alerter.count())

	assert.Equal(t, types.RunStateFailed, status.State)
	require.Len(t, status.StageResults, 2)
	require.NotNil(t, status.Result)
	assert.True(t, status.Result.Degraded)
	assert.Len(t, status.Result.Quality.Stages, 2)
	assert.Equal(t, quillerr.KindSystem, status.Failure.Kind)
	assert.False(t, status.Failure.Retryable)
}

func TestRunPipeline_StageTimeout(t *testing.T) {
	compiling := &scripted{
		stage: types.StageCompiling,
		execute: func(ctx context.Context, _ int, _ map[string]any) (stage.Output, error) {
			<-ctx.Done()
			return stage.Output{}, ctx.Err()
		},
		fallback: func(_ context.Context, input map[string]any) (map[string]any, error) {
			return withFields(types.StageCompiling, input), nil
		},
	}
	_, set := stages(compiling)
	o := newOrchestrator(t, pipeline.Config{Stages: set, StageTimeout: 20 * time.Millisecond})

	status, err := o.RunPipeline(context.Background(), "req", brief())
	require.NoError(t, err)
	c := status.StageResults[3]
	assert.True(t, c.Degraded)
	assert.Contains(t, c.Errors[0], "exceeded")
}

func TestStartCancelAndWait(t *testing.T) {
	started := make(chan struct{}, 2)
	gathering := &scripted{
		stage: types.StageGathering,
		execute: func(ctx context.Context, _ int, _ map[string]any) (stage.Output, error) {
			started <- struct{}{}
			<-ctx.Done()
			return stage.Output{}, ctx.Err()
		},
	}
	_, set := stages(gathering)
	o := newOrchestrator(t, pipeline.Config{Stages: set})

	ctx := context.Background()
	id, err := o.Start(ctx, "req", brief())
	require.NoError(t, err)
	<-started

	other, err := o.Start(ctx, "req-2", map[string]any{"topic": "wave power"})
	require.NoError(t, err)
	<-started

	require.NoError(t, o.Cancel(ctx, id))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	status, err := o.Wait(waitCtx, id)
	require.NoError(t, err)
	assert.Equal(t, types.RunStateFailed, status.State)
	require.NotNil(t, status.Failure)
	assert.Equal(t, quillerr.KindCanceled, status.Failure.Kind)
	require.NotNil(t, status.Result, "planning finished before the cancel")
	assert.True(t, status.Result.Degraded)

	// canceling one run leaves the other alone; it blocks in gathering too
	st, err := o.GetStatus(ctx, other)
	require.NoError(t, err)
	assert.False(t, st.Done())
	require.NoError(t, o.Cancel(ctx, other))
	_, err = o.Wait(waitCtx, other)
	require.NoError(t, err)

	err = o.Cancel(ctx, id)
	assert.True(t, quillerr.HasCode(err, quillerr.CodePipelineTransitionInvalid))
}

// cancelOnCreate cancels a run from inside the first SaveRun, the first
// moment the run is visible to other callers.
type cancelOnCreate struct {
	*memory.Store
	once   sync.Once
	o      *pipeline.Orchestrator
	cancel error
}

func (c *cancelOnCreate) SaveRun(ctx context.Context, rec *store.RunRecord) error {
	c.once.Do(func() { c.cancel = c.o.Cancel(ctx, rec.ID) })
	return c.Store.SaveRun(ctx, rec)
}

func TestRunPipeline_CancelRightAfterCreation(t *testing.T) {
	byStage, set := stages()
	runs := &cancelOnCreate{Store: memory.New(0)}
	o := newOrchestrator(t, pipeline.Config{Stages: set, Runs: runs})
	runs.o = o

	status, err := o.RunPipeline(context.Background(), "req", brief())
	require.Error(t, err)
	require.NoError(t, runs.cancel)

	assert.True(t, quillerr.IsCanceled(err))
	assert.Equal(t, types.RunStateFailed, status.State)
	assert.Zero(t, byStage[types.StagePlanning].Calls())
}

func TestGetStatusAndCancelUnknownRun(t *testing.T) {
	_, set := stages()
	o := newOrchestrator(t, pipeline.Config{Stages: set})

	_, err := o.GetStatus(context.Background(), "nope")
	assert.True(t, quillerr.IsNotFound(err))
	assert.True(t, quillerr.IsNotFound(o.Cancel(context.Background(), "nope")))
}

func TestRunsArePersisted(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(0)
	cache := store.NewStaleLookup(mem, mem, 0)
	_, set := stages()
	o := newOrchestrator(t, pipeline.Config{Stages: set, Runs: mem, Cache: cache})

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	o.SetNowFunc(func() time.Time {
		now = now.Add(time.Second)
		return now
	})

	first, err := o.RunPipeline(ctx, "a", brief())
	require.NoError(t, err)
	second, err := o.RunPipeline(ctx, "b", brief())
	require.NoError(t, err)

	rec, err := mem.GetRun(ctx, first.RunID)
	require.NoError(t, err)
	assert.Equal(t, types.RunStateCompleted, rec.State)
	assert.Len(t, rec.Results, 4)
	require.NotNil(t, rec.Synthesis)

	// served from the store once the run left memory
	st, err := o.GetStatus(ctx, first.RunID)
	require.NoError(t, err)
	assert.Equal(t, types.RunStateCompleted, st.State)
	assert.InDelta(t, first.Result.Confidence, st.Result.Confidence, 1e-9)

	runs, err := o.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.RunID, runs[0].RunID)
	assert.Equal(t, first.RunID, runs[1].RunID)

	limited, err := o.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, second.RunID, limited[0].RunID)

	// successful stage output is cached under its input
	input, err := stage.Normalize(brief())
	require.NoError(t, err)
	cached, ok, err := cache.Stale(ctx, types.StagePlanning, input)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Tidal energy", cached["title"])
}

func TestNewRequiresStages(t *testing.T) {
	_, err := pipeline.New(pipeline.Config{})
	require.Error(t, err)
	assert.Equal(t, quillerr.KindSystem, quillerr.KindOf(err))
}
