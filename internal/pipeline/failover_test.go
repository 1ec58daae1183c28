// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package pipeline_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/quill/internal/pipeline"
	"github.com/sigil-dev/quill/internal/provider"
	"github.com/sigil-dev/quill/internal/provider/providertest"
	"github.com/sigil-dev/quill/internal/recovery"
	"github.com/sigil-dev/quill/internal/stage"
	"github.com/sigil-dev/quill/pkg/types"
)

const planReply = `{"title": "Tidal energy", "objectives": ["Compare sites"],
"queries": ["tidal turbines"], "outline": ["Summary"]}`

func rejecting(name string) *providertest.Model {
	return &providertest.Model{ID: name, Reply: func(context.Context, provider.InvokeRequest) (string, error) {
		return "", provider.UpstreamError(name, http.StatusBadRequest, errors.New("prompt too long"))
	}}
}

func searchWeb() *providertest.Search {
	return &providertest.Search{ID: "web", Default: []provider.SearchResultItem{
		{ID: "1", Title: "Tidal turbines", URL: "https://a.example/tidal", Snippet: "Output grew.", RelevanceScore: 0.8},
	}}
}

// realStages wires the default stages over fake providers.
func realStages(t *testing.T, providers ...provider.Provider) *stage.Set {
	t.Helper()
	env := providertest.New(t, providers...)
	return stage.NewSet(&stage.Backends{
		Coordinator: env.Coordinator,
		Registry:    env.Registry,
		Models:      env.Registry.ModelNames(),
		Searchers:   env.Registry.SearchNames(),
	})
}

func TestRunPipeline_RejectedRequestFailsOverToNextModel(t *testing.T) {
	bad := rejecting("a-bad")
	good := &providertest.Model{ID: "b-good", Content: planReply}
	set := realStages(t, bad, good, searchWeb())
	o := newOrchestrator(t, pipeline.Config{
		Stages: set,
		Recovery: recovery.NewManager(recovery.Options{
			Fallbacks:      set,
			Defaults:       set,
			CriticalStages: []types.Stage{types.StagePlanning},
		}),
	})

	status, err := o.RunPipeline(context.Background(), "req", brief())
	require.NoError(t, err)
	assert.Equal(t, types.RunStateCompleted, status.State)

	require.NotEmpty(t, status.StageResults)
	plan := status.StageResults[0]
	assert.Equal(t, types.StagePlanning, plan.Stage)
	assert.True(t, plan.Success)
	assert.False(t, plan.Degraded)
	assert.Equal(t, 1, plan.Attempts)
	assert.Equal(t, "Tidal energy", plan.Data["title"])

	assert.Len(t, bad.Requests(), 1, "a rejecting provider is not preferred again")
	assert.NotEmpty(t, good.Requests())
}

func TestRunPipeline_RejectedRequestFallsBackWithoutModel(t *testing.T) {
	set := realStages(t, rejecting("model"), searchWeb())
	o := newOrchestrator(t, pipeline.Config{
		Stages: set,
		Recovery: recovery.NewManager(recovery.Options{
			Fallbacks:      set,
			Defaults:       set,
			CriticalStages: []types.Stage{types.StagePlanning, types.StageCompiling},
		}),
	})

	status, err := o.RunPipeline(context.Background(), "req", brief())
	require.NoError(t, err)
	assert.Equal(t, types.RunStateCompleted, status.State)
	assert.Zero(t, status.Restarts)

	require.Len(t, status.StageResults, 4)
	plan := status.StageResults[0]
	assert.True(t, plan.Success)
	assert.True(t, plan.Degraded)
	assert.Equal(t, string(recovery.ActionFallback), plan.Recovery)
	assert.Equal(t, 3, plan.Attempts, "two stage retries before the fallback")
	require.NotEmpty(t, plan.Errors)
	assert.Contains(t, plan.Errors[0], "request rejected")

	compiled := status.StageResults[3]
	assert.Equal(t, string(recovery.ActionFallback), compiled.Recovery)
	assert.Contains(t, compiled.Data["document"], "# ")
}
