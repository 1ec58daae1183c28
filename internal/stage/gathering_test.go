// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package stage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/quill/internal/provider"
	"github.com/sigil-dev/quill/internal/provider/providertest"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/sigil-dev/quill/pkg/types"
)

var planOutput = map[string]any{
	"topic":   "grid storage",
	"title":   "Grid storage in 2025",
	"queries": []any{"deployments", "costs"},
	"outline": []any{"Deployments", "Costs"},
}

func TestGathering_CollectsAndDeduplicates(t *testing.T) {
	search := &providertest.Search{
		ID: "web",
		Results: map[string][]provider.SearchResultItem{
			"deployments": {
				{ID: "1", Title: "Texas batteries", URL: "https://a.example/tx", Snippet: "10 GW", RelevanceScore: 0.9},
				{ID: "2", Title: "California", URL: "https://a.example/ca", RelevanceScore: 0.7},
			},
			"costs": {
				{ID: "3", Title: "Texas batteries", URL: "https://a.example/tx", RelevanceScore: 0.8},
				{ID: "4", Title: "Cell prices", URL: "https://b.example/cells", RelevanceScore: 0.5},
			},
		},
	}
	gather := executor(t, newSet(t, search), types.StageGathering)

	out, err := gather.Execute(context.Background(), planOutput)
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Empty(t, out.Warnings)
	assert.ElementsMatch(t, []string{"deployments", "costs"}, search.Queries())

	findings, ok := out.Data["findings"].([]any)
	require.True(t, ok)
	require.Len(t, findings, 3)
	first := findings[0].(map[string]any)
	assert.Equal(t, "https://a.example/tx", first["url"])
	assert.Equal(t, "deployments", first["query"])
	assert.Equal(t, "web", first["source"])

	assert.Equal(t, []any{"https://a.example/tx", "https://a.example/ca", "https://b.example/cells"}, out.Data["sources"])
	assert.Equal(t, "Grid storage in 2025", out.Data["title"])
	assert.Equal(t, []any{"Deployments", "Costs"}, out.Data["outline"])
	require.Len(t, out.Sources, 3)
	assert.Equal(t, "https://a.example/tx", out.Sources[0].SourceID)

	// mean relevance 0.7, full coverage
	assert.InDelta(t, 0.5+0.45*0.7, out.Confidence, 1e-9)
}

func TestGathering_PartialFailureBecomesWarning(t *testing.T) {
	search := &providertest.Search{
		ID:      "web",
		Default: []provider.SearchResultItem{{ID: "1", Title: "t", URL: "https://a.example/1", RelevanceScore: 1}},
		Errs: map[string]error{
			"costs": quillerr.New(quillerr.CodeProviderRequestInvalid, "query rejected"),
		},
	}
	gather := executor(t, newSet(t, search), types.StageGathering)

	out, err := gather.Execute(context.Background(), planOutput)
	require.NoError(t, err)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], `query "costs" failed`)
	assert.InDelta(t, 0.95*0.5, out.Confidence, 1e-9)
}

func TestGathering_AllQueriesFail(t *testing.T) {
	search := &providertest.Search{ID: "web", Err: quillerr.New(quillerr.CodeProviderRequestInvalid, "bad key")}
	gather := executor(t, newSet(t, search), types.StageGathering)

	_, err := gather.Execute(context.Background(), planOutput)
	require.Error(t, err)
	assert.Equal(t, quillerr.CodeProviderRequestInvalid, quillerr.CodeOf(err))
}

func TestGathering_NoResults(t *testing.T) {
	gather := executor(t, newSet(t, &providertest.Search{ID: "web"}), types.StageGathering)

	_, err := gather.Execute(context.Background(), planOutput)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search returned no results")
}

func TestGathering_NoQueries(t *testing.T) {
	gather := executor(t, newSet(t, &providertest.Search{ID: "web"}), types.StageGathering)

	_, err := gather.Execute(context.Background(), map[string]any{"topic": "x"})
	require.Error(t, err)
	assert.Equal(t, quillerr.CodeStageExecuteFailure, quillerr.CodeOf(err))
}

func TestGathering_FallbackSummarizesWithModel(t *testing.T) {
	model := replyWith("Storage deployments doubled.")
	search := &providertest.Search{ID: "web", Err: errors.New("down")}
	gather := executor(t, newSet(t, model, search), types.StageGathering)

	data, err := gather.Fallback(context.Background(), planOutput)
	require.NoError(t, err)

	findings := data["findings"].([]any)
	require.Len(t, findings, 1)
	f := findings[0].(map[string]any)
	assert.Equal(t, "Storage deployments doubled.", f["snippet"])
	assert.Equal(t, "model", f["source"])
	assert.InDelta(t, 0.5, f["relevance"], 1e-9)
	assert.Contains(t, model.Requests()[0].Prompt, "- deployments\n- costs")
}

func TestGathering_Defaults(t *testing.T) {
	gather := executor(t, newSet(t, &providertest.Search{ID: "web"}), types.StageGathering)

	data := gather.Defaults(planOutput)
	assert.Equal(t, []any{}, data["findings"])
	assert.Equal(t, []any{}, data["sources"])
	assert.Equal(t, "grid storage", data["topic"])
}
