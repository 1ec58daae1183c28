// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package openrouter_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sigil-dev/quill/internal/provider"
	"github.com/sigil-dev/quill/internal/provider/openrouter"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ provider.ModelProvider = (*openrouter.Provider)(nil)
	_ provider.HealthChecker = (*openrouter.Provider)(nil)
)

func TestOpenRouterProvider_Name(t *testing.T) {
	p, err := openrouter.New(openrouter.Config{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "openrouter", p.Name())
	assert.Equal(t, "https://openrouter.ai/api/v1", openrouter.BaseURL)
}

func TestOpenRouterProvider_MissingAPIKey(t *testing.T) {
	_, err := openrouter.New(openrouter.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openrouter: missing api_key")
	assert.True(t, quillerr.HasCode(err, quillerr.CodeProviderRequestInvalid))
}

func TestOpenRouterProvider_InvokeUsesDefaultModelAndAttribution(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "quill", r.Header.Get("X-Title"))
		assert.NotEmpty(t, r.Header.Get("HTTP-Referer"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "gen-1", "object": "chat.completion", "created": 1, "model": "anthropic/claude-sonnet-4-5",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "ok"}}],
			"usage": {"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2}
		}`))
	}))
	defer srv.Close()

	p, err := openrouter.New(openrouter.Config{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	resp, err := p.Invoke(context.Background(), provider.InvokeRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, openrouter.DefaultModel, body["model"])
}
