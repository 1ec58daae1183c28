// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sigil-dev/quill/internal/provider"
	"github.com/sigil-dev/quill/internal/provider/openai"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface satisfaction checks.
var (
	_ provider.ModelProvider = (*openai.Provider)(nil)
	_ provider.HealthChecker = (*openai.Provider)(nil)
)

func TestOpenAIProvider_Name(t *testing.T) {
	p := mustNewProvider(t, "")
	assert.Equal(t, "openai", p.Name())
}

func TestOpenAIProvider_MissingAPIKey(t *testing.T) {
	_, err := openai.New(openai.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
	assert.True(t, quillerr.IsInvalidInput(err), "missing API key should be CodeProviderRequestInvalid")
	assert.True(t, quillerr.HasCode(err, quillerr.CodeProviderRequestInvalid))
}

func TestBuildParams(t *testing.T) {
	t.Run("system prompt leads", func(t *testing.T) {
		params := openai.BuildParams(provider.InvokeRequest{
			System: "You compile briefs.",
			Prompt: "Compile.",
		}, openai.DefaultModel)

		assert.Equal(t, openai.DefaultModel, string(params.Model))
		require.Len(t, params.Messages, 2)
		assert.NotNil(t, params.Messages[0].OfSystem)
		assert.NotNil(t, params.Messages[1].OfUser)
		assert.Equal(t, int64(provider.DefaultMaxTokens), params.MaxCompletionTokens.Value)
		assert.False(t, params.Temperature.Valid())
	})

	t.Run("no system prompt", func(t *testing.T) {
		params := openai.BuildParams(provider.InvokeRequest{
			Model:       "o4-mini",
			Prompt:      "Compile.",
			MaxTokens:   64,
			Temperature: 0.7,
		}, openai.DefaultModel)

		assert.Equal(t, "o4-mini", string(params.Model))
		require.Len(t, params.Messages, 1)
		assert.Equal(t, int64(64), params.MaxCompletionTokens.Value)
		assert.InDelta(t, 0.7, params.Temperature.Value, 1e-9)
	})
}

func TestOpenAIProvider_Invoke(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		assert.Equal(t, "Bearer test-key-not-real", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4.1-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "# Tidal energy"}}],
			"usage": {"prompt_tokens": 20, "completion_tokens": 5, "total_tokens": 25}
		}`))
	}))
	defer srv.Close()

	p := mustNewProvider(t, srv.URL)
	resp, err := p.Invoke(context.Background(), provider.InvokeRequest{Prompt: "compile"})
	require.NoError(t, err)

	assert.Equal(t, "# Tidal energy", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 20, resp.Usage.InputTokens)
	assert.Equal(t, 5, resp.Usage.OutputTokens)
	assert.Equal(t, openai.DefaultModel, got["model"])
}

func TestOpenAIProvider_EmptyResponseIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`))
	}))
	defer srv.Close()

	p := mustNewProvider(t, srv.URL)
	_, err := p.Invoke(context.Background(), provider.InvokeRequest{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, quillerr.HasCode(err, quillerr.CodeProviderResponseInvalid))
	assert.True(t, quillerr.IsRetryable(err))
}

func TestOpenAIProvider_InvokeErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   quillerr.Kind
	}{
		{"rate limited", http.StatusTooManyRequests, quillerr.KindProviderError},
		{"gateway timeout", http.StatusGatewayTimeout, quillerr.KindProviderTimeout},
		{"unprocessable", http.StatusUnprocessableEntity, quillerr.KindProviderError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"error"}}`))
			}))
			defer srv.Close()

			p := mustNewProvider(t, srv.URL)
			_, err := p.Invoke(context.Background(), provider.InvokeRequest{Prompt: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.kind, quillerr.KindOf(err))
		})
	}
}

func TestOpenAIProvider_CheckHealthSendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models"), r.URL.Path)
		assert.Equal(t, "quill", r.Header.Get("X-Title"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[]}`))
	}))
	defer srv.Close()

	p, err := openai.New(openai.Config{
		APIKey:  "test-key-not-real",
		BaseURL: srv.URL,
		Headers: map[string]string{"X-Title": "quill"},
	})
	require.NoError(t, err)
	assert.NoError(t, p.CheckHealth(context.Background()))
}

// mustNewProvider creates a provider with a dummy API key for unit tests.
func mustNewProvider(t *testing.T, baseURL string) *openai.Provider {
	t.Helper()
	p, err := openai.New(openai.Config{
		APIKey:  "test-key-not-real",
		BaseURL: baseURL,
	})
	require.NoError(t, err)
	return p
}
