// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package openrouter provides a model provider over OpenRouter's
// OpenAI-compatible API.
package openrouter

import (
	"github.com/sigil-dev/quill/internal/provider/openai"
)

const (
	baseURL = "https://openrouter.ai/api/v1"

	// DefaultModel is used when neither the config nor the request names one.
	DefaultModel = "anthropic/claude-sonnet-4-5"
)

// Config holds OpenRouter provider configuration.
type Config struct {
	Name    string // registry name, defaults to "openrouter"
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
	Model   string
}

// Provider is an OpenAI provider pointed at OpenRouter.
type Provider struct {
	*openai.Provider
}

// New creates a new OpenRouter provider. Returns an error if the API key is missing.
func New(cfg Config) (*Provider, error) {
	if cfg.Name == "" {
		cfg.Name = "openrouter"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = baseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	p, err := openai.New(openai.Config{
		Name:    cfg.Name,
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Headers: attributionHeaders(),
	})
	if err != nil {
		return nil, err
	}
	return &Provider{Provider: p}, nil
}

// attributionHeaders identify the app in OpenRouter's dashboard.
func attributionHeaders() map[string]string {
	return map[string]string{
		"HTTP-Referer": "https://github.com/sigil-dev/quill",
		"X-Title":      "quill",
	}
}
