// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package google

import (
	"context"
	"errors"

	"google.golang.org/genai"

	"github.com/sigil-dev/quill/internal/provider"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
)

// DefaultModel is used when neither the config nor the request names one.
const DefaultModel = "gemini-2.5-flash"

// Config holds Google provider configuration.
type Config struct {
	Name    string // registry name, defaults to "google"
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
	Model   string
}

// Provider implements provider.ModelProvider using the Google Gemini API.
type Provider struct {
	client *genai.Client
	config Config
}

// New creates a new Google provider. Returns an error if the API key is missing.
func New(cfg Config) (*Provider, error) {
	if cfg.Name == "" {
		cfg.Name = "google"
	}
	if cfg.APIKey == "" {
		return nil, provider.MissingKey(cfg.Name)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, quillerr.Wrapf(err, quillerr.CodeProviderUpstreamFailure, "%s: creating client", cfg.Name)
	}

	return &Provider{client: client, config: cfg}, nil
}

func (p *Provider) Name() string { return p.config.Name }

// Invoke sends a single GenerateContent request.
func (p *Provider) Invoke(ctx context.Context, req provider.InvokeRequest) (*provider.InvokeResponse, error) {
	model := req.Model
	if model == "" {
		model = p.config.Model
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), buildConfig(req))
	if err != nil {
		return nil, p.wrap(err)
	}

	text := resp.Text()
	if text == "" {
		return nil, provider.EmptyResponse(p.config.Name)
	}

	out := &provider.InvokeResponse{Content: text}
	if len(resp.Candidates) > 0 {
		out.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	if resp.UsageMetadata != nil {
		out.Usage = &provider.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

// CheckHealth lists one page of models.
func (p *Provider) CheckHealth(ctx context.Context) error {
	if _, err := p.client.Models.List(ctx, &genai.ListModelsConfig{PageSize: 1}); err != nil {
		return p.wrap(err)
	}
	return nil
}

func (p *Provider) Close() error { return nil }

func (p *Provider) wrap(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return provider.UpstreamError(p.config.Name, apiErr.Code, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return provider.UpstreamError(p.config.Name, apiErrPtr.Code, err)
	}
	return provider.UpstreamError(p.config.Name, 0, err)
}

// buildConfig converts an InvokeRequest into a genai.GenerateContentConfig.
func buildConfig(req provider.InvokeRequest) *genai.GenerateContentConfig {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = provider.DefaultMaxTokens
	}

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	return cfg
}
