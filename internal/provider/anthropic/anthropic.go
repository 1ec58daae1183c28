// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package anthropic

import (
	"context"
	"errors"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sigil-dev/quill/internal/provider"
)

// DefaultModel is used when neither the config nor the request names one.
const DefaultModel = "claude-sonnet-4-5"

// Config holds Anthropic provider configuration.
type Config struct {
	Name    string // registry name, defaults to "anthropic"
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
	Model   string
}

// Provider implements provider.ModelProvider using the Anthropic Messages API.
type Provider struct {
	client anthropicsdk.Client
	config Config
}

// New creates a new Anthropic provider. Returns an error if the API key is missing.
func New(cfg Config) (*Provider, error) {
	if cfg.Name == "" {
		cfg.Name = "anthropic"
	}
	if cfg.APIKey == "" {
		return nil, provider.MissingKey(cfg.Name)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	// retries belong to the failover coordinator
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Provider{
		client: anthropicsdk.NewClient(opts...),
		config: cfg,
	}, nil
}

func (p *Provider) Name() string { return p.config.Name }

// Invoke sends a single non-streaming Messages request.
func (p *Provider) Invoke(ctx context.Context, req provider.InvokeRequest) (*provider.InvokeResponse, error) {
	msg, err := p.client.Messages.New(ctx, buildParams(req, p.config.Model))
	if err != nil {
		return nil, p.wrap(err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return nil, provider.EmptyResponse(p.config.Name)
	}

	return &provider.InvokeResponse{
		Content: b.String(),
		Usage: &provider.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
		FinishReason: string(msg.StopReason),
	}, nil
}

// CheckHealth lists models, which needs a valid key but consumes no tokens.
func (p *Provider) CheckHealth(ctx context.Context) error {
	if _, err := p.client.Models.List(ctx, anthropicsdk.ModelListParams{}); err != nil {
		return p.wrap(err)
	}
	return nil
}

func (p *Provider) Close() error { return nil }

func (p *Provider) wrap(err error) error {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		return provider.UpstreamError(p.config.Name, apiErr.StatusCode, err)
	}
	return provider.UpstreamError(p.config.Name, 0, err)
}

// buildParams converts an InvokeRequest into Anthropic SDK MessageNewParams.
func buildParams(req provider.InvokeRequest, defaultModel string) anthropicsdk.MessageNewParams {
	model := req.Model
	if model == "" {
		model = defaultModel
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = provider.DefaultMaxTokens
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(req.Prompt)),
		},
	}

	if req.System != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropicsdk.Float(req.Temperature)
	}

	return params
}
