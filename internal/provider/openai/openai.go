// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package openai

import (
	"context"
	"errors"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
	"github.com/sigil-dev/quill/internal/provider"
)

// DefaultModel is used when neither the config nor the request names one.
const DefaultModel = "gpt-4.1-mini"

// Config holds OpenAI provider configuration. It also serves
// OpenAI-compatible endpoints such as OpenRouter.
type Config struct {
	Name    string // registry name, defaults to "openai"
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
	Model   string
	Headers map[string]string
}

// Provider implements provider.ModelProvider using the OpenAI Chat Completions API.
type Provider struct {
	client openaisdk.Client
	config Config
}

// New creates a new OpenAI provider. Returns an error if the API key is missing.
func New(cfg Config) (*Provider, error) {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.APIKey == "" {
		return nil, provider.MissingKey(cfg.Name)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	for k, v := range cfg.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}

	return &Provider{client: openaisdk.NewClient(opts...), config: cfg}, nil
}

func (p *Provider) Name() string { return p.config.Name }

// Invoke sends a single non-streaming chat completion.
func (p *Provider) Invoke(ctx context.Context, req provider.InvokeRequest) (*provider.InvokeResponse, error) {
	completion, err := p.client.Chat.Completions.New(ctx, buildParams(req, p.config.Model))
	if err != nil {
		return nil, p.wrap(err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return nil, provider.EmptyResponse(p.config.Name)
	}

	choice := completion.Choices[0]
	return &provider.InvokeResponse{
		Content: choice.Message.Content,
		Usage: &provider.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
		FinishReason: string(choice.FinishReason),
	}, nil
}

// CheckHealth lists models, which needs a valid key but consumes no tokens.
func (p *Provider) CheckHealth(ctx context.Context) error {
	if _, err := p.client.Models.List(ctx); err != nil {
		return p.wrap(err)
	}
	return nil
}

func (p *Provider) Close() error { return nil }

func (p *Provider) wrap(err error) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		return provider.UpstreamError(p.config.Name, apiErr.StatusCode, err)
	}
	return provider.UpstreamError(p.config.Name, 0, err)
}

// buildParams converts an InvokeRequest into OpenAI SDK ChatCompletionNewParams.
// The system prompt is sent as a leading system message.
func buildParams(req provider.InvokeRequest, defaultModel string) openaisdk.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = defaultModel
	}

	var msgs []openaisdk.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, openaisdk.SystemMessage(req.System))
	}
	msgs = append(msgs, openaisdk.UserMessage(req.Prompt))

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = provider.DefaultMaxTokens
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:               shared.ChatModel(model),
		Messages:            msgs,
		MaxCompletionTokens: param.NewOpt(int64(maxTokens)),
	}
	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	return params
}
