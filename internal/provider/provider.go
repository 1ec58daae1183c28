// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
)

// Provider is the part every backend shares.
type Provider interface {
	Name() string
	Close() error
}

// ModelProvider calls a large language model.
type ModelProvider interface {
	Provider
	Invoke(ctx context.Context, req InvokeRequest) (*InvokeResponse, error)
}

// SearchProvider runs retrieval queries.
type SearchProvider interface {
	Provider
	Search(ctx context.Context, q SearchQuery) ([]SearchResultItem, error)
}

// HealthChecker is implemented by providers that support a cheap liveness check.
// The health monitor calls it on every check interval.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// InvokeRequest is a single non-streaming model call.
type InvokeRequest struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// InvokeResponse is the model's reply.
type InvokeResponse struct {
	Content      string
	Usage        *Usage
	FinishReason string
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// SearchQuery is one retrieval request.
type SearchQuery struct {
	Query      string
	MaxResults int
}

// SearchResultItem is one retrieved document.
type SearchResultItem struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	URL            string  `json:"url"`
	Snippet        string  `json:"snippet"`
	RelevanceScore float64 `json:"relevance_score"`
	Source         string  `json:"source"`
}

// DefaultMaxTokens is used when an InvokeRequest leaves MaxTokens unset.
const DefaultMaxTokens = 2048
