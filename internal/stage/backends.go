// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package stage

import (
	"context"

	"github.com/sigil-dev/quill/internal/provider"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/sigil-dev/quill/pkg/types"
)

// Backends routes stage calls through the failover coordinator.
type Backends struct {
	Coordinator *provider.Coordinator
	Registry    *provider.Registry
	// Models and Searchers are the candidate provider names per call kind.
	Models    []string
	Searchers []string
	// Screen checks fetched content and compiled documents. Nil disables it.
	Screen Screen
}

// Screen checks text entering the pipeline from third parties and text
// leaving it. Both return the text to use and the names of matched rules.
type Screen interface {
	Content(ctx context.Context, text string) (string, []string, error)
	Output(ctx context.Context, text string) (string, []string, error)
}

// Invoke calls a model provider.
func (b *Backends) Invoke(ctx context.Context, req provider.InvokeRequest) (*provider.InvokeResponse, string, error) {
	if b == nil || len(b.Models) == 0 {
		return nil, "", quillerr.New(quillerr.CodeProviderRoutingUnavailable,
			"no provider available, last error: no model providers configured")
	}
	res, err := provider.Execute(ctx, b.Coordinator, b.Models,
		func(ctx context.Context, name string) (*provider.InvokeResponse, error) {
			m, err := b.Registry.Model(name)
			if err != nil {
				return nil, err
			}
			return m.Invoke(ctx, req)
		})
	if err != nil {
		return nil, "", err
	}
	return res.Value, res.Provider, nil
}

// Search calls a search provider.
func (b *Backends) Search(ctx context.Context, q provider.SearchQuery) ([]provider.SearchResultItem, string, error) {
	if b == nil || len(b.Searchers) == 0 {
		return nil, "", quillerr.New(quillerr.CodeProviderRoutingUnavailable,
			"no provider available, last error: no search providers configured")
	}
	res, err := provider.Execute(ctx, b.Coordinator, b.Searchers,
		func(ctx context.Context, name string) ([]provider.SearchResultItem, error) {
			s, err := b.Registry.Search(name)
			if err != nil {
				return nil, err
			}
			return s.Search(ctx, q)
		})
	if err != nil {
		return nil, "", err
	}
	return res.Value, res.Provider, nil
}

// HasModels reports whether any model provider is configured.
func (b *Backends) HasModels() bool { return b != nil && len(b.Models) > 0 }

// Candidates returns the providers stage st calls.
func (b *Backends) Candidates(st types.Stage) []string {
	if b == nil {
		return nil
	}
	if st == types.StageGathering {
		return b.Searchers
	}
	return b.Models
}

func (b *Backends) screenContent(ctx context.Context, text string) (string, []string, error) {
	if b == nil || b.Screen == nil {
		return text, nil, nil
	}
	return b.Screen.Content(ctx, text)
}

func (b *Backends) screenOutput(ctx context.Context, text string) (string, []string, error) {
	if b == nil || b.Screen == nil {
		return text, nil, nil
	}
	return b.Screen.Output(ctx, text)
}
