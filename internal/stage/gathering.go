// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package stage

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sigil-dev/quill/internal/provider"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/sigil-dev/quill/pkg/types"
)

const (
	resultsPerQuery    = 5
	maxParallelQueries = 3
)

type gatherView struct {
	Brief   brief    `mapstructure:",squash"`
	Queries []string `mapstructure:"queries"`
	Outline []string `mapstructure:"outline"`
}

type finding struct {
	Title     string  `mapstructure:"title"`
	URL       string  `mapstructure:"url"`
	Snippet   string  `mapstructure:"snippet"`
	Relevance float64 `mapstructure:"relevance"`
	Query     string  `mapstructure:"query"`
	Source    string  `mapstructure:"source"`
}

func (f finding) fields() map[string]any {
	return map[string]any{
		"title":     f.Title,
		"url":       f.URL,
		"snippet":   f.Snippet,
		"relevance": f.Relevance,
		"query":     f.Query,
		"source":    f.Source,
	}
}

type gathering struct {
	b *Backends
}

func (g *gathering) Stage() types.Stage { return types.StageGathering }

// Execute runs every planned query through the search providers. Queries
// that fail become warnings as long as at least one succeeds.
func (g *gathering) Execute(ctx context.Context, input map[string]any) (Output, error) {
	var in gatherView
	if err := decode(input, &in); err != nil {
		return Output{}, stageError(types.StageGathering, "decoding input", err)
	}
	queries := nonEmpty(in.Queries)
	if len(queries) == 0 {
		return Output{}, stageError(types.StageGathering, "plan has no queries", nil)
	}

	perQuery := make([][]provider.SearchResultItem, len(queries))
	errs := make([]error, len(queries))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(maxParallelQueries)
	for i, q := range queries {
		eg.Go(func() error {
			items, _, err := g.b.Search(egCtx, provider.SearchQuery{Query: q, MaxResults: resultsPerQuery})
			perQuery[i], errs[i] = items, err
			return nil
		})
	}
	_ = eg.Wait()

	var (
		findings []finding
		warnings []string
		failed   []error
		seen     = make(map[string]bool)
	)
	for i, q := range queries {
		if errs[i] != nil {
			failed = append(failed, errs[i])
			warnings = append(warnings, fmt.Sprintf("query %q failed: %v", q, errs[i]))
			continue
		}
		for _, item := range perQuery[i] {
			key := item.URL
			if key == "" {
				key = item.Source + "/" + item.ID
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			f := finding{
				Title:     item.Title,
				URL:       item.URL,
				Snippet:   item.Snippet,
				Relevance: item.RelevanceScore,
				Query:     q,
				Source:    item.Source,
			}
			warning, keep := g.screen(ctx, &f)
			if warning != "" {
				warnings = append(warnings, warning)
			}
			if keep {
				findings = append(findings, f)
			}
		}
	}

	if len(failed) == len(queries) {
		// every query failed; the last error says why
		return Output{}, failed[len(failed)-1]
	}
	if len(findings) == 0 {
		return Output{Warnings: warnings}, stageError(types.StageGathering, "search returned no results", nil)
	}

	var total float64
	sources := make([]types.SourceAttribution, 0, len(findings))
	for _, f := range findings {
		total += f.Relevance
		id := f.URL
		if id == "" {
			id = f.Source
		}
		sources = append(sources, types.SourceAttribution{SourceID: id, Confidence: f.Relevance, Relevance: f.Relevance})
	}
	mean := total / float64(len(findings))
	coverage := float64(len(queries)-len(failed)) / float64(len(queries))

	return Output{
		Success:    true,
		Data:       gatherData(in, findings),
		Confidence: clampConfidence((0.5+0.45*mean)*coverage, 0.3),
		Warnings:   warnings,
		Sources:    sources,
	}, nil
}

// screen runs a finding's title and snippet through the content screen.
// A blocked finding is dropped.
func (g *gathering) screen(ctx context.Context, f *finding) (string, bool) {
	var matched []string
	for _, field := range []*string{&f.Title, &f.Snippet} {
		text, rules, err := g.b.screenContent(ctx, *field)
		if err != nil {
			return fmt.Sprintf("dropped result %s: %v", f.label(), err), false
		}
		*field = text
		matched = append(matched, rules...)
	}
	if len(matched) == 0 {
		return "", true
	}
	return fmt.Sprintf("result %s matched %s", f.label(), strings.Join(slices.Compact(slices.Sorted(slices.Values(matched))), ", ")), true
}

func (f finding) label() string {
	if f.URL != "" {
		return f.URL
	}
	return fmt.Sprintf("%q", f.Title)
}

// Fallback summarizes the queries with a model instead of searching.
func (g *gathering) Fallback(ctx context.Context, input map[string]any) (map[string]any, error) {
	var in gatherView
	if err := decode(input, &in); err != nil {
		return nil, stageError(types.StageGathering, "decoding input", err)
	}
	queries := nonEmpty(in.Queries)
	if len(queries) == 0 {
		queries = nonEmpty([]string{in.Brief.Topic})
	}
	if len(queries) == 0 {
		return nil, quillerr.New(quillerr.CodeStageInputInvalid, "gathering: nothing to summarize")
	}

	resp, served, err := g.b.Invoke(ctx, provider.InvokeRequest{
		System: "Summarize what is generally known about each query in two sentences. No citations.",
		Prompt: "Queries:\n- " + strings.Join(queries, "\n- "),
	})
	if err != nil {
		return nil, stageError(types.StageGathering, "model summary", err)
	}

	return gatherData(in, []finding{{
		Title:     "Model summary",
		Snippet:   strings.TrimSpace(resp.Content),
		Relevance: 0.5,
		Query:     strings.Join(queries, "; "),
		Source:    served,
	}}), nil
}

func (g *gathering) Defaults(input map[string]any) map[string]any {
	var in gatherView
	_ = decode(input, &in)
	return gatherData(in, nil)
}

func gatherData(in gatherView, findings []finding) map[string]any {
	data := in.Brief.fields()
	if len(in.Outline) > 0 {
		data["outline"] = list(in.Outline)
	}
	items := make([]any, 0, len(findings))
	urls := make([]string, 0, len(findings))
	for _, f := range findings {
		items = append(items, f.fields())
		if f.URL != "" {
			urls = append(urls, f.URL)
		}
	}
	data["findings"] = items
	data["sources"] = list(urls)
	return data
}
