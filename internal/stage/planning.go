// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/sigil-dev/quill/internal/provider"
	"github.com/sigil-dev/quill/pkg/types"
)

const planningSystem = `You plan research briefs. Reply with one JSON object:
{"title": string, "objectives": [string], "queries": [string], "outline": [string]}`

const maxQueries = 5

type planView struct {
	Title      string   `mapstructure:"title"`
	Objectives []string `mapstructure:"objectives"`
	Queries    []string `mapstructure:"queries"`
	Outline    []string `mapstructure:"outline"`
}

type planning struct {
	b *Backends
}

func (p *planning) Stage() types.Stage { return types.StagePlanning }

func (p *planning) Execute(ctx context.Context, input map[string]any) (Output, error) {
	req, err := ParseRequest(input)
	if err != nil {
		return Output{}, err
	}

	resp, served, err := p.b.Invoke(ctx, provider.InvokeRequest{
		System:      planningSystem,
		Prompt:      planningPrompt(req),
		Temperature: 0.2,
	})
	if err != nil {
		return Output{}, stageError(types.StagePlanning, "model call", err)
	}

	var plan planView
	if err := decodeReply(resp.Content, &plan); err != nil {
		return Output{}, stageError(types.StagePlanning, "parsing plan", err)
	}

	// blanks are filled from the template plan and cost confidence
	tmpl := templatePlan(req)
	var warnings []string
	if plan.Title = strings.TrimSpace(plan.Title); plan.Title == "" {
		plan.Title = tmpl.Title
		warnings = append(warnings, templated("title"))
	}
	if plan.Objectives = nonEmpty(plan.Objectives); len(plan.Objectives) == 0 {
		plan.Objectives = tmpl.Objectives
		warnings = append(warnings, templated("objectives"))
	}
	if plan.Queries = nonEmpty(plan.Queries); len(plan.Queries) == 0 {
		plan.Queries = tmpl.Queries
		warnings = append(warnings, templated("queries"))
	}
	if plan.Outline = nonEmpty(plan.Outline); len(plan.Outline) == 0 {
		plan.Outline = tmpl.Outline
		warnings = append(warnings, templated("outline"))
	}
	if len(plan.Queries) > maxQueries {
		plan.Queries = plan.Queries[:maxQueries]
	}

	return Output{
		Success:    true,
		Data:       planData(req, plan),
		Confidence: clampConfidence(0.9-0.15*float64(len(warnings)), 0.3),
		Warnings:   warnings,
		Provider:   served,
	}, nil
}

func (p *planning) Fallback(_ context.Context, input map[string]any) (map[string]any, error) {
	req, err := ParseRequest(input)
	if err != nil {
		return nil, err
	}
	return planData(req, templatePlan(req)), nil
}

func (p *planning) Defaults(input map[string]any) map[string]any {
	var b brief
	_ = decode(input, &b)
	req := Request{Topic: b.Topic, Audience: b.Audience, WindowStart: b.WindowStart, WindowEnd: b.WindowEnd}
	plan := planView{
		Title:      brief{Topic: b.Topic}.titleOrDefault(),
		Objectives: []string{"Summarize the topic"},
		Queries:    nonEmpty([]string{b.Topic}),
		Outline:    []string{"Summary"},
	}
	return planData(req, plan)
}

func templated(field string) string {
	return "plan had no " + field + "; using template"
}

func planningPrompt(r Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", r.Topic)
	if r.Audience != "" {
		fmt.Fprintf(&b, "Audience: %s\n", r.Audience)
	}
	if r.WindowStart != "" || r.WindowEnd != "" {
		fmt.Fprintf(&b, "Time window: %s to %s\n", r.WindowStart, r.WindowEnd)
	}
	fmt.Fprintf(&b, "Propose at most %d search queries and an outline of section headings.", maxQueries)
	return b.String()
}

// templatePlan derives a plan from the request alone.
func templatePlan(r Request) planView {
	return planView{
		Title: "Research brief: " + r.Topic,
		Objectives: []string{
			"Summarize the current state of " + r.Topic,
			"Identify recent developments in " + r.Topic,
			"Outline open questions about " + r.Topic,
		},
		Queries: []string{
			r.Topic,
			r.Topic + " recent developments",
			r.Topic + " challenges",
		},
		Outline: []string{"Background", "Key findings", "Outlook"},
	}
}

func planData(r Request, p planView) map[string]any {
	data := brief{
		Topic:       r.Topic,
		Audience:    r.Audience,
		Title:       p.Title,
		WindowStart: r.WindowStart,
		WindowEnd:   r.WindowEnd,
	}.fields()
	data["objectives"] = list(p.Objectives)
	data["queries"] = list(p.Queries)
	data["outline"] = list(p.Outline)
	return data
}
