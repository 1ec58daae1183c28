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

const specializingSystem = `You draft sections of a research brief from findings. Reply with one JSON object:
{"sections": [{"heading": string, "body": string}], "summary": string}`

const maxFindingsInPrompt = 20

type specializeView struct {
	Brief    brief     `mapstructure:",squash"`
	Outline  []string  `mapstructure:"outline"`
	Findings []finding `mapstructure:"findings"`
	Sources  []string  `mapstructure:"sources"`
}

type section struct {
	Heading string `mapstructure:"heading"`
	Body    string `mapstructure:"body"`
}

type draftView struct {
	Sections []section `mapstructure:"sections"`
	Summary  string    `mapstructure:"summary"`
}

type specializing struct {
	b *Backends
}

func (s *specializing) Stage() types.Stage { return types.StageSpecializing }

func (s *specializing) Execute(ctx context.Context, input map[string]any) (Output, error) {
	var in specializeView
	if err := decode(input, &in); err != nil {
		return Output{}, stageError(types.StageSpecializing, "decoding input", err)
	}
	outline := nonEmpty(in.Outline)
	if len(outline) == 0 {
		outline = []string{"Summary"}
	}

	resp, served, err := s.b.Invoke(ctx, provider.InvokeRequest{
		System:      specializingSystem,
		Prompt:      specializingPrompt(in, outline),
		MaxTokens:   4096,
		Temperature: 0.4,
	})
	if err != nil {
		return Output{}, stageError(types.StageSpecializing, "model call", err)
	}

	var draft draftView
	if err := decodeReply(resp.Content, &draft); err != nil {
		return Output{}, stageError(types.StageSpecializing, "parsing drafts", err)
	}

	// outline entries the model skipped are filled from grouped findings
	var valid []section
	drafted := make(map[string]section, len(draft.Sections))
	for _, sec := range draft.Sections {
		h, body := strings.TrimSpace(sec.Heading), strings.TrimSpace(sec.Body)
		if h == "" || body == "" {
			continue
		}
		valid = append(valid, section{Heading: h, Body: body})
		drafted[strings.ToLower(h)] = valid[len(valid)-1]
	}
	if len(valid) == 0 {
		return Output{}, stageError(types.StageSpecializing, "model drafted no sections", nil)
	}

	grouped := groupFindings(in.Findings, outline)
	var (
		sections []section
		warnings []string
	)
	for i, heading := range outline {
		if sec, ok := drafted[strings.ToLower(heading)]; ok {
			sections = append(sections, sec)
			continue
		}
		sections = append(sections, grouped[i])
		warnings = append(warnings, fmt.Sprintf("section %q was not drafted; using grouped findings", heading))
	}
	if len(warnings) == len(outline) {
		// the model ignored the outline; keep its own headings
		outline = make([]string, len(valid))
		for i, sec := range valid {
			outline[i] = sec.Heading
		}
		sections = valid
		warnings = []string{"drafted headings differ from the outline"}
	}

	summary := strings.TrimSpace(draft.Summary)
	if summary == "" {
		summary = fallbackSummary(in)
		warnings = append(warnings, "model gave no summary")
	}

	matched := 0
	for _, sec := range sections {
		if _, ok := drafted[strings.ToLower(sec.Heading)]; ok {
			matched++
		}
	}
	return Output{
		Success:    true,
		Data:       specializeData(in, outline, sections, summary),
		Confidence: clampConfidence(0.5+0.4*float64(matched)/float64(len(outline))-0.1*float64(len(warnings)), 0.3),
		Warnings:   warnings,
		Provider:   served,
	}, nil
}

// Fallback groups findings under the outline headings without a model.
func (s *specializing) Fallback(_ context.Context, input map[string]any) (map[string]any, error) {
	var in specializeView
	if err := decode(input, &in); err != nil {
		return nil, stageError(types.StageSpecializing, "decoding input", err)
	}
	outline := nonEmpty(in.Outline)
	if len(outline) == 0 {
		outline = []string{"Summary"}
	}
	return specializeData(in, outline, groupFindings(in.Findings, outline), fallbackSummary(in)), nil
}

func (s *specializing) Defaults(input map[string]any) map[string]any {
	var in specializeView
	_ = decode(input, &in)
	outline := []string{"Summary"}
	return specializeData(in, outline,
		[]section{{Heading: "Summary", Body: "No findings were available."}}, "")
}

func specializingPrompt(in specializeView, outline []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Brief: %s\nTopic: %s\n", in.Brief.titleOrDefault(), in.Brief.Topic)
	if in.Brief.Audience != "" {
		fmt.Fprintf(&b, "Audience: %s\n", in.Brief.Audience)
	}
	b.WriteString("Outline:\n")
	for _, h := range outline {
		fmt.Fprintf(&b, "- %s\n", h)
	}
	b.WriteString("Findings:\n")
	for i, f := range in.Findings {
		if i == maxFindingsInPrompt {
			break
		}
		fmt.Fprintf(&b, "[%d] %s: %s (%s)\n", i+1, f.Title, f.Snippet, f.URL)
	}
	return b.String()
}

// groupFindings spreads findings across the outline round-robin and
// renders each group as a bullet list.
func groupFindings(findings []finding, outline []string) []section {
	bodies := make([]strings.Builder, len(outline))
	for i, f := range findings {
		b := &bodies[i%len(outline)]
		fmt.Fprintf(b, "- %s", f.Title)
		if f.Snippet != "" {
			fmt.Fprintf(b, ": %s", f.Snippet)
		}
		if f.URL != "" {
			fmt.Fprintf(b, " (%s)", f.URL)
		}
		b.WriteString("\n")
	}
	out := make([]section, len(outline))
	for i, h := range outline {
		body := strings.TrimSpace(bodies[i].String())
		if body == "" {
			body = "No findings for this section."
		}
		out[i] = section{Heading: h, Body: body}
	}
	return out
}

func fallbackSummary(in specializeView) string {
	topic := in.Brief.Topic
	if topic == "" {
		topic = "the topic"
	}
	return fmt.Sprintf("%d findings on %s.", len(in.Findings), topic)
}

func specializeData(in specializeView, outline []string, sections []section, summary string) map[string]any {
	data := in.Brief.fields()
	data["outline"] = list(outline)
	items := make([]any, 0, len(sections))
	for _, s := range sections {
		items = append(items, map[string]any{"heading": s.Heading, "body": s.Body})
	}
	data["sections"] = items
	if len(in.Sources) > 0 {
		data["sources"] = list(in.Sources)
	}
	if summary != "" {
		data["summary"] = summary
	}
	return data
}
