// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package stage

import (
	"context"
	"strings"

	"github.com/sigil-dev/quill/internal/provider"
	"github.com/sigil-dev/quill/pkg/types"
)

const compilingSystem = `You edit research briefs. Combine the drafted sections into one
markdown document that starts with a "# " title line. Keep every section.
Reply with the markdown only.`

const noContent = "No content could be generated."

type compileView struct {
	Brief    brief     `mapstructure:",squash"`
	Sections []section `mapstructure:"sections"`
	Summary  string    `mapstructure:"summary"`
	Sources  []string  `mapstructure:"sources"`
}

type compiling struct {
	b *Backends
}

func (c *compiling) Stage() types.Stage { return types.StageCompiling }

func (c *compiling) Execute(ctx context.Context, input map[string]any) (Output, error) {
	var in compileView
	if err := decode(input, &in); err != nil {
		return Output{}, stageError(types.StageCompiling, "decoding input", err)
	}
	if len(in.Sections) == 0 {
		return Output{}, stageError(types.StageCompiling, "no sections to compile", nil)
	}

	draft := renderDocument(in.Brief.titleOrDefault(), in.Summary, in.Sections)
	resp, served, err := c.b.Invoke(ctx, provider.InvokeRequest{
		System:      compilingSystem,
		Prompt:      draft,
		MaxTokens:   4096,
		Temperature: 0.3,
	})
	if err != nil {
		return Output{}, stageError(types.StageCompiling, "model call", err)
	}

	doc := stripFence(resp.Content)
	if doc == "" {
		return Output{}, stageError(types.StageCompiling, "model returned an empty document", nil)
	}

	var warnings []string
	title, ok := documentTitle(doc)
	if !ok {
		title = in.Brief.titleOrDefault()
		doc = "# " + title + "\n\n" + doc
		warnings = append(warnings, "document had no title line")
	}
	// a document much shorter than its drafts probably dropped sections
	if len(doc) < len(draft)/2 {
		warnings = append(warnings, "compiled document is much shorter than the drafted sections")
	}
	doc, matched, err := c.b.screenOutput(ctx, doc)
	if err != nil {
		return Output{}, stageError(types.StageCompiling, "document rejected: "+err.Error(), nil)
	}
	if len(matched) > 0 {
		warnings = append(warnings, "document matched "+strings.Join(matched, ", "))
	}

	return Output{
		Success:    true,
		Data:       compileData(in, title, doc),
		Confidence: clampConfidence(0.9-0.15*float64(len(warnings)), 0.3),
		Warnings:   warnings,
		Provider:   served,
	}, nil
}

// Fallback renders the drafted sections without a model.
func (c *compiling) Fallback(ctx context.Context, input map[string]any) (map[string]any, error) {
	var in compileView
	if err := decode(input, &in); err != nil {
		return nil, stageError(types.StageCompiling, "decoding input", err)
	}
	title := in.Brief.titleOrDefault()
	doc, _, err := c.b.screenOutput(ctx, renderDocument(title, in.Summary, in.Sections))
	if err != nil {
		return nil, stageError(types.StageCompiling, "document rejected: "+err.Error(), nil)
	}
	return compileData(in, title, doc), nil
}

func (c *compiling) Defaults(input map[string]any) map[string]any {
	var in compileView
	_ = decode(input, &in)
	title := in.Brief.titleOrDefault()
	return compileData(in, title, "# "+title+"\n\n"+noContent+"\n")
}

// renderDocument lays out a brief as markdown: title, summary, then one
// second-level heading per section.
func renderDocument(title, summary string, sections []section) string {
	var b strings.Builder
	b.WriteString("# " + title + "\n\n")
	if summary = strings.TrimSpace(summary); summary != "" {
		b.WriteString(summary + "\n\n")
	}
	if len(sections) == 0 {
		b.WriteString(noContent + "\n")
		return b.String()
	}
	for _, s := range sections {
		b.WriteString("## " + s.Heading + "\n\n")
		b.WriteString(strings.TrimSpace(s.Body) + "\n\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func documentTitle(doc string) (string, bool) {
	for line := range strings.Lines(doc) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if t, ok := strings.CutPrefix(line, "# "); ok && strings.TrimSpace(t) != "" {
			return strings.TrimSpace(t), true
		}
		return "", false
	}
	return "", false
}

// stripFence removes a surrounding ``` code fence.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	} else {
		return ""
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// compileData keeps the carried title; a different title line chosen by
// the model is reported as document_title.
func compileData(in compileView, docTitle, doc string) map[string]any {
	data := in.Brief.fields()
	data["title"] = in.Brief.titleOrDefault()
	if docTitle != data["title"] {
		data["document_title"] = docTitle
	}
	data["document"] = doc
	if in.Summary != "" {
		data["summary"] = in.Summary
	}
	if len(in.Sources) > 0 {
		data["sources"] = list(in.Sources)
	}
	return data
}
