// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package scan

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	quillerr "github.com/sigil-dev/quill/pkg/errors"
)

// GuardConfig selects the mode applied at each stage.
type GuardConfig struct {
	InputMode   Mode
	ContentMode Mode
	OutputMode  Mode
}

// Guard applies a Scanner at the pipeline's three boundaries.
type Guard struct {
	scanner Scanner
	cfg     GuardConfig
}

// NewGuard creates a guard. Empty modes default to block for input and
// redact for content and output.
func NewGuard(scanner Scanner, cfg GuardConfig) (*Guard, error) {
	if scanner == nil {
		return nil, quillerr.New(quillerr.CodeScanRuleInvalid, "scanner is nil")
	}
	if cfg.InputMode == "" {
		cfg.InputMode = ModeBlock
	}
	if cfg.ContentMode == "" {
		cfg.ContentMode = ModeRedact
	}
	if cfg.OutputMode == "" {
		cfg.OutputMode = ModeRedact
	}
	for _, m := range []Mode{cfg.InputMode, cfg.ContentMode, cfg.OutputMode} {
		if !m.Valid() {
			return nil, quillerr.Errorf(quillerr.CodeScanModeInvalid, "invalid scan mode %q", m)
		}
	}
	return &Guard{scanner: scanner, cfg: cfg}, nil
}

// Validate wraps an input validator so that every string field of the
// validated input is scanned. A blocked field fails validation with
// CodeScanInputBlocked. Redaction rewrites the field in place.
func (g *Guard) Validate(next func(map[string]any) (map[string]any, error)) func(map[string]any) (map[string]any, error) {
	return func(in map[string]any) (map[string]any, error) {
		out, err := next(in)
		if err != nil || g.cfg.InputMode == ModeOff {
			return out, err
		}
		keys := make([]string, 0, len(out))
		for k := range out {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		for _, k := range keys {
			s, ok := out[k].(string)
			if !ok {
				continue
			}
			text, rules, err := g.apply(context.Background(), StageInput, g.cfg.InputMode, s)
			if err != nil {
				if quillerr.HasCode(err, quillerr.CodeScanContentBlocked) {
					return nil, quillerr.New(quillerr.CodeScanInputBlocked,
						fmt.Sprintf("input field %q rejected: %v", k, err), quillerr.Field("field", k))
				}
				return nil, err
			}
			if len(rules) > 0 {
				slog.Warn("scan matched input field", "field", k, "rules", rules, "mode", g.cfg.InputMode)
			}
			out[k] = text
		}
		return out, nil
	}
}

// Content screens third-party text. It returns the text to use and the
// names of the rules that matched.
func (g *Guard) Content(ctx context.Context, text string) (string, []string, error) {
	return g.apply(ctx, StageContent, g.cfg.ContentMode, text)
}

// Output screens a document before it is returned.
func (g *Guard) Output(ctx context.Context, text string) (string, []string, error) {
	return g.apply(ctx, StageOutput, g.cfg.OutputMode, text)
}

func (g *Guard) apply(ctx context.Context, stage Stage, mode Mode, text string) (string, []string, error) {
	if mode == ModeOff || text == "" {
		return text, nil, nil
	}
	result, err := g.scanner.Scan(ctx, text, stage)
	if err != nil {
		return "", nil, err
	}
	if !result.Threat {
		return text, nil, nil
	}
	out, err := Apply(mode, text, result)
	if err != nil {
		return "", nil, err
	}
	return out, RuleNames(result.Matches), nil
}
