// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package scan

import (
	"slices"
	"strings"

	quillerr "github.com/sigil-dev/quill/pkg/errors"
)

// Mode decides what happens to text with a threat in it.
type Mode string

const (
	// ModeBlock rejects the text.
	ModeBlock Mode = "block"
	// ModeFlag passes the text through and reports the matches.
	ModeFlag Mode = "flag"
	// ModeRedact replaces every match with Redacted.
	ModeRedact Mode = "redact"
	// ModeOff skips scanning.
	ModeOff Mode = "off"
)

// Redacted replaces matched text in ModeRedact.
const Redacted = "[REDACTED]"

func (m Mode) Valid() bool {
	switch m {
	case ModeBlock, ModeFlag, ModeRedact, ModeOff:
		return true
	default:
		return false
	}
}

// ParseMode parses a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", quillerr.Errorf(quillerr.CodeScanModeInvalid,
			"invalid scan mode %q, want one of [block, flag, redact, off]", s)
	}
	return m, nil
}

// Apply applies mode to a scan result of content. Block returns
// CodeScanContentBlocked, flag returns content unchanged, and redact
// returns the normalized text with matches replaced.
func Apply(mode Mode, content string, result Result) (string, error) {
	if !result.Threat {
		return content, nil
	}

	switch mode {
	case ModeBlock:
		return "", quillerr.New(quillerr.CodeScanContentBlocked,
			"content blocked: matched "+strings.Join(RuleNames(result.Matches), ", "),
			quillerr.Field("matches", len(result.Matches)))
	case ModeFlag, ModeOff:
		return content, nil
	case ModeRedact:
		return redact(result.Content, result.Matches), nil
	default:
		return "", quillerr.Errorf(quillerr.CodeScanModeInvalid, "unknown scan mode %q", mode)
	}
}

// redact replaces matched regions with Redacted, merging overlaps.
func redact(content string, matches []Match) string {
	sorted := slices.DeleteFunc(slices.Clone(matches), func(m Match) bool {
		return m.Location < 0 || m.Length < 0 || m.Location > len(content)
	})
	if len(sorted) == 0 {
		return content
	}
	slices.SortFunc(sorted, func(a, b Match) int { return a.Location - b.Location })

	type span struct{ start, end int }
	spans := []span{{sorted[0].Location, sorted[0].Location + sorted[0].Length}}
	for _, m := range sorted[1:] {
		last := &spans[len(spans)-1]
		end := m.Location + m.Length
		if m.Location <= last.end {
			last.end = max(last.end, end)
			continue
		}
		spans = append(spans, span{m.Location, end})
	}

	var b strings.Builder
	b.Grow(len(content))
	pos := 0
	for _, s := range spans {
		b.WriteString(content[pos:s.start])
		b.WriteString(Redacted)
		pos = min(s.end, len(content))
	}
	b.WriteString(content[pos:])
	return b.String()
}
