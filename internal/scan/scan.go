// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package scan screens text crossing the pipeline boundary: the brief a
// caller submits, the web content gathering pulls in, and the compiled
// document a run returns.
package scan

import (
	"context"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	quillerr "github.com/sigil-dev/quill/pkg/errors"
)

// Stage identifies which boundary a text is crossing.
type Stage string

const (
	// StageInput is the caller's brief.
	StageInput Stage = "input"
	// StageContent is third-party text fetched by the gathering stage.
	StageContent Stage = "content"
	// StageOutput is the document a run returns.
	StageOutput Stage = "output"
)

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageInput, StageContent, StageOutput:
		return true
	default:
		return false
	}
}

// Severity indicates how critical a detection is.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityHigh, SeverityMedium, SeverityLow:
		return true
	default:
		return false
	}
}

// Result holds the outcome of a scan.
type Result struct {
	Threat  bool
	Matches []Match
	// Content is the normalized text the matches point into. Redaction must
	// work on it, not on the original.
	Content string
}

// Match is one rule hit. Location and Length are byte offsets into
// Result.Content and are never negative.
type Match struct {
	Rule     string
	Location int
	Length   int
	Severity Severity
}

// Scanner scans text for threats.
type Scanner interface {
	Scan(ctx context.Context, content string, stage Stage) (Result, error)
}

// Rule is one detection pattern, evaluated only for its Stage.
type Rule struct {
	Stage    Stage
	Name     string
	Pattern  *regexp.Regexp
	Severity Severity
}

// DefaultMaxContentLength caps the text a RegexScanner accepts.
const DefaultMaxContentLength = 1 << 20

// RegexScanner implements Scanner with compiled regexes.
type RegexScanner struct {
	rules            []Rule
	maxContentLength int
}

// NewRegexScanner checks rules and creates a scanner over them. A
// maxContentLength of zero uses DefaultMaxContentLength.
func NewRegexScanner(rules []Rule, maxContentLength int) (*RegexScanner, error) {
	for i, r := range rules {
		switch {
		case r.Pattern == nil:
			return nil, quillerr.Errorf(quillerr.CodeScanRuleInvalid, "rule %d (%s) has nil pattern", i, r.Name)
		case !r.Stage.Valid():
			return nil, quillerr.Errorf(quillerr.CodeScanRuleInvalid, "rule %d (%s) has invalid stage %q", i, r.Name, r.Stage)
		case r.Name == "":
			return nil, quillerr.Errorf(quillerr.CodeScanRuleInvalid, "rule %d has empty name", i)
		case !r.Severity.Valid():
			return nil, quillerr.Errorf(quillerr.CodeScanRuleInvalid, "rule %d (%s) has invalid severity %q", i, r.Name, r.Severity)
		}
	}
	if maxContentLength <= 0 {
		maxContentLength = DefaultMaxContentLength
	}
	return &RegexScanner{rules: rules, maxContentLength: maxContentLength}, nil
}

// invisibleCharReplacer strips zero-width and other invisible characters
// used to split a pattern so it no longer matches.
var invisibleCharReplacer = strings.NewReplacer(
	"\u200B", "", // zero-width space
	"\u200C", "", // zero-width non-joiner
	"\u200D", "", // zero-width joiner
	"\uFEFF", "", // zero-width no-break space / BOM
	"\u00AD", "", // soft hyphen
	"\u034F", "", // combining grapheme joiner
	"\u061C", "", // Arabic letter mark
	"\u180E", "", // Mongolian vowel separator
	"\u2060", "", // word joiner
	"\u2061", "", // invisible function application
	"\u2062", "", // invisible times
	"\u2063", "", // invisible separator
	"\u2064", "", // invisible plus
)

// Normalize strips invisible characters and applies NFKC, so fullwidth
// and other compatibility forms match the ASCII patterns.
func Normalize(s string) string {
	return norm.NFKC.String(invisibleCharReplacer.Replace(s))
}

// Scan checks content against the rules of stage. Oversized content is
// reported as a single high-severity match.
func (s *RegexScanner) Scan(_ context.Context, content string, stage Stage) (Result, error) {
	if !stage.Valid() {
		return Result{}, quillerr.Errorf(quillerr.CodeScanRuleInvalid, "invalid scan stage %q", stage)
	}

	content = Normalize(content)

	if len(content) > s.maxContentLength {
		return Result{Threat: true, Content: content, Matches: []Match{{
			Rule:     "content_too_large",
			Length:   len(content),
			Severity: SeverityHigh,
		}}}, nil
	}

	result := Result{Content: content}
	for _, rule := range s.rules {
		if rule.Stage != stage {
			continue
		}
		for _, loc := range rule.Pattern.FindAllStringIndex(content, -1) {
			result.Threat = true
			result.Matches = append(result.Matches, Match{
				Rule:     rule.Name,
				Location: loc[0],
				Length:   loc[1] - loc[0],
				Severity: rule.Severity,
			})
		}
	}
	return result, nil
}

// RuleNames lists the distinct rule names in matches, in match order.
func RuleNames(matches []Match) []string {
	var names []string
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		if !seen[m.Rule] {
			seen[m.Rule] = true
			names = append(names, m.Rule)
		}
	}
	return names
}
