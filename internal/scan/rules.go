// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package scan

import (
	"regexp"
	"slices"
)

// DefaultRules returns the built-in rules for all three stages.
func DefaultRules() []Rule {
	return slices.Concat(InputRules(), ContentRules(), OutputRules())
}

// injectionPatterns are prompt injection markers. They apply to the brief
// and to fetched web content alike, since both end up in model prompts.
var injectionPatterns = []struct {
	name     string
	pattern  *regexp.Regexp
	severity Severity
}{
	{
		name:     "instruction_override",
		pattern:  regexp.MustCompile(`(?i)(ignore|disregard|override|forget|do\s+not\s+follow)\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts|rules)`),
		severity: SeverityHigh,
	},
	{
		name:     "role_confusion",
		pattern:  regexp.MustCompile(`(?i)you\s+are\s+now\s+\w+[,.]?\s*(do|ignore|forget|disregard)`),
		severity: SeverityHigh,
	},
	{
		name:     "delimiter_abuse",
		pattern:  regexp.MustCompile("(?i)```system\\b"),
		severity: SeverityMedium,
	},
	{
		name:     "new_task_injection",
		pattern:  regexp.MustCompile(`(?i)(new\s+task:|from\s+now\s+on,?\s+you|pretend\s+(?:the\s+)?(?:above|previous)\s+(?:rules?|instructions?)\s+(?:do\s+not|don'?t)\s+exist)`),
		severity: SeverityMedium,
	},
	{
		name:     "system_block_injection",
		pattern:  regexp.MustCompile(`(?i)(?:<\|?system\|?>|\[system\]|<<SYS>>)`),
		severity: SeverityHigh,
	},
}

func injectionRules(stage Stage) []Rule {
	rules := make([]Rule, 0, len(injectionPatterns))
	for _, p := range injectionPatterns {
		rules = append(rules, Rule{Stage: stage, Name: p.name, Pattern: p.pattern, Severity: p.severity})
	}
	return rules
}

// InputRules returns the rules for a caller's brief.
func InputRules() []Rule { return injectionRules(StageInput) }

// ContentRules returns the rules for fetched web content: injection
// markers plus chat-template tokens that only make sense in scraped text.
func ContentRules() []Rule {
	return append(injectionRules(StageContent),
		Rule{
			Stage:    StageContent,
			Name:     "system_prompt_leak",
			Pattern:  regexp.MustCompile(`(?im)^SYSTEM:\s`),
			Severity: SeverityHigh,
		},
		Rule{
			Stage:    StageContent,
			Name:     "role_impersonation",
			Pattern:  regexp.MustCompile(`(?is)\[INST\].{0,1000}?\[/INST\]`),
			Severity: SeverityHigh,
		},
	)
}

// OutputRules returns credential patterns that must never reach a caller.
func OutputRules() []Rule {
	specs := []struct {
		name     string
		pattern  string
		severity Severity
	}{
		{"aws_access_key", `AKIA[0-9A-Z]{16}`, SeverityHigh},
		{"openai_api_key", `sk-proj-[A-Za-z0-9_-]{20,}`, SeverityHigh},
		{"openai_legacy_key", `sk-[A-Za-z0-9]{40,}`, SeverityMedium},
		{"anthropic_api_key", `sk-ant-api\d{2}-[A-Za-z0-9_-]{20,}`, SeverityHigh},
		{"google_api_key", `AIza[0-9A-Za-z_-]{35}`, SeverityHigh},
		{"openrouter_api_key", `sk-or-v1-[a-f0-9]{64}`, SeverityHigh},
		{"github_pat", `ghp_[A-Za-z0-9]{36}`, SeverityHigh},
		{"github_fine_grained_pat", `github_pat_[A-Za-z0-9_]{22,}`, SeverityHigh},
		{"slack_token", `xox[bpas]-[A-Za-z0-9-]+`, SeverityHigh},
		{"bearer_token", `(?i)bearer\s+[A-Za-z0-9_\-.]{20,}`, SeverityHigh},
		{"pem_private_key", `-----BEGIN\s+(RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`, SeverityHigh},
		{"database_connection_string", `(?i)(postgres(?:ql)?|mysql|mongodb|redis|jdbc:[a-z]+)://[^\s:@]+:(?:[^@\s%]|%[0-9A-Fa-f]{2})+@(?:\[[0-9A-Fa-f:]+\]|[^\s/:]+)(?:[:/][^\s]*)?`, SeverityHigh},
		{"keyring_uri", `keyring://[^\s]+`, SeverityMedium},
	}

	rules := make([]Rule, 0, len(specs))
	for _, s := range specs {
		rules = append(rules, Rule{
			Stage:    StageOutput,
			Name:     s.name,
			Pattern:  regexp.MustCompile(s.pattern),
			Severity: s.severity,
		})
	}
	return rules
}
