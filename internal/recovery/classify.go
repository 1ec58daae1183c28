// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package recovery

import (
	"strings"

	quillerr "github.com/sigil-dev/quill/pkg/errors"
)

// Category is a failure family. Each maps to an ordered list of actions.
type Category string

const (
	CategoryStage    Category = "stage"
	CategoryProvider Category = "provider"
	CategoryPipeline Category = "pipeline"
	CategorySystem   Category = "system"
)

// Operation is what was being done when the failure happened.
type Operation string

const (
	OpStage        Operation = "stage"
	OpProviderCall Operation = "provider_call"
	OpPipeline     Operation = "pipeline"
	OpSystem       Operation = "system"
)

// keywordRules are matched in order against the lowercased error message
// when the error carries no code.
var keywordRules = []struct {
	category Category
	keywords []string
}{
	{CategorySystem, []string{
		"out of memory", "no space left", "too many open files", "resource exhausted",
		"permission denied", "configuration", "config error",
	}},
	{CategoryProvider, []string{
		"rate limit", "too many requests", "429", "quota", "timed out", "timeout",
		"deadline exceeded", "unavailable", "connection refused", "connection reset",
		"502", "503", "504", "overloaded", "no provider",
	}},
	{CategoryPipeline, []string{
		"inconsistent", "inconsistency", "mismatch", "invariant", "out of order",
	}},
}

// Classify maps an error and operation onto a failure category. The error
// code decides first, then keywords in the message, then the operation.
// The result depends only on the inputs.
func Classify(err error, op Operation) Category {
	if c, ok := byCode(err); ok {
		return c
	}
	if err != nil {
		msg := strings.ToLower(err.Error())
		for _, rule := range keywordRules {
			for _, kw := range rule.keywords {
				if strings.Contains(msg, kw) {
					return rule.category
				}
			}
		}
	}
	switch op {
	case OpProviderCall:
		return CategoryProvider
	case OpPipeline:
		return CategoryPipeline
	case OpSystem:
		return CategorySystem
	default:
		return CategoryStage
	}
}

func byCode(err error) (Category, bool) {
	code := quillerr.CodeOf(err)
	if code == "" || code == quillerr.CodeServerInternalFailure {
		return "", false
	}

	switch quillerr.KindOf(err) {
	case quillerr.KindSystem:
		return CategorySystem, true
	case quillerr.KindProviderUnavailable, quillerr.KindProviderTimeout, quillerr.KindProviderError:
		return CategoryProvider, true
	}

	switch {
	case strings.HasPrefix(string(code), "pipeline."):
		return CategoryPipeline, true
	case strings.HasPrefix(string(code), "stage."):
		return CategoryStage, true
	}
	return "", false
}
