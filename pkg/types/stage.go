// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package types

import (
	"strings"

	quillerr "github.com/sigil-dev/quill/pkg/errors"
)

// Stage identifies one of the four ordered pipeline roles.
type Stage string

const (
	// StagePlanning turns the request into a plan and search queries.
	StagePlanning Stage = "planning"
	// StageGathering collects findings from retrieval providers.
	StageGathering Stage = "gathering"
	// StageSpecializing drafts the plan's sections from the findings.
	StageSpecializing Stage = "specializing"
	// StageCompiling assembles the final document.
	StageCompiling Stage = "compiling"
)

// Stages returns the pipeline roles in execution order.
func Stages() []Stage {
	return []Stage{StagePlanning, StageGathering, StageSpecializing, StageCompiling}
}

// Valid reports whether the stage is a known pipeline role.
func (s Stage) Valid() bool {
	switch s {
	case StagePlanning, StageGathering, StageSpecializing, StageCompiling:
		return true
	default:
		return false
	}
}

// Index returns the zero-based position of s in execution order, or -1.
func (s Stage) Index() int {
	for i, st := range Stages() {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the stage that follows s. ok is false after StageCompiling.
func (s Stage) Next() (Stage, bool) {
	all := Stages()
	i := s.Index()
	if i < 0 || i+1 >= len(all) {
		return "", false
	}
	return all[i+1], true
}

// ParseStage parses a case-insensitive stage name.
func ParseStage(raw string) (Stage, error) {
	s := Stage(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", quillerr.Errorf(quillerr.CodeConfigValidateInvalidValue,
			"invalid stage: %q", raw)
	}
	return s, nil
}
