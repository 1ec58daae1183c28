// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package synthesis

import (
	"time"

	"github.com/sigil-dev/quill/pkg/types"
)

type ConflictType string

const (
	ConflictData    ConflictType = "data_conflict"
	ConflictLogic   ConflictType = "logical_inconsistency"
	ConflictMissing ConflictType = "missing_data"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Conflict is a disagreement or invariant violation between stage payloads.
type Conflict struct {
	Type        ConflictType  `json:"type"`
	Severity    Severity      `json:"severity"`
	Fields      []string      `json:"fields"`
	Stages      []types.Stage `json:"stages"`
	Description string        `json:"description"`
	// Resolution is nil when no contributing stage could settle the conflict.
	Resolution *Resolution `json:"resolution,omitempty"`
}

// Resolution records which stage's values won a conflict.
type Resolution struct {
	Source     types.Stage    `json:"source"`
	Confidence float64        `json:"confidence"`
	Values     map[string]any `json:"values"`
}

// StageQuality is the quality breakdown of one stage result.
type StageQuality struct {
	Stage        types.Stage `json:"stage"`
	Consistency  float64     `json:"consistency"`
	Completeness float64     `json:"completeness"`
	Accuracy     float64     `json:"accuracy"`
	Timeliness   float64     `json:"timeliness"`
	Reliability  float64     `json:"reliability"`
}

// QualityMetrics aggregates the per-stage scores.
type QualityMetrics struct {
	Consistency  float64        `json:"consistency"`
	Completeness float64        `json:"completeness"`
	Accuracy     float64        `json:"accuracy"`
	Timeliness   float64        `json:"timeliness"`
	Reliability  float64        `json:"reliability"`
	Coverage     float64        `json:"coverage"`
	Stages       []StageQuality `json:"stages"`
}

type Validation struct {
	IsValid bool     `json:"is_valid"`
	Issues  []string `json:"issues,omitempty"`
}

// Result is the integrated artifact of one run. It is not modified after
// Synthesize returns it.
type Result struct {
	Success         bool                      `json:"success"`
	Degraded        bool                      `json:"degraded"`
	Confidence      float64                   `json:"confidence"`
	Data            map[string]any            `json:"data"`
	Conflicts       []Conflict                `json:"conflicts"`
	Warnings        []string                  `json:"warnings,omitempty"`
	Recommendations []string                  `json:"recommendations,omitempty"`
	Quality         QualityMetrics            `json:"quality"`
	Validation      Validation                `json:"validation"`
	Sources         []types.SourceAttribution `json:"sources,omitempty"`
	CreatedAt       time.Time                 `json:"created_at"`
}
