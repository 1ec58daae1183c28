// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package types

import "time"

// SourceAttribution credits one retrieved source used by a stage.
type SourceAttribution struct {
	SourceID   string  `json:"source_id"`
	Confidence float64 `json:"confidence"`
	Relevance  float64 `json:"relevance"`
}

// StageResult is the single record a run keeps for one stage. It is not
// modified after the orchestrator records it.
type StageResult struct {
	Stage      Stage               `json:"stage"`
	Success    bool                `json:"success"`
	Degraded   bool                `json:"degraded"`
	Confidence float64             `json:"confidence"`
	Data       map[string]any      `json:"data,omitempty"`
	Errors     []string            `json:"errors,omitempty"`
	Warnings   []string            `json:"warnings,omitempty"`
	Sources    []SourceAttribution `json:"sources,omitempty"`
	Duration   time.Duration       `json:"duration"`
	Attempts   int                 `json:"attempts"`
	// Recovery names the recovery action that produced the result, if any.
	Recovery string `json:"recovery,omitempty"`
}
