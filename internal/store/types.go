// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"time"

	"github.com/sigil-dev/quill/internal/synthesis"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/sigil-dev/quill/pkg/types"
)

// RunRecord is the persisted state of one run.
type RunRecord struct {
	ID        string              `json:"id"`
	RequestID string              `json:"request_id"`
	State     types.RunState      `json:"state"`
	Restarts  int                 `json:"restarts"`
	Input     map[string]any      `json:"input,omitempty"`
	Results   []types.StageResult `json:"results,omitempty"`
	Synthesis *synthesis.Result   `json:"synthesis,omitempty"`
	Failure   *quillerr.Failure   `json:"failure,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// CacheEntry is one cached stage output.
type CacheEntry struct {
	Stage      types.Stage    `json:"stage"`
	InputHash  string         `json:"input_hash"`
	Data       map[string]any `json:"data"`
	Confidence float64        `json:"confidence"`
	StoredAt   time.Time      `json:"stored_at"`
}

// Key is the cache key of the entry.
func (e *CacheEntry) Key() string {
	return CacheKey(e.Stage, e.InputHash)
}

// CacheKey joins a stage and an input hash.
func CacheKey(stage types.Stage, inputHash string) string {
	return string(stage) + ":" + inputHash
}

// VectorResult represents a single result from a vector similarity search.
type VectorResult struct {
	ID       string
	Score    float64 // Distance metric: lower = more similar; 0.0 = exact match.
	Metadata map[string]any
}

// ListOpts provides pagination parameters for list operations.
type ListOpts struct {
	Limit  int
	Offset int
}
