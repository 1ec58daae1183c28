// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package store defines run persistence and the stage result cache, and
// selects a backend by name.
package store

import (
	"context"

	"github.com/sigil-dev/quill/pkg/types"
)

// RunStore persists the state of pipeline runs.
type RunStore interface {
	// SaveRun inserts or replaces a run record.
	SaveRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, opts ListOpts) ([]*RunRecord, error)
	Close() error
}

// ResultCache keeps successful stage outputs keyed by stage and input hash.
type ResultCache interface {
	Put(ctx context.Context, entry *CacheEntry) error
	Get(ctx context.Context, stage types.Stage, inputHash string) (*CacheEntry, error)
	Close() error
}
