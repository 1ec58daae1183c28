// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"context"
	"log/slog"

	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/sigil-dev/quill/pkg/types"
)

// maxStaleDistance bounds nearest-neighbour matches. Embeddings are unit
// vectors, so L2 distances range over [0, 2].
const maxStaleDistance = 0.8

// neighbours is how many vector matches are inspected per lookup.
const neighbours = 5

// StaleLookup serves earlier stage output for recovery: the exact cache
// entry first, then the nearest cached input of the same stage.
type StaleLookup struct {
	cache   ResultCache
	vectors VectorStore
	dims    int
}

// NewStaleLookup creates a StaleLookup. vectors may be nil.
func NewStaleLookup(cache ResultCache, vectors VectorStore, dims int) *StaleLookup {
	if dims <= 0 {
		dims = defaultVectorDimensions
	}
	return &StaleLookup{cache: cache, vectors: vectors, dims: dims}
}

// Remember caches a successful stage output and indexes its input.
func (s *StaleLookup) Remember(ctx context.Context, stage types.Stage, input map[string]any, data map[string]any, confidence float64) error {
	if s == nil || s.cache == nil {
		return nil
	}
	entry := &CacheEntry{Stage: stage, InputHash: HashInput(input), Data: data, Confidence: confidence}
	if err := s.cache.Put(ctx, entry); err != nil {
		return err
	}
	if s.vectors == nil {
		return nil
	}
	return s.vectors.Store(ctx, entry.Key(), Embed(input, s.dims), map[string]any{
		"stage":      string(stage),
		"input_hash": entry.InputHash,
	})
}

// Stale returns cached output for stage whose input equals or most
// resembles input.
func (s *StaleLookup) Stale(ctx context.Context, stage types.Stage, input map[string]any) (map[string]any, bool, error) {
	if s == nil || s.cache == nil {
		return nil, false, nil
	}

	entry, err := s.cache.Get(ctx, stage, HashInput(input))
	switch {
	case err == nil:
		return entry.Data, true, nil
	case !quillerr.IsNotFound(err):
		return nil, false, err
	case s.vectors == nil:
		return nil, false, nil
	}

	matches, err := s.vectors.Search(ctx, Embed(input, s.dims), neighbours)
	if err != nil {
		return nil, false, err
	}
	for _, m := range matches {
		if m.Score > maxStaleDistance {
			break
		}
		if m.Metadata["stage"] != string(stage) {
			continue
		}
		hash, _ := m.Metadata["input_hash"].(string)
		entry, err := s.cache.Get(ctx, stage, hash)
		if err != nil {
			// expired or evicted since it was indexed
			slog.Debug("stale neighbour missing from cache", "stage", stage, "key", m.ID, "error", err)
			continue
		}
		return entry.Data, true, nil
	}
	return nil, false, nil
}
