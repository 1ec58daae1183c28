// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package memory is a process-local storage backend. Nothing survives a
// restart; it serves tests and single-shot CLI runs.
package memory

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sigil-dev/quill/internal/store"
	"github.com/sigil-dev/quill/pkg/types"
)

func init() {
	store.RegisterBackend("memory", func(cfg *store.Config) (*store.Stores, error) {
		s := New(cfg.CacheTTL)
		return &store.Stores{Runs: s, Cache: s, Vectors: s}, nil
	})
}

// Compile-time interface checks.
var (
	_ store.RunStore    = (*Store)(nil)
	_ store.ResultCache = (*Store)(nil)
	_ store.VectorStore = (*Store)(nil)
)

// Store keeps runs, cache entries and vectors in maps. Records are copied
// through JSON on the way in and out so callers never share state with it.
type Store struct {
	mu      sync.RWMutex
	runs    map[string][]byte
	cache   map[string]*store.CacheEntry
	vectors map[string]vector
	ttl     time.Duration
	nowFunc func() time.Time
}

type vector struct {
	embedding []float32
	metadata  map[string]any
}

// New creates an empty Store. ttl of 0 keeps cache entries forever.
func New(ttl time.Duration) *Store {
	return &Store{
		runs:    make(map[string][]byte),
		cache:   make(map[string]*store.CacheEntry),
		vectors: make(map[string]vector),
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

// SetNowFunc overrides the clock used for cache expiry (for testing).
func (s *Store) SetNowFunc(fn func() time.Time) { s.nowFunc = fn }

func (s *Store) SaveRun(_ context.Context, run *store.RunRecord) error {
	b, err := json.Marshal(run)
	if err != nil {
		return store.DatabaseError(err, "encoding run "+run.ID)
	}
	s.mu.Lock()
	s.runs[run.ID] = b
	s.mu.Unlock()
	return nil
}

func (s *Store) GetRun(_ context.Context, id string) (*store.RunRecord, error) {
	s.mu.RLock()
	b, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, store.RunNotFound(id)
	}
	var run store.RunRecord
	if err := json.Unmarshal(b, &run); err != nil {
		return nil, store.DatabaseError(err, "decoding run "+id)
	}
	return &run, nil
}

func (s *Store) ListRuns(ctx context.Context, opts store.ListOpts) ([]*store.RunRecord, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	runs := make([]*store.RunRecord, 0, len(ids))
	for _, id := range ids {
		run, err := s.GetRun(ctx, id)
		if err != nil {
			continue
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID > runs[j].ID
	})

	if opts.Offset >= len(runs) {
		return []*store.RunRecord{}, nil
	}
	runs = runs[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(runs) {
		runs = runs[:opts.Limit]
	}
	return runs, nil
}

func (s *Store) Put(_ context.Context, entry *store.CacheEntry) error {
	e := *entry
	if e.StoredAt.IsZero() {
		e.StoredAt = s.nowFunc()
	}
	b, err := json.Marshal(e.Data)
	if err != nil {
		return store.DatabaseError(err, "encoding cache entry "+e.Key())
	}
	e.Data = nil
	if err := json.Unmarshal(b, &e.Data); err != nil {
		return store.DatabaseError(err, "copying cache entry "+e.Key())
	}

	s.mu.Lock()
	s.cache[e.Key()] = &e
	s.mu.Unlock()
	return nil
}

func (s *Store) Get(_ context.Context, stage types.Stage, inputHash string) (*store.CacheEntry, error) {
	s.mu.RLock()
	e, ok := s.cache[store.CacheKey(stage, inputHash)]
	s.mu.RUnlock()
	if !ok || (s.ttl > 0 && s.nowFunc().Sub(e.StoredAt) > s.ttl) {
		return nil, store.CacheMiss(stage, inputHash)
	}
	out := *e
	return &out, nil
}

func (s *Store) Store(_ context.Context, id string, embedding []float32, metadata map[string]any) error {
	s.mu.Lock()
	s.vectors[id] = vector{embedding: append([]float32(nil), embedding...), metadata: metadata}
	s.mu.Unlock()
	return nil
}

// Search ranks every stored vector by L2 distance.
func (s *Store) Search(_ context.Context, query []float32, k int) ([]store.VectorResult, error) {
	s.mu.RLock()
	results := make([]store.VectorResult, 0, len(s.vectors))
	for id, v := range s.vectors {
		results = append(results, store.VectorResult{ID: id, Score: distance(query, v.embedding), Metadata: v.metadata})
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score < results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if k > 0 && k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func (s *Store) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	for _, id := range ids {
		delete(s.vectors, id)
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) Close() error { return nil }

func distance(a, b []float32) float64 {
	var sum float64
	for i := range min(len(a), len(b)) {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
