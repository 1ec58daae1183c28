// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package memory_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sigil-dev/quill/internal/store"
	"github.com/sigil-dev/quill/internal/store/memory"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/sigil-dev/quill/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RunsAreCopied(t *testing.T) {
	ctx := context.Background()
	s := memory.New(0)

	run := &store.RunRecord{ID: "run-1", State: types.RunStatePlanning, Input: map[string]any{"topic": "tides"}}
	require.NoError(t, s.SaveRun(ctx, run))

	run.Input["topic"] = "changed"
	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "tides", got.Input["topic"])

	got.State = types.RunStateFailed
	again, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunStatePlanning, again.State)
}

func TestStore_GetRunNotFound(t *testing.T) {
	_, err := memory.New(0).GetRun(context.Background(), "nope")
	assert.True(t, quillerr.IsNotFound(err))
}

func TestStore_ListRuns(t *testing.T) {
	ctx := context.Background()
	s := memory.New(0)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 4 {
		require.NoError(t, s.SaveRun(ctx, &store.RunRecord{
			ID:        fmt.Sprintf("run-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	// same timestamp as run-3; id breaks the tie
	require.NoError(t, s.SaveRun(ctx, &store.RunRecord{ID: "run-9", CreatedAt: base.Add(3 * time.Second)}))

	all, err := s.ListRuns(ctx, store.ListOpts{})
	require.NoError(t, err)
	ids := make([]string, len(all))
	for i, r := range all {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"run-9", "run-3", "run-2", "run-1", "run-0"}, ids)

	page, err := s.ListRuns(ctx, store.ListOpts{Limit: 2, Offset: 3})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "run-1", page[0].ID)

	empty, err := s.ListRuns(ctx, store.ListOpts{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_CacheTTL(t *testing.T) {
	ctx := context.Background()
	s := memory.New(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetNowFunc(func() time.Time { return now })

	require.NoError(t, s.Put(ctx, &store.CacheEntry{Stage: types.StageCompiling, InputHash: "h", Data: map[string]any{"document": "# x"}}))

	got, err := s.Get(ctx, types.StageCompiling, "h")
	require.NoError(t, err)
	assert.Equal(t, "# x", got.Data["document"])
	assert.Equal(t, now, got.StoredAt)

	now = now.Add(2 * time.Minute)
	_, err = s.Get(ctx, types.StageCompiling, "h")
	assert.True(t, quillerr.HasCode(err, quillerr.CodeStoreCacheGetMissing))
}

func TestStore_VectorSearch(t *testing.T) {
	ctx := context.Background()
	s := memory.New(0)

	require.NoError(t, s.Store(ctx, "a", []float32{1, 0}, map[string]any{"n": 1}))
	require.NoError(t, s.Store(ctx, "b", []float32{0, 1}, nil))
	require.NoError(t, s.Store(ctx, "c", []float32{0.8, 0.6}, nil))

	results, err := s.Search(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 0, results[0].Score, 1e-9)
	assert.Equal(t, "c", results[1].ID)

	require.NoError(t, s.Delete(ctx, []string{"a"}))
	results, err = s.Search(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, "c", results[0].ID)
}
