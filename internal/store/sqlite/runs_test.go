// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sigil-dev/quill/internal/store"
	"github.com/sigil-dev/quill/internal/store/sqlite"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/sigil-dev/quill/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, ttl time.Duration) *sqlite.Store {
	t.Helper()
	s, err := sqlite.NewStore(testDBPath(t, "quill"), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SaveAndGetRun(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, 0)

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	run := &store.RunRecord{
		ID:        "run-1",
		RequestID: "req-1",
		State:     types.RunStateGathering,
		Input:     map[string]any{"topic": "solar"},
		Results: []types.StageResult{{
			Stage:      types.StagePlanning,
			Success:    true,
			Confidence: 0.9,
			Data:       map[string]any{"title": "Solar"},
		}},
		CreatedAt: created,
		UpdatedAt: created,
	}
	require.NoError(t, s.SaveRun(ctx, run))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, types.RunStateGathering, got.State)
	assert.Equal(t, "solar", got.Input["topic"])
	require.Len(t, got.Results, 1)
	assert.Equal(t, "Solar", got.Results[0].Data["title"])
	assert.True(t, created.Equal(got.CreatedAt))

	run.State = types.RunStateCompleted
	run.UpdatedAt = created.Add(time.Minute)
	require.NoError(t, s.SaveRun(ctx, run))

	got, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunStateCompleted, got.State)
}

func TestStore_GetRunNotFound(t *testing.T) {
	s := newStore(t, 0)

	_, err := s.GetRun(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, quillerr.IsNotFound(err))
	assert.True(t, quillerr.HasCode(err, quillerr.CodeStoreRunGetNotFound))
}

func TestStore_ListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, 0)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		require.NoError(t, s.SaveRun(ctx, &store.RunRecord{
			ID:        fmt.Sprintf("run-%d", i),
			State:     types.RunStatePlanning,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt: base,
		}))
	}

	all, err := s.ListRuns(ctx, store.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "run-4", all[0].ID)
	assert.Equal(t, "run-0", all[4].ID)

	page, err := s.ListRuns(ctx, store.ListOpts{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "run-3", page[0].ID)
	assert.Equal(t, "run-2", page[1].ID)
}

func TestStore_CachePutGet(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, 0)

	require.NoError(t, s.Put(ctx, &store.CacheEntry{
		Stage:      types.StageGathering,
		InputHash:  "abc",
		Data:       map[string]any{"sources": []any{"https://a"}},
		Confidence: 0.7,
	}))

	got, err := s.Get(ctx, types.StageGathering, "abc")
	require.NoError(t, err)
	assert.InDelta(t, 0.7, got.Confidence, 1e-9)
	assert.Equal(t, []any{"https://a"}, got.Data["sources"])
	assert.False(t, got.StoredAt.IsZero())

	_, err = s.Get(ctx, types.StagePlanning, "abc")
	assert.True(t, quillerr.HasCode(err, quillerr.CodeStoreCacheGetMissing))
}

func TestStore_CacheExpires(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, time.Hour)

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.SetNowFunc(func() time.Time { return now })

	require.NoError(t, s.Put(ctx, &store.CacheEntry{
		Stage:     types.StagePlanning,
		InputHash: "h",
		Data:      map[string]any{"title": "x"},
	}))

	_, err := s.Get(ctx, types.StagePlanning, "h")
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = s.Get(ctx, types.StagePlanning, "h")
	assert.True(t, quillerr.IsNotFound(err))
}
