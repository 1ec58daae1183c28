// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sigil-dev/quill/internal/store"
	"github.com/sigil-dev/quill/pkg/types"
)

// Compile-time interface checks.
var (
	_ store.RunStore    = (*Store)(nil)
	_ store.ResultCache = (*Store)(nil)
)

// Store implements store.RunStore and store.ResultCache over one SQLite
// database. Run records are kept as JSON next to the indexed columns.
type Store struct {
	db      *sql.DB
	ttl     time.Duration
	nowFunc func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	request_id TEXT NOT NULL DEFAULT '',
	state      TEXT NOT NULL,
	record     TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at DESC);

CREATE TABLE IF NOT EXISTS stage_cache (
	stage      TEXT NOT NULL,
	input_hash TEXT NOT NULL,
	data       TEXT NOT NULL,
	confidence REAL NOT NULL,
	stored_at  TEXT NOT NULL,
	PRIMARY KEY (stage, input_hash)
);
`

// NewStore opens (or creates) the database at dbPath. Cache entries older
// than ttl are treated as missing; 0 keeps them forever.
func NewStore(dbPath string, ttl time.Duration) (*Store, error) {
	db, err := open(dbPath, schema)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, ttl: ttl, nowFunc: time.Now}, nil
}

// SetNowFunc overrides the clock used for cache expiry (for testing).
func (s *Store) SetNowFunc(fn func() time.Time) { s.nowFunc = fn }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveRun(ctx context.Context, run *store.RunRecord) error {
	record, err := json.Marshal(run)
	if err != nil {
		return store.DatabaseError(err, "encoding run "+run.ID)
	}

	const q = `INSERT INTO runs (id, request_id, state, record, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	request_id = excluded.request_id,
	state      = excluded.state,
	record     = excluded.record,
	updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, q,
		run.ID,
		run.RequestID,
		string(run.State),
		string(record),
		formatTime(run.CreatedAt),
		formatTime(run.UpdatedAt),
	)
	if err != nil {
		return store.DatabaseError(err, "saving run "+run.ID)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*store.RunRecord, error) {
	var record string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM runs WHERE id = ?`, id).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.RunNotFound(id)
	}
	if err != nil {
		return nil, store.DatabaseError(err, "getting run "+id)
	}
	return decodeRun(record)
}

func (s *Store) ListRuns(ctx context.Context, opts store.ListOpts) ([]*store.RunRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	const q = `SELECT record FROM runs ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, q, limit, opts.Offset)
	if err != nil {
		return nil, store.DatabaseError(err, "listing runs")
	}
	defer func() { _ = rows.Close() }()

	runs := []*store.RunRecord{}
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, store.DatabaseError(err, "scanning run")
		}
		run, err := decodeRun(record)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, store.DatabaseError(err, "iterating runs")
	}
	return runs, nil
}

func decodeRun(record string) (*store.RunRecord, error) {
	var run store.RunRecord
	if err := json.Unmarshal([]byte(record), &run); err != nil {
		return nil, store.DatabaseError(err, "decoding run record")
	}
	return &run, nil
}

func (s *Store) Put(ctx context.Context, entry *store.CacheEntry) error {
	data, err := json.Marshal(entry.Data)
	if err != nil {
		return store.DatabaseError(err, "encoding cache entry "+entry.Key())
	}
	storedAt := entry.StoredAt
	if storedAt.IsZero() {
		storedAt = s.nowFunc()
	}

	const q = `INSERT INTO stage_cache (stage, input_hash, data, confidence, stored_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(stage, input_hash) DO UPDATE SET
	data       = excluded.data,
	confidence = excluded.confidence,
	stored_at  = excluded.stored_at`

	if _, err := s.db.ExecContext(ctx, q, string(entry.Stage), entry.InputHash, string(data), entry.Confidence, formatTime(storedAt)); err != nil {
		return store.DatabaseError(err, fmt.Sprintf("caching %s", entry.Key()))
	}
	return nil
}

func (s *Store) Get(ctx context.Context, stage types.Stage, inputHash string) (*store.CacheEntry, error) {
	const q = `SELECT data, confidence, stored_at FROM stage_cache WHERE stage = ? AND input_hash = ?`

	var (
		data     string
		storedAt string
		entry    = store.CacheEntry{Stage: stage, InputHash: inputHash}
	)
	err := s.db.QueryRowContext(ctx, q, string(stage), inputHash).Scan(&data, &entry.Confidence, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.CacheMiss(stage, inputHash)
	}
	if err != nil {
		return nil, store.DatabaseError(err, "reading cache "+store.CacheKey(stage, inputHash))
	}

	entry.StoredAt = parseTime(storedAt)
	if s.ttl > 0 && s.nowFunc().Sub(entry.StoredAt) > s.ttl {
		return nil, store.CacheMiss(stage, inputHash)
	}
	if err := json.Unmarshal([]byte(data), &entry.Data); err != nil {
		return nil, store.DatabaseError(err, "decoding cache "+entry.Key())
	}
	return &entry, nil
}
