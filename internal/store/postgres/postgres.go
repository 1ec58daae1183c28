// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package postgres stores runs and cached stage output in PostgreSQL
// through sqlx on the pgx driver. The schema is applied with goose from
// embedded migrations.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"github.com/sigil-dev/quill/internal/store"
	"github.com/sigil-dev/quill/pkg/types"
)

//go:embed migrations/*.sql
var migrations embed.FS

const defaultMaxConns = 10

func init() {
	store.RegisterBackend("postgres", func(cfg *store.Config) (*store.Stores, error) {
		s, err := New(context.Background(), cfg.Postgres.DSN, cfg.Postgres.MaxConns, cfg.CacheTTL)
		if err != nil {
			return nil, err
		}
		return &store.Stores{Runs: s, Cache: s}, nil
	})
}

// Compile-time interface checks.
var (
	_ store.RunStore    = (*Store)(nil)
	_ store.ResultCache = (*Store)(nil)
)

// Store implements store.RunStore and store.ResultCache on PostgreSQL.
type Store struct {
	db      *sqlx.DB
	ttl     time.Duration
	nowFunc func() time.Time
}

// New connects to dsn and migrates the schema.
func New(ctx context.Context, dsn string, maxConns int, ttl time.Duration) (*Store, error) {
	if dsn == "" {
		return nil, store.DatabaseError(errors.New("empty dsn"), "connecting to postgres")
	}
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, store.DatabaseError(err, "opening postgres")
	}

	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(max(1, maxConns/4))
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, store.DatabaseError(err, "pinging postgres")
	}

	if err := migrate(ctx, db.DB); err != nil {
		_ = db.Close()
		return nil, store.DatabaseError(err, "migrating postgres")
	}

	return &Store{db: db, ttl: ttl, nowFunc: time.Now}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

// SetNowFunc overrides the clock used for cache expiry (for testing).
func (s *Store) SetNowFunc(fn func() time.Time) { s.nowFunc = fn }

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveRun(ctx context.Context, run *store.RunRecord) error {
	record, err := json.Marshal(run)
	if err != nil {
		return store.DatabaseError(err, "encoding run "+run.ID)
	}

	query := `
		INSERT INTO runs (id, request_id, state, record, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			request_id = EXCLUDED.request_id,
			state = EXCLUDED.state,
			record = EXCLUDED.record,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		run.RequestID,
		string(run.State),
		record,
		run.CreatedAt.UTC(),
		run.UpdatedAt.UTC(),
	)
	if err != nil {
		return store.DatabaseError(err, "saving run "+run.ID)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*store.RunRecord, error) {
	var record []byte
	err := s.db.GetContext(ctx, &record, `SELECT record FROM runs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.RunNotFound(id)
	}
	if err != nil {
		return nil, store.DatabaseError(err, "getting run "+id)
	}

	var run store.RunRecord
	if err := json.Unmarshal(record, &run); err != nil {
		return nil, store.DatabaseError(err, "decoding run "+id)
	}
	return &run, nil
}

func (s *Store) ListRuns(ctx context.Context, opts store.ListOpts) ([]*store.RunRecord, error) {
	var limit any // NULL means no limit
	if opts.Limit > 0 {
		limit = opts.Limit
	}

	var records [][]byte
	query := `SELECT record FROM runs ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`
	if err := s.db.SelectContext(ctx, &records, query, limit, opts.Offset); err != nil {
		return nil, store.DatabaseError(err, "listing runs")
	}

	runs := make([]*store.RunRecord, 0, len(records))
	for _, record := range records {
		var run store.RunRecord
		if err := json.Unmarshal(record, &run); err != nil {
			return nil, store.DatabaseError(err, "decoding run record")
		}
		runs = append(runs, &run)
	}
	return runs, nil
}

type cacheRow struct {
	Data       []byte    `db:"data"`
	Confidence float64   `db:"confidence"`
	StoredAt   time.Time `db:"stored_at"`
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

	query := `
		INSERT INTO stage_cache (stage, input_hash, data, confidence, stored_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (stage, input_hash) DO UPDATE SET
			data = EXCLUDED.data,
			confidence = EXCLUDED.confidence,
			stored_at = EXCLUDED.stored_at
	`
	if _, err := s.db.ExecContext(ctx, query, string(entry.Stage), entry.InputHash, data, entry.Confidence, storedAt.UTC()); err != nil {
		return store.DatabaseError(err, "caching "+entry.Key())
	}
	return nil
}

func (s *Store) Get(ctx context.Context, stage types.Stage, inputHash string) (*store.CacheEntry, error) {
	var row cacheRow
	query := `SELECT data, confidence, stored_at FROM stage_cache WHERE stage = $1 AND input_hash = $2`
	err := s.db.GetContext(ctx, &row, query, string(stage), inputHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.CacheMiss(stage, inputHash)
	}
	if err != nil {
		return nil, store.DatabaseError(err, "reading cache "+store.CacheKey(stage, inputHash))
	}
	if s.ttl > 0 && s.nowFunc().Sub(row.StoredAt) > s.ttl {
		return nil, store.CacheMiss(stage, inputHash)
	}

	entry := &store.CacheEntry{
		Stage:      stage,
		InputHash:  inputHash,
		Confidence: row.Confidence,
		StoredAt:   row.StoredAt,
	}
	if err := json.Unmarshal(row.Data, &entry.Data); err != nil {
		return nil, store.DatabaseError(err, "decoding cache "+entry.Key())
	}
	return entry, nil
}
