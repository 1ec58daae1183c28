// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package redis stores runs and cached stage output in Redis. Runs are JSON
// values indexed by a sorted set scored on creation time; cache entries
// expire through the key TTL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/sigil-dev/quill/internal/store"
	"github.com/sigil-dev/quill/pkg/types"
)

func init() {
	store.RegisterBackend("redis", func(cfg *store.Config) (*store.Stores, error) {
		opts := []Option{WithTTL(cfg.CacheTTL)}
		if cfg.Redis.Prefix != "" {
			opts = append(opts, WithPrefix(cfg.Redis.Prefix))
		}
		s := New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, opts...)
		if err := s.client.Ping(context.Background()).Err(); err != nil {
			_ = s.Close()
			return nil, store.DatabaseError(err, "connecting to redis at "+cfg.Redis.Addr)
		}
		return &store.Stores{Runs: s, Cache: s}, nil
	})
}

// Compile-time interface checks.
var (
	_ store.RunStore    = (*Store)(nil)
	_ store.ResultCache = (*Store)(nil)
)

const defaultPrefix = "quill:"

// Store implements store.RunStore and store.ResultCache on Redis.
type Store struct {
	client  *backend.Client
	prefix  string
	ttl     time.Duration
	nowFunc func() time.Time
}

type Option func(*Store)

// WithTTL sets the expiration of cache entries. Runs never expire.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the prefix of every key the store writes.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a Store with its own client.
func New(address, password string, db int, opts ...Option) *Store {
	return NewFromClient(backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	}), opts...)
}

// NewFromClient creates a Store on an existing client. Close closes the client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	s := &Store{
		client:  client,
		prefix:  defaultPrefix,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) runKey(id string) string { return s.prefix + "run:" + id }
func (s *Store) runIndexKey() string     { return s.prefix + "runs" }

func (s *Store) cacheKey(stage types.Stage, inputHash string) string {
	return s.prefix + "cache:" + store.CacheKey(stage, inputHash)
}

func (s *Store) SaveRun(ctx context.Context, run *store.RunRecord) error {
	data, err := json.Marshal(run)
	if err != nil {
		return store.DatabaseError(err, "encoding run "+run.ID)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.runKey(run.ID), data, 0)
	pipe.ZAdd(ctx, s.runIndexKey(), backend.Z{
		Score:  float64(run.CreatedAt.UnixMilli()),
		Member: run.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return store.DatabaseError(err, "saving run "+run.ID)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*store.RunRecord, error) {
	val, err := s.client.Get(ctx, s.runKey(id)).Bytes()
	if errors.Is(err, backend.Nil) {
		return nil, store.RunNotFound(id)
	}
	if err != nil {
		return nil, store.DatabaseError(err, "getting run "+id)
	}

	var run store.RunRecord
	if err := json.Unmarshal(val, &run); err != nil {
		return nil, store.DatabaseError(err, "decoding run "+id)
	}
	return &run, nil
}

// ListRuns reads the index newest first. Equal creation times order by id,
// descending.
func (s *Store) ListRuns(ctx context.Context, opts store.ListOpts) ([]*store.RunRecord, error) {
	start := int64(opts.Offset)
	stop := int64(-1)
	if opts.Limit > 0 {
		stop = start + int64(opts.Limit) - 1
	}

	ids, err := s.client.ZRevRange(ctx, s.runIndexKey(), start, stop).Result()
	if err != nil {
		return nil, store.DatabaseError(err, "listing runs")
	}
	runs := make([]*store.RunRecord, 0, len(ids))
	if len(ids) == 0 {
		return runs, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.runKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, store.DatabaseError(err, "reading runs")
	}
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// indexed but deleted out of band
			continue
		}
		var run store.RunRecord
		if err := json.Unmarshal([]byte(raw), &run); err != nil {
			return nil, store.DatabaseError(err, "decoding run "+ids[i])
		}
		runs = append(runs, &run)
	}
	return runs, nil
}

func (s *Store) Put(ctx context.Context, entry *store.CacheEntry) error {
	e := *entry
	if e.StoredAt.IsZero() {
		e.StoredAt = s.nowFunc()
	}
	data, err := json.Marshal(&e)
	if err != nil {
		return store.DatabaseError(err, "encoding cache entry "+e.Key())
	}
	if err := s.client.Set(ctx, s.cacheKey(e.Stage, e.InputHash), data, s.ttl).Err(); err != nil {
		return store.DatabaseError(err, "caching "+e.Key())
	}
	return nil
}

func (s *Store) Get(ctx context.Context, stage types.Stage, inputHash string) (*store.CacheEntry, error) {
	val, err := s.client.Get(ctx, s.cacheKey(stage, inputHash)).Bytes()
	if errors.Is(err, backend.Nil) {
		return nil, store.CacheMiss(stage, inputHash)
	}
	if err != nil {
		return nil, store.DatabaseError(err, "reading cache "+store.CacheKey(stage, inputHash))
	}

	var entry store.CacheEntry
	if err := json.Unmarshal(val, &entry); err != nil {
		return nil, store.DatabaseError(err, "decoding cache "+store.CacheKey(stage, inputHash))
	}
	return &entry, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
