// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import "time"

// Config controls which backend Open uses.
type Config struct {
	Backend string // "sqlite", "memory", "redis", "postgres" or "none".
	// DataDir holds the sqlite database files.
	DataDir string
	// CacheTTL bounds how long cached stage output is served. 0 keeps it forever.
	CacheTTL time.Duration
	// VectorDimensions is the embedding size; 0 uses the default (256).
	VectorDimensions int
	Redis            RedisConfig
	Postgres         PostgresConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type PostgresConfig struct {
	DSN      string
	MaxConns int
}
