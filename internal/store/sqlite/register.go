// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sigil-dev/quill/internal/store"
)

func init() {
	store.RegisterBackend("sqlite", newStores)
}

// newStores opens quill.db for runs and the cache, and vectors.db for the
// input index, both under cfg.DataDir.
func newStores(cfg *store.Config) (*store.Stores, error) {
	dir := cfg.DataDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, store.DatabaseError(err, "creating data dir "+dir)
	}

	s, err := NewStore(filepath.Join(dir, "quill.db"), cfg.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("creating run store: %w", err)
	}

	vs, err := NewVectorStore(filepath.Join(dir, "vectors.db"), cfg.VectorDimensions)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating vector store: %w", err)
	}

	return &store.Stores{Runs: s, Cache: s, Vectors: vs}, nil
}
