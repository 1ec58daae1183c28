// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/sigil-dev/quill/internal/store"
)

func init() {
	sqlite_vec.Auto()
}

// Compile-time interface check.
var _ store.VectorStore = (*VectorStore)(nil)

// VectorStore implements store.VectorStore with a sqlite-vec vec0 table.
// Distances are L2.
type VectorStore struct {
	db         *sql.DB
	dimensions int
}

// NewVectorStore opens (or creates) the vector index at dbPath.
func NewVectorStore(dbPath string, dimensions int) (*VectorStore, error) {
	ddl := fmt.Sprintf(`
CREATE VIRTUAL TABLE IF NOT EXISTS vectors USING vec0(id TEXT PRIMARY KEY, embedding float[%d]);

CREATE TABLE IF NOT EXISTS vector_metadata (
	id       TEXT PRIMARY KEY,
	metadata TEXT NOT NULL DEFAULT '{}'
);
`, dimensions)

	db, err := open(dbPath, ddl)
	if err != nil {
		return nil, err
	}
	return &VectorStore{db: db, dimensions: dimensions}, nil
}

func (v *VectorStore) Store(ctx context.Context, id string, embedding []float32, metadata map[string]any) error {
	if len(embedding) != v.dimensions {
		return store.DatabaseError(
			fmt.Errorf("embedding has %d dimensions, index has %d", len(embedding), v.dimensions),
			"storing vector "+id)
	}
	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return store.DatabaseError(err, "serializing embedding")
	}

	metaJSON := []byte("{}")
	if len(metadata) > 0 {
		if metaJSON, err = json.Marshal(metadata); err != nil {
			return store.DatabaseError(err, "encoding vector metadata")
		}
	}

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return store.DatabaseError(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	// vec0 has no ON CONFLICT.
	if _, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE id = ?`, id); err != nil {
		return store.DatabaseError(err, "replacing vector "+id)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO vectors(id, embedding) VALUES (?, ?)`, id, blob); err != nil {
		return store.DatabaseError(err, "inserting vector "+id)
	}

	const metaQ = `INSERT INTO vector_metadata(id, metadata) VALUES (?, ?)
ON CONFLICT(id) DO UPDATE SET metadata = excluded.metadata`
	if _, err := tx.ExecContext(ctx, metaQ, id, string(metaJSON)); err != nil {
		return store.DatabaseError(err, "upserting vector metadata "+id)
	}

	if err := tx.Commit(); err != nil {
		return store.DatabaseError(err, "committing vector "+id)
	}
	return nil
}

// Search returns the k nearest vectors, closest first.
func (v *VectorStore) Search(ctx context.Context, query []float32, k int) ([]store.VectorResult, error) {
	if k <= 0 {
		return nil, nil
	}
	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, store.DatabaseError(err, "serializing query vector")
	}

	const q = `SELECT v.id, v.distance, COALESCE(m.metadata, '{}')
FROM vectors v
LEFT JOIN vector_metadata m ON m.id = v.id
WHERE v.embedding MATCH ? AND k = ?
ORDER BY v.distance`

	rows, err := v.db.QueryContext(ctx, q, blob, k)
	if err != nil {
		return nil, store.DatabaseError(err, "searching vectors")
	}
	defer func() { _ = rows.Close() }()

	var results []store.VectorResult
	for rows.Next() {
		var (
			r       store.VectorResult
			metaStr string
		)
		if err := rows.Scan(&r.ID, &r.Score, &metaStr); err != nil {
			return nil, store.DatabaseError(err, "scanning vector result")
		}
		if metaStr != "" && metaStr != "{}" {
			if err := json.Unmarshal([]byte(metaStr), &r.Metadata); err != nil {
				return nil, store.DatabaseError(err, "decoding vector metadata")
			}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, store.DatabaseError(err, "iterating vector results")
	}
	return results, nil
}

func (v *VectorStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return store.DatabaseError(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	for _, table := range []string{"vectors", "vector_metadata"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id IN (`+placeholders+`)`, args...); err != nil {
			return store.DatabaseError(err, "deleting from "+table)
		}
	}

	if err := tx.Commit(); err != nil {
		return store.DatabaseError(err, "committing vector delete")
	}
	return nil
}

// Close closes the underlying database connection.
func (v *VectorStore) Close() error {
	return v.db.Close()
}
