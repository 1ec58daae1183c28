// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/sigil-dev/quill/pkg/types"
)

// RunNotFound is returned by RunStore.GetRun for unknown ids.
func RunNotFound(id string) error {
	return quillerr.New(quillerr.CodeStoreRunGetNotFound, "run "+id+" not found", quillerr.FieldRunID(id))
}

// CacheMiss is returned by ResultCache.Get when no fresh entry exists.
func CacheMiss(stage types.Stage, inputHash string) error {
	return quillerr.New(quillerr.CodeStoreCacheGetMissing, "no cached output for "+CacheKey(stage, inputHash),
		quillerr.FieldStage(string(stage)))
}

// DatabaseError wraps a backend failure.
func DatabaseError(err error, msg string) error {
	return quillerr.Wrap(err, quillerr.CodeStoreDatabaseFailure, msg)
}
