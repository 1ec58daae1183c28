// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"errors"
	"sort"
	"sync"

	quillerr "github.com/sigil-dev/quill/pkg/errors"
)

// defaultVectorDimensions is the default size of hashed input embeddings.
const defaultVectorDimensions = 256

// BackendNone disables persistence.
const BackendNone = "none"

// Stores is what a backend provides. Vectors is nil for backends without
// a vector index.
type Stores struct {
	Runs    RunStore
	Cache   ResultCache
	Vectors VectorStore
}

// Close closes every store once, even when two fields share an instance.
func (s *Stores) Close() error {
	if s == nil {
		return nil
	}
	var (
		errs []error
		seen = make(map[any]bool)
	)
	for _, c := range []interface{ Close() error }{s.Runs, s.Cache, s.Vectors} {
		if c == nil || seen[c] {
			continue
		}
		seen[c] = true
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BackendFactory opens the stores of one backend.
type BackendFactory func(cfg *Config) (*Stores, error)

var (
	factories   = map[string]BackendFactory{}
	factoriesMu sync.RWMutex
)

// RegisterBackend registers the factory for a named storage backend.
// Backend packages call this from init(). This function is goroutine-safe.
func RegisterBackend(name string, f BackendFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Backends lists the registered backend names, sorted.
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// resolveBackend returns the effective backend name, defaulting to "sqlite".
func resolveBackend(cfg *Config) string {
	if cfg.Backend == "" {
		return "sqlite"
	}
	return cfg.Backend
}

// Open creates the stores of the configured backend. The "none" backend
// returns empty Stores.
func Open(cfg *Config) (*Stores, error) {
	backend := resolveBackend(cfg)
	if backend == BackendNone {
		return &Stores{}, nil
	}

	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, quillerr.Errorf(quillerr.CodeStoreBackendUnsupported, "unsupported storage backend: %q", backend)
	}

	c := *cfg
	if c.VectorDimensions <= 0 {
		c.VectorDimensions = defaultVectorDimensions
	}
	return factory(&c)
}
