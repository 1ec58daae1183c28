// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"sync"

	quillerr "github.com/sigil-dev/quill/pkg/errors"
)

// Registry holds the named provider clients in registration order.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider under name. The provider must implement
// ModelProvider or SearchProvider.
func (r *Registry) Register(name string, p Provider) error {
	_, isModel := p.(ModelProvider)
	_, isSearch := p.(SearchProvider)
	if !isModel && !isSearch {
		return quillerr.New(quillerr.CodeProviderRequestInvalid,
			"provider implements neither model nor search calls: "+name,
			quillerr.FieldProvider(name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[name]; ok {
		return quillerr.New(quillerr.CodeProviderRequestInvalid,
			"provider already registered: "+name, quillerr.FieldProvider(name))
	}
	r.providers[name] = p
	r.order = append(r.order, name)
	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, quillerr.New(
			quillerr.CodeProviderNotFound,
			"provider not found: "+name,
			quillerr.FieldProvider(name),
		)
	}
	return p, nil
}

// Model returns the named provider as a ModelProvider.
func (r *Registry) Model(name string) (ModelProvider, error) {
	p, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	m, ok := p.(ModelProvider)
	if !ok {
		return nil, quillerr.New(quillerr.CodeProviderNotFound,
			"provider is not a model provider: "+name, quillerr.FieldProvider(name))
	}
	return m, nil
}

// Search returns the named provider as a SearchProvider.
func (r *Registry) Search(name string) (SearchProvider, error) {
	p, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	s, ok := p.(SearchProvider)
	if !ok {
		return nil, quillerr.New(quillerr.CodeProviderNotFound,
			"provider is not a search provider: "+name, quillerr.FieldProvider(name))
	}
	return s, nil
}

// Names returns every provider name in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// ModelNames returns the names of model providers in registration order.
func (r *Registry) ModelNames() []string {
	return r.filter(func(p Provider) bool { _, ok := p.(ModelProvider); return ok })
}

// SearchNames returns the names of search providers in registration order.
func (r *Registry) SearchNames() []string {
	return r.filter(func(p Provider) bool { _, ok := p.(SearchProvider); return ok })
}

func (r *Registry) filter(keep func(Provider) bool) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, name := range r.order {
		if keep(r.providers[name]) {
			out = append(out, name)
		}
	}
	return out
}

// HealthCheckers returns the providers that support health checks.
func (r *Registry) HealthCheckers() map[string]HealthChecker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]HealthChecker)
	for name, p := range r.providers {
		if pr, ok := p.(HealthChecker); ok {
			out[name] = pr
		}
	}
	return out
}

// Close shuts down all registered providers.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, name := range r.order {
		if err := r.providers[name].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return quillerr.Join(errs...)
}
