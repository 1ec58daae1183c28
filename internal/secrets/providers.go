// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets

import (
	"regexp"
	"slices"
	"strings"

	quillerr "github.com/sigil-dev/quill/pkg/errors"
)

// providerName matches names as they appear under providers: in the
// config. viper lowercases keys, so stored names are lowercase too.
var providerName = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// StoredKey is a provider key held in the keyring.
type StoredKey struct {
	Provider string
	Ref      string
}

// ProviderKeys stores one API key per provider name under ServiceName.
// Each key is referenced from the config as ProviderKeyURI(name).
type ProviderKeys struct {
	store Store
}

func NewProviderKeys(store Store) *ProviderKeys {
	return &ProviderKeys{store: store}
}

// Set stores apiKey for provider and returns the reference to put in the
// config. The name is lowercased.
func (k *ProviderKeys) Set(provider, apiKey string) (string, error) {
	name, err := normalizeProvider(provider)
	if err != nil {
		return "", err
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return "", quillerr.Errorf(quillerr.CodeSecretInvalidInput, "API key for %q must not be empty", name)
	}
	if err := k.store.Store(ServiceName, name, apiKey); err != nil {
		return "", quillerr.Wrapf(err, quillerr.CodeSecretStoreFailure, "storing %s API key", name)
	}
	return ProviderKeyURI(name), nil
}

// Get returns the stored key for provider.
func (k *ProviderKeys) Get(provider string) (string, error) {
	name, err := normalizeProvider(provider)
	if err != nil {
		return "", err
	}
	key, err := k.store.Retrieve(ServiceName, name)
	if quillerr.HasCode(err, quillerr.CodeSecretNotFound) {
		return "", quillerr.Errorf(quillerr.CodeSecretNotFound, "no API key stored for %q", name)
	}
	return key, err
}

// Delete removes the stored key for provider.
func (k *ProviderKeys) Delete(provider string) error {
	name, err := normalizeProvider(provider)
	if err != nil {
		return err
	}
	err = k.store.Delete(ServiceName, name)
	if quillerr.HasCode(err, quillerr.CodeSecretNotFound) {
		return quillerr.Errorf(quillerr.CodeSecretNotFound, "no API key stored for %q", name)
	}
	return err
}

// List returns the stored keys sorted by provider name.
func (k *ProviderKeys) List() ([]StoredKey, error) {
	names, err := k.store.List(ServiceName)
	if err != nil {
		return nil, quillerr.Wrapf(err, quillerr.CodeSecretListFailure, "listing provider keys")
	}
	slices.Sort(names)
	out := make([]StoredKey, 0, len(names))
	for _, n := range slices.Compact(names) {
		out = append(out, StoredKey{Provider: n, Ref: ProviderKeyURI(n)})
	}
	return out, nil
}

func normalizeProvider(provider string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(provider))
	if !providerName.MatchString(name) {
		return "", quillerr.Errorf(quillerr.CodeSecretInvalidInput,
			"invalid provider name %q: use letters, digits, '-' or '_'", provider)
	}
	return name, nil
}
