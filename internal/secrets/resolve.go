// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets

import (
	"slices"
	"strings"

	"github.com/spf13/viper"

	quillerr "github.com/sigil-dev/quill/pkg/errors"
)

// Unresolved is a provider whose api_key reference could not be read.
type Unresolved struct {
	Provider string
	Ref      string
	Err      error
}

func providerKeyPath(name string) string { return "providers." + name + ".api_key" }

// ResolveProviderKeys replaces keyring references in providers.<name>.api_key
// with the stored keys. A provider whose reference does not resolve keeps
// it, so wiring skips that provider; those are returned sorted by name.
func ResolveProviderKeys(v *viper.Viper, store Store) []Unresolved {
	names := make([]string, 0)
	for name := range v.GetStringMap("providers") {
		names = append(names, name)
	}
	slices.Sort(names)

	var skipped []Unresolved
	for _, name := range names {
		path := providerKeyPath(name)
		ref := v.GetString(path)
		if !IsKeyringURI(ref) {
			continue
		}
		key, err := resolve(store, ref)
		if err == nil && strings.TrimSpace(key) == "" {
			err = quillerr.Errorf(quillerr.CodeSecretResolveFailure, "%s holds an empty key", ref)
		}
		if err != nil {
			skipped = append(skipped, Unresolved{Provider: name, Ref: ref, Err: err})
			continue
		}
		v.Set(path, key)
	}
	return skipped
}

// ResolveSettings resolves keyring references outside the providers
// section, such as storage.postgres.dsn. Values that fail keep their
// reference and are reported together.
func ResolveSettings(v *viper.Viper, store Store) error {
	var errs []error
	for _, key := range v.AllKeys() {
		if strings.HasPrefix(key, "providers.") {
			continue
		}
		val := v.GetString(key)
		if !IsKeyringURI(val) {
			continue
		}
		resolved, err := resolve(store, val)
		if err != nil {
			errs = append(errs, quillerr.Wrapf(err, quillerr.CodeSecretResolveFailure, "config key %s", key))
			continue
		}
		v.Set(key, resolved)
	}
	return quillerr.Join(errs...)
}
