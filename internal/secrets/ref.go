// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets

import (
	"strings"

	quillerr "github.com/sigil-dev/quill/pkg/errors"
)

const keyringScheme = "keyring://"

// Ref points at one keyring entry: keyring://service/key.
type Ref struct {
	Service string
	Key     string
}

func (r Ref) String() string { return keyringScheme + r.Service + "/" + r.Key }

// IsKeyringURI reports whether value uses the keyring:// scheme.
func IsKeyringURI(value string) bool {
	return strings.HasPrefix(value, keyringScheme)
}

// ParseRef parses a keyring://service/key reference. The key may itself
// contain slashes.
func ParseRef(uri string) (Ref, error) {
	path, ok := strings.CutPrefix(uri, keyringScheme)
	if !ok {
		return Ref{}, quillerr.Errorf(quillerr.CodeSecretInvalidInput, "not a keyring reference: %q", uri)
	}
	service, key, _ := strings.Cut(path, "/")
	if service == "" || key == "" {
		return Ref{}, quillerr.Errorf(quillerr.CodeSecretInvalidInput,
			"invalid keyring reference %q: expected keyring://service/key", uri)
	}
	return Ref{Service: service, Key: key}, nil
}

// resolve reads the secret behind a reference. Other values are returned
// unchanged.
func resolve(store Store, value string) (string, error) {
	if !IsKeyringURI(value) {
		return value, nil
	}
	ref, err := ParseRef(value)
	if err != nil {
		return "", err
	}
	secret, err := store.Retrieve(ref.Service, ref.Key)
	if err != nil {
		return "", quillerr.Wrapf(err, quillerr.CodeSecretResolveFailure, "resolving %s", ref)
	}
	return secret, nil
}
