// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets

import (
	"encoding/json"
	"errors"
	"log/slog"
	"slices"

	"github.com/zalando/go-keyring"

	quillerr "github.com/sigil-dev/quill/pkg/errors"
)

// indexKey holds a sorted JSON list of a service's keys, since go-keyring
// cannot enumerate entries. Provider names never start with '_'.
const indexKey = "_index"

// KeyringStore implements Store on the OS keyring (Keychain, secret-service
// or Credential Manager).
type KeyringStore struct{}

func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

func (s *KeyringStore) Store(service, key, value string) error {
	if err := checkEntry("store", service, key); err != nil {
		return err
	}
	if err := keyring.Set(service, key, value); err != nil {
		return quillerr.Wrapf(err, quillerr.CodeSecretStoreFailure, "storing %s", Ref{service, key})
	}
	return s.updateIndex(service, func(keys []string) []string {
		if i, found := slices.BinarySearch(keys, key); !found {
			keys = slices.Insert(keys, i, key)
		}
		return keys
	})
}

func (s *KeyringStore) Retrieve(service, key string) (string, error) {
	if err := checkEntry("retrieve", service, key); err != nil {
		return "", err
	}
	val, err := keyring.Get(service, key)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return "", quillerr.Errorf(quillerr.CodeSecretNotFound, "%s not found", Ref{service, key})
	case err != nil:
		return "", quillerr.Wrapf(err, quillerr.CodeSecretStoreFailure, "retrieving %s", Ref{service, key})
	}
	return val, nil
}

func (s *KeyringStore) Delete(service, key string) error {
	if err := checkEntry("delete", service, key); err != nil {
		return err
	}
	err := keyring.Delete(service, key)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return quillerr.Errorf(quillerr.CodeSecretNotFound, "%s not found", Ref{service, key})
	case err != nil:
		return quillerr.Wrapf(err, quillerr.CodeSecretDeleteFailure, "deleting %s", Ref{service, key})
	}
	return s.updateIndex(service, func(keys []string) []string {
		return slices.DeleteFunc(keys, func(k string) bool { return k == key })
	})
}

// List returns the indexed keys of service in sorted order.
func (s *KeyringStore) List(service string) ([]string, error) {
	raw, err := keyring.Get(service, indexKey)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, quillerr.Wrapf(err, quillerr.CodeSecretListFailure, "reading key index of %s", service)
	}
	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, quillerr.Wrapf(err, quillerr.CodeSecretListFailure, "decoding key index of %s", service)
	}
	slices.Sort(keys)
	return slices.Compact(keys), nil
}

// updateIndex rewrites the index of service with edit applied. An empty
// index is removed.
func (s *KeyringStore) updateIndex(service string, edit func([]string) []string) error {
	keys, err := s.List(service)
	if err != nil {
		return err
	}
	keys = edit(keys)
	if len(keys) == 0 {
		if err := keyring.Delete(service, indexKey); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			slog.Debug("removing empty key index", "service", service, "error", err)
		}
		return nil
	}
	data, err := json.Marshal(keys)
	if err != nil {
		return quillerr.Wrapf(err, quillerr.CodeSecretListFailure, "encoding key index of %s", service)
	}
	if err := keyring.Set(service, indexKey, string(data)); err != nil {
		return quillerr.Wrapf(err, quillerr.CodeSecretListFailure, "saving key index of %s", service)
	}
	return nil
}

func checkEntry(op, service, key string) error {
	switch {
	case service == "":
		return quillerr.New(quillerr.CodeSecretInvalidInput, "secret "+op+": service must not be empty")
	case key == "":
		return quillerr.New(quillerr.CodeSecretInvalidInput, "secret "+op+": key must not be empty")
	case key == indexKey:
		return quillerr.New(quillerr.CodeSecretInvalidInput, "secret "+op+": "+indexKey+" is reserved")
	}
	return nil
}
