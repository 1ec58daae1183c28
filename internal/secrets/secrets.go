// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package secrets keeps provider API keys in the OS keyring and resolves
// keyring:// references in the config.
package secrets

// ServiceName is the keyring service provider API keys are stored under.
const ServiceName = "quill"

// Store provides secret storage keyed by service and key.
type Store interface {
	Store(service, key, value string) error

	// Retrieve returns a CodeSecretNotFound error when the key does not exist.
	Retrieve(service, key string) (string, error)

	// Delete returns a CodeSecretNotFound error when the key does not exist.
	Delete(service, key string) error

	// List returns all key names stored under the given service.
	List(service string) ([]string, error)
}

// ProviderKeyURI returns the keyring reference for a provider's API key.
func ProviderKeyURI(provider string) string {
	return Ref{Service: ServiceName, Key: provider}.String()
}
