// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	quillerr "github.com/sigil-dev/quill/pkg/errors"
)

// ProviderName identifies a model provider type whose keys can be checked.
type ProviderName string

const (
	ProviderAnthropic  ProviderName = "anthropic"
	ProviderOpenAI     ProviderName = "openai"
	ProviderGoogle     ProviderName = "google"
	ProviderOpenRouter ProviderName = "openrouter"
)

// maxModelsBody bounds how much of a models listing is read.
const maxModelsBody = 4 << 20

// KeyCheck is one configured model provider entry.
type KeyCheck struct {
	Name     string // config entry name, used in messages
	Type     ProviderName
	APIKey   string
	Endpoint string // base URL override, as passed to the client SDK
	Model    string // when set, must be in the models listing
}

// modelsAPI locates a provider's models listing relative to the same base
// URL its SDK client uses.
type modelsAPI struct {
	base    string
	path    string
	headers func(key string) map[string]string
	query   func(key string) url.Values
}

var modelsAPIs = map[ProviderName]modelsAPI{
	ProviderAnthropic: {
		base:    "https://api.anthropic.com",
		path:    "/v1/models",
		headers: anthropicHeaders,
		query:   func(string) url.Values { return url.Values{"limit": {"1000"}} },
	},
	ProviderOpenAI: {
		base:    "https://api.openai.com/v1",
		path:    "/models",
		headers: bearer,
	},
	ProviderGoogle: {
		base: "https://generativelanguage.googleapis.com",
		path: "/v1beta/models",
		// Google authenticates this endpoint by query parameter only.
		query: func(key string) url.Values { return url.Values{"key": {key}, "pageSize": {"1000"}} },
	},
	ProviderOpenRouter: {
		base:    "https://openrouter.ai/api/v1",
		path:    "/models",
		headers: bearer,
	},
}

func anthropicHeaders(key string) map[string]string {
	return map[string]string{"x-api-key": key, "anthropic-version": "2023-06-01"}
}

func bearer(key string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + key}
}

// modelListing covers the listing shapes of the supported providers.
type modelListing struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
	HasMore       bool   `json:"has_more"`
	NextPageToken string `json:"nextPageToken"`
}

func (l modelListing) ids() []string {
	ids := make([]string, 0, len(l.Data)+len(l.Models))
	for _, d := range l.Data {
		ids = append(ids, d.ID)
	}
	for _, m := range l.Models {
		ids = append(ids, strings.TrimPrefix(m.Name, "models/"))
	}
	return ids
}

func (l modelListing) complete() bool { return !l.HasMore && l.NextPageToken == "" }

// ValidateKey confirms key against the default endpoint of provider.
func ValidateKey(ctx context.Context, client *http.Client, provider ProviderName, key string) error {
	return CheckKey(ctx, client, KeyCheck{Name: string(provider), Type: provider, APIKey: key})
}

// CheckKey lists the models of a configured provider entry. A rejected key
// fails with CodeProviderKeyInvalid. A configured model missing from a
// complete listing fails with CodeProviderModelNotFound.
func CheckKey(ctx context.Context, client *http.Client, kc KeyCheck) error {
	api, ok := modelsAPIs[kc.Type]
	if !ok {
		return quillerr.Errorf(quillerr.CodeProviderKeyInvalid, "%s: unknown provider type %q", kc.Name, kc.Type)
	}

	base := api.base
	if kc.Endpoint != "" {
		base = kc.Endpoint
	}
	u, err := url.Parse(strings.TrimRight(base, "/") + api.path)
	if err != nil {
		return quillerr.Errorf(quillerr.CodeProviderKeyCheckFailed, "%s: invalid endpoint %q: %w", kc.Name, base, err)
	}
	if api.query != nil {
		q := u.Query()
		for k, v := range api.query(kc.APIKey) {
			q[k] = v
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return quillerr.Errorf(quillerr.CodeProviderKeyCheckFailed, "building key check request: %w", err)
	}
	if api.headers != nil {
		for k, v := range api.headers(kc.APIKey) {
			req.Header.Set(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		// The URL may carry the key, so only the cause is reported.
		if uerr := (*url.Error)(nil); errors.As(err, &uerr) {
			err = uerr.Err
		}
		return quillerr.Errorf(quillerr.CodeProviderKeyCheckFailed, "checking %s key: %w", kc.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, resp.Body)
		return quillerr.Errorf(quillerr.CodeProviderKeyInvalid, "invalid %s API key (HTTP %d)", kc.Name, resp.StatusCode)
	case resp.StatusCode >= 400:
		_, _ = io.Copy(io.Discard, resp.Body)
		return quillerr.Errorf(quillerr.CodeProviderKeyCheckFailed, "%s key check failed (HTTP %d)", kc.Name, resp.StatusCode)
	}

	if kc.Model == "" {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	var listing modelListing
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxModelsBody)).Decode(&listing); err != nil {
		return quillerr.Errorf(quillerr.CodeProviderKeyCheckFailed, "%s: decoding models listing: %w", kc.Name, err)
	}
	if listing.complete() && !slices.Contains(listing.ids(), kc.Model) {
		return quillerr.Errorf(quillerr.CodeProviderModelNotFound, "%s does not offer model %q", kc.Name, kc.Model)
	}
	return nil
}
