// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package openrouter

// BaseURL exposes the production endpoint for testing.
const BaseURL = baseURL
