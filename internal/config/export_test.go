// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

// BootstrapAt exposes bootstrapAt for tests that must not touch $HOME.
var BootstrapAt = bootstrapAt
