// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	quillerr "github.com/sigil-dev/quill/pkg/errors"
)

func TestRootCommand_Help(t *testing.T) {
	isolate(t, newMockSecretStore())

	out, err := execute(t, "", "--help")
	require.NoError(t, err)
	for _, sub := range []string{"init", "start", "run", "status", "providers", "secret", "doctor", "version"} {
		assert.Contains(t, out, sub)
	}
	assert.Contains(t, out, "--config")
	assert.Contains(t, out, "--data-dir")
}

func TestVersionCommand(t *testing.T) {
	isolate(t, newMockSecretStore())

	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "quill dev")
	assert.Contains(t, out, "commit: unknown")
}

func TestRootCommand_MissingConfigFile(t *testing.T) {
	isolate(t, newMockSecretStore())

	_, err := execute(t, "", "version", "--config", "/nonexistent/quill.yaml")
	require.Error(t, err)
	assert.True(t, quillerr.HasCode(err, quillerr.CodeConfigLoadReadFailure))
}

func TestRootCommand_BootstrapsDefaultConfig(t *testing.T) {
	isolate(t, newMockSecretStore())

	_, err := execute(t, "", "version")
	require.NoError(t, err)

	home, _ := os.UserHomeDir()
	assert.FileExists(t, filepath.Join(home, ".config", "quill", "quill.yaml"))
}

func TestRootCommand_ResolvesKeyringReferences(t *testing.T) {
	isolate(t, newMockSecretStore("anthropic", "sk-ant-resolved"))
	path := writeConfig(t, `
providers:
  anthropic:
    type: anthropic
    api_key: keyring://quill/anthropic
  openai:
    type: openai
    api_key: keyring://quill/openai
`)

	_, err := execute(t, "", "version", "--config", path)
	require.NoError(t, err)

	assert.Equal(t, "sk-ant-resolved", viper.GetString("providers.anthropic.api_key"))
	// Unresolved references stay as they are and the command still runs.
	assert.Equal(t, "keyring://quill/openai", viper.GetString("providers.openai.api_key"))
}

func TestRootCommand_FlagsOverrideConfig(t *testing.T) {
	isolate(t, newMockSecretStore())
	dataDir := t.TempDir()
	path := writeConfig(t, "storage:\n  data_dir: /from/file\n")

	_, err := execute(t, "", "version", "--config", path, "--data-dir", dataDir, "--verbose")
	require.NoError(t, err)

	assert.Equal(t, dataDir, viper.GetString("storage.data_dir"))
	assert.True(t, viper.GetBool("verbose"))
}

func TestRootCommand_LoadsDotEnv(t *testing.T) {
	isolate(t, newMockSecretStore())

	// Register the variable for restoration, then clear it so .env can set it.
	t.Setenv("QUILL_SERVER_LISTEN", "")
	require.NoError(t, os.Unsetenv("QUILL_SERVER_LISTEN"))
	require.NoError(t, os.WriteFile(".env", []byte("QUILL_SERVER_LISTEN=127.0.0.1:19999\n"), 0o600))

	_, err := execute(t, "", "version")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:19999", viper.GetString("server.listen"))
}
