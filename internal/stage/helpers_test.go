// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package stage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/quill/internal/provider"
	"github.com/sigil-dev/quill/internal/provider/providertest"
	"github.com/sigil-dev/quill/internal/stage"
	"github.com/sigil-dev/quill/pkg/types"
)

// newSet wires the stages over the given fake providers.
func newSet(t *testing.T, providers ...provider.Provider) *stage.Set {
	t.Helper()
	env := providertest.New(t, providers...)
	return stage.NewSet(&stage.Backends{
		Coordinator: env.Coordinator,
		Registry:    env.Registry,
		Models:      env.Registry.ModelNames(),
		Searchers:   env.Registry.SearchNames(),
	})
}

func executor(t *testing.T, set *stage.Set, s types.Stage) stage.Executor {
	t.Helper()
	e, err := set.Executor(s)
	require.NoError(t, err)
	return e
}

func replyWith(content string) *providertest.Model {
	return &providertest.Model{ID: "model", Content: content}
}

func failingModel(err error) *providertest.Model {
	return &providertest.Model{ID: "model", Reply: func(context.Context, provider.InvokeRequest) (string, error) {
		return "", err
	}}
}
