// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	quillerr "github.com/sigil-dev/quill/pkg/errors"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestStartCommand_InvalidListen(t *testing.T) {
	isolate(t, newMockSecretStore())

	_, err := execute(t, "", "start", "--config", writeConfig(t, memoryConfig), "--listen", "nowhere")
	require.Error(t, err)
	assert.True(t, quillerr.HasCode(err, quillerr.CodeConfigValidateInvalidValue))
}

func TestStartCommand_ServesUntilCanceled(t *testing.T) {
	isolate(t, newMockSecretStore())
	addr := freeAddr(t)

	root := NewRootCmd()
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"start", "--config", writeConfig(t, memoryConfig), "--listen", addr})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		var body struct {
			Status string `json:"status"`
		}
		return newAPIClient(addr).getJSON("/health", &body) == nil && body.Status == "ok"
	}, 10*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(20 * time.Second):
		t.Fatal("start did not return after cancel")
	}
	assert.Contains(t, out.String(), "Starting quill on "+addr+" (0 providers, memory storage)")
}
