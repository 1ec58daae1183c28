// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// New / Errorf
// ---------------------------------------------------------------------------

func TestNewIncludesCodeAndFields(t *testing.T) {
	err := quillerr.New(
		quillerr.CodeProviderUpstreamFailure,
		"upstream returned 503",
		quillerr.FieldProvider("openai"),
		quillerr.FieldRunID("run-1"),
	)

	require.Error(t, err)
	assert.Equal(t, quillerr.CodeProviderUpstreamFailure, quillerr.CodeOf(err))
	assert.True(t, quillerr.HasCode(err, quillerr.CodeProviderUpstreamFailure))

	fields := quillerr.FieldsOf(err)
	assert.Equal(t, "openai", fields["provider"])
	assert.Equal(t, "run-1", fields["run_id"])
}

func TestErrorfWrapsInnerError(t *testing.T) {
	inner := stderrors.New("disk full")
	err := quillerr.Errorf(quillerr.CodeStoreDatabaseFailure, "write failed: %w", inner)
	require.Error(t, err)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, quillerr.CodeStoreDatabaseFailure, quillerr.CodeOf(err))
	assert.Contains(t, err.Error(), "write failed: disk full")
}

// ---------------------------------------------------------------------------
// Wrap / Wrapf / With
// ---------------------------------------------------------------------------

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, quillerr.Wrap(nil, quillerr.CodeServerInternalFailure, "ignored"))
	assert.NoError(t, quillerr.Wrapf(nil, quillerr.CodeServerInternalFailure, "ignored %s", "arg"))
	assert.NoError(t, quillerr.With(nil, quillerr.FieldStage("planning")))
}

func TestWrapPreservesChainAndFields(t *testing.T) {
	root := stderrors.New("connection reset")
	err := quillerr.Wrap(root, quillerr.CodeProviderUpstreamFailure, "calling provider",
		quillerr.FieldProvider("anthropic"),
		quillerr.FieldAttempts(2),
	)

	assert.ErrorIs(t, err, root)
	assert.Equal(t, quillerr.CodeProviderUpstreamFailure, quillerr.CodeOf(err))
	assert.Equal(t, 2, quillerr.FieldsOf(err)["attempts"])
}

func TestWithOnPlainErrorDefaultsToInternalCode(t *testing.T) {
	enriched := quillerr.With(stderrors.New("something broke"), quillerr.FieldStage("gathering"))

	require.Error(t, enriched)
	assert.Equal(t, quillerr.CodeServerInternalFailure, quillerr.CodeOf(enriched))
	assert.Equal(t, "gathering", quillerr.FieldsOf(enriched)["stage"])
}

func TestCodeOfReturnsInnermostCodedError(t *testing.T) {
	inner := quillerr.New(quillerr.CodeProviderCallTimeout, "deadline")
	outer := quillerr.Wrap(inner, quillerr.CodeStageExecuteFailure, "gathering")
	assert.Equal(t, quillerr.CodeProviderCallTimeout, quillerr.CodeOf(outer))

	viaFmt := fmt.Errorf("stage: %w", inner)
	assert.Equal(t, quillerr.CodeProviderCallTimeout, quillerr.CodeOf(viaFmt))
}

// ---------------------------------------------------------------------------
// Kind / IsRetryable / Describe
// ---------------------------------------------------------------------------

func TestKindOf(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      quillerr.Kind
		retryable bool
	}{
		{"unavailable", quillerr.New(quillerr.CodeProviderRoutingUnavailable, "x"), quillerr.KindProviderUnavailable, true},
		{"timeout", quillerr.New(quillerr.CodeProviderCallTimeout, "x"), quillerr.KindProviderTimeout, true},
		{"upstream", quillerr.New(quillerr.CodeProviderUpstreamFailure, "x"), quillerr.KindProviderError, true},
		{"exhausted", quillerr.New(quillerr.CodeProviderFailoverExhausted, "x"), quillerr.KindProviderError, true},
		{"stage", quillerr.New(quillerr.CodeStageExecuteFailure, "x"), quillerr.KindStageExecution, true},
		{"validation", quillerr.New(quillerr.CodeSynthesisMissingStage, "x"), quillerr.KindValidation, false},
		{"pipeline input", quillerr.New(quillerr.CodePipelineInputInvalid, "x"), quillerr.KindValidation, false},
		{"provider request invalid", quillerr.New(quillerr.CodeProviderRequestInvalid, "x"), quillerr.KindValidation, false},
		{"provider request rejected", quillerr.New(quillerr.CodeProviderRequestRejected, "x"), quillerr.KindProviderError, true},
		{"system", quillerr.New(quillerr.CodeSystemResourceFailure, "x"), quillerr.KindSystem, false},
		{"config", quillerr.New(quillerr.CodeConfigLoadReadFailure, "x"), quillerr.KindSystem, false},
		{"canceled", quillerr.New(quillerr.CodePipelineRunCanceled, "x"), quillerr.KindCanceled, false},
		{"plain", stderrors.New("x"), quillerr.KindUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, quillerr.KindOf(tt.err))
			assert.Equal(t, tt.retryable, quillerr.IsRetryable(tt.err))
		})
	}
}

func TestKindOfNil(t *testing.T) {
	assert.Equal(t, quillerr.Kind(""), quillerr.KindOf(nil))
	assert.False(t, quillerr.IsRetryable(nil))
}

func TestDescribe(t *testing.T) {
	assert.Nil(t, quillerr.Describe(nil))

	err := quillerr.New(quillerr.CodeProviderFailoverExhausted, "provider call failed after 3 attempts",
		quillerr.FieldAttempts(3))
	f := quillerr.Describe(err)
	require.NotNil(t, f)
	assert.Equal(t, quillerr.KindProviderError, f.Kind)
	assert.Equal(t, quillerr.CodeProviderFailoverExhausted, f.Code)
	assert.True(t, f.Retryable)
	assert.Contains(t, f.Message, "3 attempts")
	assert.Equal(t, 3, f.Fields["attempts"])
}

// ---------------------------------------------------------------------------
// HTTPStatus
// ---------------------------------------------------------------------------

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code   quillerr.Code
		status int
	}{
		{quillerr.CodePipelineRunNotFound, http.StatusNotFound},
		{quillerr.CodeStoreRunGetNotFound, http.StatusNotFound},
		{quillerr.CodePipelineInputInvalid, http.StatusBadRequest},
		{quillerr.CodeConfigValidateInvalidValue, http.StatusBadRequest},
		{quillerr.CodeProviderRoutingUnavailable, http.StatusServiceUnavailable},
		{quillerr.CodeProviderCallTimeout, http.StatusGatewayTimeout},
		{quillerr.CodeProviderUpstreamFailure, http.StatusBadGateway},
		{quillerr.CodeProviderFailoverExhausted, http.StatusBadGateway},
		{quillerr.CodeServerInternalFailure, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.status, quillerr.HTTPStatus(quillerr.New(tt.code, "boom")))
		})
	}

	assert.Equal(t, http.StatusInternalServerError, quillerr.HTTPStatus(nil))
	assert.Equal(t, http.StatusInternalServerError, quillerr.HTTPStatus(stderrors.New("plain")))
}

// ---------------------------------------------------------------------------
// Join
// ---------------------------------------------------------------------------

func TestJoinCombinesErrors(t *testing.T) {
	a := stderrors.New("first")
	b := stderrors.New("second")
	joined := quillerr.Join(a, b)

	require.Error(t, joined)
	assert.ErrorIs(t, joined, a)
	assert.ErrorIs(t, joined, b)
	assert.Equal(t, quillerr.CodeServerInternalFailure, quillerr.CodeOf(joined))

	assert.NoError(t, quillerr.Join())
	assert.NoError(t, quillerr.Join(nil, nil))
}

func TestFieldsWithEmptyKeyAreIgnored(t *testing.T) {
	err := quillerr.New(quillerr.CodeStoreDatabaseFailure, "oops",
		quillerr.Field("", "dropped"),
		quillerr.FieldProvider("kept"),
	)
	fields := quillerr.FieldsOf(err)
	assert.Equal(t, "kept", fields["provider"])
	assert.NotContains(t, fields, "")
}
