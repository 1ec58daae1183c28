// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeProviderRoutingUnavailable Code = "provider.routing.unavailable"
	CodeProviderNotFound           Code = "provider.registry.not_found"
	CodeProviderCallTimeout        Code = "provider.call.timeout"
	CodeProviderCallCanceled       Code = "provider.call.canceled"
	CodeProviderUpstreamFailure    Code = "provider.upstream.failure"
	CodeProviderFailoverExhausted  Code = "provider.failover.exhausted"
	CodeProviderRequestInvalid     Code = "provider.request.invalid"
	CodeProviderRequestRejected    Code = "provider.request.rejected"
	CodeProviderResponseInvalid    Code = "provider.response.malformed"
	CodeProviderKeyInvalid         Code = "provider.key.invalid"
	CodeProviderKeyCheckFailed     Code = "provider.key.check.failure"
	CodeProviderModelNotFound      Code = "provider.model.not_found"

	CodeStageExecuteFailure Code = "stage.execute.failure"
	CodeStageExecuteTimeout Code = "stage.execute.timeout"
	CodeStageInputInvalid   Code = "stage.input.invalid_input"

	CodeRecoveryActionTimeout Code = "recovery.action.timeout"
	CodeRecoveryActionFailure Code = "recovery.action.failure"
	CodeRecoveryExhausted     Code = "recovery.strategy.exhausted"

	CodePipelineInputInvalid      Code = "pipeline.input.invalid_input"
	CodePipelineRunNotFound       Code = "pipeline.run.not_found"
	CodePipelineRunFailure        Code = "pipeline.run.failure"
	CodePipelineRunCanceled       Code = "pipeline.run.canceled"
	CodePipelineTransitionInvalid Code = "pipeline.transition.invalid"

	CodeSynthesisMissingStage  Code = "synthesis.validate.invalid"
	CodeSynthesisRegistryParse Code = "synthesis.registry.invalid_format"

	CodeScanInputBlocked   Code = "scan.input.invalid_input"
	CodeScanContentBlocked Code = "scan.content.blocked"
	CodeScanRuleInvalid    Code = "scan.rule.invalid"
	CodeScanModeInvalid    Code = "scan.mode.invalid_value"

	CodeSystemResourceFailure Code = "system.resource.failure"
	CodeSystemConfigFailure   Code = "system.config.failure"

	CodeStoreRunGetNotFound     Code = "store.run.get.not_found"
	CodeStoreCacheGetMissing    Code = "store.cache.get.not_found"
	CodeStoreDatabaseFailure    Code = "store.database.failure"
	CodeStoreBackendUnsupported Code = "store.backend.unsupported"
	CodeStoreInvalidInput       Code = "store.invalid_input"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"
	CodeConfigWriteAlreadyExists   Code = "config.write.already_exists"
	CodeConfigWriteFailure         Code = "config.write.failure"

	CodeSecretNotFound       Code = "secret.get.not_found"
	CodeSecretInvalidInput   Code = "secret.input.invalid_input"
	CodeSecretStoreFailure   Code = "secret.store.failure"
	CodeSecretDeleteFailure  Code = "secret.delete.failure"
	CodeSecretListFailure    Code = "secret.list.failure"
	CodeSecretResolveFailure Code = "secret.resolve.failure"

	CodeServerRequestInvalid  Code = "server.request.invalid"
	CodeServerInternalFailure Code = "server.internal.failure"
	CodeServerEntityNotFound  Code = "server.entity.not_found"
	CodeServerConfigInvalid   Code = "server.config.invalid"
	CodeServerStartFailure    Code = "server.start.failure"
	CodeServerShutdownFailure Code = "server.shutdown.failure"

	CodeCLIServerNotRunning Code = "cli.server.not_running"
	CodeCLIRequestFailure   Code = "cli.request.failure"
	CodeCLIResponseInvalid  Code = "cli.response.invalid"
	CodeCLISetupFailure     Code = "cli.setup.failure"
	CodeCLIInputInvalid     Code = "cli.input.invalid"
)

// Kind groups codes into the caller-facing error taxonomy.
type Kind string

const (
	KindProviderUnavailable Kind = "provider_unavailable"
	KindProviderTimeout     Kind = "provider_timeout"
	KindProviderError       Kind = "provider_error"
	KindStageExecution      Kind = "stage_execution"
	KindValidation          Kind = "validation"
	KindSystem              Kind = "system"
	KindCanceled            Kind = "canceled"
	KindUnknown             Kind = "unknown"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldProvider(value string) Attr {
	return Field("provider", value)
}

func FieldRunID(value string) Attr {
	return Field("run_id", value)
}

func FieldStage(value string) Attr {
	return Field("stage", value)
}

func FieldAttempts(value int) Attr {
	return Field("attempts", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain, keeping its code.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeServerInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

// CodeOf returns the code of the deepest coded error in the chain, so a
// wrapped provider failure keeps its provider code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

func IsCanceled(err error) bool {
	return reason(CodeOf(err)) == "canceled"
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), "upstream") && reason(code) == "failure"
}

// KindOf maps an error onto the caller-facing taxonomy.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	code := CodeOf(err)
	prefix := area(code)
	switch {
	case code == "":
		return KindUnknown
	case IsCanceled(err):
		return KindCanceled
	case code == CodeProviderRoutingUnavailable:
		return KindProviderUnavailable
	case IsInvalidInput(err):
		return KindValidation
	case prefix == "provider" && IsTimeout(err):
		return KindProviderTimeout
	case prefix == "provider":
		return KindProviderError
	case prefix == "stage", prefix == "recovery", prefix == "pipeline":
		return KindStageExecution
	case prefix == "system", prefix == "config":
		return KindSystem
	default:
		return KindUnknown
	}
}

// IsRetryable reports whether the failure may succeed if attempted again.
// Validation and system failures never are.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindProviderUnavailable, KindProviderTimeout, KindProviderError, KindStageExecution:
		return true
	default:
		return false
	}
}

// Failure is the caller-visible description of an error.
type Failure struct {
	Kind      Kind           `json:"kind"`
	Code      Code           `json:"code,omitempty"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Describe builds the caller-visible Failure for err. It returns nil for a nil error.
func Describe(err error) *Failure {
	if err == nil {
		return nil
	}

	return &Failure{
		Kind:      KindOf(err),
		Code:      CodeOf(err),
		Message:   err.Error(),
		Retryable: IsRetryable(err),
		Fields:    FieldsOf(err),
	}
}

func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case HasCode(err, CodeProviderRoutingUnavailable):
		return http.StatusServiceUnavailable
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	case IsUpstreamFailure(err), HasCode(err, CodeProviderFailoverExhausted), HasCode(err, CodeProviderRequestRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	joined := stderrors.Join(errs...)
	if joined == nil {
		return nil
	}
	return oops.Code(CodeServerInternalFailure).Wrap(joined)
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}

func area(code Code) string {
	raw := string(code)
	if idx := strings.Index(raw, "."); idx > 0 {
		return raw[:idx]
	}
	return raw
}
