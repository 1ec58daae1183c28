// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"fmt"
	"net/http"

	quillerr "github.com/sigil-dev/quill/pkg/errors"
)

// UpstreamError gives an SDK or HTTP failure a provider code based on the
// response status. A status of 0 means no response was received.
//
// Every status is a provider error, so the coordinator can move on to
// another provider. A 400 or 422 is CodeProviderRequestRejected: the same
// provider would reject the request again.
func UpstreamError(name string, status int, err error) error {
	fields := []quillerr.Attr{quillerr.FieldProvider(name)}
	if status > 0 {
		fields = append(fields, quillerr.Field("status", status))
	}

	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return quillerr.Wrap(err, quillerr.CodeProviderRequestRejected,
			name+": request rejected", fields...)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return quillerr.New(quillerr.CodeProviderCallTimeout,
			fmt.Sprintf("%s: upstream timed out: %v", name, err), fields...)
	default:
		return quillerr.Wrap(err, quillerr.CodeProviderUpstreamFailure,
			name+": call failed", fields...)
	}
}

// MissingKey is returned by constructors when no API key is configured.
func MissingKey(name string) error {
	return quillerr.New(quillerr.CodeProviderRequestInvalid,
		name+": missing api_key in config", quillerr.FieldProvider(name))
}

// EmptyResponse is returned when a model replies without any text.
func EmptyResponse(name string) error {
	return quillerr.New(quillerr.CodeProviderResponseInvalid,
		name+": empty response", quillerr.FieldProvider(name))
}
