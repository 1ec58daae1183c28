// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	quillerr "github.com/sigil-dev/quill/pkg/errors"
)

// defaultHTTPClient is the client used by commands that talk to a running
// server. Tests point commands at an httptest server instead.
var defaultHTTPClient = &http.Client{
	Timeout: 10 * time.Second,
}

// apiClient provides HTTP access to a running quill server.
type apiClient struct {
	baseURL string
	http    *http.Client
}

// newAPIClient creates a client targeting addr, either host:port or a full URL.
func newAPIClient(addr string) *apiClient {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &apiClient{
		baseURL: strings.TrimRight(base, "/"),
		http:    defaultHTTPClient,
	}
}

// getJSON performs a GET request and decodes the JSON response into dest.
func (c *apiClient) getJSON(path string, dest any) error {
	return c.do(http.MethodGet, path, nil, dest)
}

func (c *apiClient) putJSON(path string, body, dest any) error {
	return c.do(http.MethodPut, path, body, dest)
}

// do sends body as JSON and decodes any 2xx response into dest. It returns
// CodeCLIServerNotRunning when nothing listens at the address.
func (c *apiClient) do(method, path string, body, dest any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return quillerr.Errorf(quillerr.CodeCLIRequestFailure, "encoding request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, rd)
	if err != nil {
		return quillerr.Errorf(quillerr.CodeCLIRequestFailure, "building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isDialError(err) {
			return quillerr.Errorf(quillerr.CodeCLIServerNotRunning,
				"server is not running at %s (connection refused)", c.baseURL)
		}
		return quillerr.Errorf(quillerr.CodeCLIRequestFailure, "request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return quillerr.Errorf(quillerr.CodeCLIRequestFailure,
			"server returned status %d: %s", resp.StatusCode, problemDetail(data))
	}

	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return quillerr.Errorf(quillerr.CodeCLIResponseInvalid, "invalid response: %w", err)
	}
	return nil
}

// problemDetail extracts the detail of an RFC 9457 error body, falling
// back to the raw text.
func problemDetail(body []byte) string {
	var p struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &p); err == nil && p.Detail != "" {
		return p.Detail
	}
	return strings.TrimSpace(string(body))
}

// isDialError returns true if err is a net dial error (connection refused, etc.).
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}

// serverAddress returns the --address flag, or server.listen when it is unset.
func serverAddress(cmd *cobra.Command) string {
	if addr, _ := cmd.Flags().GetString("address"); addr != "" {
		return addr
	}
	return viper.GetString("server.listen")
}
