// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sigil-dev/quill/internal/pipeline"
	"github.com/sigil-dev/quill/internal/server"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/sigil-dev/quill/pkg/health"
)

func main() {
	spec, err := generateSpec()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	outPath := "api/openapi/spec.json"
	if len(os.Args) > 1 {
		outPath = os.Args[1]
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output dir: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outPath, spec, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error writing spec: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("OpenAPI spec written to %s\n", outPath)
}

// generateSpec creates a server with all routes registered and extracts the
// OpenAPI document huma builds from the handler types.
func generateSpec() ([]byte, error) {
	svc, err := server.NewServices(stubRuns{}, stubProviders{})
	if err != nil {
		return nil, err
	}

	srv, err := server.New(server.Config{
		ListenAddr:  "127.0.0.1:0",
		MetricsPath: "/metrics",
		Services:    svc,
	})
	if err != nil {
		return nil, quillerr.Errorf(quillerr.CodeCLISetupFailure, "creating server: %w", err)
	}
	defer func() { _ = srv.Close() }()

	return json.MarshalIndent(srv.API().OpenAPI(), "", "  ")
}

// No-op services for spec generation. Handlers never run.

type stubRuns struct{}

func (stubRuns) Start(context.Context, string, map[string]any) (string, error) { return "", nil }
func (stubRuns) GetStatus(context.Context, string) (*pipeline.Status, error) { return nil, nil }
func (stubRuns) Cancel(context.Context, string) error { return nil }
func (stubRuns) List(context.Context, int) ([]pipeline.Summary, error) { return nil, nil }

type stubProviders struct{}

func (stubProviders) Names() []string { return nil }
func (stubProviders) Snapshot(string) (health.ProviderHealth, error) {
	return health.ProviderHealth{}, nil
}
func (stubProviders) Snapshots() []health.ProviderHealth { return nil }
func (stubProviders) SetMaintenance(string, bool) error { return nil }
