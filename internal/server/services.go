// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"

	"github.com/sigil-dev/quill/internal/pipeline"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/sigil-dev/quill/pkg/health"
)

// RunService starts and observes pipeline runs. *pipeline.Orchestrator
// implements it.
type RunService interface {
	Start(ctx context.Context, requestID string, input map[string]any) (string, error)
	GetStatus(ctx context.Context, runID string) (*pipeline.Status, error)
	Cancel(ctx context.Context, runID string) error
	List(ctx context.Context, limit int) ([]pipeline.Summary, error)
}

// ProviderService exposes provider health. *provider.Tracker implements it.
type ProviderService interface {
	Names() []string
	Snapshot(name string) (health.ProviderHealth, error)
	Snapshots() []health.ProviderHealth
	SetMaintenance(name string, on bool) error
}

// Services holds dependencies injected into route handlers.
// Each field is an interface so subsystems can be mocked in tests.
type Services struct {
	runs      RunService
	providers ProviderService
}

// NewServices creates a Services instance. Both services are required.
func NewServices(runs RunService, providers ProviderService) (*Services, error) {
	if runs == nil {
		return nil, quillerr.New(quillerr.CodeServerConfigInvalid, "run service is required")
	}
	if providers == nil {
		return nil, quillerr.New(quillerr.CodeServerConfigInvalid, "provider service is required")
	}
	return &Services{runs: runs, providers: providers}, nil
}

// Runs returns the run service.
func (s *Services) Runs() RunService { return s.runs }

// Providers returns the provider service.
func (s *Services) Providers() ProviderService { return s.providers }
