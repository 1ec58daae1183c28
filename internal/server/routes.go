// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sigil-dev/quill/internal/pipeline"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/sigil-dev/quill/pkg/health"
	"github.com/sigil-dev/quill/pkg/types"
)

func (s *Server) registerRoutes() {
	// Run endpoints
	huma.Register(s.api, huma.Operation{
		OperationID:   "start-run",
		Method:        http.MethodPost,
		Path:          runsPath,
		Summary:       "Start a pipeline run",
		Tags:          []string{"runs"},
		DefaultStatus: http.StatusAccepted,
	}, s.handleStartRun)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        runsPath,
		Summary:     "List runs, newest first",
		Tags:        []string{"runs"},
	}, s.handleListRuns)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        runsPath + "/{id}",
		Summary:     "Get run status",
		Tags:        []string{"runs"},
	}, s.handleGetRun)

	huma.Register(s.api, huma.Operation{
		OperationID:   "cancel-run",
		Method:        http.MethodDelete,
		Path:          runsPath + "/{id}",
		Summary:       "Cancel a run",
		Tags:          []string{"runs"},
		DefaultStatus: http.StatusAccepted,
	}, s.handleCancelRun)

	// Provider endpoints
	huma.Register(s.api, huma.Operation{
		OperationID: "list-providers",
		Method:      http.MethodGet,
		Path:        "/api/v1/providers",
		Summary:     "List provider health",
		Tags:        []string{"providers"},
	}, s.handleListProviders)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-provider-health",
		Method:      http.MethodGet,
		Path:        "/api/v1/providers/{name}/health",
		Summary:     "Get provider health",
		Tags:        []string{"providers"},
	}, s.handleGetProviderHealth)

	huma.Register(s.api, huma.Operation{
		OperationID: "set-provider-maintenance",
		Method:      http.MethodPut,
		Path:        "/api/v1/providers/{name}/maintenance",
		Summary:     "Toggle provider maintenance mode",
		Tags:        []string{"providers"},
	}, s.handleSetMaintenance)
}

// --- Request/Response types for huma ---

type startRunInput struct {
	Body struct {
		RequestID string         `json:"request_id,omitempty" doc:"Caller correlation id; generated when empty"`
		Input     map[string]any `json:"input" doc:"Research brief: topic (required), audience, window_start, window_end"`
	}
}
type startRunOutput struct {
	Body struct {
		RunID string         `json:"run_id"`
		State types.RunState `json:"state"`
	}
}

type listRunsInput struct {
	Limit int `query:"limit" default:"50" minimum:"0" maximum:"1000" doc:"Maximum runs to return; 0 returns all"`
}
type listRunsOutput struct {
	Body struct {
		Runs []pipeline.Summary `json:"runs"`
	}
}

type runIDInput struct {
	ID string `path:"id"`
}
type getRunOutput struct {
	Body *pipeline.Status
}
type cancelRunOutput struct {
	Body struct {
		RunID  string `json:"run_id"`
		Status string `json:"status"`
	}
}

type listProvidersOutput struct {
	Body struct {
		Providers []health.ProviderHealth `json:"providers"`
	}
}

type providerNameInput struct {
	Name string `path:"name"`
}
type providerHealthOutput struct {
	Body health.ProviderHealth
}

type maintenanceInput struct {
	Name string `path:"name"`
	Body struct {
		Enabled bool `json:"enabled" doc:"Put the provider into maintenance"`
	}
}

// --- Handlers ---

func (s *Server) handleStartRun(ctx context.Context, input *startRunInput) (*startRunOutput, error) {
	id, err := s.services.Runs().Start(ctx, input.Body.RequestID, input.Body.Input)
	if err != nil {
		return nil, apiError("starting run", err)
	}

	out := &startRunOutput{}
	out.Body.RunID = id
	out.Body.State = types.RunStatePlanning
	if st, err := s.services.Runs().GetStatus(ctx, id); err == nil {
		out.Body.State = st.State
	}
	return out, nil
}

func (s *Server) handleListRuns(ctx context.Context, input *listRunsInput) (*listRunsOutput, error) {
	runs, err := s.services.Runs().List(ctx, input.Limit)
	if err != nil {
		return nil, apiError("listing runs", err)
	}
	out := &listRunsOutput{}
	out.Body.Runs = runs
	if out.Body.Runs == nil {
		out.Body.Runs = []pipeline.Summary{}
	}
	return out, nil
}

func (s *Server) handleGetRun(ctx context.Context, input *runIDInput) (*getRunOutput, error) {
	st, err := s.services.Runs().GetStatus(ctx, input.ID)
	if err != nil {
		return nil, apiError("getting run", err)
	}
	return &getRunOutput{Body: st}, nil
}

func (s *Server) handleCancelRun(ctx context.Context, input *runIDInput) (*cancelRunOutput, error) {
	if err := s.services.Runs().Cancel(ctx, input.ID); err != nil {
		return nil, apiError("canceling run", err)
	}
	out := &cancelRunOutput{}
	out.Body.RunID = input.ID
	out.Body.Status = "canceling"
	return out, nil
}

func (s *Server) handleListProviders(_ context.Context, _ *struct{}) (*listProvidersOutput, error) {
	out := &listProvidersOutput{}
	out.Body.Providers = s.services.Providers().Snapshots()
	if out.Body.Providers == nil {
		out.Body.Providers = []health.ProviderHealth{}
	}
	return out, nil
}

func (s *Server) handleGetProviderHealth(_ context.Context, input *providerNameInput) (*providerHealthOutput, error) {
	snap, err := s.services.Providers().Snapshot(input.Name)
	if err != nil {
		return nil, apiError("getting provider health", err)
	}
	return &providerHealthOutput{Body: snap}, nil
}

func (s *Server) handleSetMaintenance(_ context.Context, input *maintenanceInput) (*providerHealthOutput, error) {
	providers := s.services.Providers()
	if err := providers.SetMaintenance(input.Name, input.Body.Enabled); err != nil {
		return nil, apiError("setting maintenance", err)
	}
	s.health.Sync()

	snap, err := providers.Snapshot(input.Name)
	if err != nil {
		return nil, apiError("getting provider health", err)
	}
	return &providerHealthOutput{Body: snap}, nil
}

// apiError maps a coded error onto a huma error with the matching status.
// Finished runs cannot be canceled: 409.
func apiError(op string, err error) error {
	status := quillerr.HTTPStatus(err)
	if quillerr.HasCode(err, quillerr.CodePipelineTransitionInvalid) {
		status = http.StatusConflict
	}
	if status >= http.StatusInternalServerError {
		slog.Error(op, "err", err, "code", quillerr.CodeOf(err))
	}
	return huma.NewError(status, err.Error())
}
