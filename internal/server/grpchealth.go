// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	quillerr "github.com/sigil-dev/quill/pkg/errors"
)

// OverallService is the grpc.health.v1 service name for the whole process.
const OverallService = ""

// HealthService publishes provider availability over grpc.health.v1.
// Each provider is a service named after it; the overall service is
// SERVING while at least one provider is available, or none are registered.
type HealthService struct {
	providers ProviderService
	srv       *grpchealth.Server
}

// NewHealthService creates a health service and applies the current
// provider state.
func NewHealthService(providers ProviderService) *HealthService {
	h := &HealthService{
		providers: providers,
		srv:       grpchealth.NewServer(),
	}
	h.Sync()
	return h
}

// Register installs the health service on gs.
func (h *HealthService) Register(gs *grpc.Server) {
	healthpb.RegisterHealthServer(gs, h.srv)
}

// Sync copies provider availability into the serving statuses.
func (h *HealthService) Sync() {
	snapshots := h.providers.Snapshots()
	anyAvailable := len(snapshots) == 0
	for _, s := range snapshots {
		h.srv.SetServingStatus(s.Provider, servingStatus(s.Available))
		anyAvailable = anyAvailable || s.Available
	}
	h.srv.SetServingStatus(OverallService, servingStatus(anyAvailable))
}

// Serve runs a gRPC server with the health service on lis until ctx is
// cancelled, re-syncing statuses every interval.
func (h *HealthService) Serve(ctx context.Context, lis net.Listener, interval time.Duration) error {
	gs := grpc.NewServer()
	h.Register(gs)
	h.srv.Resume()
	h.Sync()

	errCh := make(chan error, 1)
	go func() {
		errCh <- gs.Serve(lis)
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.Sync()
		case err := <-errCh:
			if err != nil {
				return quillerr.Wrap(err, quillerr.CodeServerStartFailure, "serving grpc health")
			}
			return nil
		case <-ctx.Done():
			// NOT_SERVING for every service so watchers see the shutdown.
			h.srv.Shutdown()
			gs.GracefulStop()
			return nil
		}
	}
}

func servingStatus(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
