// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	quillerr "github.com/sigil-dev/quill/pkg/errors"
)

const runsPath = "/api/v1/runs"

// Config holds HTTP and gRPC server configuration.
type Config struct {
	ListenAddr   string
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// MetricsPath serves prometheus metrics when non-empty.
	MetricsPath string
	// GRPCListenAddr serves grpc.health.v1 when non-empty.
	GRPCListenAddr string
	// HealthSyncInterval is how often gRPC serving statuses follow the
	// provider tracker. Default: 5s.
	HealthSyncInterval time.Duration
	RateLimit          RateLimitConfig
	Services           *Services
}

// Server wraps a chi router with huma API, HTTP server and the gRPC health service.
type Server struct {
	router   chi.Router
	api      huma.API
	cfg      Config
	services *Services
	limiter  *rateLimiter
	health   *HealthService

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Server with chi router, huma API, health endpoint, CORS and
// the run and provider routes.
func New(cfg Config) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, quillerr.New(quillerr.CodeServerConfigInvalid, "listen address is required")
	}
	if cfg.Services == nil {
		return nil, quillerr.New(quillerr.CodeServerConfigInvalid, "services are required")
	}
	if err := cfg.RateLimit.Validate(); err != nil {
		return nil, err
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 60 * time.Second
	}
	if cfg.HealthSyncInterval == 0 {
		cfg.HealthSyncInterval = 5 * time.Second
	}

	srv := &Server{
		cfg:      cfg,
		services: cfg.Services,
		limiter:  newRateLimiter(cfg.RateLimit),
		health:   NewHealthService(cfg.Services.Providers()),
		done:     make(chan struct{}),
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware(cfg.CORSOrigins))
	r.Use(srv.limitRunSubmissions)

	if cfg.MetricsPath != "" {
		r.Handle(cfg.MetricsPath, promhttp.Handler())
	}

	// Huma API with OpenAPI spec
	humaConfig := huma.DefaultConfig("Quill", "0.1.0")
	humaConfig.Info.Description = "Research pipeline orchestration API"
	api := humachi.New(r, humaConfig)

	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"system"},
	}, func(_ context.Context, _ *struct{}) (*HealthResponse, error) {
		return &HealthResponse{Body: HealthBody{Status: "ok"}}, nil
	})

	srv.router = r
	srv.api = api
	srv.registerRoutes()

	if srv.limiter.enabled() {
		go srv.limiter.sweepLoop(srv.done)
	}

	return srv, nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// API returns the huma API for registering additional operations.
func (s *Server) API() huma.API {
	return s.api
}

// Health returns the gRPC health service.
func (s *Server) Health() *HealthService {
	return s.health
}

// Start runs the HTTP server, and the gRPC health server when configured,
// until ctx is cancelled, then shuts both down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return quillerr.Wrapf(err, quillerr.CodeServerStartFailure, "listening on %s", s.cfg.ListenAddr)
	}

	var grpcLn net.Listener
	if s.cfg.GRPCListenAddr != "" {
		grpcLn, err = net.Listen("tcp", s.cfg.GRPCListenAddr)
		if err != nil {
			_ = ln.Close()
			return quillerr.Wrapf(err, quillerr.CodeServerStartFailure, "listening on %s", s.cfg.GRPCListenAddr)
		}
	}

	httpSrv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String())
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return quillerr.Wrap(err, quillerr.CodeServerStartFailure, "serving http")
		}
		return nil
	})
	if grpcLn != nil {
		g.Go(func() error {
			slog.Info("grpc health server listening", "addr", grpcLn.Addr().String())
			return s.health.Serve(gctx, grpcLn, s.cfg.HealthSyncInterval)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return quillerr.Wrap(err, quillerr.CodeServerShutdownFailure, "shutting down")
		}
		return nil
	})

	return g.Wait()
}

// Close stops background goroutines. It is safe to call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// HealthBody is the JSON body of the health endpoint response.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

// HealthResponse wraps the health check response.
type HealthResponse struct {
	Body HealthBody
}

func (s *Server) limitRunSubmissions(next http.Handler) http.Handler {
	limited := s.limiter.middleware(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == runsPath {
			limited.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
