// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/sigil-dev/quill/internal/config"
	"github.com/sigil-dev/quill/internal/pipeline"
	"github.com/sigil-dev/quill/internal/provider"
	anthropicprov "github.com/sigil-dev/quill/internal/provider/anthropic"
	googleprov "github.com/sigil-dev/quill/internal/provider/google"
	openaiprov "github.com/sigil-dev/quill/internal/provider/openai"
	openrouterprov "github.com/sigil-dev/quill/internal/provider/openrouter"
	"github.com/sigil-dev/quill/internal/provider/websearch"
	"github.com/sigil-dev/quill/internal/recovery"
	"github.com/sigil-dev/quill/internal/scan"
	"github.com/sigil-dev/quill/internal/secrets"
	"github.com/sigil-dev/quill/internal/server"
	"github.com/sigil-dev/quill/internal/stage"
	"github.com/sigil-dev/quill/internal/store"
	_ "github.com/sigil-dev/quill/internal/store/memory"   // register memory backend
	_ "github.com/sigil-dev/quill/internal/store/postgres" // register postgres backend
	_ "github.com/sigil-dev/quill/internal/store/redis"    // register redis backend
	_ "github.com/sigil-dev/quill/internal/store/sqlite"   // register sqlite backend
	"github.com/sigil-dev/quill/internal/synthesis"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/sigil-dev/quill/pkg/types"
)

const shutdownTimeout = 15 * time.Second

// App holds all wired subsystems and manages their lifecycle.
type App struct {
	Config       *config.Config
	Registry     *provider.Registry
	Tracker      *provider.Tracker
	Coordinator  *provider.Coordinator
	Monitor      *provider.Monitor
	Stores       *store.Stores
	Orchestrator *pipeline.Orchestrator
}

// WireApp creates all subsystems and wires them together. hooks may be nil.
func WireApp(cfg *config.Config, hooks *pipeline.Hooks) (*App, error) {
	// 1. Provider clients.
	reg := provider.NewRegistry()
	registerProviders(cfg, reg)

	// 2. Health tracking and failover.
	tracker, err := provider.NewTracker(provider.HealthPolicy{
		CircuitThreshold:    cfg.Health.CircuitThreshold,
		Cooldown:            cfg.Health.Cooldown,
		LatencyWindow:       cfg.Health.LatencyWindow,
		DegradedSuccessRate: cfg.Health.DegradedSuccessRate,
	})
	if err != nil {
		_ = reg.Close()
		return nil, quillerr.Wrapf(err, quillerr.CodeCLISetupFailure, "creating provider tracker")
	}
	for _, name := range reg.Names() {
		if err := tracker.Register(provider.Registration{Name: name, Weight: cfg.Providers[name].Weight}); err != nil {
			_ = reg.Close()
			return nil, quillerr.Wrapf(err, quillerr.CodeCLISetupFailure, "tracking provider %s", name)
		}
	}

	strategy, err := provider.ParseStrategy(cfg.Failover.Strategy)
	if err != nil {
		_ = reg.Close()
		return nil, err
	}
	coord := provider.NewCoordinator(tracker, provider.Options{
		MaxRetries:     cfg.Failover.MaxRetries,
		PerCallTimeout: cfg.Failover.PerCallTimeout,
		Backoff: provider.Backoff{
			Base:       cfg.Failover.BackoffBase,
			Multiplier: cfg.Failover.BackoffMultiplier,
			Max:        cfg.Failover.BackoffMax,
		},
		Strategy: strategy,
	})

	// 3. Stages over the providers that actually registered.
	backends := &stage.Backends{
		Coordinator: coord,
		Registry:    reg,
		Models:      registered(cfg.ModelProviderNames(), reg.ModelNames()),
		Searchers:   registered(cfg.SearchProviderNames(), reg.SearchNames()),
	}
	if len(backends.Models) == 0 {
		slog.Warn("no model providers available: stages will run their fallback paths")
	}
	validate := stage.Normalize
	guard, err := newGuard(cfg.Scan)
	if err != nil {
		_ = reg.Close()
		return nil, quillerr.Wrapf(err, quillerr.CodeCLISetupFailure, "creating content scanner")
	}
	if guard != nil {
		backends.Screen = guard
		validate = guard.Validate(stage.Normalize)
	}
	stages := stage.NewSet(backends)

	// 4. Storage.
	stores, err := store.Open(&store.Config{
		Backend:          cfg.Storage.Backend,
		DataDir:          cfg.Storage.DataDir,
		CacheTTL:         cfg.Storage.CacheTTL,
		VectorDimensions: cfg.Storage.VectorDimensions,
		Redis: store.RedisConfig{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
			Prefix:   cfg.Storage.Redis.Prefix,
		},
		Postgres: store.PostgresConfig{
			DSN:      cfg.Storage.Postgres.DSN,
			MaxConns: cfg.Storage.Postgres.MaxConns,
		},
	})
	if err != nil {
		_ = reg.Close()
		return nil, quillerr.Wrapf(err, quillerr.CodeCLISetupFailure, "opening %s storage", cfg.Storage.Backend)
	}

	var lookup *store.StaleLookup
	if stores.Cache != nil {
		lookup = store.NewStaleLookup(stores.Cache, stores.Vectors, cfg.Storage.VectorDimensions)
	}

	// 5. Recovery and synthesis.
	recOpts := recovery.Options{
		Timeouts: recovery.Timeouts{
			Stage:    cfg.Recovery.StageTimeout,
			Provider: cfg.Recovery.ProviderTimeout,
			Pipeline: cfg.Recovery.PipelineTimeout,
			System:   cfg.Recovery.SystemTimeout,
		},
		StageMaxRetries: cfg.Recovery.StageMaxRetries,
		Fallbacks:       stages,
		Defaults:        stages,
		Availability:    tracker,
		CriticalStages:  criticalStages(cfg.Pipeline.CriticalStages),
	}
	if lookup != nil {
		recOpts.Cache = lookup
	}

	var fields *synthesis.Registry
	if cfg.Synthesis.RegistryFile != "" {
		fields, err = synthesis.LoadRegistry(cfg.Synthesis.RegistryFile)
		if err != nil {
			_ = stores.Close()
			_ = reg.Close()
			return nil, err
		}
	}
	synth := synthesis.New(fields, synthesis.Options{
		MinConfidence: cfg.Synthesis.MinConfidence,
		Weights: synthesis.Weights{
			Consistency:  cfg.Synthesis.Weights.Consistency,
			Completeness: cfg.Synthesis.Weights.Completeness,
			Accuracy:     cfg.Synthesis.Weights.Accuracy,
		},
		ErrorPenalty:    cfg.Synthesis.ErrorPenalty,
		DegradedPenalty: cfg.Synthesis.DegradedPenalty,
		StageBudget:     cfg.Pipeline.StageTimeout,
		LowCoverage:     synthesis.DefaultOptions().LowCoverage,
	})

	// 6. Orchestrator.
	orch, err := pipeline.New(pipeline.Config{
		Stages:           stages,
		Recovery:         recovery.NewManager(recOpts),
		Synthesizer:      synth,
		Validate:         validate,
		Candidates:       backends.Candidates,
		Runs:             stores.Runs,
		Cache:            lookup,
		StageTimeout:     cfg.Pipeline.StageTimeout,
		MaxStageAttempts: cfg.Pipeline.MaxStageAttempts,
		Hooks:            hooks,
	})
	if err != nil {
		_ = stores.Close()
		_ = reg.Close()
		return nil, quillerr.Wrapf(err, quillerr.CodeCLISetupFailure, "creating orchestrator")
	}

	return &App{
		Config:       cfg,
		Registry:     reg,
		Tracker:      tracker,
		Coordinator:  coord,
		Monitor:      provider.NewMonitor(tracker, reg.HealthCheckers(), cfg.Health.CheckInterval, cfg.Health.CheckTimeout),
		Stores:       stores,
		Orchestrator: orch,
	}, nil
}

// NewServer builds the REST and gRPC server over the app's services.
func (a *App) NewServer() (*server.Server, error) {
	services, err := server.NewServices(a.Orchestrator, a.Tracker)
	if err != nil {
		return nil, err
	}

	metricsPath := ""
	if a.Config.Metrics.Enabled {
		metricsPath = a.Config.Metrics.Path
	}

	return server.New(server.Config{
		ListenAddr:     a.Config.Server.Listen,
		CORSOrigins:    a.Config.Server.CORSOrigins,
		GRPCListenAddr: a.Config.Server.GRPCListen,
		MetricsPath:    metricsPath,
		RateLimit: server.RateLimitConfig{
			RequestsPerSecond: a.Config.Server.RateLimit.RequestsPerSecond,
			Burst:             a.Config.Server.RateLimit.Burst,
		},
		Services: services,
	})
}

// Close stops background runs and releases every resource.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if a.Orchestrator != nil {
		if err := a.Orchestrator.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.Stores.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.Registry != nil {
		if err := a.Registry.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// providerFactory builds a provider client from its config entry.
type providerFactory func(name string, pc config.ProviderConfig) (provider.Provider, error)

// builtinProviderFactories maps provider types to their constructors.
// Declared as a variable so tests can inject fakes.
var builtinProviderFactories = map[string]providerFactory{
	config.ProviderTypeAnthropic: func(name string, pc config.ProviderConfig) (provider.Provider, error) {
		return anthropicprov.New(anthropicprov.Config{Name: name, APIKey: pc.APIKey, BaseURL: pc.Endpoint, Model: pc.Model})
	},
	config.ProviderTypeGoogle: func(name string, pc config.ProviderConfig) (provider.Provider, error) {
		return googleprov.New(googleprov.Config{Name: name, APIKey: pc.APIKey, BaseURL: pc.Endpoint, Model: pc.Model})
	},
	config.ProviderTypeOpenAI: func(name string, pc config.ProviderConfig) (provider.Provider, error) {
		return openaiprov.New(openaiprov.Config{Name: name, APIKey: pc.APIKey, BaseURL: pc.Endpoint, Model: pc.Model})
	},
	config.ProviderTypeOpenRouter: func(name string, pc config.ProviderConfig) (provider.Provider, error) {
		return openrouterprov.New(openrouterprov.Config{Name: name, APIKey: pc.APIKey, BaseURL: pc.Endpoint, Model: pc.Model})
	},
	config.ProviderTypeWebSearch: func(name string, pc config.ProviderConfig) (provider.Provider, error) {
		return websearch.New(websearch.Config{Name: name, Endpoint: pc.Endpoint, APIKey: pc.APIKey})
	},
}

// registerProviders creates a client for every configured provider, in
// name order. Providers that cannot be created are logged and skipped;
// neither is fatal at startup.
func registerProviders(cfg *config.Config, reg *provider.Registry) {
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		pc := cfg.Providers[name]
		if secrets.IsKeyringURI(pc.APIKey) {
			slog.Warn("skipping provider with unresolved keyring reference", "provider", name, "ref", pc.APIKey)
			continue
		}
		if pc.APIKey == "" && pc.Kind() == "model" {
			slog.Warn("skipping provider with empty API key", "provider", name)
			continue
		}
		factory, ok := builtinProviderFactories[pc.Type]
		if !ok {
			slog.Warn("unknown provider type in config, skipping", "provider", name, "type", pc.Type)
			continue
		}
		p, err := factory(name, pc)
		if err != nil {
			slog.Warn("failed to create provider", "provider", name, "error", err)
			continue
		}
		if err := reg.Register(name, p); err != nil {
			slog.Warn("failed to register provider", "provider", name, "error", err)
			_ = p.Close()
			continue
		}
		slog.Info("registered provider", "provider", name, "type", pc.Type)
	}
}

// registered keeps the names of want that are in have, preserving want's order.
func registered(want, have []string) []string {
	var out []string
	for _, n := range want {
		if slices.Contains(have, n) {
			out = append(out, n)
		} else {
			slog.Warn("pipeline provider is not registered", "provider", n)
		}
	}
	return out
}

func criticalStages(names []string) []types.Stage {
	out := make([]types.Stage, 0, len(names))
	for _, n := range names {
		out = append(out, types.Stage(n))
	}
	return out
}

// newGuard builds the content screen, or returns nil when scanning is off.
func newGuard(cfg config.ScanConfig) (*scan.Guard, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	var modes [3]scan.Mode
	for i, raw := range []string{cfg.InputMode, cfg.ContentMode, cfg.OutputMode} {
		m, err := scan.ParseMode(raw)
		if err != nil {
			return nil, err
		}
		modes[i] = m
	}
	scanner, err := scan.NewRegexScanner(scan.DefaultRules(), cfg.MaxContentLength)
	if err != nil {
		return nil, err
	}
	return scan.NewGuard(scanner, scan.GuardConfig{
		InputMode:   modes[0],
		ContentMode: modes[1],
		OutputMode:  modes[2],
	})
}
