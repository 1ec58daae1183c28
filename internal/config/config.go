// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	"errors"
	"math"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/sigil-dev/quill/internal/scan"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/sigil-dev/quill/pkg/types"
	"github.com/spf13/viper"
)

// Provider types understood by the provider factories.
const (
	ProviderTypeAnthropic  = "anthropic"
	ProviderTypeOpenAI     = "openai"
	ProviderTypeGoogle     = "google"
	ProviderTypeOpenRouter = "openrouter"
	ProviderTypeWebSearch  = "websearch"
)

// Selection strategies understood by the provider tracker.
const (
	StrategyWeightedRoundRobin = "weighted-round-robin"
	StrategyLeastLoaded        = "least-loaded"
)

// Config is the top-level Quill configuration.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Pipeline  PipelineConfig            `mapstructure:"pipeline"`
	Failover  FailoverConfig            `mapstructure:"failover"`
	Health    HealthConfig              `mapstructure:"health"`
	Recovery  RecoveryConfig            `mapstructure:"recovery"`
	Synthesis SynthesisConfig           `mapstructure:"synthesis"`
	Storage   StorageConfig             `mapstructure:"storage"`
	Scan      ScanConfig                `mapstructure:"scan"`
	Metrics   MetricsConfig             `mapstructure:"metrics"`
	Logging   LoggingConfig             `mapstructure:"logging"`
}

// ServerConfig controls the REST and gRPC listeners.
type ServerConfig struct {
	Listen      string          `mapstructure:"listen"`
	CORSOrigins []string        `mapstructure:"cors_origins"`
	GRPCListen  string          `mapstructure:"grpc_listen"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig limits run submissions per client IP. Zero disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// ProviderConfig holds credentials and endpoint for one model or search provider.
type ProviderConfig struct {
	Type     string  `mapstructure:"type"`
	APIKey   string  `mapstructure:"api_key"`
	Endpoint string  `mapstructure:"endpoint"`
	Model    string  `mapstructure:"model"`
	Weight   float64 `mapstructure:"weight"`
}

// Kind reports whether the provider serves model calls or searches.
func (p ProviderConfig) Kind() string {
	if p.Type == ProviderTypeWebSearch {
		return "search"
	}
	return "model"
}

// PipelineConfig controls stage execution.
type PipelineConfig struct {
	ModelProviders   []string      `mapstructure:"model_providers"`
	SearchProviders  []string      `mapstructure:"search_providers"`
	StageTimeout     time.Duration `mapstructure:"stage_timeout"`
	MaxStageAttempts int           `mapstructure:"max_stage_attempts"`
	CriticalStages   []string      `mapstructure:"critical_stages"`
}

// FailoverConfig controls the retry loop around provider calls.
type FailoverConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	PerCallTimeout    time.Duration `mapstructure:"per_call_timeout"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	Strategy          string        `mapstructure:"strategy"`
}

// HealthConfig controls circuit breaking and background health checks.
type HealthConfig struct {
	CircuitThreshold    int           `mapstructure:"circuit_threshold"`
	Cooldown            time.Duration `mapstructure:"cooldown"`
	CheckInterval       time.Duration `mapstructure:"check_interval"`
	CheckTimeout        time.Duration `mapstructure:"check_timeout"`
	LatencyWindow       int           `mapstructure:"latency_window"`
	DegradedSuccessRate float64       `mapstructure:"degraded_success_rate"`
}

// RecoveryConfig sets per-category action timeouts.
type RecoveryConfig struct {
	StageTimeout    time.Duration `mapstructure:"stage_timeout"`
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
	PipelineTimeout time.Duration `mapstructure:"pipeline_timeout"`
	SystemTimeout   time.Duration `mapstructure:"system_timeout"`
	StageMaxRetries int           `mapstructure:"stage_max_retries"`
}

// SynthesisConfig controls scoring of the merged result.
type SynthesisConfig struct {
	MinConfidence   float64       `mapstructure:"min_confidence"`
	Weights         WeightsConfig `mapstructure:"weights"`
	ErrorPenalty    float64       `mapstructure:"error_penalty"`
	DegradedPenalty float64       `mapstructure:"degraded_penalty"`
	RegistryFile    string        `mapstructure:"registry_file"`
}

// WeightsConfig are the overall confidence weights.
type WeightsConfig struct {
	Consistency  float64 `mapstructure:"consistency"`
	Completeness float64 `mapstructure:"completeness"`
	Accuracy     float64 `mapstructure:"accuracy"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	Backend          string         `mapstructure:"backend"`
	DataDir          string         `mapstructure:"data_dir"`
	CacheTTL         time.Duration  `mapstructure:"cache_ttl"`
	VectorDimensions int            `mapstructure:"vector_dimensions"`
	Redis            RedisConfig    `mapstructure:"redis"`
	Postgres         PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// PostgresConfig configures the postgres backend.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// ScanConfig sets how run input, fetched web content and compiled
// documents are screened. Each mode is one of block, flag, redact or off.
type ScanConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	InputMode        string `mapstructure:"input_mode"`
	ContentMode      string `mapstructure:"content_mode"`
	OutputMode       string `mapstructure:"output_mode"`
	MaxContentLength int    `mapstructure:"max_content_length"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:18790")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.grpc_listen", "")
	v.SetDefault("server.rate_limit.requests_per_second", 0)
	v.SetDefault("server.rate_limit.burst", 10)

	v.SetDefault("pipeline.model_providers", []string{})
	v.SetDefault("pipeline.search_providers", []string{})
	v.SetDefault("pipeline.stage_timeout", 2*time.Minute)
	v.SetDefault("pipeline.max_stage_attempts", 3)
	v.SetDefault("pipeline.critical_stages", []string{string(types.StagePlanning), string(types.StageCompiling)})

	v.SetDefault("failover.max_retries", 3)
	v.SetDefault("failover.per_call_timeout", 30*time.Second)
	v.SetDefault("failover.backoff_base", time.Second)
	v.SetDefault("failover.backoff_multiplier", 2.0)
	v.SetDefault("failover.backoff_max", 30*time.Second)
	v.SetDefault("failover.strategy", StrategyWeightedRoundRobin)

	v.SetDefault("health.circuit_threshold", 3)
	v.SetDefault("health.cooldown", 60*time.Second)
	v.SetDefault("health.check_interval", 30*time.Second)
	v.SetDefault("health.check_timeout", 10*time.Second)
	v.SetDefault("health.latency_window", 50)
	v.SetDefault("health.degraded_success_rate", 0.8)

	v.SetDefault("recovery.stage_timeout", 30*time.Second)
	v.SetDefault("recovery.provider_timeout", 45*time.Second)
	v.SetDefault("recovery.pipeline_timeout", 60*time.Second)
	v.SetDefault("recovery.system_timeout", time.Duration(0))
	v.SetDefault("recovery.stage_max_retries", 2)

	v.SetDefault("synthesis.min_confidence", 0.6)
	v.SetDefault("synthesis.weights.consistency", 0.4)
	v.SetDefault("synthesis.weights.completeness", 0.3)
	v.SetDefault("synthesis.weights.accuracy", 0.3)
	v.SetDefault("synthesis.error_penalty", 0.1)
	v.SetDefault("synthesis.degraded_penalty", 0.1)
	v.SetDefault("synthesis.registry_file", "")

	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.data_dir", defaultDataDir())
	v.SetDefault("storage.cache_ttl", 24*time.Hour)
	v.SetDefault("storage.vector_dimensions", 256)
	v.SetDefault("storage.redis.addr", "127.0.0.1:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.prefix", "quill:")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.max_conns", 10)

	v.SetDefault("scan.enabled", true)
	v.SetDefault("scan.input_mode", string(scan.ModeBlock))
	v.SetDefault("scan.content_mode", string(scan.ModeRedact))
	v.SetDefault("scan.output_mode", string(scan.ModeRedact))
	v.SetDefault("scan.max_content_length", scan.DefaultMaxContentLength)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// SetupEnv binds QUILL_* environment variables to config keys.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("QUILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, quillerr.Errorf(quillerr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	cfg.applyProviderDefaults()

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, quillerr.Errorf(quillerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix QUILL_).
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, quillerr.Errorf(quillerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// applyProviderDefaults fills in per-provider values the map form of the
// config cannot default through viper.
func (c *Config) applyProviderDefaults() {
	for name, p := range c.Providers {
		if p.Type == "" {
			p.Type = name
		}
		if p.Weight == 0 {
			p.Weight = 1
		}
		c.Providers[name] = p
	}
}

// ModelProviderNames returns the configured model providers used by the
// pipeline, in configuration order when listed explicitly and sorted otherwise.
func (c *Config) ModelProviderNames() []string {
	return c.providerNames(c.Pipeline.ModelProviders, "model")
}

// SearchProviderNames is the search-provider counterpart of ModelProviderNames.
func (c *Config) SearchProviderNames() []string {
	return c.providerNames(c.Pipeline.SearchProviders, "search")
}

func (c *Config) providerNames(explicit []string, kind string) []string {
	if len(explicit) > 0 {
		return append([]string(nil), explicit...)
	}
	var names []string
	for name, p := range c.Providers {
		if p.Kind() == kind {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Validate checks the configuration for logical errors.
// It returns a slice of all validation errors found, collecting all issues
// rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateProviders()...)
	errs = append(errs, c.validatePipeline()...)
	errs = append(errs, c.validateFailover()...)
	errs = append(errs, c.validateHealth()...)
	errs = append(errs, c.validateRecovery()...)
	errs = append(errs, c.validateSynthesis()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateScan()...)
	errs = append(errs, c.validateLogging()...)

	return errs
}

func invalid(format string, args ...any) error {
	return quillerr.Errorf(quillerr.CodeConfigValidateInvalidValue, "config: "+format, args...)
}

func validateListen(key, addr string, optional bool) []error {
	if addr == "" {
		if optional {
			return nil
		}
		return []error{invalid("%s must not be empty", key)}
	}

	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return []error{invalid("%s must be a valid host:port address, got %q: %w", key, addr, err)}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return []error{invalid("%s port must be a number, got %q", key, portStr)}
	}
	if port < 1 || port > 65535 {
		return []error{invalid("%s port must be between 1 and 65535, got %d", key, port)}
	}
	return nil
}

func (c *Config) validateServer() []error {
	var errs []error
	errs = append(errs, validateListen("server.listen", c.Server.Listen, false)...)
	errs = append(errs, validateListen("server.grpc_listen", c.Server.GRPCListen, true)...)
	if c.Server.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, invalid("server.rate_limit.requests_per_second must not be negative, got %g", c.Server.RateLimit.RequestsPerSecond))
	}
	if c.Server.RateLimit.RequestsPerSecond > 0 && c.Server.RateLimit.Burst <= 0 {
		errs = append(errs, invalid("server.rate_limit.burst must be positive when a rate is set, got %d", c.Server.RateLimit.Burst))
	}
	return errs
}

func (c *Config) validateProviders() []error {
	var errs []error

	validTypes := map[string]bool{
		ProviderTypeAnthropic:  true,
		ProviderTypeOpenAI:     true,
		ProviderTypeGoogle:     true,
		ProviderTypeOpenRouter: true,
		ProviderTypeWebSearch:  true,
	}

	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		p := c.Providers[name]
		if !validTypes[p.Type] {
			errs = append(errs, invalid("providers.%s.type must be one of [anthropic, openai, google, openrouter, websearch], got %q", name, p.Type))
		}
		if p.Weight < 0 {
			errs = append(errs, invalid("providers.%s.weight must not be negative, got %g", name, p.Weight))
		}
		if p.Type == ProviderTypeWebSearch && p.Endpoint == "" {
			errs = append(errs, invalid("providers.%s.endpoint is required for websearch providers", name))
		}
	}

	return errs
}

func (c *Config) validatePipeline() []error {
	var errs []error

	for _, ref := range []struct {
		key   string
		names []string
		kind  string
	}{
		{"pipeline.model_providers", c.Pipeline.ModelProviders, "model"},
		{"pipeline.search_providers", c.Pipeline.SearchProviders, "search"},
	} {
		for i, name := range ref.names {
			p, ok := c.Providers[name]
			if !ok {
				errs = append(errs, invalid("%s[%d] references provider %q which is not configured", ref.key, i, name))
				continue
			}
			if p.Kind() != ref.kind {
				errs = append(errs, invalid("%s[%d] provider %q is a %s provider", ref.key, i, name, p.Kind()))
			}
		}
	}

	if c.Pipeline.StageTimeout <= 0 {
		errs = append(errs, invalid("pipeline.stage_timeout must be greater than 0, got %s", c.Pipeline.StageTimeout))
	}
	if c.Pipeline.MaxStageAttempts <= 0 {
		errs = append(errs, invalid("pipeline.max_stage_attempts must be greater than 0, got %d", c.Pipeline.MaxStageAttempts))
	}
	for i, s := range c.Pipeline.CriticalStages {
		if !types.Stage(s).Valid() {
			errs = append(errs, invalid("pipeline.critical_stages[%d] %q is not a pipeline stage", i, s))
		}
	}

	return errs
}

func (c *Config) validateFailover() []error {
	var errs []error
	f := c.Failover

	if f.MaxRetries <= 0 {
		errs = append(errs, invalid("failover.max_retries must be greater than 0, got %d", f.MaxRetries))
	}
	if f.PerCallTimeout <= 0 {
		errs = append(errs, invalid("failover.per_call_timeout must be greater than 0, got %s", f.PerCallTimeout))
	}
	if f.BackoffBase < 0 {
		errs = append(errs, invalid("failover.backoff_base must not be negative, got %s", f.BackoffBase))
	}
	if f.BackoffMultiplier < 1 {
		errs = append(errs, invalid("failover.backoff_multiplier must be at least 1, got %g", f.BackoffMultiplier))
	}
	if f.BackoffMax < f.BackoffBase {
		errs = append(errs, invalid("failover.backoff_max must not be below failover.backoff_base, got %s", f.BackoffMax))
	}
	if f.Strategy != StrategyWeightedRoundRobin && f.Strategy != StrategyLeastLoaded {
		errs = append(errs, invalid("failover.strategy must be one of [%s, %s], got %q",
			StrategyWeightedRoundRobin, StrategyLeastLoaded, f.Strategy))
	}

	return errs
}

func (c *Config) validateHealth() []error {
	var errs []error
	h := c.Health

	if h.CircuitThreshold <= 0 {
		errs = append(errs, invalid("health.circuit_threshold must be greater than 0, got %d", h.CircuitThreshold))
	}
	if h.Cooldown <= 0 {
		errs = append(errs, invalid("health.cooldown must be greater than 0, got %s", h.Cooldown))
	}
	if h.CheckInterval <= 0 {
		errs = append(errs, invalid("health.check_interval must be greater than 0, got %s", h.CheckInterval))
	}
	if h.CheckTimeout <= 0 {
		errs = append(errs, invalid("health.check_timeout must be greater than 0, got %s", h.CheckTimeout))
	}
	if h.LatencyWindow <= 0 {
		errs = append(errs, invalid("health.latency_window must be greater than 0, got %d", h.LatencyWindow))
	}
	if h.DegradedSuccessRate < 0 || h.DegradedSuccessRate > 1 {
		errs = append(errs, invalid("health.degraded_success_rate must be within [0, 1], got %g", h.DegradedSuccessRate))
	}

	return errs
}

func (c *Config) validateRecovery() []error {
	var errs []error
	r := c.Recovery

	for _, t := range []struct {
		key string
		d   time.Duration
	}{
		{"recovery.stage_timeout", r.StageTimeout},
		{"recovery.provider_timeout", r.ProviderTimeout},
		{"recovery.pipeline_timeout", r.PipelineTimeout},
		{"recovery.system_timeout", r.SystemTimeout},
	} {
		if t.d < 0 {
			errs = append(errs, invalid("%s must not be negative, got %s", t.key, t.d))
		}
	}
	if r.StageMaxRetries < 0 {
		errs = append(errs, invalid("recovery.stage_max_retries must not be negative, got %d", r.StageMaxRetries))
	}

	return errs
}

func (c *Config) validateSynthesis() []error {
	var errs []error
	s := c.Synthesis

	if s.MinConfidence < 0 || s.MinConfidence > 1 {
		errs = append(errs, invalid("synthesis.min_confidence must be within [0, 1], got %g", s.MinConfidence))
	}

	w := s.Weights
	if w.Consistency < 0 || w.Completeness < 0 || w.Accuracy < 0 {
		errs = append(errs, invalid("synthesis.weights must not be negative"))
	}
	if sum := w.Consistency + w.Completeness + w.Accuracy; math.Abs(sum-1) > 1e-6 {
		errs = append(errs, invalid("synthesis.weights must sum to 1, got %g", sum))
	}
	if s.ErrorPenalty < 0 || s.DegradedPenalty < 0 {
		errs = append(errs, invalid("synthesis penalties must not be negative"))
	}

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.DataDir == "" {
			errs = append(errs, invalid("storage.data_dir must not be empty for the sqlite backend"))
		}
	case "redis":
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, invalid("storage.redis.addr must not be empty for the redis backend"))
		}
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			errs = append(errs, invalid("storage.postgres.dsn must not be empty for the postgres backend"))
		}
	case "memory", "none":
	default:
		errs = append(errs, invalid("storage.backend must be one of [sqlite, memory, redis, postgres, none], got %q", c.Storage.Backend))
	}

	if c.Storage.CacheTTL < 0 {
		errs = append(errs, invalid("storage.cache_ttl must not be negative, got %s", c.Storage.CacheTTL))
	}
	if c.Storage.VectorDimensions <= 0 {
		errs = append(errs, invalid("storage.vector_dimensions must be greater than 0, got %d", c.Storage.VectorDimensions))
	}

	return errs
}

func (c *Config) validateScan() []error {
	if !c.Scan.Enabled {
		return nil
	}
	var errs []error
	modes := []struct{ key, value string }{
		{"scan.input_mode", c.Scan.InputMode},
		{"scan.content_mode", c.Scan.ContentMode},
		{"scan.output_mode", c.Scan.OutputMode},
	}
	for _, m := range modes {
		if _, err := scan.ParseMode(m.value); err != nil {
			errs = append(errs, invalid("%s must be one of [block, flag, redact, off], got %q", m.key, m.value))
		}
	}
	if c.Scan.MaxContentLength < 0 {
		errs = append(errs, invalid("scan.max_content_length must not be negative, got %d", c.Scan.MaxContentLength))
	}
	return errs
}

func (c *Config) validateLogging() []error {
	var errs []error

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, invalid("logging.level must be one of [debug, info, warn, error], got %q", c.Logging.Level))
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, invalid("logging.format must be one of [text, json], got %q", c.Logging.Format))
	}

	return errs
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".quill")
	}
	return filepath.Join(home, ".local", "share", "quill")
}
