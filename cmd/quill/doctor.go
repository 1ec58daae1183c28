// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sys/unix"

	"github.com/sigil-dev/quill/internal/config"
	"github.com/sigil-dev/quill/internal/provider"
	"github.com/sigil-dev/quill/internal/secrets"
	"github.com/sigil-dev/quill/internal/store"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
)

const keyCheckTimeout = 10 * time.Second

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics",
		Long:  "Check the binary, server, configuration, provider API keys, storage and disk space.",
		RunE:  runDoctor,
	}

	cmd.Flags().String("address", "", "server address to check (defaults to server.listen)")
	cmd.Flags().Bool("check-keys", false, "validate provider API keys against the provider APIs")

	return cmd
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	addr := serverAddress(cmd)
	checkKeys, _ := cmd.Flags().GetBool("check-keys")
	dataDir := viper.GetString("storage.data_dir")

	checks := []struct {
		name string
		fn   func() string
	}{
		{"Binary", checkBinary},
		{"Platform", checkPlatform},
		{"Server", func() string { return checkServer(addr) }},
		{"Config", checkConfig},
		{"Providers", func() string { return checkProviders(cmd.Context(), checkKeys) }},
		{"Storage", checkStorage},
		{"Disk Space", func() string { return checkDiskSpace(dataDir) }},
	}

	for _, c := range checks {
		if _, err := fmt.Fprintf(w, "%-20s %s\n", c.name+":", c.fn()); err != nil {
			return err
		}
	}

	return nil
}

func checkBinary() string {
	return fmt.Sprintf("quill %s (%s/%s)", version, runtime.GOOS, runtime.GOARCH)
}

func checkPlatform() string {
	return fmt.Sprintf("%s/%s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func checkServer(addr string) string {
	var body struct {
		Status string `json:"status"`
	}
	if err := newAPIClient(addr).getJSON("/health", &body); err != nil {
		if quillerr.HasCode(err, quillerr.CodeCLIServerNotRunning) {
			return fmt.Sprintf("not running at %s (run 'quill start')", addr)
		}
		return fmt.Sprintf("error: %s", err)
	}
	return fmt.Sprintf("%s at %s", body.Status, addr)
}

func checkConfig() string {
	cfgFile := viper.ConfigFileUsed()
	if _, err := loadConfig(); err != nil {
		return fmt.Sprintf("invalid: %s", err)
	}
	if cfgFile != "" {
		if perm, exposed, err := config.ExposedPermissions(cfgFile); err == nil && exposed {
			return fmt.Sprintf("loaded from %s (mode %04o is readable by other users, run chmod 600)", cfgFile, perm)
		}
		return fmt.Sprintf("loaded from %s", cfgFile)
	}
	return "using defaults (no config file found)"
}

// keyValidator is a package-level variable so tests can avoid network calls.
var keyValidator = func(ctx context.Context, kc provider.KeyCheck) error {
	return provider.CheckKey(ctx, initHTTPClient, kc)
}

func checkProviders(ctx context.Context, validate bool) string {
	cfg, err := loadConfig()
	if err != nil {
		return "config did not load"
	}
	if len(cfg.Providers) == 0 {
		return "none configured (run 'quill init')"
	}

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	slices.Sort(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+" "+providerKeyState(ctx, name, cfg.Providers[name], validate))
	}
	return strings.Join(parts, ", ")
}

func providerKeyState(ctx context.Context, name string, pc config.ProviderConfig, validate bool) string {
	switch {
	case pc.Kind() == "search":
		return "(search, " + pc.Endpoint + ")"
	case secrets.IsKeyringURI(pc.APIKey):
		return "(key unresolved)"
	case pc.APIKey == "":
		return "(no key)"
	case !validate:
		return "(key set)"
	}

	ctx, cancel := context.WithTimeout(ctx, keyCheckTimeout)
	defer cancel()
	err := keyValidator(ctx, provider.KeyCheck{
		Name:     name,
		Type:     provider.ProviderName(pc.Type),
		APIKey:   pc.APIKey,
		Endpoint: pc.Endpoint,
		Model:    pc.Model,
	})
	switch {
	case quillerr.HasCode(err, quillerr.CodeProviderKeyInvalid):
		return "(key invalid)"
	case quillerr.HasCode(err, quillerr.CodeProviderModelNotFound):
		return "(model " + pc.Model + " not offered)"
	case err != nil:
		return "(key check failed)"
	}
	return "(key valid)"
}

func checkStorage() string {
	backend := viper.GetString("storage.backend")
	if !slices.Contains(store.Backends(), backend) && backend != store.BackendNone {
		return fmt.Sprintf("unknown backend %q (have %s)", backend, strings.Join(store.Backends(), ", "))
	}
	switch backend {
	case "sqlite":
		return "sqlite in " + viper.GetString("storage.data_dir")
	case "redis":
		return "redis at " + viper.GetString("storage.redis.addr")
	case "postgres":
		return "postgres"
	default:
		return backend
	}
}

func checkDiskSpace(dataDir string) string {
	path := dataDir
	if _, err := os.Stat(path); path == "" || os.IsNotExist(err) {
		// Fall back to home directory if data dir doesn't exist yet.
		path, _ = os.UserHomeDir()
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return fmt.Sprintf("unable to check: %s", err)
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)
	return formatBytes(availBytes) + " available"
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(b uint64) string {
	const (
		gb = 1024 * 1024 * 1024
		mb = 1024 * 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	default:
		return fmt.Sprintf("%d bytes", b)
	}
}
