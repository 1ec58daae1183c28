// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"errors"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sigil-dev/quill/internal/config"
	"github.com/sigil-dev/quill/internal/logging"
	"github.com/sigil-dev/quill/internal/secrets"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
)

// NewRootCmd creates the root quill command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "quill",
		Short:         "Quill, a fault-tolerant research brief pipeline",
		Long:          "Quill plans, gathers, specializes and compiles research briefs across redundant model and search providers.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initViper(cmd)
		},
	}

	// Global flags, mapped to viper keys by initViper.
	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("data-dir", "", "path to data directory")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	root.AddCommand(
		newInitCmd(),
		newStartCmd(),
		newRunCmd(),
		newStatusCmd(),
		newProvidersCmd(),
		newSecretCmd(),
		newDoctorCmd(),
		newVersionCmd(),
	)

	return root
}

// initViper sets up the global Viper with defaults, env bindings, flag
// bindings, and optional config file so the standard precedence
// (flag > env > file > defaults) is handled uniformly.
func initViper(cmd *cobra.Command) error {
	v := viper.GetViper()

	// A .env next to the binary feeds QUILL_* variables; its absence is normal.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return quillerr.Errorf(quillerr.CodeConfigLoadReadFailure, "loading .env: %w", err)
	}

	config.SetDefaults(v)
	config.SetupEnv(v)

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return quillerr.Errorf(quillerr.CodeConfigLoadReadFailure, "reading config file: %w", err)
		}
	} else {
		// SetConfigType is omitted on purpose: with it, viper also tries the
		// bare name, which collides with the ./quill binary.
		v.SetConfigName("quill")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/quill")
		v.AddConfigPath("/etc/quill")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return quillerr.Errorf(quillerr.CodeConfigLoadReadFailure, "reading config: %w", err)
			}
			if path := config.BootstrapConfig(); path != "" {
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return quillerr.Errorf(quillerr.CodeConfigLoadReadFailure, "reading bootstrapped config: %w", err)
				}
			}
		}
	}

	if err := v.BindPFlag("storage.data_dir", cmd.Root().PersistentFlags().Lookup("data-dir")); err != nil {
		return quillerr.Errorf(quillerr.CodeCLISetupFailure, "binding data-dir flag: %w", err)
	}
	if err := v.BindPFlag("verbose", cmd.Root().PersistentFlags().Lookup("verbose")); err != nil {
		return quillerr.Errorf(quillerr.CodeCLISetupFailure, "binding verbose flag: %w", err)
	}

	logging.Setup(logging.Options{
		Level:   v.GetString("logging.level"),
		Format:  v.GetString("logging.format"),
		Verbose: v.GetBool("verbose"),
	})
	config.WarnInsecurePermissions(v.ConfigFileUsed())

	store := secretStoreFactory()
	// wiring skips providers whose key does not resolve
	for _, u := range secrets.ResolveProviderKeys(v, store) {
		slog.Warn("provider API key did not resolve; provider will be skipped",
			"provider", u.Provider, "ref", u.Ref, "error", u.Err)
	}
	if err := secrets.ResolveSettings(v, store); err != nil {
		slog.Warn("some keyring references did not resolve", "error", err)
	}

	return nil
}
