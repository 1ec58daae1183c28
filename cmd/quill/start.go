// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/sigil-dev/quill/internal/config"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the quill server",
		Long:  "Load configuration, wire providers, storage and the pipeline, then serve the REST API until interrupted.",
		RunE:  runStart,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")
	cmd.Flags().String("grpc-listen", "", "override gRPC health listen address (host:port)")

	return cmd
}

// loadConfig decodes the global viper state set up by initViper.
func loadConfig() (*config.Config, error) {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func runStart(cmd *cobra.Command, _ []string) error {
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		viper.Set("server.listen", listen)
	}
	if grpcListen, _ := cmd.Flags().GetString("grpc-listen"); grpcListen != "" {
		viper.Set("server.grpc_listen", grpcListen)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := WireApp(cfg, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			slog.Warn("shutdown incomplete", "error", err)
		}
	}()

	srv, err := app.NewServer()
	if err != nil {
		return quillerr.Wrapf(err, quillerr.CodeCLISetupFailure, "creating server")
	}
	defer func() { _ = srv.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Starting quill on %s (%d providers, %s storage)\n",
		cfg.Server.Listen, len(app.Registry.Names()), cfg.Storage.Backend); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		app.Monitor.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return srv.Start(ctx)
	})

	return g.Wait()
}
