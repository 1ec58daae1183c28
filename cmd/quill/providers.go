// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"net/url"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	quillerr "github.com/sigil-dev/quill/pkg/errors"
	"github.com/sigil-dev/quill/pkg/health"
)

func newProvidersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Show provider health",
		Long: "List every provider known to the running server with its health, circuit state and success rate.\n" +
			"When no server is running, the providers in the configuration are listed instead.",
		Args: cobra.NoArgs,
		RunE: runProviders,
	}

	cmd.PersistentFlags().String("address", "", "server address (defaults to server.listen)")
	cmd.Flags().Bool("json", false, "print the raw JSON response")

	cmd.AddCommand(newProvidersMaintenanceCmd())

	return cmd
}

func newProvidersMaintenanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "maintenance <name> on|off",
		Short:     "Take a provider out of rotation, or put it back",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"on", "off"},
		RunE:      runProvidersMaintenance,
	}
}

func runProviders(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	api := newAPIClient(serverAddress(cmd))

	var body struct {
		Providers []health.ProviderHealth `json:"providers"`
	}
	if err := api.getJSON("/api/v1/providers", &body); err != nil {
		if quillerr.HasCode(err, quillerr.CodeCLIServerNotRunning) {
			return printConfiguredProviders(cmd)
		}
		return err
	}
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(out, body)
	}

	if len(body.Providers) == 0 {
		_, _ = fmt.Fprintln(out, "No providers registered.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PROVIDER\tSTATUS\tCIRCUIT\tSUCCESS\tAVG LATENCY\tREQUESTS")
	for _, p := range body.Providers {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%.0f%%\t%s\t%d\n",
			p.Provider, p.Status, p.Circuit, p.SuccessRate*100, p.AvgLatency, p.TotalRequests)
	}
	return tw.Flush()
}

func printConfiguredProviders(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "Server at %s is not running; configured providers:\n", serverAddress(cmd))
	if len(cfg.Providers) == 0 {
		_, _ = fmt.Fprintln(out, "  none (run 'quill init')")
		return nil
	}

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	slices.Sort(names)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PROVIDER\tTYPE\tKIND\tWEIGHT")
	for _, name := range names {
		pc := cfg.Providers[name]
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%g\n", name, pc.Type, pc.Kind(), pc.Weight)
	}
	return tw.Flush()
}

func runProvidersMaintenance(cmd *cobra.Command, args []string) error {
	name := args[0]
	var enabled bool
	switch args[1] {
	case "on":
		enabled = true
	case "off":
	default:
		return quillerr.Errorf(quillerr.CodeCLIInputInvalid, "expected on or off, got %q", args[1])
	}

	api := newAPIClient(serverAddress(cmd))
	var snap health.ProviderHealth
	if err := api.putJSON("/api/v1/providers/"+url.PathEscape(name)+"/maintenance",
		map[string]bool{"enabled": enabled}, &snap); err != nil {
		return err
	}

	_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (available: %t)\n", snap.Provider, snap.Status, snap.Available)
	return err
}
