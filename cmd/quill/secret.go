// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bufio"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/quill/internal/secrets"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
)

// secretStoreFactory creates a secrets.Store. It is a package-level variable
// so tests can substitute a mock implementation.
var secretStoreFactory = func() secrets.Store {
	return secrets.NewKeyringStore()
}

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage provider API keys stored in the OS keyring",
		Long: "Store, read, list and delete provider API keys kept under the " + secrets.ServiceName + " service in the\n" +
			"operating system keyring. Reference a stored key from the config as " + secrets.ProviderKeyURI("<provider>") + ".",
	}

	cmd.AddCommand(
		newSecretSetCmd(),
		newSecretGetCmd(),
		newSecretListCmd(),
		newSecretDeleteCmd(),
	)

	return cmd
}

func newSecretSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <provider> [api-key]",
		Short: "Store a provider API key; the key is read from stdin when omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runSecretSet,
	}
}

func newSecretGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <provider>",
		Short: "Show a stored API key, masked unless --reveal is given",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretGet,
	}
	cmd.Flags().Bool("reveal", false, "print the key in clear text")
	return cmd
}

func newSecretListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List providers with a stored API key and their config references",
		RunE:  runSecretList,
	}
}

func newSecretDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <provider>",
		Short: "Delete a provider's stored API key",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretDelete,
	}
}

func providerKeys() *secrets.ProviderKeys {
	return secrets.NewProviderKeys(secretStoreFactory())
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	var value string
	if len(args) == 2 {
		value = args[1]
	} else {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return quillerr.Errorf(quillerr.CodeSecretInvalidInput, "reading API key from stdin: %w", err)
		}
		value = line
	}

	ref, err := providerKeys().Set(args[0], value)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored API key for %s (reference: %s)\n", strings.ToLower(args[0]), ref)
	return nil
}

func runSecretGet(cmd *cobra.Command, args []string) error {
	value, err := providerKeys().Get(args[0])
	if err != nil {
		return err
	}
	if reveal, _ := cmd.Flags().GetBool("reveal"); !reveal {
		value = maskSecret(value)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

func runSecretList(cmd *cobra.Command, _ []string) error {
	keys, err := providerKeys().List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(keys) == 0 {
		_, _ = fmt.Fprintln(out, "No API keys stored.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, k := range keys {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", k.Provider, k.Ref)
	}
	return tw.Flush()
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	if err := providerKeys().Delete(args[0]); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted API key for %s\n", strings.ToLower(args[0]))
	return nil
}

// maskSecret keeps the last four characters of values longer than eight.
func maskSecret(v string) string {
	if len(v) <= 8 {
		return strings.Repeat("*", len(v))
	}
	return strings.Repeat("*", len(v)-4) + v[len(v)-4:]
}
