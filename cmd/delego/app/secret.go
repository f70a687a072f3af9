// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/stacklok/delego/pkg/secrets"
)

func newSecretCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets",
		Long: `Manage the JSON secrets file the {"$secret": "NAME"} configuration
descriptors resolve from.`,
	}

	cmd.AddCommand(
		newSecretSetCommand(),
		newSecretGetCommand(),
		newSecretListCommand(),
		newSecretRemoveCommand(),
	)
	return cmd
}

// secretsProvider opens the file store named by --secrets-file (or the XDG
// default). The environment fallback is deliberately absent here: the CLI
// manages the file, not the process environment.
func secretsProvider() (secrets.Provider, error) {
	path := viper.GetString("secrets-file")
	if path == "" {
		var err error
		path, err = secrets.DefaultFilePath()
		if err != nil {
			return nil, err
		}
	}
	return secrets.NewFileProvider(path)
}

func newSecretSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name>",
		Short: "Set a secret",
		Long: `Set a secret with the given name.

The value is read from stdin, either piped or prompted for with hidden
input, so it never lands in shell history:

    echo -n "s3cret" | delego secret set oidc-client-secret
    delego secret set oidc-client-secret`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			var value string
			stat, _ := os.Stdin.Stat()
			if (stat.Mode() & os.ModeCharDevice) == 0 {
				raw, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("reading secret from stdin: %w", err)
				}
				value = strings.TrimSuffix(string(raw), "\n")
			} else {
				fmt.Print("Enter secret value (input will be hidden): ")
				raw, err := term.ReadPassword(int(syscall.Stdin))
				fmt.Println()
				if err != nil {
					return fmt.Errorf("reading secret from terminal: %w", err)
				}
				value = string(raw)
			}

			if value == "" {
				return fmt.Errorf("secret value cannot be empty")
			}

			provider, err := secretsProvider()
			if err != nil {
				return err
			}
			if err := provider.SetSecret(cmd.Context(), name, value); err != nil {
				return fmt.Errorf("setting secret %s: %w", name, err)
			}
			fmt.Printf("Secret %s set successfully\n", name)
			return nil
		},
	}
}

func newSecretGetCommand() *cobra.Command {
	var show bool
	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Get a secret",
		Long: `Check that a secret exists. The value is only printed with --show so
casual shell sessions do not end up with secrets in scrollback.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			provider, err := secretsProvider()
			if err != nil {
				return err
			}
			value, err := provider.GetSecret(cmd.Context(), name)
			if err != nil {
				return fmt.Errorf("getting secret %s: %w", name, err)
			}

			if show {
				fmt.Printf("Secret %s: %s\n", name, value)
			} else {
				fmt.Printf("Secret %s exists (%d bytes); use --show to print the value\n", name, len(value))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&show, "show", false, "Print the secret value")
	return cmd
}

func newSecretListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all available secrets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			provider, err := secretsProvider()
			if err != nil {
				return err
			}
			names, err := provider.ListSecrets(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing secrets: %w", err)
			}

			if len(names) == 0 {
				fmt.Println("No secrets found")
				return nil
			}
			fmt.Println("Available secrets:")
			for _, name := range names {
				fmt.Printf("  - %s\n", name)
			}
			return nil
		},
	}
}

func newSecretRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			provider, err := secretsProvider()
			if err != nil {
				return err
			}
			if err := provider.DeleteSecret(cmd.Context(), name); err != nil {
				return fmt.Errorf("removing secret %s: %w", name, err)
			}
			fmt.Printf("Secret %s removed successfully\n", name)
			return nil
		},
	}
}
