// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the delego command-line
// application.
package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/delego/pkg/config"
	"github.com/stacklok/delego/pkg/core"
	"github.com/stacklok/delego/pkg/logger"
	"github.com/stacklok/delego/pkg/secrets"
	"github.com/stacklok/delego/pkg/server"
)

// version is overridden at build time via ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:               "delego",
	DisableAutoGenTag: true,
	Short:             "OAuth 2.1 on-behalf-of delegation engine for MCP tool servers",
	Long: `delego fronts MCP tool servers with an OAuth 2.1 on-behalf-of delegation
engine. It validates incoming bearer tokens against the configured identity
providers, maps token roles onto framework roles, and lets delegation
modules act downstream on the caller's behalf, acquiring narrowly scoped
credentials through RFC 8693 token exchange.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates the root command for the delego CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the delego configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	rootCmd.PersistentFlags().String("secrets-file", "", "Path to the JSON secrets file (defaults to the XDG data dir)")
	if err := viper.BindPFlag("secrets-file", rootCmd.PersistentFlags().Lookup("secrets-file")); err != nil {
		logger.Errorf("Error binding secrets-file flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSecretCommand())

	rootCmd.SilenceUsage = true
	return rootCmd
}

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the delegation engine",
		Long: `Start the delegation engine: validate the configuration, bring up the
component graph, and serve the MCP endpoint until interrupted.`,
		RunE: runServe,
	}

	serveCmd.Flags().String("host", "", "Listen address (overrides the configuration file)")
	serveCmd.Flags().Int("port", 0, "Listen port (overrides the configuration file)")

	return serveCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("delego version: %s\n", version)
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		Long: `Validate the delego configuration file for syntax and semantic errors,
including secret-descriptor resolution. Exits non-zero on any problem.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			if err := config.NewValidator().Validate(cfg); err != nil {
				return err
			}

			logger.Info("Configuration is valid")
			logger.Infof("  MCP server: %s %s at %s:%d%s",
				cfg.MCP.Name, cfg.MCP.Version, cfg.MCP.Host, cfg.MCP.Port, cfg.MCP.EndpointPath)
			logger.Infof("  Trusted IdPs: %d", len(cfg.Auth.TrustedIdPs))
			logger.Infof("  Delegation modules: %d", len(cfg.Delegation.Modules))
			logger.Infof("  Audit: enabled=%t", cfg.Auth.Audit.Enabled)
			return nil
		},
	}
}

// loadConfig loads the configuration document named by --config, resolving
// secret descriptors through the file-store-then-environment chain.
func loadConfig(ctx context.Context) (*config.Config, error) {
	configPath := viper.GetString("config")
	if configPath == "" {
		return nil, fmt.Errorf("no configuration file specified, use --config flag")
	}

	provider, err := secrets.Default(viper.GetString("secrets-file"))
	if err != nil {
		return nil, fmt.Errorf("building secrets provider: %w", err)
	}

	return config.NewFileLoader(configPath, provider).Load(ctx)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return err
	}

	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.MCP.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.MCP.Port = port
	}

	coreCtx, err := core.New(cfg)
	if err != nil {
		return err
	}
	if err := coreCtx.Initialize(ctx); err != nil {
		_ = coreCtx.Destroy(ctx)
		return err
	}

	// Start blocks until the signal context cancels; Stop destroys the
	// core context, including the token cache root key.
	srv := server.New(coreCtx)
	return srv.Start(ctx)
}
