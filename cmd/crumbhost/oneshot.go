// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/webcrumbs/crumbhost/internal/artifact"
	"github.com/webcrumbs/crumbhost/internal/config"
	"github.com/webcrumbs/crumbhost/pkg/errutil"
)

// oneShotFlagKeys maps flags shared by render and fetch onto config keys.
var oneShotFlagKeys = map[string]string{
	"source":    "source.base_url",
	"log-level": "server.log_level",
}

func addOneShotFlags(cmd *cobra.Command) {
	def := config.Default()
	cmd.Flags().String("source", def.Source.BaseURL, "plugin source base URL")
	cmd.Flags().String("log-level", def.Server.LogLevel, "log level (debug, info, warn, error)")
}

// NewRenderCmd creates the render subcommand.
func NewRenderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render <name>",
		Short: "Render one plugin page to stdout",
		Long: `Fetch the named plugin from the plugin source, evaluate its server code
and write the complete HTML document to stdout.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, oneShotFlagKeys)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return runRender(cmd.Context(), cfg, cmd, args[0], defaultFetcherFactory)
		},
	}
	addOneShotFlags(cmd)
	return cmd
}

func runRender(ctx context.Context, cfg *config.Config, cmd *cobra.Command, name string, fetcherFactory func(artifact.HTTPFetcherConfig) (artifact.Fetcher, error)) error {
	ctx, stop := signalContext(ctx)
	defer stop()

	logger, err := setupLogging("text", cfg.Server.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	h, err := newHost(cfg, logger, fetcherFactory)
	if err != nil {
		return err
	}
	defer func() { _ = h.Close() }()

	doc, err := h.pipeline.Render(ctx, name)
	if err != nil {
		errutil.LogError(logger, "render failed", err, "plugin", name)
		return fmt.Errorf("render %s: %w", name, err)
	}
	if _, err := doc.WriteTo(cmd.OutOrStdout()); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	return nil
}

// NewFetchCmd creates the fetch subcommand.
func NewFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <name> [server|client]",
		Short: "Print one raw plugin payload",
		Long: `Fetch the named plugin from the plugin source and print one of its
payloads verbatim. The client payload is printed by default.`,
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{string(artifact.EnvServer), string(artifact.EnvClient)},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, oneShotFlagKeys)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			env := string(artifact.EnvClient)
			if len(args) == 2 {
				env = args[1]
			}
			return runFetch(cmd.Context(), cfg, cmd, args[0], env, defaultFetcherFactory)
		},
	}
	addOneShotFlags(cmd)
	return cmd
}

func runFetch(ctx context.Context, cfg *config.Config, cmd *cobra.Command, name, env string, fetcherFactory func(artifact.HTTPFetcherConfig) (artifact.Fetcher, error)) error {
	ctx, stop := signalContext(ctx)
	defer stop()

	logger, err := setupLogging("text", cfg.Server.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	h, err := newHost(cfg, logger, fetcherFactory)
	if err != nil {
		return err
	}
	defer func() { _ = h.Close() }()

	payload, err := h.pipeline.Payload(ctx, name, env)
	if err != nil {
		errutil.LogError(logger, "fetch failed", err, "plugin", name, "env", env)
		return fmt.Errorf("fetch %s/%s: %w", name, env, err)
	}
	if _, err := fmt.Fprint(cmd.OutOrStdout(), payload); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	return nil
}

// signalContext cancels on SIGINT/SIGTERM.
func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
