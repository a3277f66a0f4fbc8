// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/webcrumbs/crumbhost/internal/origin"
)

// originConfig holds configuration for the origin command.
type originConfig struct {
	addr      string
	dir       string
	logFormat string
}

// Validate checks that the configuration is valid.
func (cfg *originConfig) Validate() error {
	if cfg.addr == "" {
		return fmt.Errorf("addr is required")
	}
	info, err := os.Stat(cfg.dir)
	if err != nil {
		return fmt.Errorf("plugin directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("plugin directory %s is not a directory", cfg.dir)
	}
	if cfg.logFormat != "json" && cfg.logFormat != "text" {
		return fmt.Errorf("log-format must be 'json' or 'text', got %q", cfg.logFormat)
	}
	return nil
}

// Default values for origin command flags.
const (
	defaultOriginAddr = "127.0.0.1:3001"
	defaultOriginDir  = "plugins"
)

// NewOriginCmd creates the origin subcommand.
func NewOriginCmd() *cobra.Command {
	cfg := &originConfig{}

	cmd := &cobra.Command{
		Use:   "origin",
		Short: "Serve a local plugin directory as a plugin source",
		Long: `Serve {dir}/{name}/server.lua and {dir}/{name}/client.js under
/plugins/{name}/server and /plugins/{name}/client, for developing plugins
against a local crumbhost.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOrigin(cmd.Context(), cfg, cmd, nil)
		},
	}

	cmd.Flags().StringVar(&cfg.addr, "addr", defaultOriginAddr, "listen address")
	cmd.Flags().StringVar(&cfg.dir, "dir", defaultOriginDir, "plugin directory")
	cmd.Flags().StringVar(&cfg.logFormat, "log-format", "text", "log format (json or text)")

	return cmd
}

// runOrigin serves cfg.dir until a signal arrives or ctx is canceled.
func runOrigin(ctx context.Context, cfg *originConfig, cmd *cobra.Command, onReady func(addr string)) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	logger, err := setupLogging(cfg.logFormat, "info")
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	fsys := os.DirFS(cfg.dir)
	names, err := origin.Plugins(fsys)
	if err != nil {
		return fmt.Errorf("failed to list plugins: %w", err)
	}

	srv := origin.NewServer(cfg.addr, fsys, logger)
	errCh, err := srv.Start()
	if err != nil {
		return fmt.Errorf("failed to start origin server: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go monitorServerErrors(ctx, cancel, errCh, "origin")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Printf("serving %d plugin(s) from %s on http://%s\n", len(names), cfg.dir, srv.Addr())
	logger.Info("origin ready", "addr", srv.Addr(), "dir", cfg.dir, "plugins", names)
	if onReady != nil {
		onReady(srv.Addr())
	}

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping origin server", "error", err)
	}
	return nil
}
