// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/webcrumbs/crumbhost/internal/artifact"
	"github.com/webcrumbs/crumbhost/internal/config"
	"github.com/webcrumbs/crumbhost/internal/pipeline"
	"github.com/webcrumbs/crumbhost/internal/sandbox"
	"github.com/webcrumbs/crumbhost/internal/web"
)

// serveFlagKeys maps serve flags onto config keys.
var serveFlagKeys = map[string]string{
	"addr":         "server.addr",
	"metrics-addr": "server.metrics_addr",
	"log-format":   "server.log_format",
	"log-level":    "server.log_level",
	"source":       "source.base_url",
	"site-title":   "site.title",
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	def := config.Default()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the plugin host HTTP server",
		Long: `Start the public HTTP server that renders plugins on request, serves
their raw payloads and lists installed plugins. Metrics and health probes
are served on a separate address unless --metrics-addr is empty.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, serveFlagKeys)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	cmd.Flags().String("addr", def.Server.Addr, "public listen address")
	cmd.Flags().String("metrics-addr", def.Server.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log-format", def.Server.LogFormat, "log format (json or text)")
	cmd.Flags().String("log-level", def.Server.LogLevel, "log level (debug, info, warn, error)")
	cmd.Flags().String("source", def.Source.BaseURL, "plugin source base URL")
	cmd.Flags().String("site-title", def.Site.Title, "title shown on the listing page")

	return cmd
}

// runServeWithDeps starts the servers and blocks until a signal arrives,
// ctx is canceled or a server fails.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	deps = deps.withDefaults()

	logger, err := setupLogging(cfg.Server.LogFormat, cfg.Server.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	logger.Info("starting plugin host",
		"addr", cfg.Server.Addr,
		"source", cfg.Source.BaseURL,
		"installed", cfg.Listing.Installed,
	)

	h, err := newHost(cfg, logger, deps.FetcherFactory)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := h.Close(); closeErr != nil {
			logger.Warn("error closing artifact cache", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	webServer := deps.WebServerFactory(cfg.WebConfig(), h.pipeline, web.WithLogger(logger))
	webErrCh, err := webServer.Start()
	if err != nil {
		return fmt.Errorf("failed to start web server: %w", err)
	}
	var ready atomic.Bool
	ready.Store(true)
	go monitorServerErrors(ctx, cancel, webErrCh, "web")

	var obsServer ObservabilityServer
	var metricsAddr string
	if cfg.Server.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Server.MetricsAddr, ready.Load,
			artifact.RegisterMetrics,
			sandbox.RegisterMetrics,
			pipeline.RegisterMetrics,
			web.RegisterMetrics,
		)
		obsErrCh, err := obsServer.Start()
		if err != nil {
			stopServer(webServer, cfg, logger, "web")
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")

		obsServer.Metrics().SetBuildInfo(version, commit)
		obsServer.Metrics().PluginsInstalled.Set(float64(len(cfg.Listing.Installed)))
		metricsAddr = obsServer.Addr()
	}

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Printf("crumbhost serving on http://%s\n", webServer.Addr())
	logger.Info("plugin host ready", "addr", webServer.Addr(), "metrics_addr", metricsAddr)
	deps.OnReady(webServer.Addr(), metricsAddr)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	ready.Store(false)
	logger.Info("shutting down...")

	stopServer(webServer, cfg, logger, "web")
	if obsServer != nil {
		stopServer(obsServer, cfg, logger, "observability")
	}

	logger.Info("shutdown complete")
	return nil
}

// stopServer stops s within the configured shutdown timeout.
func stopServer(s interface{ Stop(context.Context) error }, cfg *config.Config, logger *slog.Logger, name string) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := s.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping server", "server", name, "error", err)
	}
}

// monitorServerErrors watches a server error channel and cancels ctx on
// the first error.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
		// Context cancelled, exit monitoring
	}
}
