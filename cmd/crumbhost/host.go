// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/webcrumbs/crumbhost/internal/artifact"
	"github.com/webcrumbs/crumbhost/internal/compose"
	"github.com/webcrumbs/crumbhost/internal/config"
	"github.com/webcrumbs/crumbhost/internal/logging"
	"github.com/webcrumbs/crumbhost/internal/pipeline"
	"github.com/webcrumbs/crumbhost/internal/sandbox/lua"
)

// host bundles the render pipeline and the cache it owns.
type host struct {
	pipeline *pipeline.Pipeline
	cache    *artifact.Cache
}

// Close releases the artifact cache.
func (h *host) Close() error {
	if err := h.cache.Close(); err != nil {
		return fmt.Errorf("failed to close artifact cache: %w", err)
	}
	return nil
}

// newHost wires fetcher, cache, sandbox and composer from cfg.
func newHost(cfg *config.Config, logger *slog.Logger, fetcherFactory func(artifact.HTTPFetcherConfig) (artifact.Fetcher, error)) (*host, error) {
	fetcher, err := fetcherFactory(cfg.FetcherConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create plugin fetcher: %w", err)
	}

	enforcer, err := cfg.Enforcer()
	if err != nil {
		return nil, fmt.Errorf("failed to create capability enforcer: %w", err)
	}

	executor := lua.NewExecutor(enforcer,
		lua.WithLimits(cfg.Limits()),
		lua.WithLogger(logger),
		lua.WithEnviron(os.Environ),
		lua.WithVersion(version),
	)
	composer := compose.NewComposer(compose.WithSiteTitle(cfg.Site.Title))
	cache := artifact.NewCache(fetcher)

	return &host{
		pipeline: pipeline.New(cache, executor, composer),
		cache:    cache,
	}, nil
}

// setupLogging installs the default logger for the given format and level.
func setupLogging(format, level string) (*slog.Logger, error) {
	if !logging.ValidFormat(format) {
		return nil, fmt.Errorf("invalid log format %q: must be 'json' or 'text'", format)
	}
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	return logging.SetDefault("crumbhost", version, format, lvl), nil
}
