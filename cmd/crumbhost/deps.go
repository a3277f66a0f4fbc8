// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package main

import (
	"context"

	"github.com/webcrumbs/crumbhost/internal/artifact"
	"github.com/webcrumbs/crumbhost/internal/observability"
	"github.com/webcrumbs/crumbhost/internal/web"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// FetcherFactory creates the plugin source fetcher.
	// Default: artifact.NewHTTPFetcher
	FetcherFactory func(cfg artifact.HTTPFetcherConfig) (artifact.Fetcher, error)

	// WebServerFactory creates the public HTTP server.
	// Default: web.NewServer
	WebServerFactory func(cfg web.Config, renderer web.Renderer, opts ...web.Option) WebServer

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker, registrars ...observability.Registrar) ObservabilityServer

	// OnReady is called once every server is listening.
	OnReady func(webAddr, metricsAddr string)
}

// WebServer interface wraps the methods used from web.Server.
type WebServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// withDefaults fills unset dependencies with their default implementations.
func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.FetcherFactory == nil {
		out.FetcherFactory = defaultFetcherFactory
	}
	if out.WebServerFactory == nil {
		out.WebServerFactory = func(cfg web.Config, renderer web.Renderer, opts ...web.Option) WebServer {
			return web.NewServer(cfg, renderer, opts...)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker, registrars ...observability.Registrar) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker, registrars...)
		}
	}
	if out.OnReady == nil {
		out.OnReady = func(string, string) {}
	}
	return &out
}

func defaultFetcherFactory(cfg artifact.HTTPFetcherConfig) (artifact.Fetcher, error) {
	return artifact.NewHTTPFetcher(cfg) //nolint:wrapcheck // fetcher errors carry their own context
}
