// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

// Package web serves plugin pages, raw payloads and the plugin listing over
// HTTP.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	"github.com/webcrumbs/crumbhost/internal/compose"
)

// DefaultReadHeaderTimeout bounds reading request headers.
const DefaultReadHeaderTimeout = 10 * time.Second

// Config configures the public HTTP server.
type Config struct {
	// Addr is the listen address in "host:port" format.
	Addr string

	// ReadHeaderTimeout defaults to DefaultReadHeaderTimeout if zero.
	ReadHeaderTimeout time.Duration

	// SiteTitle is shown on the listing page. Defaults to compose.DefaultSiteTitle.
	SiteTitle string

	// Installed lists the plugin names shown on the listing page.
	Installed []string

	// RateLimit configures per-client rate limiting.
	RateLimit RateLimitConfig
}

// Server is the public HTTP server.
type Server struct {
	cfg        Config
	handler    http.Handler
	limiter    *RateLimiter
	logger     *slog.Logger
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for request failures and lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a server for renderer.
// Panics if renderer is nil.
func NewServer(cfg Config, renderer Renderer, opts ...Option) *Server {
	if renderer == nil {
		panic("web.NewServer: renderer cannot be nil")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if cfg.SiteTitle == "" {
		cfg.SiteTitle = compose.DefaultSiteTitle
	}

	s := &Server{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	h := &handlers{
		renderer:  renderer,
		logger:    s.logger,
		siteTitle: cfg.SiteTitle,
		installed: slices.Clone(cfg.Installed),
	}
	mux := http.NewServeMux()
	h.routes(mux)

	var handler http.Handler = mux
	if cfg.RateLimit.Enabled {
		s.limiter = NewRateLimiter(cfg.RateLimit)
		handler = withRateLimit(s.limiter, handler)
	}
	s.handler = withRequestID(handler)
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving. It returns an error channel that receives any
// error from the HTTP server after it starts; the channel is closed when
// the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.In("web").Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.In("web").With("addr", s.cfg.Addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("web server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("web server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the server, then the rate limiter. If the
// shutdown fails the server keeps running with its limiter intact.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		s.closeLimiter()
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.In("web").With("operation", "shutdown_web_server").Wrap(err)
		}
	}

	s.closeLimiter()
	s.logger.Info("web server stopped")
	return nil
}

func (s *Server) closeLimiter() {
	if s.limiter != nil {
		s.limiter.Close()
	}
}

// Addr returns the address the server is listening on, or "" if it has
// not started.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
