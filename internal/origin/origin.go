// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

// Package origin serves plugin payloads from a directory laid out as
// {name}/server.lua and {name}/client.js. It is a development plugin source
// speaking the same /plugins/{name}/{server|client} protocol the host fetches.
package origin

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"path"
	"sort"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	"github.com/webcrumbs/crumbhost/internal/artifact"
)

// Payload file names inside a plugin directory.
const (
	ServerFile = "server.lua"
	ClientFile = "client.js"
)

var payloadFiles = map[artifact.Env]struct {
	file        string
	contentType string
}{
	artifact.EnvServer: {ServerFile, "text/plain; charset=utf-8"},
	artifact.EnvClient: {ClientFile, "application/javascript; charset=utf-8"},
}

// Plugins lists the plugin directories in fsys that carry a server payload,
// in sorted order.
func Plugins(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, oops.In("origin").Wrapf(err, "failed to read plugin directory")
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() || artifact.ValidateName(e.Name(), true) != nil {
			continue
		}
		if _, err := fs.Stat(fsys, path.Join(e.Name(), ServerFile)); err != nil {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// NewHandler returns a handler serving payloads from fsys.
func NewHandler(fsys fs.FS, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /plugins/{name}/{env}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		env, err := artifact.ParseEnv(r.PathValue("env"))
		if err != nil || artifact.ValidateName(name, true) != nil {
			http.NotFound(w, r)
			return
		}

		pf := payloadFiles[env]
		data, err := fs.ReadFile(fsys, path.Join(name, pf.file))
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				logger.Error("failed to read payload", "plugin", name, "env", env, "error", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", pf.contentType)
		w.Header().Set("Cache-Control", "no-cache")
		//nolint:errcheck // client may disconnect
		w.Write(data)
	})
	return mux
}

// Server serves a plugin directory over HTTP.
type Server struct {
	addr       string
	handler    http.Handler
	logger     *slog.Logger
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// NewServer creates an origin server for fsys listening on addr.
func NewServer(addr string, fsys fs.FS, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:    addr,
		handler: NewHandler(fsys, logger),
		logger:  logger,
	}
}

// Start begins serving. The returned channel receives any error from the
// HTTP server after it starts and is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.In("origin").Errorf("origin server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.In("origin").With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("origin server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("origin server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.In("origin").With("operation", "shutdown_origin_server").Wrap(err)
		}
	}
	return nil
}

// Addr returns the listening address, or "" if not started.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
