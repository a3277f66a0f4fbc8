// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/mock"

	"github.com/webcrumbs/crumbhost/internal/observability"
)

const helloServer = `exports.default = function(props)
	return ui.h("div", { className = "hello" }, "Hello from ", props.env)
end`

const helloClient = `console.log("hydrate")`

// newOrigin serves plugin payloads keyed by "name/env".
func newOrigin(t *testing.T, payloads map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := payloads[strings.TrimPrefix(r.URL.Path, "/plugins/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// isolateEnv keeps tests away from the user's config file and restores the
// default logger.
func isolateEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })
	return dir
}

// execute runs the root command with args and returns its stdout.
func execute(ctx context.Context, args ...string) (string, error) {
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// findCmd returns the subcommand at path, e.g. "config", "schema".
func findCmd(t *testing.T, path ...string) *cobra.Command {
	t.Helper()
	cmd, _, err := NewRootCmd().Find(path)
	if err != nil {
		t.Fatalf("Find(%v) error = %v", path, err)
	}
	return cmd
}

type mockWebServer struct {
	mock.Mock
}

func (m *mockWebServer) Start() (<-chan error, error) {
	args := m.Called()
	ch, _ := args.Get(0).(<-chan error)
	return ch, args.Error(1)
}

func (m *mockWebServer) Stop(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockWebServer) Addr() string {
	return m.Called().String(0)
}

type mockObsServer struct {
	mock.Mock
	metrics *observability.Metrics
}

func (m *mockObsServer) Start() (<-chan error, error) {
	args := m.Called()
	ch, _ := args.Get(0).(<-chan error)
	return ch, args.Error(1)
}

func (m *mockObsServer) Stop(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockObsServer) Addr() string {
	return m.Called().String(0)
}

func (m *mockObsServer) Metrics() *observability.Metrics {
	return m.metrics
}
