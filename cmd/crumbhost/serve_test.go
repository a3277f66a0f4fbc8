// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/webcrumbs/crumbhost/internal/config"
	"github.com/webcrumbs/crumbhost/internal/observability"
	"github.com/webcrumbs/crumbhost/internal/web"
)

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.MetricsAddr = "127.0.0.1:0"
	cfg.Server.LogFormat = "text"
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Source.BaseURL = baseURL
	cfg.Listing.Installed = []string{"plugin1"}
	require.NoError(t, cfg.Validate())
	return cfg
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url) //nolint:noctx // test helper
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServeCommand_Flags(t *testing.T) {
	cmd := findCmd(t, "serve")

	for _, name := range []string{"addr", "metrics-addr", "log-format", "log-level", "source", "site-title"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing --%s", name)
		assert.Contains(t, serveFlagKeys, name)
	}

	addr, err := cmd.Flags().GetString("addr")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:3000", addr)

	source, err := cmd.Flags().GetString("source")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3001", source)
}

func TestRunServe_ServesUntilCanceled(t *testing.T) {
	isolateEnv(t)
	origin := newOrigin(t, map[string]string{
		"plugin1/server": helloServer,
		"plugin1/client": helloClient,
	})
	cfg := testConfig(t, origin.URL)

	type addrs struct{ web, metrics string }
	readyCh := make(chan addrs, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- runServeWithDeps(ctx, cfg, &cobra.Command{}, &ServeDeps{
			OnReady: func(webAddr, metricsAddr string) { readyCh <- addrs{webAddr, metricsAddr} },
		})
	}()

	var a addrs
	select {
	case a = <-readyCh:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for servers")
	}

	status, body := get(t, "http://"+a.web+"/plugin1")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `<div class="hello">Hello from server</div>`)
	assert.Contains(t, body, "<script>"+helloClient+"</script>")

	status, body = get(t, "http://"+a.web+"/")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `href="/plugin1"`)

	status, body = get(t, "http://"+a.metrics+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "crumbhost_build_info")
	assert.Contains(t, body, "crumbhost_plugins_installed 1")
	assert.Contains(t, body, "crumbhost_cache_lookups_total")

	status, _ = get(t, "http://"+a.metrics+"/healthz/readiness")
	assert.Equal(t, http.StatusOK, status)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for shutdown")
	}
}

func TestRunServe_MetricsDisabled(t *testing.T) {
	isolateEnv(t)
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Server.MetricsAddr = ""

	errCh := make(chan error)
	webServer := &mockWebServer{}
	webServer.On("Start").Return((<-chan error)(errCh), nil)
	webServer.On("Addr").Return("127.0.0.1:3000")
	webServer.On("Stop", mock.Anything).Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	err := runServeWithDeps(ctx, cfg, &cobra.Command{}, &ServeDeps{
		WebServerFactory: func(web.Config, web.Renderer, ...web.Option) WebServer { return webServer },
		ObservabilityServerFactory: func(string, observability.ReadinessChecker, ...observability.Registrar) ObservabilityServer {
			t.Fatal("observability server must not be created")
			return nil
		},
		OnReady: func(_, metricsAddr string) {
			assert.Empty(t, metricsAddr)
			cancel()
		},
	})

	require.NoError(t, err)
	webServer.AssertExpectations(t)
}

func TestRunServe_WebStartFailure(t *testing.T) {
	isolateEnv(t)
	cfg := testConfig(t, "http://127.0.0.1:1")

	webServer := &mockWebServer{}
	webServer.On("Start").Return(nil, errors.New("address in use"))

	err := runServeWithDeps(context.Background(), cfg, &cobra.Command{}, &ServeDeps{
		WebServerFactory: func(web.Config, web.Renderer, ...web.Option) WebServer { return webServer },
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start web server")
	assert.Contains(t, err.Error(), "address in use")
	webServer.AssertNotCalled(t, "Stop", mock.Anything)
}

func TestRunServe_ObservabilityStartFailureStopsWeb(t *testing.T) {
	isolateEnv(t)
	cfg := testConfig(t, "http://127.0.0.1:1")

	webServer := &mockWebServer{}
	webServer.On("Start").Return((<-chan error)(make(chan error)), nil)
	webServer.On("Stop", mock.Anything).Return(nil).Once()

	obsServer := &mockObsServer{}
	obsServer.On("Start").Return(nil, errors.New("metrics port taken"))

	err := runServeWithDeps(context.Background(), cfg, &cobra.Command{}, &ServeDeps{
		WebServerFactory: func(web.Config, web.Renderer, ...web.Option) WebServer { return webServer },
		ObservabilityServerFactory: func(string, observability.ReadinessChecker, ...observability.Registrar) ObservabilityServer {
			return obsServer
		},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start observability server")
	webServer.AssertExpectations(t)
}

func TestRunServe_ServerErrorTriggersShutdown(t *testing.T) {
	isolateEnv(t)
	cfg := testConfig(t, "http://127.0.0.1:1")

	webErrCh := make(chan error, 1)
	webServer := &mockWebServer{}
	webServer.On("Start").Return((<-chan error)(webErrCh), nil)
	webServer.On("Addr").Return("127.0.0.1:3000")
	webServer.On("Stop", mock.Anything).Return(nil)

	obsServer := &mockObsServer{metrics: observability.NewMetrics(prometheus.NewRegistry())}
	obsServer.On("Start").Return((<-chan error)(make(chan error)), nil)
	obsServer.On("Addr").Return("127.0.0.1:9100")
	obsServer.On("Stop", mock.Anything).Return(nil)

	var registrars int
	done := make(chan error, 1)
	go func() {
		done <- runServeWithDeps(context.Background(), cfg, &cobra.Command{}, &ServeDeps{
			WebServerFactory: func(web.Config, web.Renderer, ...web.Option) WebServer { return webServer },
			ObservabilityServerFactory: func(_ string, _ observability.ReadinessChecker, regs ...observability.Registrar) ObservabilityServer {
				registrars = len(regs)
				return obsServer
			},
			OnReady: func(string, string) { webErrCh <- errors.New("listener died") },
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server error did not trigger shutdown")
	}

	assert.Equal(t, 4, registrars)
	webServer.AssertCalled(t, "Stop", mock.Anything)
	obsServer.AssertCalled(t, "Stop", mock.Anything)
}

func TestRunServe_InvalidLogFormat(t *testing.T) {
	isolateEnv(t)
	cfg := config.Default()
	cfg.Server.LogFormat = "xml"

	err := runServeWithDeps(context.Background(), cfg, &cobra.Command{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log format")
}

func TestRunServe_FetcherFactoryFailure(t *testing.T) {
	isolateEnv(t)
	cfg := testConfig(t, "http://127.0.0.1:1")

	cfg.Source.BaseURL = "://broken"
	err := runServeWithDeps(context.Background(), cfg, &cobra.Command{}, &ServeDeps{
		WebServerFactory: func(web.Config, web.Renderer, ...web.Option) WebServer {
			t.Fatal("web server must not be created without a fetcher")
			return nil
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create plugin fetcher")
}

func TestMonitorServerErrors(t *testing.T) {
	t.Run("error cancels", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := make(chan error, 1)
		errCh <- errors.New("boom")

		monitorServerErrors(ctx, cancel, errCh, "test")
		assert.Error(t, ctx.Err())
	})

	t.Run("closed channel does not cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := make(chan error)
		close(errCh)

		monitorServerErrors(ctx, cancel, errCh, "test")
		assert.NoError(t, ctx.Err())
	})

	t.Run("returns on context done", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		monitorServerErrors(ctx, cancel, make(chan error), "test")
	})
}
