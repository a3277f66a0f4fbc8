// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webcrumbs/crumbhost/internal/xdg"
	"github.com/webcrumbs/crumbhost/pkg/errutil"
)

// isolate points the XDG config directory at an empty temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return dir
}

func writeFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsOnly(t *testing.T) {
	isolate(t)

	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Server, cfg.Server)
	assert.Equal(t, def.Source, cfg.Source)
	assert.Equal(t, def.Site, cfg.Site)
	assert.Equal(t, def.Listing, cfg.Listing)
	assert.Equal(t, def.RateLimit, cfg.RateLimit)
	assert.Equal(t, def.Limits(), cfg.Limits())
	assert.Equal(t, def.Sandbox.DefaultGrants, cfg.Sandbox.DefaultGrants)
	assert.Empty(t, cfg.Sandbox.Grants)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, `
server:
  addr: 0.0.0.0:8080
  log_format: text
source:
  base_url: https://plugins.example.com
  retry:
    attempts: 5
sandbox:
  timeout: 500ms
  grants:
    - plugin: hello.world
      allow: ["ui.*"]
listing:
  installed: [hello.world]
site:
  title: Demo
`)

	cfg, err := Load(LoadOptions{Path: path})
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr)
	assert.Equal(t, "text", cfg.Server.LogFormat)
	assert.Equal(t, "https://plugins.example.com", cfg.Source.BaseURL)
	assert.Equal(t, 5, cfg.Source.Retry.Attempts)
	assert.Equal(t, Default().Source.Retry.BaseDelay, cfg.Source.Retry.BaseDelay, "untouched keys keep defaults")
	assert.Equal(t, 500*time.Millisecond, cfg.Sandbox.Timeout)
	assert.Equal(t, []GrantConfig{{Plugin: "hello.world", Allow: []string{"ui.*"}}}, cfg.Sandbox.Grants)
	assert.Equal(t, []string{"hello.world"}, cfg.Listing.Installed)
	assert.Equal(t, "Demo", cfg.Site.Title)
}

func TestLoad_UsesXDGFile(t *testing.T) {
	dir := isolate(t)
	appDir := filepath.Join(dir, "crumbhost")
	require.NoError(t, xdg.EnsureDir(appDir))
	writeFile(t, appDir, "site:\n  title: From XDG\n")

	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "From XDG", cfg.Site.Title)
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	dir := isolate(t)

	_, err := Load(LoadOptions{Path: filepath.Join(dir, "missing.yaml")})
	require.Error(t, err)
	errutil.AssertErrorContext(t, err, "path", filepath.Join(dir, "missing.yaml"))
}

func TestLoad_SchemaRejectsFile(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "server:\n  adress: 0.0.0.0:8080\n")

	_, err := Load(LoadOptions{Path: path})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeInvalid)
	errutil.AssertErrorContext(t, err, "path", path)
}

func TestLoad_ValidationRejectsFile(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "rate_limit:\n  burst: 0\n")

	_, err := Load(LoadOptions{Path: path})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeInvalid)
	assert.Contains(t, err.Error(), "rate_limit.burst")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "source:\n  base_url: https://file.example.com\n")

	t.Setenv("CRUMBHOST_SOURCE__BASE_URL", "https://env.example.com")
	t.Setenv("CRUMBHOST_SOURCE__RETRY__ATTEMPTS", "2")
	t.Setenv("CRUMBHOST_SANDBOX__TIMEOUT", "750ms")
	t.Setenv("CRUMBHOST_RATE_LIMIT__ENABLED", "false")
	t.Setenv("CRUMBHOST_LISTING__INSTALLED", "alpha,beta")

	cfg, err := Load(LoadOptions{Path: path})
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.Source.BaseURL)
	assert.Equal(t, 2, cfg.Source.Retry.Attempts)
	assert.Equal(t, 750*time.Millisecond, cfg.Sandbox.Timeout)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, []string{"alpha", "beta"}, cfg.Listing.Installed)
}

func TestLoad_InvalidEnvValue(t *testing.T) {
	isolate(t)
	t.Setenv("CRUMBHOST_SANDBOX__TIMEOUT", "whenever")

	_, err := Load(LoadOptions{})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeInvalid)
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("addr", "127.0.0.1:3000", "")
	fs.String("log-format", "json", "")
	fs.String("unmapped", "x", "")
	require.NoError(t, fs.Parse(args))
	return fs
}

var testFlagKeys = map[string]string{
	"addr":       "server.addr",
	"log-format": "server.log_format",
}

func TestLoad_ChangedFlagsOverrideEnv(t *testing.T) {
	isolate(t)
	t.Setenv("CRUMBHOST_SERVER__ADDR", "127.0.0.1:4000")
	t.Setenv("CRUMBHOST_SERVER__LOG_FORMAT", "text")

	cfg, err := Load(LoadOptions{
		Flags:    newFlags(t, "--addr", "127.0.0.1:0", "--unmapped", "y"),
		FlagKeys: testFlagKeys,
	})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:0", cfg.Server.Addr)
	assert.Equal(t, "text", cfg.Server.LogFormat, "unchanged flag must not override env")
}

func TestLoad_UnchangedFlagsKeepFile(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "server:\n  addr: 127.0.0.1:5000\n")

	cfg, err := Load(LoadOptions{
		Path:     path,
		Flags:    newFlags(t),
		FlagKeys: testFlagKeys,
	})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5000", cfg.Server.Addr)
}

func TestWriteDefault(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "nested", "config.yaml")

	require.NoError(t, WriteDefault(path, false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), SchemaID)
	require.NoError(t, ValidateSchema(data))

	cfg, err := Load(LoadOptions{Path: path})
	require.NoError(t, err)
	assert.Equal(t, Default().Server, cfg.Server)

	err = WriteDefault(path, false)
	require.Error(t, err)
	errutil.AssertErrorContext(t, err, "path", path)

	require.NoError(t, WriteDefault(path, true))
}

func TestEnvKey(t *testing.T) {
	key, value := envKey("CRUMBHOST_SOURCE__RETRY__BASE_DELAY", "1s")
	assert.Equal(t, "source.retry.base_delay", key)
	assert.Equal(t, "1s", value)
}
