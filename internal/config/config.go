// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

// Package config defines the crumbhost configuration, its defaults and
// validation, and how it is layered from file, environment and flags.
package config

import (
	"net"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/webcrumbs/crumbhost/internal/artifact"
	"github.com/webcrumbs/crumbhost/internal/compose"
	"github.com/webcrumbs/crumbhost/internal/logging"
	"github.com/webcrumbs/crumbhost/internal/sandbox"
	"github.com/webcrumbs/crumbhost/internal/sandbox/capability"
	"github.com/webcrumbs/crumbhost/internal/web"
)

// CodeInvalid marks configuration that failed validation.
const CodeInvalid = "CONFIG_INVALID"

// Config is the complete crumbhost configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server" json:"server" yaml:"server"`
	Source    SourceConfig    `koanf:"source" json:"source" yaml:"source"`
	Sandbox   SandboxConfig   `koanf:"sandbox" json:"sandbox" yaml:"sandbox"`
	Site      SiteConfig      `koanf:"site" json:"site" yaml:"site"`
	Listing   ListingConfig   `koanf:"listing" json:"listing" yaml:"listing"`
	RateLimit RateLimitConfig `koanf:"rate_limit" json:"rate_limit" yaml:"rate_limit"`
}

// ServerConfig configures the HTTP listeners and logging.
type ServerConfig struct {
	Addr              string        `koanf:"addr" json:"addr" yaml:"addr" validate:"required,listen_addr" jsonschema:"description=Public listen address (host:port)"`
	MetricsAddr       string        `koanf:"metrics_addr" json:"metrics_addr" yaml:"metrics_addr" validate:"omitempty,listen_addr" jsonschema:"description=Observability listen address; empty disables it"`
	LogFormat         string        `koanf:"log_format" json:"log_format" yaml:"log_format" validate:"oneof=json text" jsonschema:"enum=json,enum=text"`
	LogLevel          string        `koanf:"log_level" json:"log_level" yaml:"log_level" validate:"oneof=debug info warn error" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout" json:"read_header_timeout" yaml:"read_header_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout" json:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
}

// SourceConfig configures the plugin source origin.
type SourceConfig struct {
	BaseURL         string        `koanf:"base_url" json:"base_url" yaml:"base_url" validate:"required,url,startswith=http" jsonschema:"description=Origin serving /plugins/{name}/{server|client}"`
	Timeout         time.Duration `koanf:"timeout" json:"timeout" yaml:"timeout" validate:"gt=0"`
	MaxPayloadBytes int64         `koanf:"max_payload_bytes" json:"max_payload_bytes" yaml:"max_payload_bytes" validate:"gt=0"`
	ValidateNames   bool          `koanf:"validate_names" json:"validate_names" yaml:"validate_names"`
	UserAgent       string        `koanf:"user_agent" json:"user_agent" yaml:"user_agent" validate:"required"`
	Retry           RetryConfig   `koanf:"retry" json:"retry" yaml:"retry"`
}

// RetryConfig configures fetch retries.
type RetryConfig struct {
	Attempts  int           `koanf:"attempts" json:"attempts" yaml:"attempts" validate:"min=1,max=10"`
	BaseDelay time.Duration `koanf:"base_delay" json:"base_delay" yaml:"base_delay" validate:"gt=0"`
}

// SandboxConfig configures evaluation limits and capability grants.
type SandboxConfig struct {
	Timeout         time.Duration `koanf:"timeout" json:"timeout" yaml:"timeout" validate:"gt=0"`
	CallStackSize   int           `koanf:"call_stack_size" json:"call_stack_size" yaml:"call_stack_size" validate:"min=16"`
	RegistrySize    int           `koanf:"registry_size" json:"registry_size" yaml:"registry_size" validate:"min=64"`
	RegistryMaxSize int           `koanf:"registry_max_size" json:"registry_max_size" yaml:"registry_max_size" validate:"gtefield=RegistrySize"`
	MaxStringBytes  int64         `koanf:"max_string_bytes" json:"max_string_bytes" yaml:"max_string_bytes" validate:"gt=0"`
	MaxNodes        int           `koanf:"max_nodes" json:"max_nodes" yaml:"max_nodes" validate:"gt=0"`
	MaxMarkupBytes  int           `koanf:"max_markup_bytes" json:"max_markup_bytes" yaml:"max_markup_bytes" validate:"gt=0"`
	MaxMemoryBytes  int64         `koanf:"max_memory_bytes" json:"max_memory_bytes" yaml:"max_memory_bytes" validate:"gt=0"`
	MaxDepth        int           `koanf:"max_depth" json:"max_depth" yaml:"max_depth" validate:"gt=0"`
	DefaultGrants   []string      `koanf:"default_grants" json:"default_grants" yaml:"default_grants" validate:"dive,required" jsonschema:"description=Capability patterns for plugins without explicit grants"`
	Grants          []GrantConfig `koanf:"grants" json:"grants" yaml:"grants" validate:"dive"`
}

// GrantConfig replaces the default grants of one plugin.
type GrantConfig struct {
	Plugin string   `koanf:"plugin" json:"plugin" yaml:"plugin" validate:"required,plugin_name"`
	Allow  []string `koanf:"allow" json:"allow" yaml:"allow" validate:"dive,required"`
}

// SiteConfig configures page chrome.
type SiteConfig struct {
	Title string `koanf:"title" json:"title" yaml:"title" validate:"required"`
}

// ListingConfig configures the plugin listing page.
type ListingConfig struct {
	Installed []string `koanf:"installed" json:"installed" yaml:"installed" validate:"dive,plugin_name"`
}

// RateLimitConfig configures per-client rate limiting.
type RateLimitConfig struct {
	Enabled bool          `koanf:"enabled" json:"enabled" yaml:"enabled"`
	Burst   int           `koanf:"burst" json:"burst" yaml:"burst" validate:"min=1"`
	Window  time.Duration `koanf:"window" json:"window" yaml:"window" validate:"gt=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	limits := sandbox.DefaultLimits()
	return &Config{
		Server: ServerConfig{
			Addr:              "127.0.0.1:3000",
			MetricsAddr:       "127.0.0.1:9100",
			LogFormat:         logging.FormatJSON,
			LogLevel:          "info",
			ReadHeaderTimeout: web.DefaultReadHeaderTimeout,
			ShutdownTimeout:   5 * time.Second,
		},
		Source: SourceConfig{
			BaseURL:         "http://localhost:3001",
			Timeout:         artifact.DefaultTimeout,
			MaxPayloadBytes: artifact.DefaultMaxPayloadBytes,
			ValidateNames:   true,
			UserAgent:       artifact.DefaultUserAgent,
			Retry: RetryConfig{
				Attempts:  artifact.DefaultRetryAttempts,
				BaseDelay: artifact.DefaultRetryBaseDelay,
			},
		},
		Sandbox: SandboxConfig{
			Timeout:         limits.Timeout,
			CallStackSize:   limits.CallStackSize,
			RegistrySize:    limits.RegistrySize,
			RegistryMaxSize: limits.RegistryMaxSize,
			MaxStringBytes:  limits.MaxStringBytes,
			MaxNodes:        limits.MaxNodes,
			MaxMarkupBytes:  limits.MaxMarkupBytes,
			MaxMemoryBytes:  limits.MaxMemoryBytes,
			MaxDepth:        limits.MaxDepth,
			DefaultGrants:   append([]string(nil), capability.DefaultGrants...),
			Grants:          []GrantConfig{},
		},
		Site: SiteConfig{
			Title: compose.DefaultSiteTitle,
		},
		Listing: ListingConfig{
			Installed: []string{"plugin1", "plugin2"},
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Burst:   web.DefaultBurst,
			Window:  web.DefaultWindow,
		},
	}
}

// validate is a package-level singleton; building a validator is expensive.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	// Port 0 is allowed so tests and ephemeral deployments can bind any port.
	_ = v.RegisterValidation("listen_addr", func(fl validator.FieldLevel) bool {
		_, _, err := net.SplitHostPort(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("plugin_name", func(fl validator.FieldLevel) bool {
		return artifact.ValidateName(fl.Field().String(), true) == nil
	})
	return v
}

// Validate checks field constraints and that every grant pattern compiles.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !asValidationErrors(err, &verrs) {
			return oops.In("config").Code(CodeInvalid).Wrapf(err, "config validation failed")
		}
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fieldPath(fe))
		}
		return oops.In("config").
			Code(CodeInvalid).
			With("fields", fields).
			Errorf("config validation failed: %s", describe(verrs))
	}

	if _, err := c.Enforcer(); err != nil {
		return oops.In("config").Code(CodeInvalid).Wrapf(err, "invalid capability grants")
	}
	return nil
}

// Limits maps the sandbox section to evaluation limits.
func (c *Config) Limits() sandbox.Limits {
	s := c.Sandbox
	return sandbox.Limits{
		Timeout:         s.Timeout,
		CallStackSize:   s.CallStackSize,
		RegistrySize:    s.RegistrySize,
		RegistryMaxSize: s.RegistryMaxSize,
		MaxStringBytes:  s.MaxStringBytes,
		MaxNodes:        s.MaxNodes,
		MaxMarkupBytes:  s.MaxMarkupBytes,
		MaxMemoryBytes:  s.MaxMemoryBytes,
		MaxDepth:        s.MaxDepth,
	}
}

// Enforcer builds a capability enforcer from the sandbox grants.
func (c *Config) Enforcer() (*capability.Enforcer, error) {
	enforcer, err := capability.NewEnforcer(c.Sandbox.DefaultGrants)
	if err != nil {
		return nil, err
	}
	for _, g := range c.Sandbox.Grants {
		if err := enforcer.SetGrants(g.Plugin, g.Allow); err != nil {
			return nil, err
		}
	}
	return enforcer, nil
}

// FetcherConfig maps the source section to an HTTP fetcher config.
func (c *Config) FetcherConfig() artifact.HTTPFetcherConfig {
	return artifact.HTTPFetcherConfig{
		BaseURL:         c.Source.BaseURL,
		Timeout:         c.Source.Timeout,
		MaxPayloadBytes: c.Source.MaxPayloadBytes,
		ValidateNames:   c.Source.ValidateNames,
		RetryAttempts:   c.Source.Retry.Attempts,
		RetryBaseDelay:  c.Source.Retry.BaseDelay,
		UserAgent:       c.Source.UserAgent,
	}
}

// WebConfig maps the server, site, listing and rate limit sections to a web
// server config.
func (c *Config) WebConfig() web.Config {
	return web.Config{
		Addr:              c.Server.Addr,
		ReadHeaderTimeout: c.Server.ReadHeaderTimeout,
		SiteTitle:         c.Site.Title,
		Installed:         append([]string(nil), c.Listing.Installed...),
		RateLimit: web.RateLimitConfig{
			Enabled: c.RateLimit.Enabled,
			Burst:   c.RateLimit.Burst,
			Window:  c.RateLimit.Window,
		},
	}
}

// YAML renders the configuration as a YAML document.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, oops.In("config").Wrapf(err, "failed to marshal config")
	}
	return data, nil
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors) //nolint:errorlint // validator returns the slice type directly
	if ok {
		*target = verrs
	}
	return ok
}

// fieldPath strips the root type from a namespace such as
// "Config.server.addr".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return ns
}

func describe(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fieldPath(fe) + " failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		parts = append(parts, msg)
	}
	return strings.Join(parts, "; ")
}
