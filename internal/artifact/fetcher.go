// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package artifact

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/webcrumbs/crumbhost/pkg/errutil"
)

var tracer = otel.Tracer("crumbhost/artifact")

// Fetcher retrieves both payloads of a named plugin.
type Fetcher interface {
	Fetch(ctx context.Context, name string) (*Artifact, error)
}

// Default values for HTTPFetcherConfig.
const (
	DefaultTimeout         = 10 * time.Second
	DefaultMaxPayloadBytes = 4 << 20
	DefaultRetryAttempts   = 3
	DefaultRetryBaseDelay  = 100 * time.Millisecond
	DefaultUserAgent       = "crumbhost"
)

// HTTPFetcherConfig configures an HTTPFetcher.
type HTTPFetcherConfig struct {
	// BaseURL is the plugin source origin, e.g. "http://localhost:3001".
	BaseURL string

	// Timeout bounds each payload request. Defaults to DefaultTimeout if zero.
	Timeout time.Duration

	// MaxPayloadBytes caps each payload body. Defaults to DefaultMaxPayloadBytes if zero.
	MaxPayloadBytes int64

	// ValidateNames enforces the strict plugin name pattern before fetching.
	ValidateNames bool

	// RetryAttempts is the total number of tries per payload for transport
	// errors and 502/503/504 answers. Values below 1 mean a single try.
	RetryAttempts int

	// RetryBaseDelay is the first backoff delay. Defaults to DefaultRetryBaseDelay if zero.
	RetryBaseDelay time.Duration

	// UserAgent is sent with every request. Defaults to DefaultUserAgent if empty.
	UserAgent string
}

// HTTPFetcher fetches plugin payloads from
// {BaseURL}/plugins/{name}/server and {BaseURL}/plugins/{name}/client.
type HTTPFetcher struct {
	cfg    HTTPFetcherConfig
	base   *url.URL
	client *http.Client
	now    func() time.Time
}

// FetcherOption configures an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithHTTPClient replaces the HTTP client. The client's own Timeout is left
// untouched; per-request deadlines still apply through the request context.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *HTTPFetcher) {
		f.client = c
	}
}

// WithClock overrides the clock used for Artifact.FetchedAt.
func WithClock(now func() time.Time) FetcherOption {
	return func(f *HTTPFetcher) {
		f.now = now
	}
}

// NewHTTPFetcher creates a fetcher for the plugin source at cfg.BaseURL.
func NewHTTPFetcher(cfg HTTPFetcherConfig, opts ...FetcherOption) (*HTTPFetcher, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, oops.In("artifact").With("base_url", cfg.BaseURL).Hint("invalid plugin source URL").Wrap(err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, oops.In("artifact").With("base_url", cfg.BaseURL).Errorf("plugin source URL must be http or https")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	f := &HTTPFetcher{
		cfg:    cfg,
		base:   base,
		client: &http.Client{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch retrieves the server and client payloads of name concurrently.
// Both must answer with a 2xx status for the artifact to be returned.
func (f *HTTPFetcher) Fetch(ctx context.Context, name string) (art *Artifact, err error) {
	if err := ValidateName(name, f.cfg.ValidateNames); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "artifact.fetch",
		trace.WithAttributes(attribute.String("plugin.name", name)),
	)
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = errutil.Code(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		recordFetch(result, time.Since(start))
		span.End()
	}()

	var server, client string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		body, err := f.fetchPayload(gctx, name, EnvServer)
		server = body
		return err
	})
	g.Go(func() error {
		body, err := f.fetchPayload(gctx, name, EnvClient)
		client = body
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Artifact{
		Name:       name,
		ServerCode: server,
		ClientCode: client,
		FetchedAt:  f.now(),
	}, nil
}

// payloadURL builds the source URL for one payload. The name is escaped so it
// always stays a single path segment.
func (f *HTTPFetcher) payloadURL(name string, env Env) string {
	return f.base.JoinPath("plugins", url.PathEscape(name), string(env)).String()
}

// fetchPayload performs one payload request with retries.
func (f *HTTPFetcher) fetchPayload(ctx context.Context, name string, env Env) (string, error) {
	target := f.payloadURL(name, env)

	backoff := retry.WithMaxRetries(uint64(f.cfg.RetryAttempts-1), retry.NewExponential(f.cfg.RetryBaseDelay))

	var body string
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		b, err := f.get(ctx, name, env, target)
		if err != nil {
			if isRetryable(err) && ctx.Err() == nil {
				return retry.RetryableError(err)
			}
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ErrCanceled(name, ctx.Err())
		}
		return "", err
	}
	return body, nil
}

// get issues a single GET with the per-request timeout.
func (f *HTTPFetcher) get(ctx context.Context, name string, env Env, target string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return "", ErrTransport(name, env, target, err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/plain, */*")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", ErrTransport(name, env, target, err)
	}
	defer func() {
		//nolint:errcheck // body already consumed or irrelevant
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", ErrUpstream(name, env, target, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxPayloadBytes+1))
	if err != nil {
		return "", ErrTransport(name, env, target, err)
	}
	if int64(len(data)) > f.cfg.MaxPayloadBytes {
		return "", ErrPayloadTooLarge(name, env, target, f.cfg.MaxPayloadBytes)
	}
	return string(data), nil
}

// isRetryable reports whether a failed request may succeed on a later try.
func isRetryable(err error) bool {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	switch oopsErr.Code() {
	case CodeTransport:
		return !errors.Is(err, context.Canceled)
	case CodeUpstream:
		status, _ := oopsErr.Context()["status"].(int)
		return status == http.StatusBadGateway ||
			status == http.StatusServiceUnavailable ||
			status == http.StatusGatewayTimeout
	default:
		return false
	}
}
