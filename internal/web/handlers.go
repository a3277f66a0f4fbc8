// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package web

import (
	"bytes"
	"context"
	_ "embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/webcrumbs/crumbhost/internal/artifact"
	"github.com/webcrumbs/crumbhost/internal/compose"
	"github.com/webcrumbs/crumbhost/internal/pipeline"
	"github.com/webcrumbs/crumbhost/pkg/errutil"
)

// Response headers set on failures.
const (
	HeaderError     = "X-Crumbhost-Error"
	HeaderRequestID = "X-Request-Id"
)

// Renderer produces plugin pages and raw payloads.
type Renderer interface {
	Render(ctx context.Context, name string) (*compose.Document, error)
	Payload(ctx context.Context, name, env string) (string, error)
}

//go:embed listing.html.tmpl
var listingTemplate string

var listing = template.Must(template.New("listing").Parse(listingTemplate))

type handlers struct {
	renderer  Renderer
	logger    *slog.Logger
	siteTitle string
	installed []string
}

// routes registers the handlers on mux. Each route is wrapped with
// per-route metrics.
func (h *handlers) routes(mux *http.ServeMux) {
	mux.Handle("GET /{$}", instrument("listing", http.HandlerFunc(h.listing)))
	mux.Handle("GET /favicon.ico", instrument("favicon", http.HandlerFunc(h.favicon)))
	mux.Handle("GET /plugins/{name}/{env}", instrument("payload", http.HandlerFunc(h.payload)))
	mux.Handle("GET /{name}", instrument("plugin", http.HandlerFunc(h.plugin)))
}

// listing serves the page of installed plugins.
func (h *handlers) listing(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	err := listing.Execute(&buf, struct {
		SiteTitle string
		Installed []string
	}{
		SiteTitle: h.siteTitle,
		Installed: h.installed,
	})
	if err != nil {
		h.fail(w, r, "", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // client may disconnect
	w.Write(buf.Bytes())
}

// favicon answers with an empty body so browsers stop asking.
func (h *handlers) favicon(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// plugin renders the page of one plugin.
func (h *handlers) plugin(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	doc, err := h.renderer.Render(r.Context(), name)
	if err != nil {
		h.fail(w, r, name, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // client may disconnect
	doc.WriteTo(w)
}

// payload serves one raw plugin payload.
func (h *handlers) payload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	env := r.PathValue("env")
	if _, err := artifact.ParseEnv(env); err != nil {
		http.NotFound(w, r)
		return
	}

	body, err := h.renderer.Payload(r.Context(), name, env)
	if err != nil {
		h.fail(w, r, name, err)
		return
	}

	w.Header().Set("Content-Type", "application/javascript")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // client may disconnect
	w.Write([]byte(body))
}

// fail logs err with its full context and answers with the uniform failure
// response. Only the error code reaches the client.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, name string, err error) {
	kind := pipeline.Kind(err)
	errutil.LogError(h.logger, "plugin request failed", err,
		"request_id", RequestID(r.Context()),
		"plugin", name,
		"path", r.URL.Path,
		"kind", kind,
	)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set(HeaderError, kind)
	w.WriteHeader(http.StatusInternalServerError)
	//nolint:errcheck // client may disconnect
	w.Write([]byte(pipeline.PublicMessage))
}
