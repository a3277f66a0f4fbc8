// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

// Package compose assembles the HTML document served for a plugin page.
package compose

import (
	"bytes"
	"context"
	_ "embed"
	"io"
	"text/template"

	"github.com/samber/oops"

	"github.com/webcrumbs/crumbhost/internal/sandbox"
)

// DefaultSiteTitle is the banner shown above every plugin page.
const DefaultSiteTitle = "WebCrumbs"

//go:embed document.html.tmpl
var documentTemplate string

var document = template.Must(template.New("document").Parse(documentTemplate))

// Document is a fully rendered HTML page.
type Document struct {
	Name string
	body []byte
}

// Bytes returns the document content.
func (d *Document) Bytes() []byte {
	return d.body
}

// Len returns the document size in bytes.
func (d *Document) Len() int {
	return len(d.body)
}

// WriteTo writes the document to w.
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(d.body)
	return int64(n), err
}

// Composer renders a plugin's entry point into a complete page.
type Composer struct {
	siteTitle string
}

// Option configures a Composer.
type Option func(*Composer)

// WithSiteTitle sets the page banner. Empty keeps the default.
func WithSiteTitle(title string) Option {
	return func(c *Composer) {
		if title != "" {
			c.siteTitle = title
		}
	}
}

// NewComposer creates a composer.
func NewComposer(opts ...Option) *Composer {
	c := &Composer{siteTitle: DefaultSiteTitle}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compose renders ep with the server props and wraps the markup and the
// client script in the page skeleton. The markup and client code are
// inserted verbatim; the plugin name is escaped.
func (c *Composer) Compose(ctx context.Context, name string, ep sandbox.EntryPoint, clientCode string) (*Document, error) {
	markup, err := ep.Render(ctx, sandbox.Props{"env": "server"})
	if err != nil {
		return nil, err
	}
	return c.Assemble(name, markup, clientCode)
}

// Assemble builds the document from already rendered markup.
func (c *Composer) Assemble(name, markup, clientCode string) (*Document, error) {
	var buf bytes.Buffer
	err := document.Execute(&buf, struct {
		Name       string
		SiteTitle  string
		Markup     string
		ClientCode string
	}{
		Name:       name,
		SiteTitle:  c.siteTitle,
		Markup:     markup,
		ClientCode: clientCode,
	})
	if err != nil {
		return nil, oops.In("compose").With("plugin", name).Hint("failed to execute document template").Wrap(err)
	}
	return &Document{Name: name, body: buf.Bytes()}, nil
}
