// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

// Package pipeline resolves, executes and composes a plugin into a page.
package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/webcrumbs/crumbhost/internal/artifact"
	"github.com/webcrumbs/crumbhost/internal/compose"
	"github.com/webcrumbs/crumbhost/internal/sandbox"
)

var tracer = otel.Tracer("crumbhost/pipeline")

// Resolver returns the artifact of a named plugin.
type Resolver interface {
	Resolve(ctx context.Context, name string) (*artifact.Artifact, error)
}

// Pipeline turns a plugin name into a rendered document.
type Pipeline struct {
	resolver Resolver
	executor sandbox.Executor
	composer *compose.Composer
}

// New creates a pipeline.
// Panics if any dependency is nil.
func New(resolver Resolver, executor sandbox.Executor, composer *compose.Composer) *Pipeline {
	if resolver == nil {
		panic("pipeline.New: resolver cannot be nil")
	}
	if executor == nil {
		panic("pipeline.New: executor cannot be nil")
	}
	if composer == nil {
		panic("pipeline.New: composer cannot be nil")
	}
	return &Pipeline{
		resolver: resolver,
		executor: executor,
		composer: composer,
	}
}

// Render resolves name, evaluates its server code in a fresh sandbox and
// composes the page. Any failure yields no document.
func (p *Pipeline) Render(ctx context.Context, name string) (doc *compose.Document, err error) {
	ctx, span := tracer.Start(ctx, "pipeline.render",
		trace.WithAttributes(attribute.String("plugin.name", name)),
	)
	start := time.Now()
	defer func() {
		kind := "ok"
		if err != nil {
			kind = Kind(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("result", kind))
		recordRender(kind, time.Since(start))
		span.End()
	}()

	art, err := p.resolver.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}

	ep, err := p.executor.Execute(ctx, name, art.ServerCode)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = ep.Close()
	}()

	return p.composer.Compose(ctx, name, ep, art.ClientCode)
}

// Payload returns the raw server or client payload of name.
func (p *Pipeline) Payload(ctx context.Context, name, env string) (string, error) {
	e, err := artifact.ParseEnv(env)
	if err != nil {
		return "", err
	}
	art, err := p.resolver.Resolve(ctx, name)
	if err != nil {
		return "", err
	}
	return art.Payload(e)
}
