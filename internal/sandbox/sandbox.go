// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

// Package sandbox defines the isolation boundary between the host and a
// plugin's untrusted server code.
//
// An Executor evaluates server code in a fresh, isolated context and hands
// back the plugin's EntryPoint. The EntryPoint renders markup through the
// rendering capability and must be closed when the request is done. The
// isolation mechanism lives behind these interfaces so call sites do not
// change when it does.
package sandbox

import (
	"context"
	"time"
)

// Props is the props record handed to a plugin component.
type Props map[string]any

// Executor evaluates untrusted server code and extracts its entry point.
type Executor interface {
	// Execute evaluates serverCode for the plugin name in a fresh isolated
	// context and returns the exported component. The returned EntryPoint
	// owns that context and must be closed by the caller.
	Execute(ctx context.Context, name, serverCode string) (EntryPoint, error)
}

// EntryPoint is a plugin's render-capable export bound to its isolated context.
type EntryPoint interface {
	// Render invokes the component with props and serializes the result to markup.
	Render(ctx context.Context, props Props) (string, error)

	// Close releases the isolated context. It is safe to call more than once.
	Close() error
}

// Default resource ceilings.
const (
	DefaultTimeout         = 2 * time.Second
	DefaultCallStackSize   = 256
	DefaultRegistrySize    = 5 * 1024
	DefaultRegistryMaxSize = 64 * 1024
	DefaultMaxStringBytes  = 4 << 20
	DefaultMaxNodes        = 50_000
	DefaultMaxMarkupBytes  = 4 << 20
	DefaultMaxDepth        = 256
	DefaultMaxMemoryBytes  = 256 << 20
)

// Limits are the resource ceilings applied to one evaluation.
type Limits struct {
	// Timeout bounds the wall-clock time of Execute and of each Render.
	Timeout time.Duration

	// CallStackSize is the maximum call depth of the evaluation.
	CallStackSize int

	// RegistrySize and RegistryMaxSize bound the value stack of the evaluation.
	RegistrySize    int
	RegistryMaxSize int

	// MaxStringBytes bounds host-assisted string growth (e.g. string.rep).
	MaxStringBytes int64

	// MaxNodes bounds the number of elements created and serialized.
	MaxNodes int

	// MaxMarkupBytes bounds the size of the serialized markup.
	MaxMarkupBytes int

	// MaxDepth bounds component and element nesting.
	MaxDepth int

	// MaxMemoryBytes bounds heap growth while a call runs. The heap is
	// shared by the process, so the ceiling is approximate.
	MaxMemoryBytes int64
}

// DefaultLimits returns the default resource ceilings.
func DefaultLimits() Limits {
	return Limits{
		Timeout:         DefaultTimeout,
		CallStackSize:   DefaultCallStackSize,
		RegistrySize:    DefaultRegistrySize,
		RegistryMaxSize: DefaultRegistryMaxSize,
		MaxStringBytes:  DefaultMaxStringBytes,
		MaxNodes:        DefaultMaxNodes,
		MaxMarkupBytes:  DefaultMaxMarkupBytes,
		MaxDepth:        DefaultMaxDepth,
		MaxMemoryBytes:  DefaultMaxMemoryBytes,
	}
}

// WithDefaults fills zero fields of l from DefaultLimits.
func (l Limits) WithDefaults() Limits {
	d := DefaultLimits()
	if l.Timeout <= 0 {
		l.Timeout = d.Timeout
	}
	if l.CallStackSize <= 0 {
		l.CallStackSize = d.CallStackSize
	}
	if l.RegistrySize <= 0 {
		l.RegistrySize = d.RegistrySize
	}
	if l.RegistryMaxSize <= 0 {
		l.RegistryMaxSize = d.RegistryMaxSize
	}
	if l.RegistryMaxSize < l.RegistrySize {
		l.RegistryMaxSize = l.RegistrySize
	}
	if l.MaxStringBytes <= 0 {
		l.MaxStringBytes = d.MaxStringBytes
	}
	if l.MaxNodes <= 0 {
		l.MaxNodes = d.MaxNodes
	}
	if l.MaxMarkupBytes <= 0 {
		l.MaxMarkupBytes = d.MaxMarkupBytes
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = d.MaxDepth
	}
	if l.MaxMemoryBytes <= 0 {
		l.MaxMemoryBytes = d.MaxMemoryBytes
	}
	return l
}
