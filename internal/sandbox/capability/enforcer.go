// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

// Package capability decides which host capabilities a plugin's server code
// may reach.
//
// Pattern matching uses gobwas/glob with '.' as the segment separator:
//   - '*' matches a single segment (does not cross '.')
//   - '**' matches zero or more segments (crosses '.')
//
// Examples:
//   - "console.*" matches "console.log" and "console.warn"
//   - "module.require.**" matches "module.require.ui" AND "module.require.ui.server"
//   - "process.env.API_*" matches "process.env.API_KEY"
package capability

import (
	"sort"
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Capability names checked by the sandbox bundle.
const (
	ConsolePrefix = "console."
	RequirePrefix = "module.require."
	EnvPrefix     = "process.env."
	ProcessInfo   = "process.info"
	UIElement     = "ui.element"
	UIRender      = "ui.render"
)

// DefaultGrants are applied to every plugin without an explicit grant list.
var DefaultGrants = []string{"console.*", "ui.*", "module.require.**", "process.info"}

// compiledGrant holds a pattern and its compiled glob for efficient matching.
type compiledGrant struct {
	pattern string
	glob    glob.Glob
}

// Enforcer checks plugin capabilities at runtime. Plugins without explicit
// grants fall back to the enforcer's default grants.
//
// Enforcer is safe for concurrent use.
type Enforcer struct {
	mu       sync.RWMutex
	defaults []compiledGrant
	grants   map[string][]compiledGrant // plugin name -> compiled grants
}

// NewEnforcer creates an enforcer whose fallback grants are defaults.
// A nil defaults slice denies everything to unregistered plugins.
func NewEnforcer(defaults []string) (*Enforcer, error) {
	compiled, err := compile(defaults)
	if err != nil {
		return nil, oops.In("capability").With("grants", "default").Wrap(err)
	}
	return &Enforcer{
		defaults: compiled,
		grants:   make(map[string][]compiledGrant),
	}, nil
}

// compile validates and compiles capability patterns.
func compile(patterns []string) ([]compiledGrant, error) {
	compiled := make([]compiledGrant, len(patterns))
	for i, pattern := range patterns {
		if pattern == "" {
			return nil, oops.In("capability").With("index", i).New("empty capability pattern")
		}
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return nil, oops.In("capability").With("index", i).With("pattern", pattern).Wrap(err)
		}
		compiled[i] = compiledGrant{pattern: pattern, glob: g}
	}
	return compiled, nil
}

// SetGrants replaces the capabilities of a plugin. The call is all-or-nothing:
// if any pattern is invalid, no changes are made.
func (e *Enforcer) SetGrants(plugin string, capabilities []string) error {
	if plugin == "" {
		return oops.In("capability").New("plugin name cannot be empty")
	}

	compiled, err := compile(capabilities)
	if err != nil {
		return oops.In("capability").With("plugin", plugin).Wrap(err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.grants == nil {
		e.grants = make(map[string][]compiledGrant)
	}
	e.grants[plugin] = compiled
	return nil
}

// RemoveGrants drops a plugin's explicit grants so it falls back to defaults.
func (e *Enforcer) RemoveGrants(plugin string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.grants, plugin)
}

// Grants returns the patterns that apply to plugin.
func (e *Enforcer) Grants(plugin string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	grants := e.effective(plugin)
	patterns := make([]string, len(grants))
	for i, g := range grants {
		patterns[i] = g.pattern
	}
	return patterns
}

// Plugins returns the names of plugins with explicit grants, sorted.
func (e *Enforcer) Plugins() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	plugins := make([]string, 0, len(e.grants))
	for name := range e.grants {
		plugins = append(plugins, name)
	}
	sort.Strings(plugins)
	return plugins
}

// Check reports whether plugin holds capability. Empty capabilities are
// always denied.
func (e *Enforcer) Check(plugin, capability string) bool {
	if capability == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, grant := range e.effective(plugin) {
		if grant.glob.Match(capability) {
			return true
		}
	}
	return false
}

// effective returns the grants that apply to plugin. Caller holds e.mu.
func (e *Enforcer) effective(plugin string) []compiledGrant {
	if grants, ok := e.grants[plugin]; ok {
		return grants
	}
	return e.defaults
}
