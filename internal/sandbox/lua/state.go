// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

// Package lua runs plugin server code in sandboxed gopher-lua states.
package lua

import (
	"context"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/webcrumbs/crumbhost/internal/sandbox"
)

// safeLibrary represents a Lua library that is safe to load in sandboxed state.
type safeLibrary struct {
	name string
	fn   lua.LGFunction
}

// defaultSafeLibraries returns the list of libraries safe to load.
// Safe: base, table, string, math.
// Blocked: os, io, debug, package, coroutine, channel.
func defaultSafeLibraries() []safeLibrary {
	return []safeLibrary{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
}

// unsafeBaseFunctions lists base library functions removed from every state.
// The loaders reach the filesystem or compile arbitrary chunks; collectgarbage
// and _printregs touch the host process. require and module are replaced by
// host bindings.
var unsafeBaseFunctions = []string{
	"dofile", "loadfile", "loadstring", "load",
	"collectgarbage", "_printregs",
	"require", "module",
}

// StateFactory creates sandboxed Lua states with only safe libraries and the
// configured stack ceilings.
type StateFactory struct {
	limits    sandbox.Limits
	libraries []safeLibrary
}

// NewStateFactory creates a state factory for limits. Zero limits take
// their defaults.
func NewStateFactory(limits sandbox.Limits) *StateFactory {
	return &StateFactory{
		limits:    limits.WithDefaults(),
		libraries: defaultSafeLibraries(),
	}
}

// Limits returns the effective limits of the factory.
func (f *StateFactory) Limits() sandbox.Limits {
	return f.limits
}

// NewState creates a fresh Lua state with only safe libraries loaded.
// If ctx carries a deadline or can be canceled, it is attached to the state
// so evaluation aborts when ctx is done.
func (f *StateFactory) NewState(ctx context.Context) (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       f.limits.CallStackSize,
		RegistrySize:        f.limits.RegistrySize,
		RegistryMaxSize:     f.limits.RegistryMaxSize,
		MinimizeStackMemory: true,
	})

	for _, lib := range f.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, oops.In("lua").With("library", lib.name).Hint("failed to open library").Wrap(err)
		}
	}

	for _, fn := range unsafeBaseFunctions {
		L.SetGlobal(fn, lua.LNil)
	}

	if ctx != nil && ctx.Done() != nil {
		L.SetContext(ctx)
	}
	return L, nil
}
