// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package lua

import (
	"context"
	"log/slog"
	"runtime"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/webcrumbs/crumbhost/internal/sandbox/capability"
)

// Host modules resolvable through require.
const (
	moduleUI       = "ui"
	moduleUIServer = "ui.server"
)

// consoleLevels maps console methods to log levels.
var consoleLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"log":   slog.LevelInfo,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// bundle is the set of host bindings installed into one plugin state.
type bundle struct {
	plugin   string
	enforcer *capability.Enforcer
	logger   *slog.Logger
	environ  []string
	version  string
	budget   *budget
	tree     *tree

	modules map[string]*lua.LTable
}

// install sets the plugin-visible globals on L.
func (b *bundle) install(L *lua.LState) {
	registerElementType(L)
	registerBreachType(L)
	b.installStringBudget(L)

	exports := L.NewTable()
	module := L.NewTable()
	L.SetField(module, "exports", exports)
	L.SetGlobal("exports", exports)
	L.SetGlobal("module", module)

	ui := b.uiModule(L)
	server := L.NewTable()
	L.SetField(server, "render_to_string", L.GetField(ui, "render_to_string"))
	L.SetField(server, "renderToString", L.GetField(ui, "render_to_string"))
	b.modules = map[string]*lua.LTable{
		moduleUI:       ui,
		moduleUIServer: server,
	}
	L.SetGlobal("ui", ui)
	L.SetGlobal("require", L.NewFunction(b.require))

	console := b.consoleModule(L)
	L.SetGlobal("console", console)
	L.SetGlobal("print", L.GetField(console, "log"))

	L.SetGlobal("process", b.processModule(L))
}

// wrap denies fn unless the plugin holds capName.
func (b *bundle) wrap(capName string, fn lua.LGFunction) lua.LGFunction {
	return func(L *lua.LState) int {
		if !b.enforcer.Check(b.plugin, capName) {
			L.RaiseError("capability denied: %s requires %s", b.plugin, capName)
			return 0
		}
		return fn(L)
	}
}

// require resolves host modules only.
func (b *bundle) require(L *lua.LState) int {
	name := L.CheckString(1)
	capName := capability.RequirePrefix + name
	if !b.enforcer.Check(b.plugin, capName) {
		L.RaiseError("capability denied: %s requires %s", b.plugin, capName)
		return 0
	}
	mod, ok := b.modules[name]
	if !ok {
		L.RaiseError("module %q not found", name)
		return 0
	}
	L.Push(mod)
	return 1
}

func (b *bundle) consoleModule(L *lua.LState) *lua.LTable {
	mod := L.NewTable()
	for method, level := range consoleLevels {
		L.SetField(mod, method, L.NewFunction(b.wrap(capability.ConsolePrefix+method, b.logFn(level))))
	}
	return mod
}

func (b *bundle) logFn(level slog.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}

		ctx := L.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		b.logger.Log(ctx, level, strings.Join(parts, " "),
			"plugin", b.plugin,
			"source", "console")
		return 0
	}
}

// processModule builds the process table. env holds only granted keys and
// is read-only.
func (b *bundle) processModule(L *lua.LState) *lua.LTable {
	process := L.NewTable()

	values := L.NewTable()
	for _, kv := range b.environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		if b.enforcer.Check(b.plugin, capability.EnvPrefix+key) {
			values.RawSetString(key, lua.LString(value))
		}
	}
	env := L.NewTable()
	mt := L.NewTable()
	L.SetField(mt, "__index", values)
	L.SetField(mt, "__newindex", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("process.env is read-only")
		return 0
	}))
	L.SetField(mt, "__metatable", lua.LString("locked"))
	L.SetMetatable(env, mt)
	L.SetField(process, "env", env)

	if b.enforcer.Check(b.plugin, capability.ProcessInfo) {
		L.SetField(process, "platform", lua.LString(runtime.GOOS))
		L.SetField(process, "version", lua.LString(b.version))
	}
	return process
}

func (b *bundle) uiModule(L *lua.LState) *lua.LTable {
	mod := L.NewTable()
	h := L.NewFunction(b.wrap(capability.UIElement, b.createElement))
	L.SetField(mod, "h", h)
	L.SetField(mod, "element", h)
	L.SetField(mod, "createElement", h)
	L.SetField(mod, "fragment", L.NewFunction(b.wrap(capability.UIElement, b.createFragment)))
	L.SetField(mod, "text", L.NewFunction(uiText))
	L.SetField(mod, "render_to_string", L.NewFunction(b.wrap(capability.UIRender, b.renderToString)))
	return mod
}

// createElement implements ui.h(type, props, ...children).
func (b *bundle) createElement(L *lua.LState) int {
	typ := L.Get(1)
	switch typ.(type) {
	case lua.LString:
	case *lua.LFunction, *lua.LTable:
		if !isComponent(L, typ) {
			L.ArgError(1, "table component must have a render function")
			return 0
		}
	default:
		L.ArgError(1, "element type must be a tag name or component")
		return 0
	}

	var props *lua.LTable
	switch p := L.Get(2).(type) {
	case *lua.LNilType:
	case *lua.LTable:
		props = p
	default:
		L.ArgError(2, "props must be a table or nil")
		return 0
	}

	if err := b.budget.chargeNodes(1); err != nil {
		return raise(L, err)
	}
	L.Push(newElementValue(L, &element{typ: typ, props: props, children: args(L, 3)}))
	return 1
}

// createFragment implements ui.fragment(...children).
func (b *bundle) createFragment(L *lua.LState) int {
	if err := b.budget.chargeNodes(1); err != nil {
		return raise(L, err)
	}
	L.Push(newElementValue(L, &element{typ: lua.LNil, children: args(L, 1)}))
	return 1
}

// uiText implements ui.text(value), coercing a value to its text form.
func uiText(L *lua.LState) int {
	L.Push(L.ToStringMeta(L.Get(1)))
	return 1
}

// renderToString implements ui.render_to_string(value, props).
func (b *bundle) renderToString(L *lua.LState) int {
	markup, err := b.tree.renderValue(L.Get(1), L.Get(2))
	if err != nil {
		return raise(L, err)
	}
	L.Push(lua.LString(markup))
	return 1
}

// installStringBudget charges host-built strings against the string budget.
// string.rep and table.concat are checked before they allocate; string.format
// and string.gsub are charged for what they produce. Plain concatenation is
// bounded by the memory watchdog.
func (b *bundle) installStringBudget(L *lua.LState) {
	if strTbl, ok := L.GetGlobal("string").(*lua.LTable); ok {
		L.SetField(strTbl, "rep", L.NewFunction(b.stringRep))
		for _, name := range []string{"format", "gsub"} {
			if orig, ok := L.GetField(strTbl, name).(*lua.LFunction); ok && orig.IsG {
				L.SetField(strTbl, name, L.NewFunction(b.chargeResult(orig.GFunction)))
			}
		}
	}
	if tblTbl, ok := L.GetGlobal("table").(*lua.LTable); ok {
		if orig, ok := L.GetField(tblTbl, "concat").(*lua.LFunction); ok && orig.IsG {
			L.SetField(tblTbl, "concat", L.NewFunction(b.tableConcat(orig.GFunction)))
		}
	}
}

// stringRep implements string.rep(s, n) within the string budget.
func (b *bundle) stringRep(L *lua.LState) int {
	s := L.CheckString(1)
	n := L.CheckInt(2)
	if n <= 0 || s == "" {
		L.Push(lua.LString(""))
		return 1
	}
	size := int64(len(s)) * int64(n)
	if int64(n) > b.budget.limits.MaxStringBytes {
		size = -1
	}
	if err := b.budget.chargeString(size); err != nil {
		return raise(L, err)
	}
	L.Push(lua.LString(strings.Repeat(s, n)))
	return 1
}

// chargeResult wraps a string builtin so its first result is charged
// against the string budget.
func (b *bundle) chargeResult(fn lua.LGFunction) lua.LGFunction {
	return func(L *lua.LState) int {
		n := fn(L)
		if n > 0 {
			if s, ok := L.Get(-n).(lua.LString); ok {
				if err := b.budget.chargeString(int64(len(s))); err != nil {
					return raise(L, err)
				}
			}
		}
		return n
	}
}

// tableConcat wraps table.concat(t, sep, i, j) so the result size is charged
// before the string is built.
func (b *bundle) tableConcat(fn lua.LGFunction) lua.LGFunction {
	return func(L *lua.LState) int {
		tbl := L.CheckTable(1)
		sep := int64(len(L.OptString(2, "")))
		n := tbl.Len()
		i := max(min(L.OptInt(3, 1), n), 1)
		j := min(L.OptInt(4, n), n)

		var size int64
		for k := i; k <= j; k++ {
			if v := tbl.RawGetInt(k); lua.LVCanConvToString(v) {
				size += int64(len(lua.LVAsString(v)))
			}
			if k != j {
				size += sep
			}
		}
		if err := b.budget.chargeString(size); err != nil {
			return raise(L, err)
		}
		return fn(L)
	}
}

// args collects the arguments of the running Go function from index from.
func args(L *lua.LState, from int) []lua.LValue {
	top := L.GetTop()
	if top < from {
		return nil
	}
	out := make([]lua.LValue, 0, top-from+1)
	for i := from; i <= top; i++ {
		out = append(out, L.Get(i))
	}
	return out
}
