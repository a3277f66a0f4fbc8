// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package lua

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/webcrumbs/crumbhost/internal/sandbox"
	"github.com/webcrumbs/crumbhost/internal/sandbox/capability"
	"github.com/webcrumbs/crumbhost/pkg/errutil"
)

var tracer = otel.Tracer("crumbhost/sandbox")

// Compile-time interface checks.
var (
	_ sandbox.Executor   = (*Executor)(nil)
	_ sandbox.EntryPoint = (*entryPoint)(nil)
)

// Executor evaluates plugin server code in a fresh sandboxed Lua state per
// call.
type Executor struct {
	factory  *StateFactory
	enforcer *capability.Enforcer
	logger   *slog.Logger
	environ  func() []string
	version  string
}

// Option configures an Executor.
type Option func(*Executor)

// WithLimits sets the resource ceilings. Zero fields take their defaults.
func WithLimits(limits sandbox.Limits) Option {
	return func(e *Executor) {
		e.factory = NewStateFactory(limits)
	}
}

// WithLogger sets the logger receiving plugin console output.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithEnviron sets the environment source for process.env. Only keys the
// plugin is granted are exposed.
func WithEnviron(environ func() []string) Option {
	return func(e *Executor) {
		e.environ = environ
	}
}

// WithVersion sets the value of process.version.
func WithVersion(version string) Option {
	return func(e *Executor) {
		e.version = version
	}
}

// NewExecutor creates a Lua executor gated by enforcer.
// Panics if enforcer is nil.
func NewExecutor(enforcer *capability.Enforcer, opts ...Option) *Executor {
	if enforcer == nil {
		panic("lua.NewExecutor: enforcer cannot be nil")
	}
	e := &Executor{
		factory:  NewStateFactory(sandbox.DefaultLimits()),
		enforcer: enforcer,
		logger:   slog.Default(),
		environ:  os.Environ,
		version:  "dev",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute evaluates serverCode in a fresh state and returns its exported
// component. The export is looked up as exports.default, then
// module.exports.default, then module.exports itself, then the chunk's
// return value.
func (e *Executor) Execute(ctx context.Context, name, serverCode string) (_ sandbox.EntryPoint, err error) {
	ctx, span := tracer.Start(ctx, "sandbox.execute",
		trace.WithAttributes(attribute.String("plugin.name", name)),
	)
	start := time.Now()
	defer func() {
		finish(span, sandbox.PhaseExecute, start, err)
	}()

	L, err := e.factory.NewState(context.Background())
	if err != nil {
		return nil, oops.In("sandbox").With("plugin", name).Wrap(err)
	}

	limits := e.factory.Limits()
	b := newBudget(limits)
	ep := &entryPoint{
		name:      name,
		L:         L,
		timeout:   limits.Timeout,
		maxMemory: limits.MaxMemoryBytes,
		heap:      heapBytes,
		budget:    b,
		tree:      &tree{L: L, budget: b},
	}
	bnd := &bundle{
		plugin:   name,
		enforcer: e.enforcer,
		logger:   e.logger,
		environ:  e.environ(),
		version:  e.version,
		budget:   b,
		tree:     ep.tree,
	}
	bnd.install(L)

	err = ep.call(ctx, sandbox.PhaseExecute, func(L *lua.LState) error {
		fn, err := L.LoadString(serverCode)
		if err != nil {
			return err
		}
		L.Push(fn)
		if err := L.PCall(0, 1, nil); err != nil {
			return err
		}
		ret := L.Get(-1)
		L.Pop(1)

		component, err := extractComponent(L, ret)
		if err != nil {
			return err
		}
		ep.component = component
		return nil
	})
	if err != nil {
		_ = ep.Close()
		return nil, err
	}
	return ep, nil
}

// extractComponent finds the plugin's export and checks it is renderable.
func extractComponent(L *lua.LState, ret lua.LValue) (lua.LValue, error) {
	var candidates []lua.LValue
	if exports, ok := L.GetGlobal("exports").(*lua.LTable); ok {
		candidates = append(candidates, exports.RawGetString("default"))
	}
	if module, ok := L.GetGlobal("module").(*lua.LTable); ok {
		modExports := module.RawGetString("exports")
		if t, ok := modExports.(*lua.LTable); ok {
			candidates = append(candidates, t.RawGetString("default"))
		}
		if _, isFn := modExports.(*lua.LFunction); isFn || isComponent(L, modExports) {
			candidates = append(candidates, modExports)
		}
	}
	if t, ok := ret.(*lua.LTable); ok && !isComponent(L, t) {
		candidates = append(candidates, t.RawGetString("default"))
	} else {
		candidates = append(candidates, ret)
	}

	found := lua.LValue(lua.LNil)
	for _, c := range candidates {
		if c != lua.LNil {
			found = c
			break
		}
	}
	if isComponent(L, found) {
		return found, nil
	}

	reason := "default export is not a component"
	if found == lua.LNil {
		reason = "no default export"
	}
	return nil, oops.In("sandbox").
		Code(sandbox.CodeContractViolation).
		With("export_type", found.Type().String()).
		New(reason)
}

// entryPoint is a plugin component bound to its Lua state. Calls are
// serialized; each runs on its own goroutine under the timeout.
type entryPoint struct {
	name      string
	L         *lua.LState
	component lua.LValue
	timeout   time.Duration
	maxMemory int64
	heap      func() uint64
	budget    *budget
	tree      *tree

	mu sync.Mutex
	// inflight is closed when an abandoned call's goroutine exits.
	inflight  chan struct{}
	abandoned bool
	closed    bool
}

// Render invokes the component with props and returns the serialized markup.
func (ep *entryPoint) Render(ctx context.Context, props sandbox.Props) (markup string, err error) {
	ctx, span := tracer.Start(ctx, "sandbox.render",
		trace.WithAttributes(attribute.String("plugin.name", ep.name)),
	)
	start := time.Now()
	defer func() {
		finish(span, sandbox.PhaseRender, start, err)
	}()

	var out string
	err = ep.call(ctx, sandbox.PhaseRender, func(L *lua.LState) error {
		ret, err := invoke(L, ep.component, goToLua(L, map[string]any(props), 0))
		if err != nil {
			return err
		}
		out, err = ep.tree.markup(ret)
		return err
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// Close releases the state. If a timed-out call is still unwinding, the
// state is released once it exits.
func (ep *entryPoint) Close() error {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if ep.closed {
		return nil
	}
	ep.closed = true

	if ep.inflight != nil {
		L, done := ep.L, ep.inflight
		go func() {
			<-done
			L.Close()
		}()
		return nil
	}
	ep.L.Close()
	return nil
}

// call runs fn on a dedicated goroutine bounded by the timeout, the memory
// ceiling and ctx. The caller never waits past the deadline; an abandoned
// call leaves the entry point unusable.
func (ep *entryPoint) call(ctx context.Context, phase string, fn func(L *lua.LState) error) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if ep.closed || ep.abandoned {
		return sandbox.ErrClosed(ep.name)
	}
	if err := ctx.Err(); err != nil {
		return sandbox.ErrCanceled(ep.name, phase, err)
	}

	tctx, cancel := context.WithTimeout(ctx, ep.timeout)
	defer cancel()
	rctx, stop := context.WithCancelCause(tctx)
	defer stop(nil)

	go watchMemory(rctx, stop, ep.maxMemory, ep.heap(), ep.heap)

	done := make(chan error, 1)
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ep.L.SetContext(rctx)
		err := fn(ep.L)
		ep.L.RemoveContext()
		done <- err
	}()

	select {
	case err := <-done:
		return ep.classify(ctx, rctx, phase, err)
	case <-rctx.Done():
		ep.abandoned = true
		ep.inflight = exited
		return ep.classify(ctx, rctx, phase, rctx.Err())
	}
}

// classify maps a failed call to the sandbox error taxonomy.
func (ep *entryPoint) classify(ctx, rctx context.Context, phase string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return sandbox.ErrCanceled(ep.name, phase, ctx.Err())
	}
	if errors.Is(context.Cause(rctx), errMemoryExceeded) {
		return sandbox.ErrResourceExceeded(ep.name, phase, sandbox.LimitMemory)
	}
	if errors.Is(rctx.Err(), context.DeadlineExceeded) {
		return sandbox.ErrResourceExceeded(ep.name, phase, sandbox.LimitTimeout)
	}
	if limit, ok := breachFrom(err); ok {
		return sandbox.ErrResourceExceeded(ep.name, phase, limit)
	}

	msg := err.Error()
	if strings.Contains(msg, "stack overflow") || strings.Contains(msg, "registry overflow") {
		return sandbox.ErrResourceExceeded(ep.name, phase, sandbox.LimitStack)
	}
	if errutil.Code(err) != "" {
		return oops.In("sandbox").With("plugin", ep.name).With("phase", phase).Wrap(err)
	}
	return sandbox.ErrEvaluation(ep.name, phase, err)
}

// finish ends span and records the call outcome.
func finish(span trace.Span, phase string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = errutil.Code(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	sandbox.RecordCall(phase, result, time.Since(start))
	span.End()
}
