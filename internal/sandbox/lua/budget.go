// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package lua

import (
	"errors"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/webcrumbs/crumbhost/internal/sandbox"
)

// breachTypeName is the metatable name of the value raised on a breach.
const breachTypeName = "crumbhost.breach"

// breachSignal is the error value raised into Lua when a budget is exceeded.
// Only host code can create one, so a plugin error that merely mentions a
// limit stays an evaluation error.
type breachSignal struct {
	limit string
}

// budget tracks host-assisted resource use of one state across Execute and
// every Render. It is only touched from the goroutine running the state.
type budget struct {
	limits      sandbox.Limits
	nodes       int
	stringBytes int64
}

func newBudget(limits sandbox.Limits) *budget {
	return &budget{limits: limits}
}

// breach returns a coded error for limit.
func (b *budget) breach(limit string) error {
	return oops.In("sandbox").
		Code(sandbox.CodeResourceExceeded).
		With("limit", limit).
		Errorf("%s limit exceeded", limit)
}

// chargeNodes accounts for n created elements.
func (b *budget) chargeNodes(n int) error {
	b.nodes += n
	if b.nodes > b.limits.MaxNodes {
		return b.breach(sandbox.LimitNodes)
	}
	return nil
}

// chargeString accounts for n bytes of host-built string data.
func (b *budget) chargeString(n int64) error {
	if n < 0 || b.stringBytes+n > b.limits.MaxStringBytes {
		return b.breach(sandbox.LimitString)
	}
	b.stringBytes += n
	return nil
}

// checkDepth fails when depth is past the nesting limit.
func (b *budget) checkDepth(depth int) error {
	if depth > b.limits.MaxDepth {
		return b.breach(sandbox.LimitDepth)
	}
	return nil
}

// registerBreachType installs the metatable for breach values.
func registerBreachType(L *lua.LState) {
	mt := L.NewTypeMetatable(breachTypeName)
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		limit, _ := breachLimit(L.Get(1))
		L.Push(lua.LString(limit + " limit exceeded"))
		return 1
	}))
	L.SetField(mt, "__metatable", lua.LString("locked"))
}

// breachLimit returns the limit named by a raised breach value.
func breachLimit(v lua.LValue) (string, bool) {
	ud, ok := v.(*lua.LUserData)
	if !ok {
		return "", false
	}
	sig, ok := ud.Value.(*breachSignal)
	if !ok {
		return "", false
	}
	return sig.limit, true
}

// breachFrom returns the limit when err is a Lua error raised by a breach.
func breachFrom(err error) (string, bool) {
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) || apiErr.Object == nil {
		return "", false
	}
	return breachLimit(apiErr.Object)
}

// raise aborts the running Lua code with err. Resource breaches are raised
// as breach values, including ones propagating out of nested calls; other
// errors are raised with their message.
func raise(L *lua.LState, err error) int {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		if _, ok := breachLimit(apiErr.Object); ok {
			L.Error(apiErr.Object, 0)
			return 0
		}
	}
	if oopsErr, ok := oops.AsOops(err); ok && oopsErr.Code() == sandbox.CodeResourceExceeded {
		limit, _ := oopsErr.Context()["limit"].(string)
		ud := L.NewUserData()
		ud.Value = &breachSignal{limit: limit}
		L.SetMetatable(ud, L.GetTypeMetatable(breachTypeName))
		L.Error(ud, 0)
		return 0
	}
	L.RaiseError("%s", err.Error())
	return 0
}
