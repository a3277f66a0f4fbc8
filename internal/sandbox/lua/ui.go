// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package lua

import (
	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/webcrumbs/crumbhost/internal/render"
	"github.com/webcrumbs/crumbhost/internal/sandbox"
)

const elementTypeName = "crumbhost.element"

// element is the value created by ui.h. Its type is a tag name, a component
// (function or renderable table), or nil for a fragment. Component elements
// are expanded when the tree is converted.
type element struct {
	typ      lua.LValue
	props    *lua.LTable
	children []lua.LValue
}

// tree converts Lua values produced by plugin code into render nodes,
// invoking nested components on the way. It runs on the state's goroutine.
type tree struct {
	L      *lua.LState
	budget *budget
}

// registerElementType installs the metatable for element userdata.
func registerElementType(L *lua.LState) {
	mt := L.NewTypeMetatable(elementTypeName)
	L.SetField(mt, "__index", L.NewFunction(elementIndex))
	L.SetField(mt, "__tostring", L.NewFunction(elementToString))
	L.SetField(mt, "__metatable", lua.LString("locked"))
}

func newElementValue(L *lua.LState, el *element) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = el
	L.SetMetatable(ud, L.GetTypeMetatable(elementTypeName))
	return ud
}

func checkElement(v lua.LValue) (*element, bool) {
	ud, ok := v.(*lua.LUserData)
	if !ok {
		return nil, false
	}
	el, ok := ud.Value.(*element)
	return el, ok
}

// elementIndex exposes read-only "type" and "props" fields.
func elementIndex(L *lua.LState) int {
	el, ok := checkElement(L.CheckUserData(1))
	if !ok {
		L.ArgError(1, "element expected")
		return 0
	}
	switch L.CheckString(2) {
	case "type":
		L.Push(el.typ)
	case "props":
		if el.props == nil {
			L.Push(lua.LNil)
		} else {
			L.Push(el.props)
		}
	default:
		L.Push(lua.LNil)
	}
	return 1
}

func elementToString(L *lua.LState) int {
	el, ok := checkElement(L.CheckUserData(1))
	if !ok {
		L.Push(lua.LString("element"))
		return 1
	}
	if s, isTag := el.typ.(lua.LString); isTag {
		L.Push(lua.LString("element<" + string(s) + ">"))
		return 1
	}
	L.Push(lua.LString("element<" + el.typ.Type().String() + ">"))
	return 1
}

// isComponent reports whether v can be rendered: a function, or a table
// (possibly through its metatable) with a render function.
func isComponent(L *lua.LState, v lua.LValue) bool {
	switch c := v.(type) {
	case *lua.LFunction:
		return true
	case *lua.LTable:
		_, ok := L.GetField(c, "render").(*lua.LFunction)
		return ok
	default:
		return false
	}
}

// invoke calls a component with props and returns its single result.
func invoke(L *lua.LState, component lua.LValue, props lua.LValue) (lua.LValue, error) {
	p := lua.P{NRet: 1, Protect: true}
	args := []lua.LValue{props}

	switch c := component.(type) {
	case *lua.LFunction:
		p.Fn = c
	case *lua.LTable:
		fn, ok := L.GetField(c, "render").(*lua.LFunction)
		if !ok {
			return nil, contractError("component table has no render function", component)
		}
		p.Fn = fn
		args = []lua.LValue{c, props}
	default:
		return nil, contractError("value is not a component", component)
	}

	if err := L.CallByParam(p, args...); err != nil {
		return nil, err
	}
	ret := L.Get(-1)
	L.Pop(1)
	return ret, nil
}

func contractError(reason string, v lua.LValue) error {
	return oops.In("sandbox").
		Code(sandbox.CodeContractViolation).
		With("value_type", v.Type().String()).
		New(reason)
}

// toNode converts a Lua value into a render node.
func (t *tree) toNode(v lua.LValue, depth int) (render.Node, error) {
	if err := t.budget.checkDepth(depth); err != nil {
		return nil, err
	}

	switch val := v.(type) {
	case *lua.LNilType, lua.LBool:
		return nil, nil
	case lua.LString:
		return render.Text(val), nil
	case lua.LNumber:
		return render.Text(formatNumber(val)), nil
	case *lua.LUserData:
		el, ok := checkElement(val)
		if !ok {
			return nil, contractError("userdata is not an element", v)
		}
		return t.elementNode(el, depth)
	case *lua.LTable:
		if isComponent(t.L, val) {
			ret, err := invoke(t.L, val, t.L.NewTable())
			if err != nil {
				return nil, err
			}
			return t.toNode(ret, depth+1)
		}
		return t.fragment(tableItems(val), depth)
	default:
		return nil, contractError("value cannot be rendered", v)
	}
}

func (t *tree) fragment(items []lua.LValue, depth int) (render.Node, error) {
	frag := make(render.Fragment, 0, len(items))
	for _, item := range items {
		n, err := t.toNode(item, depth+1)
		if err != nil {
			return nil, err
		}
		if n != nil {
			frag = append(frag, n)
		}
	}
	return frag, nil
}

func (t *tree) elementNode(el *element, depth int) (render.Node, error) {
	switch typ := el.typ.(type) {
	case *lua.LNilType:
		return t.fragment(el.children, depth)
	case lua.LString:
		out := render.NewElement(string(typ), t.props(el.props))
		for _, c := range el.children {
			n, err := t.toNode(c, depth+1)
			if err != nil {
				return nil, err
			}
			if n != nil {
				out.Children = append(out.Children, n)
			}
		}
		return out, nil
	default:
		ret, err := invoke(t.L, typ, t.componentProps(el))
		if err != nil {
			return nil, err
		}
		return t.toNode(ret, depth+1)
	}
}

// props converts an element's props table for serialization.
func (t *tree) props(tbl *lua.LTable) map[string]any {
	if tbl == nil {
		return nil
	}
	return luaTableToMap(tbl, 0)
}

// componentProps copies el's props and sets children for a component call.
func (t *tree) componentProps(el *element) *lua.LTable {
	props := t.L.NewTable()
	if el.props != nil {
		el.props.ForEach(func(k, v lua.LValue) {
			props.RawSet(k, v)
		})
	}
	switch len(el.children) {
	case 0:
	case 1:
		props.RawSetString("children", el.children[0])
	default:
		children := t.L.CreateTable(len(el.children), 0)
		for _, c := range el.children {
			children.Append(c)
		}
		props.RawSetString("children", children)
	}
	return props
}

// tableItems returns the array part of tbl.
func tableItems(tbl *lua.LTable) []lua.LValue {
	n := tbl.MaxN()
	items := make([]lua.LValue, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, tbl.RawGetInt(i))
	}
	return items
}

// renderValue converts v (an element, component or child value) to markup.
// A component is invoked with props first.
func (t *tree) renderValue(v lua.LValue, props lua.LValue) (string, error) {
	if isComponent(t.L, v) {
		if props == lua.LNil {
			props = t.L.NewTable()
		}
		ret, err := invoke(t.L, v, props)
		if err != nil {
			return "", err
		}
		v = ret
	}
	return t.markup(v)
}

// markup converts a component result to a node tree and serializes it.
func (t *tree) markup(v lua.LValue) (string, error) {
	node, err := t.toNode(v, 0)
	if err != nil {
		return "", err
	}
	out, err := render.ToString(node, render.Limits{
		MaxNodes:       t.budget.limits.MaxNodes,
		MaxMarkupBytes: t.budget.limits.MaxMarkupBytes,
		MaxDepth:       t.budget.limits.MaxDepth,
	})
	if err != nil {
		return "", err
	}
	return out, nil
}
