// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package lua

import (
	"fmt"
	"sort"
	"strconv"

	lua "github.com/yuin/gopher-lua"
)

// maxValueDepth bounds conversion of nested tables, which may be cyclic.
const maxValueDepth = 32

// luaTableToMap converts a Lua table to a Go map[string]any.
func luaTableToMap(tbl *lua.LTable, depth int) map[string]any {
	result := make(map[string]any)
	tbl.ForEach(func(k, v lua.LValue) {
		if gv, ok := luaValueToGo(v, depth+1); ok {
			result[k.String()] = gv
		}
	})
	return result
}

// luaTableToSlice converts the array part of a Lua table to a Go []any.
func luaTableToSlice(tbl *lua.LTable, depth int) []any {
	n := tbl.MaxN()
	result := make([]any, 0, n)
	for i := 1; i <= n; i++ {
		gv, _ := luaValueToGo(tbl.RawGetInt(i), depth+1)
		result = append(result, gv)
	}
	return result
}

// luaValueToGo converts a Lua value to a Go value. Values without a Go form
// (functions, userdata, threads) report false.
func luaValueToGo(v lua.LValue, depth int) (any, bool) {
	switch val := v.(type) {
	case lua.LString:
		return string(val), true
	case lua.LNumber:
		return float64(val), true
	case lua.LBool:
		return bool(val), true
	case *lua.LNilType:
		return nil, true
	case *lua.LTable:
		if depth >= maxValueDepth {
			return nil, false
		}
		if isArray(val) {
			return luaTableToSlice(val, depth), true
		}
		return luaTableToMap(val, depth), true
	default:
		return nil, false
	}
}

// isArray reports whether a non-empty Lua table has only a sequence part.
func isArray(tbl *lua.LTable) bool {
	maxN := tbl.MaxN()
	if maxN == 0 {
		return false
	}
	count := 0
	tbl.ForEach(func(_, _ lua.LValue) {
		count++
	})
	return count == maxN
}

// goToLua converts a Go value to a Lua value.
func goToLua(L *lua.LState, v any, depth int) lua.LValue {
	if depth >= maxValueDepth {
		return lua.LNil
	}
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(val)
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case []string:
		t := L.CreateTable(len(val), 0)
		for _, s := range val {
			t.Append(lua.LString(s))
		}
		return t
	case []any:
		t := L.CreateTable(len(val), 0)
		for _, item := range val {
			t.Append(goToLua(L, item, depth+1))
		}
		return t
	case map[string]string:
		t := L.CreateTable(0, len(val))
		for _, k := range sortedKeys(val) {
			t.RawSetString(k, lua.LString(val[k]))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(val))
		for _, k := range sortedKeys(val) {
			t.RawSetString(k, goToLua(L, val[k], depth+1))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatNumber renders a Lua number the way it appears as text content.
func formatNumber(n lua.LNumber) string {
	return strconv.FormatFloat(float64(n), 'f', -1, 64)
}
