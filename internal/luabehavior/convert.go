// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

package luabehavior

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"

	lua "github.com/yuin/gopher-lua"

	"github.com/flipkit/flipkit/pkg/plugin"
)

// toLua converts a Go value passed to a behavior into a Lua value.
func toLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return x
	case bool:
		return lua.LBool(x)
	case string:
		return lua.LString(x)
	case plugin.Record:
		return mapTable(L, x)
	case map[string]any:
		return mapTable(L, x)
	case []any:
		return sliceTable(L, x)
	case []plugin.Notification:
		t := L.NewTable()
		for _, n := range x {
			t.Append(notificationTable(L, n))
		}
		return t
	case plugin.Device:
		t := L.NewTable()
		L.SetField(t, "id", lua.LString(x.ID()))
		L.SetField(t, "os", lua.LString(x.OS()))
		L.SetField(t, "title", lua.LString(x.Title()))
		L.SetField(t, "archived", lua.LBool(x.IsArchived()))
		return t
	case plugin.CallFunc:
		if x == nil {
			return lua.LNil
		}
		return L.NewFunction(func(L *lua.LState) int {
			method := L.CheckString(1)
			res, err := x(L.Context(), method, fromLua(L.Get(2)))
			if err != nil {
				L.RaiseError("call %s: %s", method, err.Error())
				return 0
			}
			L.Push(toLua(L, res))
			return 1
		})
	case plugin.StatusFunc:
		if x == nil {
			return lua.LNil
		}
		return L.NewFunction(func(L *lua.LState) int {
			x(L.CheckString(1))
			return 0
		})
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return lua.LNumber(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return lua.LNumber(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return lua.LNumber(rv.Float())
	case reflect.String:
		return lua.LString(rv.String())
	}

	// Anything else crosses as its JSON form.
	data, err := json.Marshal(v)
	if err != nil {
		return lua.LString(fmt.Sprint(v))
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return lua.LString(string(data))
	}
	return toLua(L, generic)
}

func mapTable(L *lua.LState, m map[string]any) *lua.LTable {
	t := L.CreateTable(0, len(m))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		L.SetField(t, k, toLua(L, m[k]))
	}
	return t
}

func sliceTable(L *lua.LState, s []any) *lua.LTable {
	t := L.CreateTable(len(s), 0)
	for _, v := range s {
		t.Append(toLua(L, v))
	}
	return t
}

func notificationTable(L *lua.LState, n plugin.Notification) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "id", lua.LString(n.ID))
	L.SetField(t, "title", lua.LString(n.Title))
	L.SetField(t, "message", lua.LString(n.Message))
	L.SetField(t, "severity", lua.LString(string(n.Severity)))
	if n.Timestamp != 0 {
		L.SetField(t, "timestamp", lua.LNumber(n.Timestamp))
	}
	if n.Category != "" {
		L.SetField(t, "category", lua.LString(n.Category))
	}
	if n.Action != "" {
		L.SetField(t, "action", lua.LString(n.Action))
	}
	return t
}

// fromLua converts a Lua value returned by a script into plain Go data.
// Integral numbers become int; tables with only a sequence part become
// []any; other tables become map[string]any.
func fromLua(v lua.LValue) any {
	switch x := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(x)
	case lua.LString:
		return string(x)
	case lua.LNumber:
		f := float64(x)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int(f)
		}
		return f
	case *lua.LTable:
		return fromTable(x)
	default:
		return v.String()
	}
}

func fromTable(t *lua.LTable) any {
	n := t.MaxN()
	size := 0
	t.ForEach(func(_, _ lua.LValue) { size++ })

	if n > 0 && n == size {
		out := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			out = append(out, fromLua(t.RawGetInt(i)))
		}
		return out
	}

	out := make(map[string]any, size)
	t.ForEach(func(k, v lua.LValue) {
		out[k.String()] = fromLua(v)
	})
	return out
}
