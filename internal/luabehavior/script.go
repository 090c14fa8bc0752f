// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

package luabehavior

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/flipkit/flipkit/pkg/slot"
)

// Script is a compiled-and-checked Lua source whose global functions can be
// installed as behaviors.
type Script struct {
	name      string
	code      string
	factory   *StateFactory
	functions map[string]bool
}

// Load checks code by running it once in a throwaway state and records the
// global functions it defines.
func Load(ctx context.Context, name, code string) (*Script, error) {
	factory := NewStateFactory()

	L, err := factory.NewState(ctx)
	if err != nil {
		return nil, oops.In("lua").With("script", name).Hint("failed to create validation state").Wrap(err)
	}
	defer L.Close()

	if err := L.DoString(code); err != nil {
		return nil, oops.In("lua").Code("lua_syntax").With("script", name).Hint("syntax error").Wrap(err)
	}

	functions := make(map[string]bool)
	L.G.Global.ForEach(func(k, v lua.LValue) {
		if v.Type() == lua.LTFunction {
			functions[k.String()] = true
		}
	})

	return &Script{
		name:      name,
		code:      code,
		factory:   factory,
		functions: functions,
	}, nil
}

// LoadFile reads and loads the script at path.
func LoadFile(ctx context.Context, path string) (*Script, error) {
	code, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, oops.In("lua").With("path", path).Hint("failed to read script").Wrap(err)
	}
	return Load(ctx, filepath.Base(path), string(code))
}

// Name returns the script name.
func (s *Script) Name() string {
	return s.name
}

// Defines reports whether the script defines a global function called fn.
func (s *Script) Defines(fn string) bool {
	return s.functions[fn]
}

// Functions returns the names of the global functions the script defines,
// library functions included.
func (s *Script) Functions() []string {
	names := make([]string, 0, len(s.functions))
	for name := range s.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Func returns a behavior calling the global function fn with the behavior's
// arguments converted to Lua values. Its result is converted back to plain Go
// data: nil, bool, string, int, float64, []any or map[string]any.
func (s *Script) Func(fn string) slot.Func {
	return func(ctx context.Context, args ...any) (any, error) {
		if ctx == nil {
			ctx = context.Background()
		}
		L, err := s.factory.NewState(ctx)
		if err != nil {
			return nil, oops.In("lua").With("script", s.name).With("function", fn).Wrap(err)
		}
		defer L.Close()

		if err := L.DoString(s.code); err != nil {
			return nil, oops.In("lua").With("script", s.name).Hint("failed to load code").Wrap(err)
		}

		callee := L.GetGlobal(fn)
		if callee.Type() != lua.LTFunction {
			return nil, oops.In("lua").
				Code("lua_missing_function").
				With("script", s.name).
				With("function", fn).
				Errorf("script %s does not define %s", s.name, fn)
		}

		largs := make([]lua.LValue, len(args))
		for i, arg := range args {
			largs[i] = toLua(L, arg)
		}

		if err := L.CallByParam(lua.P{
			Fn:      callee,
			NRet:    1,
			Protect: true,
		}, largs...); err != nil {
			return nil, oops.In("lua").With("script", s.name).With("function", fn).Wrap(err)
		}

		ret := L.Get(-1)
		L.Pop(1)
		return fromLua(ret), nil
	}
}
