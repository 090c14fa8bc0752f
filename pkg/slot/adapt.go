// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

package slot

import (
	"context"
	"reflect"

	"github.com/samber/oops"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// Adapt converts a Go func of any signature into a Func.
//
// It reports false when behavior is not a func. A nil func yields (nil, true).
//
// Binding rules:
//   - a leading context.Context parameter receives the invocation ctx
//   - remaining parameters are bound positionally; missing arguments become
//     zero values and extra arguments are dropped
//   - a trailing error result becomes the returned error; the first other
//     result becomes the returned value
func Adapt(behavior any) (Func, bool) {
	switch f := behavior.(type) {
	case nil:
		return nil, false
	case Func:
		return f, true
	case func(context.Context, ...any) (any, error):
		return Func(f), true
	case func(...any) any:
		if f == nil {
			return nil, true
		}
		return func(_ context.Context, args ...any) (any, error) {
			return f(args...), nil
		}, true
	}

	v := reflect.ValueOf(behavior)
	if v.Kind() != reflect.Func {
		return nil, false
	}
	if v.IsNil() {
		return nil, true
	}
	return reflectFunc(v), true
}

func reflectFunc(fn reflect.Value) Func {
	t := fn.Type()
	takesCtx := t.NumIn() > 0 && !(t.IsVariadic() && t.NumIn() == 1) && t.In(0) == contextType
	returnsErr := t.NumOut() > 0 && t.Out(t.NumOut()-1) == errorType

	return func(ctx context.Context, args ...any) (any, error) {
		in, err := bindArgs(ctx, t, takesCtx, args)
		if err != nil {
			return nil, err
		}
		return unpackResults(fn.Call(in), returnsErr)
	}
}

func bindArgs(ctx context.Context, t reflect.Type, takesCtx bool, args []any) ([]reflect.Value, error) {
	fixed := t.NumIn()
	if t.IsVariadic() {
		fixed--
	}

	in := make([]reflect.Value, 0, t.NumIn()+len(args))
	first := 0
	if takesCtx {
		if ctx == nil {
			ctx = context.Background()
		}
		in = append(in, reflect.ValueOf(&ctx).Elem())
		first = 1
	}

	argIdx := 0
	for i := first; i < fixed; i++ {
		if argIdx >= len(args) {
			in = append(in, reflect.Zero(t.In(i)))
			continue
		}
		v, err := bindValue(args[argIdx], t.In(i), argIdx)
		if err != nil {
			return nil, err
		}
		in = append(in, v)
		argIdx++
	}

	if t.IsVariadic() {
		elem := t.In(t.NumIn() - 1).Elem()
		for ; argIdx < len(args); argIdx++ {
			v, err := bindValue(args[argIdx], elem, argIdx)
			if err != nil {
				return nil, err
			}
			in = append(in, v)
		}
	}

	return in, nil
}

func bindValue(arg any, want reflect.Type, pos int) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(want), nil
	}

	v := reflect.ValueOf(arg)
	have := v.Type()
	switch {
	case have.AssignableTo(want):
		return v, nil
	case have.Kind() == want.Kind() && have.ConvertibleTo(want):
		return v.Convert(want), nil
	case isNumeric(have.Kind()) && isNumeric(want.Kind()):
		return v.Convert(want), nil
	}

	return reflect.Value{}, oops.
		Code("behavior_argument").
		With("position", pos).
		With("have", have.String()).
		With("want", want.String()).
		Errorf("cannot bind argument %d: %s is not assignable to %s", pos, have, want)
}

func unpackResults(out []reflect.Value, returnsErr bool) (any, error) {
	var err error
	if returnsErr {
		last := out[len(out)-1]
		if !last.IsNil() {
			err, _ = last.Interface().(error)
		}
		out = out[:len(out)-1]
	}
	if len(out) == 0 {
		return nil, err
	}
	return out[0].Interface(), err
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}
