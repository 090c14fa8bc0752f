// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

package slot

import (
	"context"
	"sync/atomic"
)

// Func is the uniform stored representation of a behavior.
// The ctx is not counted as an argument.
type Func func(ctx context.Context, args ...any) (any, error)

// Constant returns a Func that always answers with v.
func Constant(v any) Func {
	return func(context.Context, ...any) (any, error) {
		return v, nil
	}
}

// Option configures a Slot.
type Option func(*Slot)

// WithDefault makes an empty slot answer with v instead of its first argument.
func WithDefault(v any) Option {
	return func(s *Slot) {
		s.fallback = v
		s.hasFallback = true
	}
}

// Slot is a named, replaceable behavior with a documented default.
//
// Slot is safe for concurrent use. Concurrent Set calls are not ordered
// beyond last-writer-wins.
type Slot struct {
	name        Name
	current     atomic.Pointer[Func]
	fallback    any
	hasFallback bool
}

// New creates a slot. A nil initial behavior leaves the slot empty; any other
// value is installed as if passed to Set.
func New(name Name, initial any, opts ...Option) *Slot {
	s := &Slot{name: name}
	for _, opt := range opts {
		opt(s)
	}
	if initial != nil {
		s.Set(initial)
	}
	return s
}

// Name returns the slot name.
func (s *Slot) Name() Name {
	return s.name
}

// Installed reports whether a behavior is currently installed.
func (s *Slot) Installed() bool {
	return s.current.Load() != nil
}

// Invoke calls the installed behavior with args. With nothing installed it
// returns the configured default, or args[0] when there is no default
// (nil when args is empty). Errors from the behavior are returned unchanged.
func (s *Slot) Invoke(ctx context.Context, args ...any) (any, error) {
	if fn := s.current.Load(); fn != nil {
		return (*fn)(ctx, args...)
	}
	if s.hasFallback {
		return s.fallback, nil
	}
	if len(args) == 0 {
		return nil, nil
	}
	return args[0], nil
}

// Set installs behavior. Func values are installed as the new behavior,
// a nil func clears the slot, and any other value (untyped nil included)
// installs a constant behavior answering with that value.
func (s *Slot) Set(behavior any) {
	fn, callable := Adapt(behavior)
	if !callable {
		fn = Constant(behavior)
	}
	if fn == nil {
		s.current.Store(nil)
		return
	}
	s.current.Store(&fn)
}

// Reset clears the installed behavior.
func (s *Slot) Reset() {
	s.current.Store(nil)
}
