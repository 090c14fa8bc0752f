// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

package plugin

import (
	"context"
	"reflect"

	"github.com/samber/oops"

	"github.com/flipkit/flipkit/pkg/slot"
)

// Merger applies a partial update to the host-owned persisted state.
// The host is responsible for making MergePersistedState safe for
// concurrent callers.
//
// A Scope keeps its Accessor while the Merger compares equal, so Mergers
// should be comparable (pointer types are). Non-comparable Mergers are
// treated as changed on every render.
type Merger interface {
	MergePersistedState(partial Record)
}

// NewMerger wraps fn in a Merger with a stable identity.
func NewMerger(fn func(partial Record)) Merger {
	return &funcMerger{fn: fn}
}

type funcMerger struct {
	fn func(partial Record)
}

func (m *funcMerger) MergePersistedState(partial Record) {
	m.fn(partial)
}

func sameMerger(a, b Merger) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

// KeySetter writes one key of the persisted state. next is either the new
// value or a func computing it from the current value.
type KeySetter func(next any) error

// Accessor derives key-scoped read/write pairs from one snapshot of the
// persisted state and one Merger.
type Accessor struct {
	record Record
	merge  Merger
}

// NewAccessor creates an accessor over record and merge.
func NewAccessor(record Record, merge Merger) *Accessor {
	return &Accessor{record: record, merge: merge}
}

// Key returns the value stored at key (nil when absent) and a setter for it.
//
// A func passed to the setter receives the value read here, not a fresh
// read of the persisted state. Two functional updates issued against the
// same snapshot both see the same value, and the later merge wins.
func (a *Accessor) Key(key string) (any, KeySetter) {
	current := a.record[key]

	set := func(next any) error {
		resolved, err := resolveNext(next, current)
		if err != nil {
			return oops.In("plugin").With("key", key).Wrap(err)
		}
		if a.merge == nil {
			return oops.In("plugin").
				Code("no_merger").
				With("key", key).
				Errorf("persisted state for key %q has no merger", key)
		}
		a.merge.MergePersistedState(Record{key: resolved})
		return nil
	}

	return current, set
}

func resolveNext(next, current any) (any, error) {
	switch fn := next.(type) {
	case func(any) any:
		if fn == nil {
			return nil, nil
		}
		return fn(current), nil
	case nil:
		return nil, nil
	}

	fn, callable := slot.Adapt(next)
	if !callable {
		return next, nil
	}
	if fn == nil {
		return nil, nil
	}
	return fn(context.Background(), current)
}
