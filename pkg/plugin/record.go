// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

package plugin

import (
	"maps"
	"reflect"
	"sort"
)

// Record is one plugin instance's persisted state. Records are owned by the
// host; code in this package reads them and requests partial updates through
// a Merger, and never mutates a Record in place.
type Record map[string]any

// Get returns the value stored at key.
func (r Record) Get(key string) (any, bool) {
	v, ok := r[key]
	return v, ok
}

// Int returns the value at key as an int. Missing and non-numeric values
// yield 0.
func (r Record) Int(key string) int {
	switch v := r[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	default:
		return 0
	}
}

// Clone returns a shallow copy of r. Cloning a nil Record yields an empty one.
func (r Record) Clone() Record {
	if r == nil {
		return Record{}
	}
	return maps.Clone(r)
}

// With returns a shallow copy of r with key set to value.
func (r Record) With(key string, value any) Record {
	out := r.Clone()
	out[key] = value
	return out
}

// Merge returns a shallow copy of r with every key of partial applied.
func (r Record) Merge(partial Record) Record {
	out := r.Clone()
	maps.Copy(out, partial)
	return out
}

// Same reports whether r and other are the same map, not merely equal.
func (r Record) Same(other Record) bool {
	return sameRecord(r, other)
}

// Diff returns the keys of r that are new or different from base, and the
// keys of base that r no longer has.
func (r Record) Diff(base Record) (changed Record, removed []string) {
	changed = Record{}
	for k, v := range r {
		if old, ok := base[k]; !ok || !reflect.DeepEqual(old, v) {
			changed[k] = v
		}
	}
	for k := range base {
		if _, ok := r[k]; !ok {
			removed = append(removed, k)
		}
	}
	sort.Strings(removed)
	return changed, removed
}

func sameRecord(a, b Record) bool {
	return reflect.ValueOf(a).UnsafePointer() == reflect.ValueOf(b).UnsafePointer()
}

// asRecord normalizes a behavior result into a Record.
func asRecord(v any) (Record, bool) {
	switch r := v.(type) {
	case nil:
		return nil, true
	case Record:
		return r, true
	case map[string]any:
		return Record(r), true
	default:
		return nil, false
	}
}
