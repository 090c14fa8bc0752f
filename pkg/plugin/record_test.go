// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

package plugin_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flipkit/flipkit/pkg/plugin"
)

func TestRecord_MergeDoesNotMutate(t *testing.T) {
	base := plugin.Record{"a": 1, "b": 2}

	merged := base.Merge(plugin.Record{"b": 3, "c": 4})

	assert.Equal(t, plugin.Record{"a": 1, "b": 2}, base)
	assert.Equal(t, plugin.Record{"a": 1, "b": 3, "c": 4}, merged)
}

func TestRecord_NilReceiver(t *testing.T) {
	var r plugin.Record

	_, ok := r.Get("x")
	assert.False(t, ok)
	assert.Equal(t, plugin.Record{}, r.Clone())
	assert.Equal(t, plugin.Record{"x": 1}, r.With("x", 1))
	assert.Equal(t, plugin.Record{"y": 2}, r.Merge(plugin.Record{"y": 2}))
}

func TestRecord_Int(t *testing.T) {
	r := plugin.Record{"i": 3, "i64": int64(4), "f": 5.9, "s": "6"}

	assert.Equal(t, 3, r.Int("i"))
	assert.Equal(t, 4, r.Int("i64"))
	assert.Equal(t, 5, r.Int("f"))
	assert.Equal(t, 0, r.Int("s"))
	assert.Equal(t, 0, r.Int("missing"))
}

func TestRecord_Same(t *testing.T) {
	r := plugin.Record{"a": 1}

	assert.True(t, r.Same(r))
	assert.False(t, r.Same(r.Clone()))
}

func TestRecord_Diff(t *testing.T) {
	base := plugin.Record{"a": 1, "b": []any{"x"}, "c": 3}
	next := plugin.Record{"a": 2, "b": []any{"x"}, "d": 4}

	changed, removed := next.Diff(base)

	assert.Equal(t, plugin.Record{"a": 2, "d": 4}, changed)
	assert.Equal(t, []string{"c"}, removed)
}

func TestRecord_DiffUnchanged(t *testing.T) {
	base := plugin.Record{"a": 1}

	changed, removed := base.Clone().Diff(base)

	assert.Empty(t, changed)
	assert.Empty(t, removed)
}
