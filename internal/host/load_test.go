// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

package host_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/flipkit/flipkit/internal/host"
	"github.com/flipkit/flipkit/internal/manifest"
	"github.com/flipkit/flipkit/pkg/plugin"
)

const counterScript = `
function persisted_state_reducer(state, method, data)
    if method == "inc" then
        state.count = state.count + (data or 1)
    end
    return state
end

function metrics_reducer(state)
    return { count = state.count }
end
`

func writePlugin(t *testing.T, root, dir, yaml, script string) string {
	t.Helper()
	pluginDir := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(pluginDir, 0o750))
	path := filepath.Join(pluginDir, manifest.FileName)
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	if script != "" {
		require.NoError(t, os.WriteFile(filepath.Join(pluginDir, "main.lua"), []byte(script), 0o600))
	}
	return path
}

func TestLoadManifest_RunsScriptedPlugin(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx := context.Background()
	path := writePlugin(t, t.TempDir(), "counter",
		"id: counter\nversion: 1.0.0\ndefault-persisted-state:\n  count: 0\nscript: main.lua\n", counterScript)

	h, err := host.New()
	require.NoError(t, err)

	def, err := h.LoadManifest(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "counter", def.ID())

	key, err := h.Start("counter", host.NewLocalClientWithID("c1"))
	require.NoError(t, err)
	require.NoError(t, h.Deliver(key, "inc", nil))
	require.NoError(t, h.Deliver(key, "inc", 4))

	state, err := h.Flush(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 5, state.Int("count"))

	metrics, err := h.CollectMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, plugin.Record{"count": 5}, metrics[key])
}

func TestLoadDir_SkipsInvalidPlugins(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "counter", "id: counter\nversion: 1.0.0\nscript: main.lua\n", counterScript)
	writePlugin(t, root, "broken", "id: Broken\nversion: 1.0.0\n", "")
	writePlugin(t, root, "noscript", "id: noscript\nversion: 1.0.0\nscript: main.lua\n", "")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("plugins"), 0o600))

	h, err := host.New()
	require.NoError(t, err)

	loaded, err := h.LoadDir(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"counter"}, loaded)
	assert.Len(t, h.Definitions(), 1)
}

func TestLoadDir_Missing(t *testing.T) {
	h, err := host.New()
	require.NoError(t, err)

	loaded, err := h.LoadDir(context.Background(), filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestLoadManifest_GatekeeperDenied(t *testing.T) {
	path := writePlugin(t, t.TempDir(), "gated", "id: gated\nversion: 1.0.0\ngatekeeper: flipper.beta\n", "")

	h, err := host.New(host.WithGatekeepers("flipper.stable"))
	require.NoError(t, err)

	_, err = h.LoadManifest(context.Background(), path)
	require.ErrorIs(t, err, host.ErrGatekeeperDenied)
}
