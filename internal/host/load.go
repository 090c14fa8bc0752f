// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

package host

import (
	"context"
	"os"
	"path/filepath"

	"github.com/samber/oops"

	"github.com/flipkit/flipkit/internal/manifest"
	"github.com/flipkit/flipkit/pkg/errutil"
	"github.com/flipkit/flipkit/pkg/plugin"
)

// LoadManifest builds the plugin declared by the manifest at path and
// registers it.
func (h *Host) LoadManifest(ctx context.Context, path string) (*plugin.Definition, error) {
	m, err := manifest.Load(path)
	if err != nil {
		return nil, err
	}

	def, err := manifest.Build(ctx, m, filepath.Dir(path), nil)
	if err != nil {
		return nil, err
	}

	if err := h.Register(def); err != nil {
		return nil, err
	}

	h.logger.Info("loaded plugin",
		"plugin", m.ID,
		"version", m.Version,
		"script", m.Script)
	return def, nil
}

// LoadDir loads every plugin directory under dir that holds a manifest.
// Invalid plugins are logged and skipped. A missing dir loads nothing.
func (h *Host) LoadDir(ctx context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, oops.In("host").With("dir", dir).Hint("failed to read plugins directory").Wrap(err)
	}

	var loaded []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		path := filepath.Join(dir, entry.Name(), manifest.FileName)
		if _, err := os.Stat(path); err != nil {
			h.logger.Warn("skipping plugin without manifest", "dir", entry.Name())
			continue
		}

		def, err := h.LoadManifest(ctx, path)
		if err != nil {
			errutil.LogError(h.logger, "skipping invalid plugin", err, "dir", entry.Name())
			continue
		}
		loaded = append(loaded, def.ID())
	}

	return loaded, nil
}
