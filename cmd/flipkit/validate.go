// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

package main

import (
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/flipkit/flipkit/internal/manifest"
)

func newValidateCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plugin.yaml>...",
		Short: "Validate plugin manifests and their scripts",
		Long: `Validate checks each manifest against the plugin schema and the
manifest rules, then loads the manifest's Lua script, if any.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, g, args)
		},
	}
}

func runValidate(cmd *cobra.Command, g *globalOptions, paths []string) error {
	failed := 0
	for _, path := range paths {
		m, err := manifest.Load(path)
		if err == nil {
			_, err = manifest.Build(cmd.Context(), m, filepath.Dir(path), nil)
		}
		if err != nil {
			failed++
			cmd.PrintErrf("FAIL %s: %s\n", path, manifest.FormatSchemaError(err))
			g.logger.Debug("manifest validation failed", "path", path, "error", err)
			continue
		}
		cmd.Printf("ok   %s (%s %s)\n", path, m.ID, m.Version)
	}

	if failed > 0 {
		return oops.In("cli").
			Code("validation_failed").
			With("failed", failed).
			Errorf("%d of %d manifests invalid", failed, len(paths))
	}
	return nil
}
