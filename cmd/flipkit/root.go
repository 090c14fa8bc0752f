// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/flipkit/flipkit/internal/config"
	"github.com/flipkit/flipkit/internal/host"
	"github.com/flipkit/flipkit/internal/logging"
	"github.com/flipkit/flipkit/internal/observability"
)

// globalOptions holds state shared by all subcommands.
type globalOptions struct {
	configFile string
	cfg        *config.Config
	logger     *slog.Logger
}

// newHost creates a host from the loaded configuration.
func (g *globalOptions) newHost(metrics *observability.Metrics) (*host.Host, error) {
	opts := []host.Option{
		host.WithLogger(g.logger),
		host.WithGatekeepers(g.cfg.Gatekeepers...),
	}
	if metrics != nil {
		opts = append(opts, host.WithMetrics(metrics))
	}
	return host.New(opts...)
}

// NewRootCmd creates the root command for the flipkit CLI.
func NewRootCmd() *cobra.Command {
	g := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "flipkit",
		Short: "flipkit - plugin definitions with swappable behaviors",
		Long: `flipkit validates, replays and serves plugin definitions whose
behaviors live in replaceable slots and may be scripted in Lua.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(g.configFile, cmd.Flags())
			if err != nil {
				return err
			}
			g.cfg = cfg
			g.logger = logging.Setup("flipkit", version, cfg.Log.Format, cfg.Log.Level, cmd.ErrOrStderr())
			slog.SetDefault(g.logger)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&g.configFile, "config", "", "config file path")
	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(newValidateCmd(g))
	cmd.AddCommand(newSchemaCmd())
	cmd.AddCommand(newReplayCmd(g))
	cmd.AddCommand(newServeCmd(g))

	return cmd
}
