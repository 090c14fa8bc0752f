// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/flipkit/flipkit/internal/host"
	"github.com/flipkit/flipkit/internal/observability"
	"github.com/flipkit/flipkit/pkg/errutil"
	"github.com/flipkit/flipkit/pkg/plugin"
)

const defaultCollectInterval = 15 * time.Second

// serveConfig holds configuration for the serve command.
type serveConfig struct {
	interval time.Duration
	// onReady, when set, is called with the metrics address once serving.
	onReady func(addr string)
}

func newServeCmd(g *globalOptions) *cobra.Command {
	cfg := &serveConfig{}

	cmd := &cobra.Command{
		Use:   "serve [plugin.yaml...]",
		Short: "Run plugins and serve their metrics",
		Long: `Serve loads the given manifests, or every plugin under plugins.dir,
starts one instance of each, and exports the output of their metrics
reducers on /metrics together with health probes until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, g, cfg, args)
		},
	}

	cmd.Flags().DurationVar(&cfg.interval, "interval", defaultCollectInterval, "metrics collection interval")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, g *globalOptions, cfg *serveConfig, paths []string) error {
	if g.cfg.Metrics.Addr == "" {
		return oops.In("cli").Code("invalid_config").Errorf("metrics.addr is required to serve")
	}
	if cfg.interval <= 0 {
		return oops.In("cli").Code("invalid_config").Errorf("interval must be positive, got %s", cfg.interval)
	}

	var ready atomic.Bool
	srv := observability.NewServer(g.cfg.Metrics.Addr, ready.Load)

	h, err := g.newHost(srv.Metrics())
	if err != nil {
		return err
	}

	if len(paths) == 0 {
		if _, err := h.LoadDir(ctx, g.cfg.Plugins.Dir); err != nil {
			return err
		}
	}
	for _, path := range paths {
		if _, err := h.LoadManifest(ctx, path); err != nil {
			return err
		}
	}

	client := host.NewLocalClient()
	for _, def := range h.Definitions() {
		if _, err := h.Start(def.ID(), client); err != nil {
			return err
		}
	}

	srv.Handle("/plugins", pluginsHandler(g, h))

	errCh, err := srv.Start()
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if stopErr := srv.Stop(shutdownCtx); stopErr != nil {
			errutil.LogError(g.logger, "failed to stop observability server", stopErr)
		}
	}()

	collect(ctx, g, h)
	ready.Store(true)
	g.logger.Info("serving plugins",
		"plugins", len(h.Definitions()),
		"client", client.ID(),
		"addr", srv.Addr())
	cmd.Printf("serving %d plugins, metrics on http://%s/metrics\n", len(h.Definitions()), srv.Addr())
	if cfg.onReady != nil {
		cfg.onReady(srv.Addr())
	}

	ticker := time.NewTicker(cfg.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("shutting down")
			return nil
		case serveErr := <-errCh:
			if serveErr != nil {
				return oops.In("cli").Wrapf(serveErr, "observability server")
			}
			return nil
		case <-ticker.C:
			collect(ctx, g, h)
		}
	}
}

// InstanceStatus describes a running instance on /plugins.
type InstanceStatus struct {
	Instance      string                `json:"instance"`
	Plugin        string                `json:"plugin"`
	Title         string                `json:"title,omitempty"`
	Pending       int                   `json:"pending"`
	State         plugin.Record         `json:"state"`
	Notifications []plugin.Notification `json:"notifications"`
}

// pluginsHandler reports every running instance as JSON.
func pluginsHandler(g *globalOptions, h *host.Host) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		notifications, err := h.Notifications(r.Context())
		if err != nil {
			errutil.LogError(g.logger, "notifications for status failed", err)
		}
		byInstance := make(map[string][]plugin.Notification)
		for _, n := range notifications {
			byInstance[n.Instance] = append(byInstance[n.Instance], n.Notification)
		}

		statuses := make([]InstanceStatus, 0)
		for _, key := range h.Instances() {
			state, err := h.PersistedState(key)
			if err != nil {
				continue
			}
			pending, _ := h.Pending(key)
			_, pluginID, _ := strings.Cut(key, "#")
			status := InstanceStatus{
				Instance:      key,
				Plugin:        pluginID,
				Pending:       pending,
				State:         state,
				Notifications: byInstance[key],
			}
			if def, err := h.Definition(pluginID); err == nil {
				status.Title = def.Title()
			}
			if status.Notifications == nil {
				status.Notifications = []plugin.Notification{}
			}
			statuses = append(statuses, status)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(statuses); err != nil {
			errutil.LogError(g.logger, "failed to write plugin status", err)
		}
	})
}

// collect flushes queued messages and refreshes the metric gauges.
func collect(ctx context.Context, g *globalOptions, h *host.Host) {
	for _, key := range h.Instances() {
		if _, err := h.Flush(ctx, key); err != nil {
			errutil.LogError(g.logger, "flush failed", err, "instance", key)
		}
	}
	if _, err := h.CollectMetrics(ctx); err != nil {
		errutil.LogError(g.logger, "metrics collection failed", err)
	}
}
