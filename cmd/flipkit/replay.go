// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flipkit/flipkit/internal/host"
	"github.com/flipkit/flipkit/pkg/plugin"
)

// replayConfig holds configuration for the replay command.
type replayConfig struct {
	messages   string
	clientID   string
	jsonOutput bool
}

// ReplayResult is the outcome of replaying messages through a plugin.
type ReplayResult struct {
	Plugin        string                `json:"plugin" yaml:"plugin"`
	Instance      string                `json:"instance" yaml:"instance"`
	Delivered     int                   `json:"delivered" yaml:"delivered"`
	Processed     int                   `json:"processed" yaml:"processed"`
	State         plugin.Record         `json:"state" yaml:"state"`
	Notifications []plugin.Notification `json:"notifications" yaml:"notifications"`
	Metrics       plugin.Record         `json:"metrics" yaml:"metrics"`
}

func newReplayCmd(g *globalOptions) *cobra.Command {
	cfg := &replayConfig{}

	cmd := &cobra.Command{
		Use:   "replay <plugin.yaml>",
		Short: "Replay client messages through a plugin",
		Long: `Replay loads a plugin into an in-process host, delivers the messages
read from --messages, flushes them through the persisted-state reducer and
prints the resulting state, notifications and metrics.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), cmd, g, cfg, args[0])
		},
	}

	cmd.Flags().StringVar(&cfg.messages, "messages", "", "YAML file with a list of {method, data} messages")
	cmd.Flags().StringVar(&cfg.clientID, "client", "", "client id (default: generated)")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output as JSON instead of YAML")

	return cmd
}

func runReplay(ctx context.Context, cmd *cobra.Command, g *globalOptions, cfg *replayConfig, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	client := host.NewLocalClient()
	if cfg.clientID != "" {
		if _, err := host.ParseID(cfg.clientID); err != nil {
			return err
		}
		client = host.NewLocalClientWithID(cfg.clientID)
	}

	messages, err := readMessages(cfg.messages)
	if err != nil {
		return err
	}

	h, err := g.newHost(nil)
	if err != nil {
		return err
	}
	def, err := h.LoadManifest(ctx, path)
	if err != nil {
		return err
	}
	key, err := h.Start(def.ID(), client)
	if err != nil {
		return err
	}

	for _, msg := range messages {
		if err := h.Deliver(key, msg.Method, msg.Data); err != nil {
			return err
		}
	}
	pending, err := h.Pending(key)
	if err != nil {
		return err
	}

	state, err := h.Flush(ctx, key)
	if err != nil {
		return err
	}

	notifications, err := h.Notifications(ctx)
	if err != nil {
		return err
	}
	metrics, err := h.CollectMetrics(ctx)
	if err != nil {
		return err
	}

	result := ReplayResult{
		Plugin:        def.ID(),
		Instance:      key,
		Delivered:     len(messages),
		Processed:     pending,
		State:         state,
		Notifications: make([]plugin.Notification, 0, len(notifications)),
		Metrics:       metrics[key],
	}
	for _, n := range notifications {
		result.Notifications = append(result.Notifications, n.Notification)
	}

	return printResult(cmd, result, cfg.jsonOutput)
}

func readMessages(path string) ([]host.Message, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, oops.In("cli").With("path", path).Hint("failed to read messages").Wrap(err)
	}

	var messages []host.Message
	if err := yaml.Unmarshal(data, &messages); err != nil {
		return nil, oops.In("cli").Code("invalid_messages").With("path", path).Wrap(err)
	}
	for i, msg := range messages {
		if msg.Method == "" {
			return nil, oops.In("cli").
				Code("invalid_messages").
				With("path", path).
				With("index", i).
				Errorf("message %d has no method", i)
		}
	}
	return messages, nil
}

func printResult(cmd *cobra.Command, result ReplayResult, jsonOutput bool) error {
	var (
		out []byte
		err error
	)
	if jsonOutput {
		out, err = json.MarshalIndent(result, "", "  ")
	} else {
		out, err = yaml.Marshal(result)
	}
	if err != nil {
		return oops.In("cli").Wrapf(err, "format result")
	}

	cmd.Println(string(out))
	return nil
}
