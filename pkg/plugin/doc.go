// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

// Package plugin turns a declarative Config into a plugin Definition a host
// can load, and propagates per-instance state to the plugin's content.
//
// Define is called once per plugin type:
//
//	var Counter = plugin.Define("counter", render, plugin.Config{
//		Title:                 "Counter",
//		DefaultPersistedState: plugin.Record{"count": 0},
//		PersistedStateReducer: func(state plugin.Record, method string, data any) plugin.Record {
//			if method == "increment" {
//				return state.With("count", state.Int("count")+1)
//			}
//			return state
//		},
//	})
//
// The host creates an Instance per live plugin and renders it with the
// instance's Props. Content reads the propagated Context from its ctx:
//
//	func render(ctx context.Context) error {
//		pc, _ := plugin.FromContext(ctx)
//		count, setCount := pc.UsePersistedState("count")
//		...
//	}
//
// Behaviors on a Definition are shared by all of its instances and may be
// replaced at runtime through the setters carried on every Context.
package plugin
