// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

// Package host is an in-process reference host for plugin definitions.
//
// The host owns the persisted state of every running instance, queues client
// messages for the persisted-state reducer, and surfaces notifications,
// metrics and exports computed by each definition's behavior slots.
// Instances are keyed "<clientID>#<pluginID>".
package host
