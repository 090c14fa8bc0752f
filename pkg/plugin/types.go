// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

package plugin

import (
	"context"
	"log/slog"
)

// DefaultMaxQueueSize is the message queue bound used when a Config leaves
// MaxQueueSize unset.
const DefaultMaxQueueSize = 10000

// Target is what a plugin instance is attached to: a Client or a Device.
type Target interface {
	ID() string
}

// Client is the host's connection to an application running on a device.
type Client interface {
	Target
	// Call sends a request to the application side of the plugin.
	Call(ctx context.Context, method string, params any) (any, error)
}

// Device is a device known to the host.
type Device interface {
	Target
	OS() string
	Title() string
	IsArchived() bool
}

// Severity of a Notification.
type Severity string

// Notification severities.
const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is derived from persisted state and surfaced by the host.
type Notification struct {
	ID        string   `json:"id" yaml:"id" mapstructure:"id"`
	Title     string   `json:"title" yaml:"title" mapstructure:"title"`
	Message   string   `json:"message" yaml:"message" mapstructure:"message"`
	Severity  Severity `json:"severity" yaml:"severity" mapstructure:"severity"`
	Timestamp int64    `json:"timestamp,omitempty" yaml:"timestamp,omitempty" mapstructure:"timestamp"`
	Category  string   `json:"category,omitempty" yaml:"category,omitempty" mapstructure:"category"`
	Action    string   `json:"action,omitempty" yaml:"action,omitempty" mapstructure:"action"`
}

// Bugs tells users where to report problems with a plugin.
type Bugs struct {
	Email string `json:"email,omitempty" yaml:"email,omitempty"`
	URL   string `json:"url,omitempty" yaml:"url,omitempty"`
}

// KeyboardAction is a menu action a plugin responds to.
type KeyboardAction struct {
	Action      string `json:"action" yaml:"action"`
	Label       string `json:"label" yaml:"label"`
	Accelerator string `json:"accelerator,omitempty" yaml:"accelerator,omitempty"`
}

// CallFunc calls a method on the plugin's client.
type CallFunc func(ctx context.Context, method string, params any) (any, error)

// StatusFunc reports export progress.
type StatusFunc func(msg string)

// Idler lets long-running exports yield to the host.
type Idler interface {
	ShouldIdle() bool
	Idle(ctx context.Context) error
}

// DeviceStateSetter stores state for the plugin instance identified by pluginKey.
type DeviceStateSetter func(pluginKey string, state Record)

// Behavior signatures accepted by Config. Each may also be installed later,
// in any func or constant form, through the Definition's setters.
type (
	// PersistedStateReducer folds a message from the client into persisted state.
	PersistedStateReducer func(state Record, method string, data any) Record
	// NotificationsFunc derives the active notifications from persisted state.
	NotificationsFunc func(state Record) []Notification
	// MetricsReducer derives metrics from persisted state.
	MetricsReducer func(ctx context.Context, state Record) (Record, error)
	// ExportFunc produces the state to export. state comes first so the
	// pass-through default exports it unchanged.
	ExportFunc func(ctx context.Context, state Record, call CallFunc, store any, idler Idler, status StatusFunc) (Record, error)
	// RegisterDeviceFunc runs when the host registers a device.
	RegisterDeviceFunc func(store any, device Device, set DeviceStateSetter)
)

// Props are the per-instance inputs the host renders a plugin with.
type Props struct {
	Logger            *slog.Logger
	PersistedState    Record
	SetPersistedState Merger
	Target            Target
	DeepLinkPayload   string
	SelectPlugin      func(pluginID, deepLinkPayload string) bool
	IsArchivedDevice  bool
	SelectedApp       string
	SetStaticView     func(view string)
}
