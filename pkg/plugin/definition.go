// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

package plugin

import (
	"context"

	"github.com/samber/oops"

	"github.com/flipkit/flipkit/pkg/slot"
)

// Content is the plugin's own UI, rendered inside the instance scope.
// It reaches the instance through FromContext.
type Content func(ctx context.Context) error

// Config declares a plugin. Every field is optional.
type Config struct {
	Title                 string
	Category              string
	Icon                  string
	Gatekeeper            string
	Entry                 string
	Bugs                  *Bugs
	KeyboardActions       []KeyboardAction
	Screenshot            string
	DefaultPersistedState Record
	// MaxQueueSize bounds the host's pending message queue. Zero or less
	// means DefaultMaxQueueSize.
	MaxQueueSize int

	PersistedStateReducer  PersistedStateReducer
	GetActiveNotifications NotificationsFunc
	MetricsReducer         MetricsReducer
	ExportPersistedState   ExportFunc
	OnRegisterDevice       RegisterDeviceFunc
}

// Definition is a loadable plugin type. Its metadata never changes after
// Define; the behaviors in its slots may be replaced at any time and are
// shared by every instance.
type Definition struct {
	id                    string
	content               Content
	title                 string
	category              string
	icon                  string
	gatekeeper            string
	entry                 string
	bugs                  *Bugs
	keyboardActions       []KeyboardAction
	screenshot            string
	defaultPersistedState Record
	maxQueueSize          int

	slots *slot.Registry
}

// Define creates a plugin definition. content may be nil for plugins without
// UI of their own.
func Define(id string, content Content, cfg Config) *Definition {
	d := &Definition{
		id:                    id,
		content:               content,
		title:                 cfg.Title,
		category:              cfg.Category,
		icon:                  cfg.Icon,
		gatekeeper:            cfg.Gatekeeper,
		entry:                 cfg.Entry,
		screenshot:            cfg.Screenshot,
		defaultPersistedState: cfg.DefaultPersistedState,
		maxQueueSize:          cfg.MaxQueueSize,
	}
	if cfg.Bugs != nil {
		bugs := *cfg.Bugs
		d.bugs = &bugs
	}
	if len(cfg.KeyboardActions) > 0 {
		d.keyboardActions = append([]KeyboardAction(nil), cfg.KeyboardActions...)
	}
	if d.maxQueueSize <= 0 {
		d.maxQueueSize = DefaultMaxQueueSize
	}

	// Typed nil funcs leave their slot empty.
	d.slots = slot.NewRegistry(slot.Behaviors{
		ActiveNotifications:   cfg.GetActiveNotifications,
		PersistedStateReducer: cfg.PersistedStateReducer,
		MetricsReducer:        cfg.MetricsReducer,
		ExportPersistedState:  cfg.ExportPersistedState,
		OnRegisterDevice:      cfg.OnRegisterDevice,
	}, map[slot.Name]any{
		slot.ActiveNotifications: []Notification{},
	})

	return d
}

// ID returns the plugin id.
func (d *Definition) ID() string { return d.id }

// Title returns the display title.
func (d *Definition) Title() string { return d.title }

// Category returns the plugin category.
func (d *Definition) Category() string { return d.category }

// Icon returns the icon name.
func (d *Definition) Icon() string { return d.icon }

// Gatekeeper returns the gatekeeper the host must enable before loading the plugin.
func (d *Definition) Gatekeeper() string { return d.gatekeeper }

// Entry returns the entry point id.
func (d *Definition) Entry() string { return d.entry }

// Screenshot returns the screenshot reference.
func (d *Definition) Screenshot() string { return d.screenshot }

// MaxQueueSize returns the message queue bound.
func (d *Definition) MaxQueueSize() int { return d.maxQueueSize }

// Bugs returns a copy of the bug report links, or nil.
func (d *Definition) Bugs() *Bugs {
	if d.bugs == nil {
		return nil
	}
	bugs := *d.bugs
	return &bugs
}

// KeyboardActions returns a copy of the keyboard actions.
func (d *Definition) KeyboardActions() []KeyboardAction {
	return append([]KeyboardAction(nil), d.keyboardActions...)
}

// DefaultPersistedState returns a copy of the initial persisted state, or nil
// when none was declared.
func (d *Definition) DefaultPersistedState() Record {
	if d.defaultPersistedState == nil {
		return nil
	}
	return d.defaultPersistedState.Clone()
}

// Slots returns the definition's behavior slots.
func (d *Definition) Slots() *slot.Registry { return d.slots }

// Setters returns the setters for the definition's behavior slots.
func (d *Definition) Setters() slot.Setters { return d.slots.Setters() }

// ActiveNotifications derives notifications from state. An empty slot yields
// an empty list.
func (d *Definition) ActiveNotifications(ctx context.Context, state Record) ([]Notification, error) {
	v, err := d.invoke(ctx, slot.ActiveNotifications, state)
	if err != nil {
		return nil, err
	}
	switch n := v.(type) {
	case nil:
		return nil, nil
	case []Notification:
		return n, nil
	default:
		return nil, d.unexpected(slot.ActiveNotifications, v)
	}
}

// ReducePersistedState folds one client message into state. An empty slot
// returns state unchanged.
func (d *Definition) ReducePersistedState(ctx context.Context, state Record, method string, data any) (Record, error) {
	return d.invokeRecord(ctx, slot.PersistedStateReducer, state, method, data)
}

// Metrics derives metrics from state. An empty slot returns state itself.
func (d *Definition) Metrics(ctx context.Context, state Record) (Record, error) {
	return d.invokeRecord(ctx, slot.MetricsReducer, state)
}

// ExportPersistedState produces the state to export. An empty slot returns
// state unchanged.
func (d *Definition) ExportPersistedState(ctx context.Context, state Record, call CallFunc, store any, idler Idler, status StatusFunc) (Record, error) {
	return d.invokeRecord(ctx, slot.ExportPersistedState, state, call, store, idler, status)
}

// RegisterDevice runs the device registration hook. Its result is discarded.
func (d *Definition) RegisterDevice(ctx context.Context, store any, device Device, set DeviceStateSetter) error {
	_, err := d.invoke(ctx, slot.OnRegisterDevice, store, device, set)
	return err
}

// NewInstance creates a live instance of the definition bound to client.
func (d *Definition) NewInstance(client Client) *Instance {
	return &Instance{
		def:   d,
		scope: NewScope(d.id, client, d.slots.Setters()),
	}
}

func (d *Definition) invoke(ctx context.Context, name slot.Name, args ...any) (any, error) {
	//nolint:wrapcheck // behavior errors propagate to the caller unchanged
	return d.slots.Slot(name).Invoke(ctx, args...)
}

func (d *Definition) invokeRecord(ctx context.Context, name slot.Name, args ...any) (Record, error) {
	v, err := d.invoke(ctx, name, args...)
	if err != nil {
		return nil, err
	}
	r, ok := asRecord(v)
	if !ok {
		return nil, d.unexpected(name, v)
	}
	return r, nil
}

func (d *Definition) unexpected(name slot.Name, v any) error {
	return oops.In("plugin").
		Code("unexpected_result").
		With("plugin", d.id).
		With("slot", string(name)).
		Errorf("behavior %s returned %T", name, v)
}
