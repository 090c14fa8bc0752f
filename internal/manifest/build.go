// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

package manifest

import (
	"context"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"github.com/samber/oops"

	"github.com/flipkit/flipkit/internal/luabehavior"
	"github.com/flipkit/flipkit/pkg/plugin"
	"github.com/flipkit/flipkit/pkg/slot"
)

// Lua globals recognized as behaviors.
const (
	LuaPersistedStateReducer = "persisted_state_reducer"
	LuaActiveNotifications   = "active_notifications"
	LuaMetricsReducer        = "metrics_reducer"
	LuaExportPersistedState  = "export_persisted_state"
	LuaOnRegisterDevice      = "on_register_device"
)

// Build defines the plugin declared by m. Behaviors defined by the manifest's
// script are installed through the definition's setters; dir is the directory
// the script path is relative to.
func Build(ctx context.Context, m *Manifest, dir string, content plugin.Content) (*plugin.Definition, error) {
	def := plugin.Define(m.ID, content, m.Config())
	if m.Script == "" {
		return def, nil
	}

	script, err := luabehavior.LoadFile(ctx, filepath.Join(dir, m.Script))
	if err != nil {
		return nil, oops.In("manifest").With("plugin", m.ID).Wrap(err)
	}

	Install(def, script)
	return def, nil
}

// Install replaces the behaviors of def with the matching functions defined
// by script. Behaviors the script does not define are left untouched.
func Install(def *plugin.Definition, script *luabehavior.Script) {
	setters := def.Setters()

	if script.Defines(LuaPersistedStateReducer) {
		setters.SetPersistedStateReducer(script.Func(LuaPersistedStateReducer))
	}
	if script.Defines(LuaActiveNotifications) {
		setters.SetActiveNotifications(decodeNotifications(script.Func(LuaActiveNotifications)))
	}
	if script.Defines(LuaMetricsReducer) {
		setters.SetMetricsReducer(script.Func(LuaMetricsReducer))
	}
	if script.Defines(LuaExportPersistedState) {
		setters.SetExportPersistedState(script.Func(LuaExportPersistedState))
	}
	if script.Defines(LuaOnRegisterDevice) {
		setters.SetOnRegisterDevice(registerDevice(def.ID(), script.Func(LuaOnRegisterDevice)))
	}
}

// decodeNotifications turns the Lua result into notifications.
func decodeNotifications(fn slot.Func) slot.Func {
	return func(ctx context.Context, args ...any) (any, error) {
		v, err := fn(ctx, args...)
		if err != nil {
			return nil, err
		}
		return DecodeNotifications(v)
	}
}

// DecodeNotifications converts plain decoded data (a list of maps) into
// notifications. nil and empty maps yield an empty list.
func DecodeNotifications(v any) ([]plugin.Notification, error) {
	switch x := v.(type) {
	case nil:
		return []plugin.Notification{}, nil
	case map[string]any:
		if len(x) == 0 {
			return []plugin.Notification{}, nil
		}
		v = []any{x}
	}

	var out []plugin.Notification
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, oops.In("manifest").Wrap(err)
	}
	if err := dec.Decode(v); err != nil {
		return nil, oops.In("manifest").Code("invalid_notification").Wrap(err)
	}
	for i, n := range out {
		if n.Severity != plugin.SeverityWarning && n.Severity != plugin.SeverityError {
			return nil, oops.In("manifest").
				Code("invalid_notification").
				With("index", i).
				Errorf("notification %q has severity %q, want warning or error", n.ID, n.Severity)
		}
	}
	return out, nil
}

// registerDevice calls the Lua hook with the device and stores a returned
// table as the state of the device's instance of the plugin.
func registerDevice(pluginID string, fn slot.Func) slot.Func {
	return func(ctx context.Context, args ...any) (any, error) {
		var (
			device plugin.Device
			set    plugin.DeviceStateSetter
		)
		if len(args) > 1 {
			device, _ = args[1].(plugin.Device)
		}
		if len(args) > 2 {
			set, _ = args[2].(plugin.DeviceStateSetter)
		}
		if device == nil {
			return nil, oops.In("manifest").With("plugin", pluginID).Errorf("device registration without a device")
		}

		v, err := fn(ctx, device)
		if err != nil {
			return nil, err
		}
		state, ok := v.(map[string]any)
		if !ok || set == nil {
			return nil, nil
		}
		set(device.ID()+"#"+pluginID, plugin.Record(state))
		return nil, nil
	}
}
