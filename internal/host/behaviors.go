// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

package host

import (
	"context"
	"errors"
	"reflect"
	"sort"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flipkit/flipkit/pkg/errutil"
	"github.com/flipkit/flipkit/pkg/plugin"
	"github.com/flipkit/flipkit/pkg/slot"
)

// InstanceNotification is a notification raised by a running instance.
type InstanceNotification struct {
	Instance string `json:"instance" yaml:"instance"`
	Plugin   string `json:"plugin" yaml:"plugin"`
	plugin.Notification
}

func (h *Host) startSpan(ctx context.Context, name string, inst *instance) (context.Context, trace.Span) {
	return h.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("plugin.id", inst.def.ID()),
		attribute.String("plugin.instance", inst.key),
	))
}

// endSpan records err on span, counts it against the slot and ends the span.
func (h *Host) endSpan(span trace.Span, inst *instance, name slot.Name, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.metrics.RecordBehaviorError(inst.def.ID(), string(name))
	}
	span.End()
}

func (h *Host) lookup(key string) (*instance, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	inst, ok := h.instances[key]
	if !ok {
		return nil, notFound(key)
	}
	return inst, nil
}

// snapshot returns the running instances sorted by key.
func (h *Host) snapshot() []*instance {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*instance, 0, len(h.instances))
	for _, inst := range h.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

// Flush folds the queued messages of an instance into its state with the
// persisted-state reducer and returns the new state. A failing message is
// dropped; messages after it stay queued. Merges made while the reducer runs
// are kept; keys the reducer changed take precedence.
func (h *Host) Flush(ctx context.Context, key string) (plugin.Record, error) {
	h.mu.Lock()
	inst, ok := h.instances[key]
	if !ok {
		h.mu.Unlock()
		return nil, notFound(key)
	}
	queue := inst.queue
	inst.queue = nil
	base := inst.state
	state := base
	h.mu.Unlock()
	// Reducers may modify the map they are given; keep what they started from.
	before := base.Clone()

	ctx, span := h.startSpan(ctx, "plugin.flush", inst)
	span.SetAttributes(attribute.Int("plugin.messages", len(queue)))

	var (
		processed int
		applied   int
		err       error
	)
	for _, msg := range queue {
		next, rerr := inst.def.ReducePersistedState(ctx, state, msg.Method, msg.Data)
		processed++
		if rerr != nil {
			err = oops.In("host").
				With("plugin", inst.def.ID()).
				With("instance", key).
				With("method", msg.Method).
				Wrapf(rerr, "reduce %s", msg.Method)
			break
		}
		state = next
		applied++
	}
	h.endSpan(span, inst, slot.PersistedStateReducer, err)

	h.mu.Lock()
	if processed < len(queue) {
		inst.queue = append(append([]Message(nil), queue[processed:]...), inst.queue...)
	}
	if applied > 0 {
		inst.state = rebase(inst.state, base, before, state)
	}
	current := inst.state
	h.mu.Unlock()

	h.metrics.RecordProcessed(inst.def.ID(), applied)
	if err != nil {
		errutil.LogError(h.logger, "persisted state reducer failed", err)
		return current, err
	}
	return current, nil
}

// Render renders an instance. Fields of props the host owns are replaced:
// the persisted state, its merger and the target.
func (h *Host) Render(ctx context.Context, key string, props plugin.Props) error {
	h.mu.RLock()
	inst, ok := h.instances[key]
	if !ok {
		h.mu.RUnlock()
		return notFound(key)
	}
	bound := h.propsLocked(inst)
	h.mu.RUnlock()

	bound.DeepLinkPayload = props.DeepLinkPayload
	bound.SelectPlugin = props.SelectPlugin
	bound.IsArchivedDevice = props.IsArchivedDevice
	bound.SelectedApp = props.SelectedApp
	bound.SetStaticView = props.SetStaticView
	if props.Logger != nil {
		bound.Logger = props.Logger
	}

	ctx, span := h.startSpan(ctx, "plugin.render", inst)
	err := inst.live.Render(ctx, bound)
	if err != nil {
		err = oops.In("host").With("plugin", inst.def.ID()).With("instance", key).Wrap(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	return err
}

// Notifications returns the active notifications of every running
// instance, ordered by instance key. Instances whose behavior fails are
// skipped and their errors joined into the returned error.
func (h *Host) Notifications(ctx context.Context) ([]InstanceNotification, error) {
	var (
		out  []InstanceNotification
		errs []error
	)
	for _, inst := range h.snapshot() {
		state, err := h.PersistedState(inst.key)
		if err != nil {
			continue
		}

		sctx, span := h.startSpan(ctx, "plugin.notifications", inst)
		notifications, err := inst.def.ActiveNotifications(sctx, state)
		h.endSpan(span, inst, slot.ActiveNotifications, err)
		if err != nil {
			errs = append(errs, err)
			errutil.LogError(h.logger, "active notifications failed", err, "instance", inst.key)
			continue
		}

		for _, n := range notifications {
			out = append(out, InstanceNotification{Instance: inst.key, Plugin: inst.def.ID(), Notification: n})
		}
	}
	return out, errors.Join(errs...)
}

// CollectMetrics runs the metrics reducer of every running instance and
// returns the results keyed by instance. Numeric values are also exported
// as gauges, replacing the gauges of the previous collection.
func (h *Host) CollectMetrics(ctx context.Context) (map[string]plugin.Record, error) {
	out := make(map[string]plugin.Record)
	var errs []error

	for _, inst := range h.snapshot() {
		state, err := h.PersistedState(inst.key)
		if err != nil {
			continue
		}

		sctx, span := h.startSpan(ctx, "plugin.metrics", inst)
		metrics, err := inst.def.Metrics(sctx, state)
		h.endSpan(span, inst, slot.MetricsReducer, err)
		if err != nil {
			errs = append(errs, err)
			errutil.LogError(h.logger, "metrics reducer failed", err, "instance", inst.key)
			continue
		}

		out[inst.key] = metrics
		h.metrics.ForgetInstance(inst.key)
		for name, v := range metrics {
			if f, ok := toFloat(v); ok {
				h.metrics.RecordPluginMetric(inst.def.ID(), inst.key, name, f)
			}
		}
	}
	return out, errors.Join(errs...)
}

// Export produces the exported state of an instance. The host passes
// itself as the store and the instance client's Call as the call function.
func (h *Host) Export(ctx context.Context, key string, idler plugin.Idler, status plugin.StatusFunc) (plugin.Record, error) {
	inst, err := h.lookup(key)
	if err != nil {
		return nil, err
	}
	state, err := h.PersistedState(key)
	if err != nil {
		return nil, err
	}

	ctx, span := h.startSpan(ctx, "plugin.export", inst)
	exported, err := inst.def.ExportPersistedState(ctx, state, inst.client.Call, h, idler, status)
	h.endSpan(span, inst, slot.ExportPersistedState, err)
	if err != nil {
		return nil, oops.In("host").With("plugin", inst.def.ID()).With("instance", key).Wrap(err)
	}
	return exported, nil
}

// RegisterDevice runs the device registration hook of every registered
// plugin. States the hooks set are kept for "<deviceID>#<pluginID>" and
// replace the state of a running instance with that key.
func (h *Host) RegisterDevice(ctx context.Context, device plugin.Device) error {
	set := plugin.DeviceStateSetter(func(key string, state plugin.Record) {
		h.mu.Lock()
		defer h.mu.Unlock()

		h.deviceStates[key] = state
		if inst, ok := h.instances[key]; ok {
			inst.state = state
		}
	})

	var errs []error
	for _, def := range h.Definitions() {
		sctx, span := h.tracer.Start(ctx, "plugin.register_device", trace.WithAttributes(
			attribute.String("plugin.id", def.ID()),
			attribute.String("device.id", device.ID()),
		))
		err := def.RegisterDevice(sctx, h, device, set)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			h.metrics.RecordBehaviorError(def.ID(), string(slot.OnRegisterDevice))
			err = oops.In("host").With("plugin", def.ID()).With("device", device.ID()).Wrap(err)
			errutil.LogError(h.logger, "device registration hook failed", err)
			errs = append(errs, err)
		}
		span.End()
	}

	h.logger.Info("registered device", "device", device.ID(), "os", device.OS())
	return errors.Join(errs...)
}

// DeviceState returns the state stored for key by device registration.
func (h *Host) DeviceState(key string) (plugin.Record, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	state, ok := h.deviceStates[key]
	return state, ok
}

// rebase applies the result of a fold that started from base. When the
// state was merged or replaced during the fold, only the keys the fold
// changed are applied on top of current.
func rebase(current, base, before, folded plugin.Record) plugin.Record {
	if current.Same(base) {
		return folded
	}
	changed, removed := folded.Diff(before)
	next := current.Merge(changed)
	for _, k := range removed {
		delete(next, k)
	}
	return next
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.Bool:
		if rv.Bool() {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
