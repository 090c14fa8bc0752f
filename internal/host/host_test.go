// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

package host_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/flipkit/flipkit/internal/host"
	"github.com/flipkit/flipkit/internal/observability"
	"github.com/flipkit/flipkit/pkg/plugin"
	"github.com/flipkit/flipkit/pkg/plugin/plugintest"
	"github.com/flipkit/flipkit/pkg/slot"
)

func counterDefinition(cfg plugin.Config) *plugin.Definition {
	if cfg.DefaultPersistedState == nil {
		cfg.DefaultPersistedState = plugin.Record{"count": 0}
	}
	if cfg.PersistedStateReducer == nil {
		cfg.PersistedStateReducer = func(state plugin.Record, method string, data any) plugin.Record {
			if method != "inc" {
				return state
			}
			return state.With("count", state.Int("count")+1)
		}
	}
	return plugin.Define("counter", nil, cfg)
}

var _ = Describe("Host", func() {
	var (
		ctx     context.Context
		h       *host.Host
		metrics *observability.Metrics
		client  *plugintest.Client
	)

	BeforeEach(func() {
		ctx = context.Background()
		metrics = observability.NewMetrics(prometheus.NewRegistry())
		var err error
		h, err = host.New(
			host.WithMetrics(metrics),
			host.WithGatekeepers("flipper.*"),
			host.WithTracer(noop.NewTracerProvider().Tracer("test")),
		)
		Expect(err).NotTo(HaveOccurred())
		client = plugintest.NewClient("client-1")
	})

	Describe("New", func() {
		It("rejects invalid gatekeeper patterns", func() {
			_, err := host.New(host.WithGatekeepers("[unclosed"))
			Expect(err).To(HaveOccurred())

			_, err = host.New(host.WithGatekeepers(""))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Register", func() {
		It("rejects duplicate ids", func() {
			Expect(h.Register(counterDefinition(plugin.Config{}))).To(Succeed())
			err := h.Register(counterDefinition(plugin.Config{}))
			Expect(errors.Is(err, host.ErrDuplicatePlugin)).To(BeTrue())
		})

		It("admits plugins whose gatekeeper is enabled", func() {
			Expect(h.Register(counterDefinition(plugin.Config{Gatekeeper: "flipper.network"}))).To(Succeed())
		})

		It("denies plugins whose gatekeeper is not enabled", func() {
			err := h.Register(counterDefinition(plugin.Config{Gatekeeper: "flipper.network.beta"}))
			Expect(errors.Is(err, host.ErrGatekeeperDenied)).To(BeTrue())
			Expect(h.Definitions()).To(BeEmpty())
		})

		It("lists definitions sorted by id", func() {
			Expect(h.Register(plugin.Define("zeta", nil, plugin.Config{}))).To(Succeed())
			Expect(h.Register(plugin.Define("alpha", nil, plugin.Config{}))).To(Succeed())

			var ids []string
			for _, def := range h.Definitions() {
				ids = append(ids, def.ID())
			}
			Expect(ids).To(Equal([]string{"alpha", "zeta"}))

			def, err := h.Definition("alpha")
			Expect(err).NotTo(HaveOccurred())
			Expect(def.ID()).To(Equal("alpha"))

			_, err = h.Definition("missing")
			Expect(errors.Is(err, host.ErrPluginNotFound)).To(BeTrue())
		})
	})

	Describe("instances", func() {
		var (
			def *plugin.Definition
			key string
		)

		BeforeEach(func() {
			def = counterDefinition(plugin.Config{MaxQueueSize: 20})
			Expect(h.Register(def)).To(Succeed())
			var err error
			key, err = h.Start("counter", client)
			Expect(err).NotTo(HaveOccurred())
		})

		It("keys instances by client and plugin", func() {
			Expect(key).To(Equal("client-1#counter"))
			Expect(h.Instances()).To(Equal([]string{"client-1#counter"}))

			again, err := h.Start("counter", client)
			Expect(err).NotTo(HaveOccurred())
			Expect(again).To(Equal(key))
		})

		It("fails to start unknown plugins", func() {
			_, err := h.Start("missing", client)
			Expect(errors.Is(err, host.ErrPluginNotFound)).To(BeTrue())
		})

		It("starts from a copy of the default state", func() {
			state, err := h.PersistedState(key)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(Equal(plugin.Record{"count": 0}))

			Expect(h.Deliver(key, "inc", nil)).To(Succeed())
			_, err = h.Flush(ctx, key)
			Expect(err).NotTo(HaveOccurred())
			Expect(def.DefaultPersistedState()).To(Equal(plugin.Record{"count": 0}))
		})

		It("folds queued messages through the reducer", func() {
			for range 3 {
				Expect(h.Deliver(key, "inc", nil)).To(Succeed())
			}
			Expect(h.Deliver(key, "noop", nil)).To(Succeed())
			Expect(h.Pending(key)).To(Equal(4))

			state, err := h.Flush(ctx, key)
			Expect(err).NotTo(HaveOccurred())
			Expect(state.Int("count")).To(Equal(3))
			Expect(h.Pending(key)).To(Equal(0))
			Expect(testutil.ToFloat64(metrics.MessagesProcessed.WithLabelValues("counter"))).To(Equal(4.0))
		})

		It("drops the oldest tenth of a full queue", func() {
			for i := range 21 {
				Expect(h.Deliver(key, "msg", i)).To(Succeed())
			}
			Expect(h.Pending(key)).To(Equal(19))
			Expect(testutil.ToFloat64(metrics.MessagesDropped.WithLabelValues("counter"))).To(Equal(2.0))
		})

		It("drops at least one message from a small full queue", func() {
			small := plugin.Define("small", nil, plugin.Config{MaxQueueSize: 3})
			Expect(h.Register(small)).To(Succeed())
			k, err := h.Start("small", client)
			Expect(err).NotTo(HaveOccurred())

			var seen []any
			small.Setters().SetPersistedStateReducer(func(state plugin.Record, _ string, data any) plugin.Record {
				seen = append(seen, data)
				return state
			})
			for i := range 4 {
				Expect(h.Deliver(k, "msg", i)).To(Succeed())
			}
			Expect(h.Pending(k)).To(Equal(3))

			_, err = h.Flush(ctx, k)
			Expect(err).NotTo(HaveOccurred())
			Expect(seen).To(Equal([]any{1, 2, 3}))
		})

		It("drops a failing message and keeps the rest queued", func() {
			def.Setters().SetPersistedStateReducer(func(state plugin.Record, method string) (plugin.Record, error) {
				if method == "bad" {
					return nil, errors.New("boom")
				}
				return state.With("count", state.Int("count")+1), nil
			})
			Expect(h.Deliver(key, "inc", nil)).To(Succeed())
			Expect(h.Deliver(key, "bad", nil)).To(Succeed())
			Expect(h.Deliver(key, "inc", nil)).To(Succeed())

			state, err := h.Flush(ctx, key)
			Expect(err).To(MatchError(ContainSubstring("boom")))
			Expect(state.Int("count")).To(Equal(1))
			Expect(h.Pending(key)).To(Equal(1))
			Expect(testutil.ToFloat64(metrics.BehaviorErrors.WithLabelValues("counter", "persistedStateReducer"))).To(Equal(1.0))

			state, err = h.Flush(ctx, key)
			Expect(err).NotTo(HaveOccurred())
			Expect(state.Int("count")).To(Equal(2))
		})

		It("keeps merges made while the reducer runs", func() {
			def.Setters().SetPersistedStateReducer(func(state plugin.Record, method string) plugin.Record {
				props, err := h.Props(key)
				Expect(err).NotTo(HaveOccurred())
				props.SetPersistedState.MergePersistedState(plugin.Record{"selected": "row-1"})
				return state.With("count", state.Int("count")+1)
			})
			Expect(h.Deliver(key, "inc", nil)).To(Succeed())

			state, err := h.Flush(ctx, key)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(Equal(plugin.Record{"count": 1, "selected": "row-1"}))
		})

		It("lets the reducer win keys it changed during a concurrent merge", func() {
			def.Setters().SetPersistedStateReducer(func(state plugin.Record) plugin.Record {
				props, err := h.Props(key)
				Expect(err).NotTo(HaveOccurred())
				props.SetPersistedState.MergePersistedState(plugin.Record{"count": 40, "label": "x"})
				return state.With("count", 7)
			})
			Expect(h.Deliver(key, "inc", nil)).To(Succeed())

			state, err := h.Flush(ctx, key)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(Equal(plugin.Record{"count": 7, "label": "x"}))
		})

		It("keeps device states set while the reducer runs", func() {
			def.Setters().SetOnRegisterDevice(func(_ any, device plugin.Device, set plugin.DeviceStateSetter) {
				set(device.ID()+"#counter", plugin.Record{"count": 0, "device": device.ID()})
			})
			def.Setters().SetPersistedStateReducer(func(state plugin.Record) plugin.Record {
				Expect(h.RegisterDevice(ctx, plugintest.Device{Serial: "client-1", Platform: "Android"})).To(Succeed())
				return state.With("count", state.Int("count")+1)
			})
			Expect(h.Deliver(key, "inc", nil)).To(Succeed())

			state, err := h.Flush(ctx, key)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(Equal(plugin.Record{"count": 1, "device": "client-1"}))
		})

		It("merges partial state through a stable merger", func() {
			first, err := h.Props(key)
			Expect(err).NotTo(HaveOccurred())
			first.SetPersistedState.MergePersistedState(plugin.Record{"label": "x"})

			second, err := h.Props(key)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.SetPersistedState).To(BeIdenticalTo(first.SetPersistedState))
			Expect(second.PersistedState).To(Equal(plugin.Record{"count": 0, "label": "x"}))
			Expect(first.PersistedState).To(Equal(plugin.Record{"count": 0}))
		})

		It("renders with host-bound props and a stable accessor", func() {
			var accessors []*plugin.Accessor
			content := plugin.Content(func(ctx context.Context) error {
				pc, ok := plugin.FromContext(ctx)
				Expect(ok).To(BeTrue())
				Expect(pc.ID).To(Equal("rendered"))
				Expect(pc.DeepLinkPayload).To(Equal("deep"))
				Expect(pc.Target.ID()).To(Equal("client-1"))
				accessors = append(accessors, pc.Accessor())
				return nil
			})
			rendered := plugin.Define("rendered", content, plugin.Config{DefaultPersistedState: plugin.Record{"n": 1}})
			Expect(h.Register(rendered)).To(Succeed())
			k, err := h.Start("rendered", client)
			Expect(err).NotTo(HaveOccurred())

			Expect(h.Render(ctx, k, plugin.Props{DeepLinkPayload: "deep"})).To(Succeed())
			Expect(h.Render(ctx, k, plugin.Props{DeepLinkPayload: "deep"})).To(Succeed())
			Expect(accessors).To(HaveLen(2))
			Expect(accessors[1]).To(BeIdenticalTo(accessors[0]))

			_, set := accessors[0].Key("n")
			Expect(set(func(n int) int { return n + 1 })).To(Succeed())
			Expect(h.Render(ctx, k, plugin.Props{DeepLinkPayload: "deep"})).To(Succeed())
			Expect(accessors[2]).NotTo(BeIdenticalTo(accessors[0]))

			state, err := h.PersistedState(k)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(Equal(plugin.Record{"n": 2}))
		})

		It("reports missing instances", func() {
			for _, err := range []error{
				h.Deliver("nope", "inc", nil),
				h.Stop("nope"),
				h.Render(ctx, "nope", plugin.Props{}),
			} {
				Expect(errors.Is(err, host.ErrInstanceNotFound)).To(BeTrue())
			}
			_, err := h.Flush(ctx, "nope")
			Expect(errors.Is(err, host.ErrInstanceNotFound)).To(BeTrue())
			_, err = h.PersistedState("nope")
			Expect(errors.Is(err, host.ErrInstanceNotFound)).To(BeTrue())
		})

		It("stops instances", func() {
			Expect(h.Stop(key)).To(Succeed())
			Expect(h.Instances()).To(BeEmpty())
		})
	})

	Describe("derived data", func() {
		It("collects notifications from every instance", func() {
			def := counterDefinition(plugin.Config{
				GetActiveNotifications: func(state plugin.Record) []plugin.Notification {
					if state.Int("count") == 0 {
						return nil
					}
					return []plugin.Notification{{ID: "n1", Title: "Counted", Severity: plugin.SeverityWarning}}
				},
			})
			Expect(h.Register(def)).To(Succeed())
			k1, err := h.Start("counter", plugintest.NewClient("a"))
			Expect(err).NotTo(HaveOccurred())
			_, err = h.Start("counter", plugintest.NewClient("b"))
			Expect(err).NotTo(HaveOccurred())

			Expect(h.Deliver(k1, "inc", nil)).To(Succeed())
			_, err = h.Flush(ctx, k1)
			Expect(err).NotTo(HaveOccurred())

			notifications, err := h.Notifications(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(notifications).To(HaveLen(1))
			Expect(notifications[0].Instance).To(Equal("a#counter"))
			Expect(notifications[0].Plugin).To(Equal("counter"))
			Expect(notifications[0].ID).To(Equal("n1"))
		})

		It("exports numeric metrics as gauges", func() {
			def := counterDefinition(plugin.Config{})
			Expect(h.Register(def)).To(Succeed())
			k, err := h.Start("counter", client)
			Expect(err).NotTo(HaveOccurred())

			def.Setters().SetMetricsReducer(func(state plugin.Record) plugin.Record {
				return plugin.Record{"count": state.Int("count") * 10, "label": "text", "ready": true}
			})
			Expect(h.Deliver(k, "inc", nil)).To(Succeed())
			_, err = h.Flush(ctx, k)
			Expect(err).NotTo(HaveOccurred())

			all, err := h.CollectMetrics(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveKeyWithValue(k, plugin.Record{"count": 10, "label": "text", "ready": true}))
			Expect(testutil.ToFloat64(metrics.PluginMetric.WithLabelValues("counter", k, "count"))).To(Equal(10.0))
			Expect(testutil.ToFloat64(metrics.PluginMetric.WithLabelValues("counter", k, "ready"))).To(Equal(1.0))
			Expect(testutil.CollectAndCount(metrics.PluginMetric)).To(Equal(2))
		})

		It("drops gauges a reducer no longer reports", func() {
			def := counterDefinition(plugin.Config{})
			Expect(h.Register(def)).To(Succeed())
			k, err := h.Start("counter", client)
			Expect(err).NotTo(HaveOccurred())

			def.Setters().SetMetricsReducer(plugin.Record{"count": 1, "errors": 2})
			_, err = h.CollectMetrics(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(testutil.CollectAndCount(metrics.PluginMetric)).To(Equal(2))

			def.Setters().SetMetricsReducer(plugin.Record{"count": 3})
			_, err = h.CollectMetrics(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(testutil.CollectAndCount(metrics.PluginMetric)).To(Equal(1))
			Expect(testutil.ToFloat64(metrics.PluginMetric.WithLabelValues("counter", k, "count"))).To(Equal(3.0))
		})

		It("deletes the gauges of stopped instances", func() {
			Expect(h.Register(counterDefinition(plugin.Config{}))).To(Succeed())
			k1, err := h.Start("counter", plugintest.NewClient("a"))
			Expect(err).NotTo(HaveOccurred())
			_, err = h.Start("counter", plugintest.NewClient("b"))
			Expect(err).NotTo(HaveOccurred())

			_, err = h.CollectMetrics(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(testutil.CollectAndCount(metrics.PluginMetric)).To(Equal(2))

			Expect(h.Stop(k1)).To(Succeed())
			Expect(testutil.CollectAndCount(metrics.PluginMetric)).To(Equal(1))
			Expect(testutil.ToFloat64(metrics.PluginMetric.WithLabelValues("counter", "b#counter", "count"))).To(Equal(0.0))
		})

		It("returns state as metrics when no reducer is installed", func() {
			Expect(h.Register(counterDefinition(plugin.Config{}))).To(Succeed())
			k, err := h.Start("counter", client)
			Expect(err).NotTo(HaveOccurred())

			all, err := h.CollectMetrics(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(all[k]).To(Equal(plugin.Record{"count": 0}))
		})

		It("joins metrics errors and keeps other instances", func() {
			failing := plugin.Define("failing", nil, plugin.Config{
				MetricsReducer: func(context.Context, plugin.Record) (plugin.Record, error) {
					return nil, errors.New("metrics down")
				},
			})
			Expect(h.Register(failing)).To(Succeed())
			Expect(h.Register(counterDefinition(plugin.Config{}))).To(Succeed())
			_, err := h.Start("failing", client)
			Expect(err).NotTo(HaveOccurred())
			ok, err := h.Start("counter", client)
			Expect(err).NotTo(HaveOccurred())

			all, err := h.CollectMetrics(ctx)
			Expect(err).To(MatchError(ContainSubstring("metrics down")))
			Expect(all).To(HaveKey(ok))
			Expect(all).To(HaveLen(1))
		})

		It("exports state through the client", func() {
			def := counterDefinition(plugin.Config{
				ExportPersistedState: func(ctx context.Context, state plugin.Record, call plugin.CallFunc, store any, _ plugin.Idler, _ plugin.StatusFunc) (plugin.Record, error) {
					Expect(store).To(BeAssignableToTypeOf(&host.Host{}))
					extra, err := call(ctx, "dump", nil)
					if err != nil {
						return nil, err
					}
					return state.With("dump", extra), nil
				},
			})
			Expect(h.Register(def)).To(Succeed())
			client.Respond("dump", "payload")
			k, err := h.Start("counter", client)
			Expect(err).NotTo(HaveOccurred())

			exported, err := h.Export(ctx, k, nil, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(exported).To(Equal(plugin.Record{"count": 0, "dump": "payload"}))
			Expect(client.Calls()).To(HaveLen(1))
		})

		It("exports state unchanged without an export behavior", func() {
			Expect(h.Register(counterDefinition(plugin.Config{}))).To(Succeed())
			k, err := h.Start("counter", client)
			Expect(err).NotTo(HaveOccurred())

			exported, err := h.Export(ctx, k, nil, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(exported).To(Equal(plugin.Record{"count": 0}))
		})
	})

	Describe("RegisterDevice", func() {
		It("stores states set by registration hooks", func() {
			def := counterDefinition(plugin.Config{
				OnRegisterDevice: func(_ any, device plugin.Device, set plugin.DeviceStateSetter) {
					if device.OS() == "Android" {
						set(host.InstanceKey(device.ID(), "counter"), plugin.Record{"count": 7})
					}
				},
			})
			Expect(h.Register(def)).To(Succeed())
			device := plugintest.Device{Serial: "emulator-5554", Platform: "Android"}

			Expect(h.RegisterDevice(ctx, device)).To(Succeed())
			state, ok := h.DeviceState("emulator-5554#counter")
			Expect(ok).To(BeTrue())
			Expect(state).To(Equal(plugin.Record{"count": 7}))

			k, err := h.Start("counter", plugintest.NewClient(device.ID()))
			Expect(err).NotTo(HaveOccurred())
			current, err := h.PersistedState(k)
			Expect(err).NotTo(HaveOccurred())
			Expect(current).To(Equal(plugin.Record{"count": 7}))
		})

		It("runs every plugin's hook even when one fails", func() {
			var calls []string
			for _, id := range []string{"a", "b"} {
				def := plugin.Define(id, nil, plugin.Config{})
				def.Setters().SetOnRegisterDevice(func() error {
					calls = append(calls, id)
					if id == "a" {
						return errors.New("hook failed")
					}
					return nil
				})
				Expect(h.Register(def)).To(Succeed())
			}

			err := h.RegisterDevice(ctx, plugintest.Device{Serial: "d"})
			Expect(err).To(MatchError(ContainSubstring("hook failed")))
			Expect(calls).To(Equal([]string{"a", "b"}))
			Expect(testutil.ToFloat64(metrics.BehaviorErrors.WithLabelValues("a", string(slot.OnRegisterDevice)))).To(Equal(1.0))
		})
	})
})
