// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

package host

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/flipkit/flipkit/internal/observability"
	"github.com/flipkit/flipkit/pkg/plugin"
)

// Sentinel errors returned (wrapped) by Host operations.
var (
	ErrPluginNotFound   = errors.New("plugin not found")
	ErrInstanceNotFound = errors.New("instance not found")
	ErrDuplicatePlugin  = errors.New("plugin already registered")
	ErrGatekeeperDenied = errors.New("gatekeeper not enabled")
)

// dropDivisor sets the share of a full queue dropped on overflow (1/10th).
const dropDivisor = 10

// Message is a client message waiting for the persisted-state reducer.
type Message struct {
	Method string `json:"method" yaml:"method"`
	Data   any    `json:"data,omitempty" yaml:"data,omitempty"`
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithGatekeepers enables the gatekeepers matching the given glob patterns.
// Patterns use '.' as the segment separator.
func WithGatekeepers(patterns ...string) Option {
	return func(h *Host) {
		h.patterns = append(h.patterns, patterns...)
	}
}

// WithMetrics records plugin metrics and queue counters into m.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Host) {
		h.metrics = m
	}
}

// WithTracer sets the tracer used for behavior spans.
func WithTracer(t trace.Tracer) Option {
	return func(h *Host) {
		if t != nil {
			h.tracer = t
		}
	}
}

// Host runs plugin definitions in process.
//
// Host is safe for concurrent use. Behaviors are never invoked while the
// host lock is held, so they may call back into the host.
type Host struct {
	logger      *slog.Logger
	tracer      trace.Tracer
	metrics     *observability.Metrics
	patterns    []string
	gatekeepers []glob.Glob

	mu           sync.RWMutex
	defs         map[string]*plugin.Definition
	instances    map[string]*instance
	deviceStates map[string]plugin.Record
}

// instance is one definition attached to one client.
type instance struct {
	key    string
	def    *plugin.Definition
	live   *plugin.Instance
	client plugin.Client
	merger *stateMerger
	state  plugin.Record
	queue  []Message
}

// stateMerger merges partial updates into an instance's state. One merger
// exists per instance for its whole life.
type stateMerger struct {
	h   *Host
	key string
}

// MergePersistedState shallowly merges partial and replaces the state map.
func (m *stateMerger) MergePersistedState(partial plugin.Record) {
	m.h.mu.Lock()
	defer m.h.mu.Unlock()

	if inst, ok := m.h.instances[m.key]; ok {
		inst.state = inst.state.Merge(partial)
	}
}

// New creates a host. It fails if a gatekeeper pattern does not compile.
func New(opts ...Option) (*Host, error) {
	h := &Host{
		logger:       slog.Default(),
		tracer:       otel.Tracer("flipkit/host"),
		defs:         make(map[string]*plugin.Definition),
		instances:    make(map[string]*instance),
		deviceStates: make(map[string]plugin.Record),
	}
	for _, opt := range opts {
		opt(h)
	}

	for i, pattern := range h.patterns {
		if pattern == "" {
			return nil, oops.In("host").Code("invalid_gatekeeper").With("index", i).Errorf("empty gatekeeper pattern")
		}
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return nil, oops.In("host").Code("invalid_gatekeeper").With("pattern", pattern).Wrap(err)
		}
		h.gatekeepers = append(h.gatekeepers, g)
	}

	return h, nil
}

// GatekeeperEnabled reports whether name matches an enabled gatekeeper.
func (h *Host) GatekeeperEnabled(name string) bool {
	for _, g := range h.gatekeepers {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// Register adds def to the host.
func (h *Host) Register(def *plugin.Definition) error {
	if gk := def.Gatekeeper(); gk != "" && !h.GatekeeperEnabled(gk) {
		return oops.In("host").
			With("plugin", def.ID()).
			With("gatekeeper", gk).
			Wrapf(ErrGatekeeperDenied, "register %s", def.ID())
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.defs[def.ID()]; ok {
		return oops.In("host").With("plugin", def.ID()).Wrapf(ErrDuplicatePlugin, "register %s", def.ID())
	}
	h.defs[def.ID()] = def

	h.logger.Info("registered plugin",
		"plugin", def.ID(),
		"title", def.Title(),
		"max_queue_size", def.MaxQueueSize())
	return nil
}

// Definition returns the registered definition with the given id.
func (h *Host) Definition(id string) (*plugin.Definition, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	def, ok := h.defs[id]
	if !ok {
		return nil, oops.In("host").With("plugin", id).Wrapf(ErrPluginNotFound, "plugin %s", id)
	}
	return def, nil
}

// Definitions returns the registered definitions sorted by id.
func (h *Host) Definitions() []*plugin.Definition {
	h.mu.RLock()
	defer h.mu.RUnlock()

	defs := make([]*plugin.Definition, 0, len(h.defs))
	for _, def := range h.defs {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID() < defs[j].ID() })
	return defs
}

// Start attaches the plugin to client and returns the instance key. The
// instance state starts from the state stored for the key by device
// registration, or else from a copy of the plugin's default state.
// Starting an instance that is already running returns its key.
func (h *Host) Start(pluginID string, client plugin.Client) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	def, ok := h.defs[pluginID]
	if !ok {
		return "", oops.In("host").With("plugin", pluginID).Wrapf(ErrPluginNotFound, "start %s", pluginID)
	}

	key := InstanceKey(client.ID(), pluginID)
	if _, running := h.instances[key]; running {
		return key, nil
	}

	state, stored := h.deviceStates[key]
	if !stored {
		state = def.DefaultPersistedState()
	}

	h.instances[key] = &instance{
		key:    key,
		def:    def,
		live:   def.NewInstance(client),
		client: client,
		merger: &stateMerger{h: h, key: key},
		state:  state,
	}

	h.logger.Debug("started plugin instance", "plugin", pluginID, "instance", key)
	return key, nil
}

// Stop detaches an instance, discards its queue and deletes its gauges.
func (h *Host) Stop(key string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.instances[key]; !ok {
		return notFound(key)
	}
	delete(h.instances, key)
	h.metrics.ForgetInstance(key)
	h.logger.Debug("stopped plugin instance", "instance", key)
	return nil
}

// Instances returns the keys of running instances, sorted.
func (h *Host) Instances() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	keys := make([]string, 0, len(h.instances))
	for key := range h.instances {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// PersistedState returns the current state of an instance. The returned
// Record must not be modified.
func (h *Host) PersistedState(key string) (plugin.Record, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	inst, ok := h.instances[key]
	if !ok {
		return nil, notFound(key)
	}
	return inst.state, nil
}

// Props returns the host-bound props of an instance: its current state,
// its merger, its client and a logger scoped to it.
func (h *Host) Props(key string) (plugin.Props, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	inst, ok := h.instances[key]
	if !ok {
		return plugin.Props{}, notFound(key)
	}
	return h.propsLocked(inst), nil
}

func (h *Host) propsLocked(inst *instance) plugin.Props {
	return plugin.Props{
		Logger:            h.logger.With("plugin", inst.def.ID(), "instance", inst.key),
		PersistedState:    inst.state,
		SetPersistedState: inst.merger,
		Target:            inst.client,
	}
}

// Deliver queues a message for an instance. When the queue grows past the
// plugin's MaxQueueSize the oldest tenth of it, at least one message, is
// dropped.
func (h *Host) Deliver(key, method string, data any) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	inst, ok := h.instances[key]
	if !ok {
		return notFound(key)
	}

	inst.queue = append(inst.queue, Message{Method: method, Data: data})

	limit := inst.def.MaxQueueSize()
	if len(inst.queue) <= limit {
		return nil
	}

	drop := max(limit/dropDivisor, 1, len(inst.queue)-limit)
	drop = min(drop, len(inst.queue))
	inst.queue = append([]Message(nil), inst.queue[drop:]...)

	h.metrics.RecordDropped(inst.def.ID(), drop)
	h.logger.Warn("plugin message queue overflow",
		"plugin", inst.def.ID(),
		"instance", key,
		"dropped", drop,
		"limit", limit)
	return nil
}

// Pending returns the number of queued messages of an instance.
func (h *Host) Pending(key string) (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	inst, ok := h.instances[key]
	if !ok {
		return 0, notFound(key)
	}
	return len(inst.queue), nil
}

func notFound(key string) error {
	return oops.In("host").With("instance", key).Wrapf(ErrInstanceNotFound, "instance %s", key)
}
