// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

// Package observability exports plugin metrics and health probes over HTTP.
package observability

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"

	"github.com/flipkit/flipkit/pkg/errutil"
)

// ReadinessChecker returns whether the service is ready to serve plugins.
type ReadinessChecker func() bool

// Metrics contains the Prometheus metrics exported for running plugins.
type Metrics struct {
	// PluginMetric holds the numeric values produced by metrics reducers.
	PluginMetric      *prometheus.GaugeVec
	MessagesProcessed *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
	BehaviorErrors    *prometheus.CounterVec
}

// NewMetrics creates and registers the plugin metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PluginMetric: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "flipkit_plugin_metric",
				Help: "Numeric values reported by plugin metrics reducers",
			},
			[]string{"plugin", "instance", "metric"},
		),
		MessagesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flipkit_messages_processed_total",
				Help: "Total number of client messages folded into persisted state by plugin",
			},
			[]string{"plugin"},
		),
		MessagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flipkit_messages_dropped_total",
				Help: "Total number of queued messages dropped on overflow by plugin",
			},
			[]string{"plugin"},
		),
		BehaviorErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flipkit_behavior_errors_total",
				Help: "Total number of failed behavior invocations by plugin and slot",
			},
			[]string{"plugin", "slot"},
		),
	}

	reg.MustRegister(m.PluginMetric)
	reg.MustRegister(m.MessagesProcessed)
	reg.MustRegister(m.MessagesDropped)
	reg.MustRegister(m.BehaviorErrors)

	return m
}

// RecordPluginMetric sets the gauge for one metric of an instance.
func (m *Metrics) RecordPluginMetric(pluginID, instance, metric string, value float64) {
	if m == nil {
		return
	}
	m.PluginMetric.WithLabelValues(pluginID, instance, metric).Set(value)
}

// ForgetInstance deletes every plugin metric series of an instance.
func (m *Metrics) ForgetInstance(instance string) {
	if m == nil {
		return
	}
	m.PluginMetric.DeletePartialMatch(prometheus.Labels{"instance": instance})
}

// RecordProcessed counts messages folded into state.
func (m *Metrics) RecordProcessed(pluginID string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MessagesProcessed.WithLabelValues(pluginID).Add(float64(n))
}

// RecordDropped counts messages dropped from a full queue.
func (m *Metrics) RecordDropped(pluginID string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MessagesDropped.WithLabelValues(pluginID).Add(float64(n))
}

// RecordBehaviorError counts a failed behavior invocation.
func (m *Metrics) RecordBehaviorError(pluginID, slot string) {
	if m == nil {
		return
	}
	m.BehaviorErrors.WithLabelValues(pluginID, slot).Inc()
}

// Server serves /metrics, the health probes and any routes mounted with
// Handle.
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	isReady    ReadinessChecker
	routes     map[string]http.Handler
	running    atomic.Bool
}

// NewServer creates an observability server listening on addr ("host:port").
// The server owns a private registry with Go and process collectors plus
// the plugin metrics.
func NewServer(addr string, readinessChecker ReadinessChecker) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	metrics := NewMetrics(registry)

	return &Server{
		addr:     addr,
		registry: registry,
		metrics:  metrics,
		isReady:  readinessChecker,
		routes:   make(map[string]http.Handler),
	}
}

// Handle mounts h at pattern. Routes must be mounted before Start.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.routes[pattern] = h
}

// Registry returns the registry behind /metrics.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)
	for pattern, h := range s.routes {
		mux.Handle(pattern, h)
	}
	return mux
}

// Metrics returns the plugin metrics served by s.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start begins serving /metrics and the health probes. The returned channel
// receives a serve error, if any, and is closed once the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.In("observability").Code("already_running").Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.In("observability").With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errutil.LogError(slog.Default(), "observability server error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the observability server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.In("observability").With("operation", "shutdown").Wrap(err)
		}
	}

	slog.Info("observability server stopped")
	return nil
}

// Addr returns the listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// handleLiveness returns 200 while the process is up.
func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("ok\n"))
}

// handleReadiness returns 200 once plugins are loaded, 503 before.
func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if s.isReady == nil || s.isReady() {
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // health check write error is acceptable, client may disconnect
		w.Write([]byte("ok\n"))
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("not ready\n"))
}
