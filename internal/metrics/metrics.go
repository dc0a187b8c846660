// Package metrics holds the gateway's Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mailgate"

// Metrics counts adapter operations and open protocol sessions.
type Metrics struct {
	Operations *prometheus.CounterVec
	Sessions   *prometheus.GaugeVec
	registry   *prometheus.Registry
}

// New builds collectors registered on a private registry.
func New() *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Gateway operations by name and result.",
		}, []string{"operation", "result"}),
		Sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Open client sessions by protocol.",
		}, []string{"protocol"}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(m.Operations, m.Sessions)
	return m
}

// Observe records one operation outcome. A nil Metrics is a no-op.
func (m *Metrics) Observe(operation string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Operations.WithLabelValues(operation, result).Inc()
}

// SessionOpened increments the active session gauge and returns its release.
func (m *Metrics) SessionOpened(protocol string) func() {
	if m == nil {
		return func() {}
	}
	g := m.Sessions.WithLabelValues(protocol)
	g.Inc()
	return g.Dec
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done. An empty addr disables it.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if addr == "" {
		logger.Debug("metrics addr is empty, not exposing prometheus metrics")
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
