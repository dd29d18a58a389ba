// Package metrics exposes collector activity as Prometheus metrics.
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

const namespace = "flowscope"

// Render outcomes used as the "result" label.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds all collector metric instruments.
type Metrics struct {
	ConnectionsTotal  prometheus.Counter
	ConnectionsActive prometheus.Gauge
	Requests          *prometheus.CounterVec
	RequestsDropped   prometheus.Counter
	Activities        prometheus.Counter
	Renders           *prometheus.CounterVec
	RenderBytes       prometheus.Histogram

	gatherer prometheus.Gatherer
}

// New creates all metric instruments and registers them with reg.
func New(reg *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Number of accepted client connections.",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of currently connected clients.",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Number of decoded requests by type.",
		}, []string{"type"}),
		RequestsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_dropped_total",
			Help:      "Number of requests dropped because they could not be decoded.",
		}),
		Activities: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activities_total",
			Help:      "Number of activities forwarded to execution traces.",
		}),
		Renders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renders_total",
			Help:      "Number of flame graph renders by result.",
		}, []string{"result"}),
		RenderBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_bytes",
			Help:      "Size of rendered flame graphs in bytes.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		}),
		gatherer: reg,
	}

	for _, c := range []prometheus.Collector{
		m.ConnectionsTotal,
		m.ConnectionsActive,
		m.Requests,
		m.RequestsDropped,
		m.Activities,
		m.Renders,
		m.RenderBytes,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Handler serves the registered metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
