// Package metrics exposes the location core counters to Prometheus
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/markus-lassfolk/locationd/pkg/logx"
)

// Collector records location core activity. It implements
// location.Recorder and is safe to use as a nil pointer.
type Collector struct {
	registry *prometheus.Registry

	events          *prometheus.CounterVec
	suppressed      *prometheus.CounterVec
	zoneTransitions *prometheus.CounterVec
	startFailures   *prometheus.CounterVec
	enabled         *prometheus.GaugeVec
	method          *prometheus.GaugeVec
	started         prometheus.Gauge
}

// NewCollector creates a collector with its own registry, including the
// process and Go runtime collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "locationd_events_total",
			Help: "Events delivered to listeners",
		}, []string{"method", "event", "kind"}),
		suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "locationd_updates_suppressed_total",
			Help: "Updates held back by the update interval",
		}, []string{"kind"}),
		zoneTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "locationd_zone_transitions_total",
			Help: "Zone in and zone out transitions",
		}, []string{"transition"}),
		startFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "locationd_provider_start_failures_total",
			Help: "Failed provider starts by error kind",
		}, []string{"method", "reason"}),
		enabled: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "locationd_provider_enabled",
			Help: "Whether a provider currently reports its service enabled (1) or not (0)",
		}, []string{"method"}),
		method: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "locationd_hybrid_method",
			Help: "Source currently selected by the hybrid coordinator (1 for the active one)",
		}, []string{"method"}),
		started: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "locationd_start_time_seconds",
			Help: "Daemon start time in unix seconds",
		}),
	}
	c.started.Set(float64(time.Now().Unix()))
	c.registry.MustRegister(
		c.events,
		c.suppressed,
		c.zoneTransitions,
		c.startFailures,
		c.enabled,
		c.method,
		c.started,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return c
}

// Registry returns the registry the collector writes to
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) EventEmitted(method, event, kind string) {
	if c == nil {
		return
	}
	c.events.WithLabelValues(method, event, kind).Inc()
}

func (c *Collector) UpdateSuppressed(kind string) {
	if c == nil {
		return
	}
	c.suppressed.WithLabelValues(kind).Inc()
}

func (c *Collector) ZoneTransition(transition string) {
	if c == nil {
		return
	}
	c.zoneTransitions.WithLabelValues(transition).Inc()
}

func (c *Collector) ProviderStartFailed(method, reason string) {
	if c == nil {
		return
	}
	c.startFailures.WithLabelValues(method, reason).Inc()
}

func (c *Collector) ProviderEnabled(method string, enabled bool) {
	if c == nil {
		return
	}
	v := 0.0
	if enabled {
		v = 1
	}
	c.enabled.WithLabelValues(method).Set(v)
}

// MethodChanged marks method as the single active hybrid source
func (c *Collector) MethodChanged(method string) {
	if c == nil {
		return
	}
	c.method.Reset()
	c.method.WithLabelValues(method).Set(1)
}

// Server serves /metrics on its own listener
type Server struct {
	collector *Collector
	logger    *logx.Logger
	server    *http.Server
}

// NewServer creates a metrics server for c
func NewServer(c *Collector, logger *logx.Logger) *Server {
	if logger == nil {
		logger = logx.Discard()
	}
	return &Server{collector: c, logger: logger}
}

// Start begins listening on addr
func (s *Server) Start(addr string) error {
	if s.server != nil {
		return fmt.Errorf("metrics server already started")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.collector.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
	s.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		s.logger.Info("metrics_server_started", "addr", addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics_server_failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
