// Package monitoring wires Prometheus metrics and OpenTelemetry tracing
// into the rest of the framework. The event bus (dispatch and handler-error
// counters) and the access surface (HTTP metrics and spans) report through
// here; the instruction and span helpers exist but the scheduler and the
// component registry do not call them.
package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects every Prometheus series the daemon exposes. It satisfies
// eventbus.ErrorCounter and eventbus.DispatchObserver so a *Bus can be
// constructed with it directly.
type Metrics struct {
	registry *prometheus.Registry

	eventsDispatchedTotal *prometheus.CounterVec
	handlerErrorsTotal    *prometheus.CounterVec
	dispatchDuration      *prometheus.HistogramVec

	instructionRunsTotal *prometheus.CounterVec
	instructionDuration  *prometheus.HistogramVec

	componentsRegistered prometheus.Gauge
	schedulesRunning     prometheus.Gauge

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	memoryUsageBytes prometheus.Gauge
	goroutineCount   prometheus.Gauge

	mu sync.Mutex
}

// New builds a Metrics collector registered against a fresh Prometheus
// registry, and starts the background system-metrics sampler.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		eventsDispatchedTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pluto_events_dispatched_total",
				Help: "Total number of events posted to the bus, by event type.",
			},
			[]string{"event_type"},
		),
		handlerErrorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pluto_handler_errors_total",
				Help: "Total number of fire-and-forget handler errors, by event type.",
			},
			[]string{"event_type"},
		),
		dispatchDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pluto_dispatch_duration_seconds",
				Help:    "Time spent dispatching an event to its handlers.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event_type"},
		),

		instructionRunsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pluto_instruction_runs_total",
				Help: "Total number of instruction runs, by instruction kind and outcome.",
			},
			[]string{"instruction", "outcome"},
		),
		instructionDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pluto_instruction_duration_seconds",
				Help:    "Duration of instruction runs, by instruction kind.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"instruction"},
		),

		componentsRegistered: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "pluto_components_registered",
				Help: "Current number of components registered on the bus.",
			},
		),
		schedulesRunning: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "pluto_schedules_running",
				Help: "Current number of schedules actively running.",
			},
		),

		httpRequestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pluto_http_requests_total",
				Help: "Total number of access-surface HTTP requests.",
			},
			[]string{"method", "route", "status_code"},
		),
		httpRequestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pluto_http_request_duration_seconds",
				Help:    "Access-surface HTTP request duration.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		memoryUsageBytes: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "pluto_memory_usage_bytes",
				Help: "Bytes of allocated heap objects, as reported by runtime.MemStats.Alloc.",
			},
		),
		goroutineCount: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "pluto_goroutines",
				Help: "Current number of goroutines.",
			},
		),
	}

	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	go m.collectSystemMetrics()

	return m
}

// IncHandlerError implements eventbus.ErrorCounter.
func (m *Metrics) IncHandlerError(eventType string) {
	m.handlerErrorsTotal.WithLabelValues(eventType).Inc()
}

// ObserveDispatch implements eventbus.DispatchObserver.
func (m *Metrics) ObserveDispatch(eventType string, handlerCount int, err error) {
	m.eventsDispatchedTotal.WithLabelValues(eventType).Inc()
	_ = handlerCount
	_ = err
}

// RecordInstructionRun records one completed instruction run.
func (m *Metrics) RecordInstructionRun(instruction, outcome string, duration time.Duration) {
	m.instructionRunsTotal.WithLabelValues(instruction, outcome).Inc()
	m.instructionDuration.WithLabelValues(instruction).Observe(duration.Seconds())
}

// SetComponentsRegistered reports the registry's current component count.
func (m *Metrics) SetComponentsRegistered(n int) {
	m.componentsRegistered.Set(float64(n))
}

// SetSchedulesRunning reports how many schedules are currently executing.
func (m *Metrics) SetSchedulesRunning(n int) {
	m.schedulesRunning.Set(float64(n))
}

func (m *Metrics) collectSystemMetrics() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		m.memoryUsageBytes.Set(float64(stats.Alloc))
		m.goroutineCount.Set(float64(runtime.NumGoroutine()))
	}
}

// Handler returns the Prometheus scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// HTTPMiddleware instruments the access surface's HTTP handlers.
func (m *Metrics) HTTPMiddleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusCapturingWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		status := fmt.Sprintf("%d", wrapped.statusCode)
		m.httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		m.httpRequestDuration.WithLabelValues(r.Method, route).Observe(duration.Seconds())
	})
}

type statusCapturingWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusCapturingWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Server exposes /metrics and /healthz on its own listener, separate from
// the access surface's own HTTP server.
type Server struct {
	metrics *Metrics
	server  *http.Server

	mu sync.Mutex
}

// NewServer builds a metrics server bound to addr.
func NewServer(addr string, metrics *Metrics) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})

	return &Server{
		metrics: metrics,
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start runs the metrics server in the background.
func (s *Server) Start() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("monitoring: metrics server error: %v\n", err)
		}
	}()
}

// Stop shuts the metrics server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
