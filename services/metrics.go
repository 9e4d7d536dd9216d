package services

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerMetricsOnce sync.Once

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "codescribe",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	requestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codescribe",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	requestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "codescribe",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "HTTP requests currently being served.",
		},
	)

	pipelineStageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codescribe",
			Subsystem: "pipeline",
			Name:      "stage_total",
			Help:      "Document pipeline stage executions by outcome.",
		},
		[]string{"stage", "outcome"},
	)

	creditsExhaustedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codescribe",
			Subsystem: "credits",
			Name:      "exhausted_total",
			Help:      "Requests rejected because the user had no credits left.",
		},
		[]string{"type"},
	)

	diagramGenerationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codescribe",
			Subsystem: "diagram",
			Name:      "generation_total",
			Help:      "Diagram generations by outcome.",
		},
		[]string{"outcome"},
	)

	fileAnalysisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codescribe",
			Subsystem: "files",
			Name:      "analysis_total",
			Help:      "Per-file analyses by outcome (analyzed, skipped, failed).",
		},
		[]string{"outcome"},
	)
)

func registerMetrics() {
	registerMetricsOnce.Do(func() {
		prometheus.MustRegister(
			requestDuration,
			requestTotal,
			requestsInFlight,
			pipelineStageTotal,
			creditsExhaustedTotal,
			diagramGenerationTotal,
			fileAnalysisTotal,
		)
	})
}

// MetricsMiddleware records latency and counts labelled by chi route pattern.
func MetricsMiddleware(next http.Handler) http.Handler {
	registerMetrics()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestsInFlight.Inc()
		defer requestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := prometheus.Labels{
			"method": r.Method,
			"path":   path,
			"status": strconv.Itoa(status),
		}
		requestDuration.With(labels).Observe(time.Since(start).Seconds())
		requestTotal.With(labels).Inc()
	})
}

// MetricsHandler serves the default registry.
func MetricsHandler() http.Handler {
	registerMetrics()
	return promhttp.Handler()
}
