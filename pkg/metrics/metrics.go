// Package metrics defines the Prometheus collectors of the highlight
// service and serves them for scraping.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal       *prometheus.CounterVec
	HTTPRequestDuration     *prometheus.HistogramVec
	HTTPRequestsInFlight    prometheus.Gauge
	HighlightsTotal         *prometheus.CounterVec
	HighlightLatency        *prometheus.HistogramVec
	PassagesPerHighlight    prometheus.Histogram
	MatchesPerHighlight     prometheus.Histogram
	BatchSize               prometheus.Histogram
	CacheHitsTotal          prometheus.Counter
	CacheMissesTotal        prometheus.Counter
	CacheInvalidationsTotal prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, route, and status.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		HighlightsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "highlights_total",
				Help: "Total highlights by outcome (highlighted, no_match, error).",
			},
			[]string{"outcome"},
		),
		HighlightLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "highlight_latency_seconds",
				Help:    "Highlight latency in seconds.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
			},
			[]string{"cache_status"},
		),
		PassagesPerHighlight: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "highlight_passages",
				Help:    "Number of passages returned per highlight.",
				Buckets: []float64{0, 1, 2, 3, 5, 10},
			},
		),
		MatchesPerHighlight: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "highlight_matches",
				Help:    "Number of term matches found per highlight.",
				Buckets: []float64{0, 1, 5, 10, 50, 100, 1000},
			},
		),
		BatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "highlight_batch_documents",
				Help:    "Number of documents per batch highlight request.",
				Buckets: []float64{1, 5, 10, 25, 50, 100},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "highlight_cache_hits_total",
				Help: "Total number of highlight cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "highlight_cache_misses_total",
				Help: "Total number of highlight cache misses.",
			},
		),
		CacheInvalidationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "highlight_cache_invalidations_total",
				Help: "Total number of cache invalidation requests applied.",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.HighlightsTotal,
		m.HighlightLatency,
		m.PassagesPerHighlight,
		m.MatchesPerHighlight,
		m.BatchSize,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheInvalidationsTotal,
	)

	return m
}

// StartServer serves /metrics from gatherer on its own port and returns the
// server's shutdown function.
func StartServer(port int, gatherer prometheus.Gatherer) (shutdown func(context.Context) error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("metrics server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()

	return server.Shutdown
}
