package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry          *prometheus.Registry
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	solvesTotal       *prometheus.CounterVec
	solveDuration     prometheus.Histogram
	solveIterations   prometheus.Histogram
	solvesInFlight    prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		solvesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fumes_solves_total",
			Help: "Total optimizations by solver status.",
		}, []string{"status"}),
		solveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fumes_solve_duration_seconds",
			Help:    "Histogram of optimization wall times.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		solveIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fumes_solve_iterations",
			Help:    "Histogram of outer solver iterations per optimization.",
			Buckets: prometheus.LinearBuckets(1, 5, 10),
		}),
		solvesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fumes_solves_in_flight",
			Help: "Optimizations currently running.",
		}),
	}

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpDuration,
		m.solvesTotal,
		m.solveDuration,
		m.solveIterations,
		m.solvesInFlight,
	)
	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SolveStarted()  { m.solvesInFlight.Inc() }
func (m *Metrics) SolveFinished() { m.solvesInFlight.Dec() }

// SolveDone records the outcome of one optimization.
func (m *Metrics) SolveDone(status string, iterations int, elapsed time.Duration) {
	m.solvesTotal.WithLabelValues(status).Inc()
	m.solveDuration.Observe(elapsed.Seconds())
	if iterations > 0 {
		m.solveIterations.Observe(float64(iterations))
	}
}
