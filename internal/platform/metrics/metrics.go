// Package metrics exposes the orchestrator's Prometheus instrumentation:
// HTTP request metrics plus the job-dispatch and robot-fleet gauges that
// matter for this service, the same registration pattern the teacher used
// for its broader per-domain metric set.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the orchestrator registers.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPActiveRequests  *prometheus.GaugeVec

	JobsSubmittedTotal *prometheus.CounterVec
	JobsTerminalTotal  *prometheus.CounterVec
	JobsInFlight       prometheus.Gauge
	JobQueueDepth      prometheus.Gauge
	DispatchDuration   prometheus.Histogram

	RobotsOnline            prometheus.Gauge
	RobotCapacityInUse      *prometheus.GaugeVec
	KafkaEventsPublished    *prometheus.CounterVec
	KafkaPublishErrorsTotal prometheus.Counter
}

// New creates and registers the orchestrator's metrics against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// registerer across test runs in the same process.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests served by the management API",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPActiveRequests: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_active_requests",
				Help:      "Number of HTTP requests currently being served",
			},
			[]string{"method"},
		),
		JobsSubmittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_submitted_total",
				Help:      "Total number of jobs submitted to the dispatcher",
			},
			[]string{"workflow_id"},
		),
		JobsTerminalTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_terminal_total",
				Help:      "Total number of jobs that reached a terminal state",
			},
			[]string{"state"},
		),
		JobsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "jobs_in_flight",
				Help:      "Number of jobs currently pending, claimed, or running",
			},
		),
		JobQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "job_queue_depth",
				Help:      "Number of jobs waiting in the dispatch queue",
			},
		),
		DispatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_dispatch_duration_seconds",
				Help:      "Time spent selecting a robot and completing the assign/accept handshake",
				Buckets:   []float64{.01, .05, .1, .5, 1, 2, 5, 10},
			},
		),
		RobotsOnline: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "robots_online",
				Help:      "Number of robots currently registered as online",
			},
		),
		RobotCapacityInUse: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "robot_capacity_in_use_ratio",
				Help:      "Fraction of a robot's concurrent job slots in use",
			},
			[]string{"robot_id"},
		),
		KafkaEventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "kafka_events_published_total",
				Help:      "Total number of job/robot lifecycle events published to Kafka",
			},
			[]string{"event_type"},
		),
		KafkaPublishErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "kafka_publish_errors_total",
				Help:      "Total number of failed Kafka event publish attempts",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal, m.HTTPRequestDuration, m.HTTPActiveRequests,
		m.JobsSubmittedTotal, m.JobsTerminalTotal, m.JobsInFlight, m.JobQueueDepth, m.DispatchDuration,
		m.RobotsOnline, m.RobotCapacityInUse,
		m.KafkaEventsPublished, m.KafkaPublishErrorsTotal,
	)
	return m
}

// Handler serves the registered metrics in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// HTTPMiddleware instruments every request with the HTTP* collectors.
func (m *Metrics) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.HTTPActiveRequests.WithLabelValues(r.Method).Inc()
			defer m.HTTPActiveRequests.WithLabelValues(r.Method).Dec()

			wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			status := strconv.Itoa(wrapped.statusCode)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
