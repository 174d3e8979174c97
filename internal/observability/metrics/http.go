package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	pipelineRequestsTotal  *prometheus.CounterVec
	pipelineDuration       *prometheus.HistogramVec
	stageDuration          *prometheus.HistogramVec
	namespaceFailuresTotal *prometheus.CounterVec
	rerankSkippedTotal     *prometheus.CounterVec
	belowMinResultsTotal   *prometheus.CounterVec
	returnedCandidates     *prometheus.HistogramVec
	validationTotal        *prometheus.CounterVec
	violationsTotal        *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kqa",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kqa",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kqa",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	pipelineRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kqa",
			Subsystem: "pipeline",
			Name:      "requests_total",
			Help:      "Total completed pipeline runs by persona and status.",
		},
		[]string{"service", "persona", "status"},
	)
	pipelineDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kqa",
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "End-to-end pipeline duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "persona"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kqa",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Per-stage pipeline duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "stage"},
	)
	namespaceFailuresTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kqa",
			Subsystem: "pipeline",
			Name:      "namespace_failures_total",
			Help:      "Total namespace searches that failed during fan-out.",
		},
		[]string{"service", "namespace"},
	)
	rerankSkippedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kqa",
			Subsystem: "pipeline",
			Name:      "rerank_skipped_total",
			Help:      "Total runs that fell back to the primary ranking.",
		},
		[]string{"service"},
	)
	belowMinResultsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kqa",
			Subsystem: "pipeline",
			Name:      "below_min_results_total",
			Help:      "Total runs that returned fewer candidates than the persona minimum.",
		},
		[]string{"service", "persona"},
	)
	returnedCandidates := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kqa",
			Subsystem: "pipeline",
			Name:      "returned_candidates",
			Help:      "Distribution of candidates returned per run.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service", "persona"},
	)
	validationTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kqa",
			Subsystem: "contract",
			Name:      "validations_total",
			Help:      "Total contract validations by outcome.",
		},
		[]string{"service", "outcome"},
	)
	violationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kqa",
			Subsystem: "contract",
			Name:      "violations_total",
			Help:      "Total contract violations by kind.",
		},
		[]string{"service", "kind"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		pipelineRequestsTotal,
		pipelineDuration,
		stageDuration,
		namespaceFailuresTotal,
		rerankSkippedTotal,
		belowMinResultsTotal,
		returnedCandidates,
		validationTotal,
		violationsTotal,
	)

	return &HTTPServerMetrics{
		registry:               registry,
		requestTotal:           requestTotal,
		requestDuration:        requestDuration,
		requestInFlight:        requestInFlight,
		pipelineRequestsTotal:  pipelineRequestsTotal,
		pipelineDuration:       pipelineDuration,
		stageDuration:          stageDuration,
		namespaceFailuresTotal: namespaceFailuresTotal,
		rerankSkippedTotal:     rerankSkippedTotal,
		belowMinResultsTotal:   belowMinResultsTotal,
		returnedCandidates:     returnedCandidates,
		validationTotal:        validationTotal,
		violationsTotal:        violationsTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			r.URL.Path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

func (m *HTTPServerMetrics) RecordPipelineRun(service, persona, status string, duration time.Duration) {
	if persona == "" {
		persona = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	m.pipelineRequestsTotal.WithLabelValues(service, persona, status).Inc()
	m.pipelineDuration.WithLabelValues(service, persona).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) RecordStageDuration(service, stage string, millis int64) {
	if millis < 0 {
		return
	}
	m.stageDuration.WithLabelValues(service, stage).Observe(float64(millis) / 1000)
}

func (m *HTTPServerMetrics) RecordNamespaceFailure(service, namespace string) {
	m.namespaceFailuresTotal.WithLabelValues(service, namespace).Inc()
}

func (m *HTTPServerMetrics) RecordRerankSkipped(service string) {
	m.rerankSkippedTotal.WithLabelValues(service).Inc()
}

func (m *HTTPServerMetrics) RecordBelowMinResults(service, persona string) {
	m.belowMinResultsTotal.WithLabelValues(service, persona).Inc()
}

func (m *HTTPServerMetrics) RecordReturnedCandidates(service, persona string, count int) {
	if persona == "" {
		persona = "unknown"
	}
	m.returnedCandidates.WithLabelValues(service, persona).Observe(float64(count))
}

func (m *HTTPServerMetrics) RecordValidation(service string, violationKinds []string) {
	outcome := "accepted"
	if len(violationKinds) > 0 {
		outcome = "rejected"
	}
	m.validationTotal.WithLabelValues(service, outcome).Inc()
	for _, kind := range violationKinds {
		m.violationsTotal.WithLabelValues(service, kind).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
