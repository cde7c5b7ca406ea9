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

	ragRequestsTotal      *prometheus.CounterVec
	ragSourceMixTotal     *prometheus.CounterVec
	ragLowConfidenceTotal *prometheus.CounterVec
	ragErrorsTotal        *prometheus.CounterVec
	ragAttempts           *prometheus.HistogramVec
	ragRetrievedDocs      *prometheus.HistogramVec
	ragDuration           *prometheus.HistogramVec
	cacheTotal            *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rag",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rag",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rag",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	ragRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rag",
			Subsystem: "engine",
			Name:      "requests_total",
			Help:      "Total completed query turns by outcome.",
		},
		[]string{"service", "outcome"},
	)
	ragSourceMixTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rag",
			Subsystem: "engine",
			Name:      "source_mix_total",
			Help:      "Total answered turns by retrieval source mix.",
		},
		[]string{"service", "mix"},
	)
	ragLowConfidenceTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rag",
			Subsystem: "engine",
			Name:      "low_confidence_total",
			Help:      "Total turns abandoned below the confidence floor.",
		},
		[]string{"service"},
	)
	ragErrorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rag",
			Subsystem: "engine",
			Name:      "errors_total",
			Help:      "Total pipeline errors by kind.",
		},
		[]string{"service", "kind"},
	)
	ragAttempts := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rag",
			Subsystem: "engine",
			Name:      "retrieval_attempts",
			Help:      "Distribution of retrieval attempts per turn.",
			Buckets:   []float64{1, 2, 3, 4},
		},
		[]string{"service"},
	)
	ragRetrievedDocs := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rag",
			Subsystem: "engine",
			Name:      "retrieved_documents",
			Help:      "Distribution of fused documents per answered turn.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service"},
	)
	ragDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rag",
			Subsystem: "engine",
			Name:      "duration_seconds",
			Help:      "End-to-end query turn duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)
	cacheTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rag",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Total answer cache lookups by result.",
		},
		[]string{"service", "result"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		ragRequestsTotal,
		ragSourceMixTotal,
		ragLowConfidenceTotal,
		ragErrorsTotal,
		ragAttempts,
		ragRetrievedDocs,
		ragDuration,
		cacheTotal,
	)

	return &HTTPServerMetrics{
		registry:              registry,
		requestTotal:          requestTotal,
		requestDuration:       requestDuration,
		requestInFlight:       requestInFlight,
		ragRequestsTotal:      ragRequestsTotal,
		ragSourceMixTotal:     ragSourceMixTotal,
		ragLowConfidenceTotal: ragLowConfidenceTotal,
		ragErrorsTotal:        ragErrorsTotal,
		ragAttempts:           ragAttempts,
		ragRetrievedDocs:      ragRetrievedDocs,
		ragDuration:           ragDuration,
		cacheTotal:            cacheTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := r.URL.Path
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
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// EngineRecorder binds the engine collectors to a fixed service label. The
// monitor reports query turns through it.
type EngineRecorder struct {
	m       *HTTPServerMetrics
	service string
}

func (m *HTTPServerMetrics) Engine(service string) *EngineRecorder {
	return &EngineRecorder{m: m, service: service}
}

func (r *EngineRecorder) RecordQueryTurn(outcome, mix string, docCount, attempts int, duration time.Duration) {
	r.m.RecordQueryTurn(r.service, outcome, mix, docCount, attempts, duration)
}

func (r *EngineRecorder) RecordLowConfidence() {
	r.m.RecordLowConfidence(r.service)
}

func (r *EngineRecorder) RecordPipelineError(kind string) {
	r.m.RecordPipelineError(r.service, kind)
}

func (r *EngineRecorder) RecordCacheLookup(hit bool) {
	r.m.RecordCacheLookup(r.service, hit)
}

func (m *HTTPServerMetrics) RecordQueryTurn(service, outcome, mix string, docCount, attempts int, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.ragRequestsTotal.WithLabelValues(service, outcome).Inc()
	m.ragDuration.WithLabelValues(service).Observe(duration.Seconds())
	if attempts > 0 {
		m.ragAttempts.WithLabelValues(service).Observe(float64(attempts))
	}
	if outcome != "answered" {
		return
	}
	m.ragRetrievedDocs.WithLabelValues(service).Observe(float64(docCount))
	if mix == "" {
		mix = "none"
	}
	m.ragSourceMixTotal.WithLabelValues(service, mix).Inc()
}

func (m *HTTPServerMetrics) RecordLowConfidence(service string) {
	m.ragLowConfidenceTotal.WithLabelValues(service).Inc()
}

func (m *HTTPServerMetrics) RecordPipelineError(service, kind string) {
	if kind == "" {
		kind = "unknown"
	}
	m.ragErrorsTotal.WithLabelValues(service, kind).Inc()
}

func (m *HTTPServerMetrics) RecordCacheLookup(service string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheTotal.WithLabelValues(service, result).Inc()
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

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
