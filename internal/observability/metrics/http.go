package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPServerMetrics covers the api surface: request accounting plus
// retrieval quality counters for the search endpoint.
type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	searchTotal     *prometheus.CounterVec
	searchHitTotal  *prometheus.CounterVec
	searchEmpty     *prometheus.CounterVec
	searchChunks    *prometheus.HistogramVec
	searchDuration  *prometheus.HistogramVec
	ingestAccepted  *prometheus.CounterVec
	documentsPurged *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbdoc",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kbdoc",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "kbdoc",
			Subsystem:   "http",
			Name:        "in_flight_requests",
			Help:        "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	searchTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbdoc",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total successful search requests.",
		},
		[]string{"service"},
	)
	searchHitTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbdoc",
			Subsystem: "search",
			Name:      "hit_total",
			Help:      "Total search requests returning at least one chunk.",
		},
		[]string{"service"},
	)
	searchEmpty := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbdoc",
			Subsystem: "search",
			Name:      "empty_total",
			Help:      "Total search requests returning no chunks.",
		},
		[]string{"service"},
	)
	searchChunks := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kbdoc",
			Subsystem: "search",
			Name:      "returned_chunks",
			Help:      "Distribution of chunks returned per search request.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service"},
	)
	searchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kbdoc",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Hybrid search duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)
	ingestAccepted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbdoc",
			Subsystem: "ingest",
			Name:      "documents_accepted_total",
			Help:      "Total documents accepted for processing.",
		},
		[]string{"service"},
	)
	documentsPurged := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbdoc",
			Subsystem: "ingest",
			Name:      "documents_purged_total",
			Help:      "Total documents removed from the knowledge base.",
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		searchTotal,
		searchHitTotal,
		searchEmpty,
		searchChunks,
		searchDuration,
		ingestAccepted,
		documentsPurged,
	)

	return &HTTPServerMetrics{
		registry:        registry,
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		requestInFlight: requestInFlight,
		searchTotal:     searchTotal,
		searchHitTotal:  searchHitTotal,
		searchEmpty:     searchEmpty,
		searchChunks:    searchChunks,
		searchDuration:  searchDuration,
		ingestAccepted:  ingestAccepted,
		documentsPurged: documentsPurged,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

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

// normalizePath collapses id-bearing paths so the path label stays low
// cardinality.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/processing/"):
		return "/v1/processing/{request_id}"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordSearch(service string, chunkCount int, duration time.Duration) {
	m.searchTotal.WithLabelValues(service).Inc()
	m.searchChunks.WithLabelValues(service).Observe(float64(chunkCount))
	m.searchDuration.WithLabelValues(service).Observe(duration.Seconds())

	if chunkCount > 0 {
		m.searchHitTotal.WithLabelValues(service).Inc()
		return
	}
	m.searchEmpty.WithLabelValues(service).Inc()
}

func (m *HTTPServerMetrics) RecordDocumentsAccepted(service string, count int) {
	if count <= 0 {
		return
	}
	m.ingestAccepted.WithLabelValues(service).Add(float64(count))
}

func (m *HTTPServerMetrics) RecordDocumentsPurged(service string, count int) {
	if count <= 0 {
		return
	}
	m.documentsPurged.WithLabelValues(service).Add(float64(count))
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
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
