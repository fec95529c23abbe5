package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics covers the ingestion side: document processing runs and
// the parse-job poll loop. It satisfies usecase.SchedulerMetrics.
type WorkerMetrics struct {
	registry    *prometheus.Registry
	serviceName string

	processTotal    *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
	processInFlight prometheus.Gauge

	pollInFlight prometheus.Gauge
	pollTotal    *prometheus.CounterVec
	pollDuration *prometheus.HistogramVec
	backoffDelay prometheus.Histogram
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()
	serviceLabel := prometheus.Labels{"service": service}

	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbdoc",
			Subsystem: "worker",
			Name:      "document_process_total",
			Help:      "Total processed documents by status.",
		},
		[]string{"service", "status"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kbdoc",
			Subsystem: "worker",
			Name:      "document_process_duration_seconds",
			Help:      "Document processing duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "kbdoc",
			Subsystem:   "worker",
			Name:        "document_process_in_flight",
			Help:        "Number of in-flight document processing tasks.",
			ConstLabels: serviceLabel,
		},
	)

	pollInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "kbdoc",
			Subsystem:   "scheduler",
			Name:        "poll_in_flight",
			Help:        "Number of parse-job polls currently running.",
			ConstLabels: serviceLabel,
		},
	)
	pollTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbdoc",
			Subsystem: "scheduler",
			Name:      "poll_total",
			Help:      "Total parse-job polls by outcome.",
		},
		[]string{"service", "outcome"},
	)
	pollDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kbdoc",
			Subsystem: "scheduler",
			Name:      "poll_duration_seconds",
			Help:      "Parse-job poll duration in seconds by outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "outcome"},
	)
	backoffDelay := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   "kbdoc",
			Subsystem:   "scheduler",
			Name:        "backoff_delay_seconds",
			Help:        "Delay applied when rescheduling a failed poll.",
			Buckets:     []float64{60, 120, 240, 480, 960, 1920, 3600},
			ConstLabels: serviceLabel,
		},
	)

	registry.MustRegister(
		processTotal,
		processDuration,
		processInFlight,
		pollInFlight,
		pollTotal,
		pollDuration,
		backoffDelay,
	)

	return &WorkerMetrics{
		registry:        registry,
		serviceName:     service,
		processTotal:    processTotal,
		processDuration: processDuration,
		processInFlight: processInFlight,
		pollInFlight:    pollInFlight,
		pollTotal:       pollTotal,
		pollDuration:    pollDuration,
		backoffDelay:    backoffDelay,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartDocument() {
	m.processInFlight.Inc()
}

func (m *WorkerMetrics) FinishDocument(service string, duration time.Duration, err error) {
	m.processInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}
	m.processTotal.WithLabelValues(service, status).Inc()
	m.processDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) PollStarted() {
	m.pollInFlight.Inc()
}

func (m *WorkerMetrics) PollFinished(outcome string, duration time.Duration) {
	m.pollInFlight.Dec()
	if outcome == "" {
		outcome = "unknown"
	}
	m.pollTotal.WithLabelValues(m.serviceName, outcome).Inc()
	m.pollDuration.WithLabelValues(m.serviceName, outcome).Observe(duration.Seconds())
}

func (m *WorkerMetrics) BackoffScheduled(delay time.Duration) {
	if delay < 0 {
		return
	}
	m.backoffDelay.Observe(delay.Seconds())
}
