package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

const namespace = "docpipe"

// NewRegistry returns a registry with the Go runtime and process collectors
// already registered.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// WorkerMetrics records queue processor activity.
type WorkerMetrics struct {
	service string

	tickTotal       *prometheus.CounterVec
	tickDuration    prometheus.Histogram
	processTotal    *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
	processInFlight prometheus.Gauge
	queueLag        prometheus.Histogram
	eventLag        prometheus.Histogram
	ocrFallback     *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
}

func NewWorkerMetrics(registry prometheus.Registerer, service string) *WorkerMetrics {
	constLabels := prometheus.Labels{"service": service}

	tickTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "queue",
			Name:        "tick_documents_total",
			Help:        "Documents handled by queue ticks by outcome.",
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)
	tickDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "queue",
			Name:        "tick_duration_seconds",
			Help:        "Queue tick duration in seconds.",
			Buckets:     []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			ConstLabels: constLabels,
		},
	)
	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "document_process_total",
			Help:        "Total processed documents by source type and status.",
			ConstLabels: constLabels,
		},
		[]string{"source_type", "status"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "document_process_duration_seconds",
			Help:        "Document processing duration in seconds by source type and status.",
			Buckets:     []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			ConstLabels: constLabels,
		},
		[]string{"source_type", "status"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "document_process_in_flight",
			Help:        "Number of in-flight document processing tasks.",
			ConstLabels: constLabels,
		},
	)
	queueLag := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "queue_lag_seconds",
			Help:        "Delay between document creation and processing start.",
			Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			ConstLabels: constLabels,
		},
	)
	eventLag := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "event_lag_seconds",
			Help:        "Delay between publishing a queued event and receiving it.",
			Buckets:     []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			ConstLabels: constLabels,
		},
	)
	ocrFallback := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "ocr_fallback_total",
			Help:        "Vision OCR fallbacks by whether the OCR text was kept.",
			ConstLabels: constLabels,
		},
		[]string{"applied"},
	)

	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "resilience",
			Name:        "breaker_state",
			Help:        "Circuit breaker state per operation: 0 closed, 1 half-open, 2 open.",
			ConstLabels: constLabels,
		},
		[]string{"operation"},
	)

	registry.MustRegister(tickTotal, tickDuration, processTotal, processDuration, processInFlight, queueLag, eventLag, ocrFallback, breakerState)

	return &WorkerMetrics{
		service:         service,
		tickTotal:       tickTotal,
		tickDuration:    tickDuration,
		processTotal:    processTotal,
		processDuration: processDuration,
		processInFlight: processInFlight,
		queueLag:        queueLag,
		eventLag:        eventLag,
		ocrFallback:     ocrFallback,
		breakerState:    breakerState,
	}
}

func (m *WorkerMetrics) ObserveTick(duration time.Duration, result domain.TickResult) {
	m.tickDuration.Observe(duration.Seconds())
	m.tickTotal.WithLabelValues("completed").Add(float64(result.Completed))
	m.tickTotal.WithLabelValues("failed").Add(float64(result.Failed))
	m.tickTotal.WithLabelValues("skipped").Add(float64(result.Skipped))
}

func (m *WorkerMetrics) StartDocument() {
	m.processInFlight.Inc()
}

func (m *WorkerMetrics) FinishDocument(sourceType string, duration time.Duration, err error) {
	m.processInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.processTotal.WithLabelValues(sourceType, status).Inc()
	m.processDuration.WithLabelValues(sourceType, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.Observe(lag.Seconds())
}

func (m *WorkerMetrics) ObserveEventLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.eventLag.Observe(lag.Seconds())
}

func (m *WorkerMetrics) RecordOCRFallback(applied bool) {
	label := "false"
	if applied {
		label = "true"
	}
	m.ocrFallback.WithLabelValues(label).Inc()
}

// ObserveBreakerState matches resilience.Config.OnStateChange.
func (m *WorkerMetrics) ObserveBreakerState(operation, _, to string) {
	var value float64
	switch to {
	case "half-open":
		value = 1
	case "open":
		value = 2
	}
	m.breakerState.WithLabelValues(operation).Set(value)
}
