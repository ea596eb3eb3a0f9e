package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPServerMetrics covers the admin API: generic request metrics plus
// per-route business counters for ingest and synchronous analysis.
type HTTPServerMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inFlight prometheus.Gauge

	ingested *prometheus.CounterVec
	analyzed *prometheus.CounterVec
}

func NewHTTPServerMetrics(registry prometheus.Registerer, service string) *HTTPServerMetrics {
	factory := promauto.With(registry)
	return &HTTPServerMetrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Admin API requests by route and status code.",
		}, []string{"service", "method", "path", "status"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin API request latency by route.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 1, 2.5, 10, 30, 120},
		}, []string{"service", "method", "path"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "in_flight_requests",
			Help:        "Admin API requests currently being served.",
			ConstLabels: prometheus.Labels{"service": service},
		}),
		ingested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Documents accepted through the admin API by source type.",
		}, []string{"service", "source_type"}),
		analyzed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analyze",
			Name:      "files_total",
			Help:      "Synchronous file analyses by source kind and outcome.",
		}, []string{"service", "source_kind", "success"}),
	}
}

// Middleware records every request under its route pattern. The pattern is
// read after the inner ServeMux has matched, so document ids never become
// label values.
func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := routeLabel(r)
		m.requests.WithLabelValues(service, r.Method, route, strconv.Itoa(sw.status)).Inc()
		m.latency.WithLabelValues(service, r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func routeLabel(r *http.Request) string {
	if pattern := r.Pattern; pattern != "" && pattern != "/v1/" {
		if _, path, ok := strings.Cut(pattern, " "); ok {
			return path
		}
		return pattern
	}
	return templatePath(r.URL.Path)
}

// templatePath is the fallback for requests no route matched.
func templatePath(path string) string {
	rest, ok := strings.CutPrefix(path, "/v1/documents/")
	if !ok || rest == "content" || rest == "download" {
		return path
	}
	if strings.HasSuffix(rest, "/requeue") {
		return "/v1/documents/{document_id}/requeue"
	}
	return "/v1/documents/{document_id}"
}

func (m *HTTPServerMetrics) RecordIngest(service, sourceType string) {
	m.ingested.WithLabelValues(service, sourceType).Inc()
}

func (m *HTTPServerMetrics) RecordAnalyze(service, sourceKind string, success bool) {
	if sourceKind == "" {
		sourceKind = "unknown"
	}
	m.analyzed.WithLabelValues(service, sourceKind, strconv.FormatBool(success)).Inc()
}

// statusWriter keeps http.Flusher reachable so the progress stream works
// through the middleware.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
