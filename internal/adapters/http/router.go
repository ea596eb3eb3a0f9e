package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kirillkom/document-pipeline/internal/config"
	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/observability/metrics"
)

const (
	serviceName          = "document-pipeline"
	defaultHeartbeat     = 30 * time.Second
	multipartMemoryBytes = 32 << 20
)

// Dependencies are the inbound ports the admin API drives. Nil ports
// disable their routes with 503.
type Dependencies struct {
	Ingest    ports.DocumentIngestor
	Documents ports.DocumentReader
	Queue     ports.QueueController
	Progress  ports.ProgressSource
	Analyzer  ports.FileAnalyzer

	Metrics        *metrics.HTTPServerMetrics
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

type Router struct {
	ingest    ports.DocumentIngestor
	documents ports.DocumentReader
	queue     ports.QueueController
	progress  ports.ProgressSource
	analyzer  ports.FileAnalyzer

	httpMetrics    *metrics.HTTPServerMetrics
	metricsHandler http.Handler
	logger         *slog.Logger

	tempDir          string
	maxUploadBytes   int64
	heartbeat        time.Duration
	rateLimitRPS     float64
	rateLimitBurst   int
	maxInFlight      int
	backpressureWait time.Duration
}

func NewRouter(cfg config.Config, deps Dependencies) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		ingest:           deps.Ingest,
		documents:        deps.Documents,
		queue:            deps.Queue,
		progress:         deps.Progress,
		analyzer:         deps.Analyzer,
		httpMetrics:      deps.Metrics,
		metricsHandler:   deps.MetricsHandler,
		logger:           logger,
		tempDir:          cfg.TempDir,
		maxUploadBytes:   cfg.MaxUploadBytes,
		heartbeat:        defaultHeartbeat,
		rateLimitRPS:     cfg.APIRateLimitRPS,
		rateLimitBurst:   cfg.APIRateLimitBurst,
		maxInFlight:      cfg.APIBackpressureMaxInFlight,
		backpressureWait: cfg.APIBackpressureWait,
	}
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/documents", rt.uploadDocument)
	api.HandleFunc("POST /v1/documents/content", rt.submitContent)
	api.HandleFunc("POST /v1/documents/download", rt.submitDownload)
	api.HandleFunc("GET /v1/documents/{document_id}", rt.getDocument)
	api.HandleFunc("POST /v1/documents/{document_id}/requeue", rt.requeueDocument)
	api.HandleFunc("GET /v1/queue/status", rt.queueStatus)
	api.HandleFunc("POST /v1/queue/process", rt.processQueue)
	api.HandleFunc("POST /v1/analyze", rt.analyzeFile)

	apiRouter, err := loadAPIRouter()
	if err != nil {
		panic(err)
	}
	var limited http.Handler = requestValidationMiddleware(api, apiRouter)
	if rt.maxInFlight > 0 {
		limited = backpressureMiddleware(limited, rt.maxInFlight, rt.backpressureWait)
	}
	if rt.rateLimitRPS > 0 {
		limited = rateLimitMiddleware(limited, rt.rateLimitRPS, rt.rateLimitBurst)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metricsHandler != nil {
		mux.Handle("GET /metrics", rt.metricsHandler)
	}
	// The progress stream is long-lived and stays outside the traffic gates.
	mux.HandleFunc("GET /v1/queue/progress", rt.queueProgress)
	mux.Handle("/v1/", limited)

	var handler http.Handler = mux
	if rt.httpMetrics != nil {
		handler = rt.httpMetrics.Middleware(serviceName, handler)
	}
	return requestIDMiddleware(handler, rt.logger)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if rt.ingest == nil {
		writeUnavailable(w, "ingest")
		return
	}
	file, filename, ok := rt.formFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	doc, err := rt.ingest.Upload(r.Context(), filename, file)
	if err != nil {
		writeError(w, err)
		return
	}
	rt.recordIngest(doc)
	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) submitContent(w http.ResponseWriter, r *http.Request) {
	if rt.ingest == nil {
		writeUnavailable(w, "ingest")
		return
	}
	var req struct {
		Filename string `json:"filename"`
		Content  string `json:"content"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	doc, err := rt.ingest.SubmitContent(r.Context(), req.Filename, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	rt.recordIngest(doc)
	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) submitDownload(w http.ResponseWriter, r *http.Request) {
	if rt.ingest == nil {
		writeUnavailable(w, "ingest")
		return
	}
	var req struct {
		Filename    string `json:"filename"`
		StoragePath string `json:"storage_path"`
		StorageURL  string `json:"storage_url"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	doc, err := rt.ingest.SubmitDownload(r.Context(), req.Filename, req.StoragePath, req.StorageURL)
	if err != nil {
		writeError(w, err)
		return
	}
	rt.recordIngest(doc)
	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	if rt.documents == nil {
		writeUnavailable(w, "documents")
		return
	}
	id, err := documentIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	doc, err := rt.documents.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) requeueDocument(w http.ResponseWriter, r *http.Request) {
	if rt.ingest == nil {
		writeUnavailable(w, "ingest")
		return
	}
	id, err := documentIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	doc, err := rt.ingest.Requeue(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) queueStatus(w http.ResponseWriter, r *http.Request) {
	if rt.queue == nil {
		writeUnavailable(w, "queue")
		return
	}
	status, err := rt.queue.GetQueueStatus(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (rt *Router) processQueue(w http.ResponseWriter, r *http.Request) {
	if rt.queue == nil {
		writeUnavailable(w, "queue")
		return
	}
	// A dropped client must not abort documents halfway through a tick.
	result, err := rt.queue.TriggerManualProcess(context.WithoutCancel(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) analyzeFile(w http.ResponseWriter, r *http.Request) {
	if rt.analyzer == nil {
		writeUnavailable(w, "analyzer")
		return
	}
	file, filename, ok := rt.formFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	dir, err := os.MkdirTemp(rt.tempDir, "analyze-*")
	if err != nil {
		writeError(w, fmt.Errorf("create temp dir: %w", err))
		return
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, uploadName(filename))
	if err := writeFile(path, file); err != nil {
		writeError(w, err)
		return
	}

	result, err := rt.analyzer.AnalyzeFile(r.Context(), path)
	if err != nil {
		writeError(w, err)
		return
	}
	if rt.httpMetrics != nil {
		rt.httpMetrics.RecordAnalyze(serviceName, result.SourceKind, result.Success)
	}
	writeJSON(w, http.StatusOK, result)
}

// formFile reads the "file" multipart field and returns the client filename.
func (rt *Router) formFile(w http.ResponseWriter, r *http.Request) (io.ReadCloser, string, bool) {
	if rt.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, rt.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "upload exceeds size limit"})
			return nil, "", false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return nil, "", false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return nil, "", false
	}
	return file, header.Filename, true
}

func (rt *Router) recordIngest(doc *domain.Document) {
	if rt.httpMetrics != nil && doc != nil {
		rt.httpMetrics.RecordIngest(serviceName, string(doc.SourceType))
	}
}

func uploadName(filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		return "upload.bin"
	}
	return name
}

func writeFile(path string, body io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		return fmt.Errorf("write upload file: %w", err)
	}
	return f.Close()
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	return true
}

func writeUnavailable(w http.ResponseWriter, component string) {
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": component + " is not configured"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
