package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/document-pipeline/internal/config"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/core/usecase"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/archive"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/filetype"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/llm/prompts"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/llm/structured"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/llm/vertex"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/lock/redislock"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/pdfpages"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/queue/nats"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/storage/gcs"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/storage/remote"
	"github.com/kirillkom/document-pipeline/internal/observability/metrics"
)

const serviceName = "document-pipeline"

type App struct {
	Config config.Config

	Registry      *prometheus.Registry
	WorkerMetrics *metrics.WorkerMetrics
	HTTPMetrics   *metrics.HTTPServerMetrics

	MessageQueue ports.MessageQueue
	Repo         ports.DocumentRepository
	IngestUC     ports.DocumentIngestor
	ProcessUC    ports.DocumentProcessor
	AnalyzeUC    ports.FileAnalyzer
	Queue        *usecase.QueueProcessor
	Progress     *usecase.ProgressBroadcaster

	closers []func()
}

// New wires the full worker: database, storage, AI provider, queue and
// the background processor. Partially built resources are released on error.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	app.Registry = metrics.NewRegistry()
	app.WorkerMetrics = metrics.NewWorkerMetrics(app.Registry, serviceName)
	app.HTTPMetrics = metrics.NewHTTPServerMetrics(app.Registry, serviceName)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.onClose(func() { _ = db.Close() })
	repo := postgres.NewDocumentRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	app.Repo = repo

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	pipeline, err := app.newPipeline(ctx, cfg, logger, app.WorkerMetrics)
	if err != nil {
		return nil, err
	}

	fetcher, err := app.newFetcher(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: resilience.NewExecutorWithLogger(resilienceConfig(cfg, app.WorkerMetrics), logger),
		Logger:             logger,
		LagObserver:        app.WorkerMetrics.ObserveEventLag,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}
	app.onClose(queue.Close)
	app.MessageQueue = queue

	var lock ports.DistributedLock
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisLock, client, err := redislock.Open(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("init redis lock: %w", err)
		}
		app.onClose(func() { _ = client.Close() })
		lock = redisLock
	} else {
		logger.Info("distributed_lock_disabled", "reason", "REDIS_URL not set")
	}

	processUC := usecase.NewProcessDocumentUseCase(repo, storage, fetcher, pipeline)
	app.ProcessUC = processUC
	app.AnalyzeUC = usecase.NewAnalyzeFileUseCase(pipeline)
	app.IngestUC = usecase.NewIngestDocumentUseCase(repo, storage, queue, logger)
	app.Progress = usecase.NewProgressBroadcaster()
	app.onClose(app.Progress.Close)
	app.Queue = usecase.NewQueueProcessor(repo, processUC, lock, app.Progress, app.WorkerMetrics, usecase.QueueConfig{
		Interval:        cfg.QueueInterval,
		BatchSize:       cfg.QueueBatchSize,
		LockTTL:         cfg.QueueLockTTL,
		DocumentTimeout: cfg.DocumentTimeout,
	}, logger)

	return app, nil
}

// NewAnalyzer wires only the extraction pipeline, for one-off analysis
// without a database or message queue.
func NewAnalyzer(ctx context.Context, cfg config.Config, logger *slog.Logger) (ports.FileAnalyzer, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg}
	pipeline, err := app.newPipeline(ctx, cfg, logger, nil)
	if err != nil {
		app.Close()
		return nil, nil, err
	}
	return usecase.NewAnalyzeFileUseCase(pipeline), app.Close, nil
}

func (a *App) newPipeline(ctx context.Context, cfg config.Config, logger *slog.Logger, workerMetrics *metrics.WorkerMetrics) (*usecase.Pipeline, error) {
	provider, err := a.newProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	catalog, err := prompts.Default()
	if err != nil {
		return nil, fmt.Errorf("load prompt catalog: %w", err)
	}
	ai := structured.NewAdapter(provider, catalog, structured.Options{
		MaxInputChars:     cfg.AIMaxInputChars,
		RequestsPerMinute: cfg.AIRequestsPerMinute,
		Resilience:        resilienceConfig(cfg, workerMetrics),
		Logger:            logger,
	})

	resolver := filetype.NewResolver()
	registry := extractor.NewDefaultRegistry(logger)
	expander := archive.NewExpander(resolver, archive.Options{
		TempRoot: cfg.TempDir,
		MaxDepth: cfg.ArchiveMaxDepth,
		MaxBytes: cfg.ArchiveMaxBytes,
		Supported: func(ext string) bool {
			return registry.Supported(ext) || filetype.IsImage(ext)
		},
		Logger: logger,
	})

	deps := usecase.PipelineDeps{
		Resolver:   resolver,
		Expander:   expander,
		Extractors: registry,
		Pager:      pdfpages.New(),
		AI:         ai,
		Logger:     logger,
	}
	if workerMetrics != nil {
		deps.Metrics = workerMetrics
	}
	return usecase.NewPipeline(deps, usecase.PipelineConfig{
		TempDir: cfg.TempDir,
		OCR: usecase.OCRPolicy{
			MinTextChars:   cfg.OCRMinTextChars,
			MinFileKB:      int64(cfg.OCRMinFileKB),
			MaxVisionPages: cfg.PDFMaxVisionPages,
		},
		MinTextChars: cfg.AIMinTextChars,
	}), nil
}

func (a *App) newProvider(ctx context.Context, cfg config.Config) (ports.CompletionService, error) {
	switch cfg.AIProvider {
	case "ollama":
		return ollama.New(cfg.OllamaURL, cfg.OllamaModel, cfg.OllamaVisionModel, cfg.AITimeout), nil
	case "vertex":
		client, err := vertex.New(ctx, cfg.VertexProject, cfg.VertexRegion, cfg.VertexModel)
		if err != nil {
			return nil, fmt.Errorf("init vertex client: %w", err)
		}
		a.onClose(func() { _ = client.Close() })
		return client, nil
	default:
		return nil, fmt.Errorf("unknown AI_PROVIDER %q", cfg.AIProvider)
	}
}

func (a *App) newFetcher(ctx context.Context, cfg config.Config, logger *slog.Logger) (ports.RemoteFetcher, error) {
	policy := resilienceConfig(cfg, a.WorkerMetrics)
	var signer ports.URLSigner
	if strings.TrimSpace(cfg.GCSBucket) != "" {
		gcsSigner, err := gcs.NewSigner(ctx, cfg.GCSBucket)
		if err != nil {
			return nil, fmt.Errorf("init gcs signer: %w", err)
		}
		a.onClose(func() { _ = gcsSigner.Close() })
		signer = gcsSigner
	}
	return remote.NewFetcher(signer, remote.Options{
		PublicBaseURL: cfg.PublicBaseURL,
		SignedURLTTL:  cfg.SignedURLTTL,
		Timeout:       cfg.FetchTimeout,
		Resilience:    policy,
		Logger:        logger,
	}), nil
}

// resilienceConfig applies the env overrides and reports breaker
// transitions to metrics when a worker is running.
func resilienceConfig(cfg config.Config, workerMetrics *metrics.WorkerMetrics) resilience.Config {
	policy := resilience.DefaultConfig()
	policy.Retry.MaxAttempts = cfg.RetryMaxAttempts
	policy.Breaker.Enabled = cfg.BreakerEnabled
	policy.Breaker.OpenTimeout = cfg.BreakerOpenTimeout
	if workerMetrics != nil {
		policy.OnStateChange = workerMetrics.ObserveBreakerState
	}
	return policy
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
