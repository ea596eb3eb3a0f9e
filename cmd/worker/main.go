package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	httpadapter "github.com/kirillkom/document-pipeline/internal/adapters/http"
	"github.com/kirillkom/document-pipeline/internal/bootstrap"
	"github.com/kirillkom/document-pipeline/internal/config"
	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/observability/logging"
	"github.com/kirillkom/document-pipeline/internal/observability/metrics"
)

func main() {
	config.LoadDotEnv()
	cfg := config.Load()
	logger := logging.NewJSONLogger("document-pipeline-worker", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	router := httpadapter.NewRouter(cfg, httpadapter.Dependencies{
		Ingest:         app.IngestUC,
		Documents:      app.Repo,
		Queue:          app.Queue,
		Progress:       app.Progress,
		Analyzer:       app.AnalyzeUC,
		Metrics:        app.HTTPMetrics,
		MetricsHandler: metrics.Handler(app.Registry),
		Logger:         logger,
	}).Handler()
	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("http_listening", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.QueueEnabled {
		group.Go(func() error {
			app.Queue.Start(groupCtx)
			<-groupCtx.Done()
			app.Queue.Stop()
			return nil
		})
		group.Go(func() error {
			logger.Info("worker_subscribed", "subject", cfg.NATSSubject)
			return app.MessageQueue.SubscribeDocumentQueued(groupCtx, func(handlerCtx context.Context, documentID string) error {
				result, err := app.Queue.TriggerManualProcess(handlerCtx)
				if domain.IsKind(err, domain.ErrAlreadyRunning) {
					logger.Debug("wake_up_skipped", "document_id", documentID, "reason", "tick already running")
					return nil
				}
				if err != nil {
					return err
				}
				logger.Info("wake_up_processed", "document_id", documentID, "processed", result.Processed)
				return nil
			})
		})
	} else {
		logger.Info("queue_disabled", "reason", "QUEUE_ENABLED=false")
	}

	if err := group.Wait(); err != nil {
		logger.Error("worker_stopped", "error", err)
		app.Close()
		os.Exit(1)
	}
	logger.Info("worker_stopped")
}
