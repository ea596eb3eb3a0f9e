package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

const queueLockName = "document-queue-tick"

type QueueConfig struct {
	Interval        time.Duration
	BatchSize       int
	LockTTL         time.Duration
	DocumentTimeout time.Duration
}

// QueueProcessor drains pending and queued documents on a ticker. At most
// one tick runs per process; the optional distributed lock extends that
// across instances.
type QueueProcessor struct {
	repo      ports.DocumentRepository
	processor ports.DocumentProcessor
	lock      ports.DistributedLock
	progress  *ProgressBroadcaster
	metrics   ports.QueueMetrics
	logger    *slog.Logger
	cfg       QueueConfig

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewQueueProcessor(
	repo ports.DocumentRepository,
	processor ports.DocumentProcessor,
	lock ports.DistributedLock,
	progress *ProgressBroadcaster,
	metrics ports.QueueMetrics,
	cfg QueueConfig,
	logger *slog.Logger,
) *QueueProcessor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueProcessor{
		repo:      repo,
		processor: processor,
		lock:      lock,
		progress:  progress,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
	}
}

// Start launches the ticker goroutine. Calling it again while running is a
// no-op.
func (q *QueueProcessor) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})
	go q.loop(ctx, q.done)
	q.logger.Info("queue_processor_started", "interval", q.cfg.Interval.String(), "batch_size", q.cfg.BatchSize)
}

// Stop cancels the ticker and waits for the in-flight tick to return.
func (q *QueueProcessor) Stop() {
	q.mu.Lock()
	cancel, done := q.cancel, q.done
	q.cancel, q.done = nil, nil
	q.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	q.logger.Info("queue_processor_stopped")
}

func (q *QueueProcessor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(q.cfg.Interval)
	defer ticker.Stop()

	q.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Tick(ctx)
		}
	}
}

// Tick runs one batch unless another tick is in flight.
func (q *QueueProcessor) Tick(ctx context.Context) {
	if _, err := q.tick(ctx); err != nil && !errors.Is(err, domain.ErrAlreadyRunning) {
		q.logger.Error("queue_tick_failed", "error", err)
	}
}

func (q *QueueProcessor) TriggerManualProcess(ctx context.Context) (domain.TickResult, error) {
	return q.tick(ctx)
}

func (q *QueueProcessor) IsProcessing() bool {
	return q.running.Load()
}

func (q *QueueProcessor) tick(ctx context.Context) (domain.TickResult, error) {
	if !q.running.CompareAndSwap(false, true) {
		return domain.TickResult{}, domain.WrapError(domain.ErrAlreadyRunning, "queue tick", errors.New("tick in flight"))
	}
	defer q.running.Store(false)

	if q.lock != nil {
		acquired, err := q.lock.Acquire(ctx, queueLockName, q.cfg.LockTTL)
		if err != nil {
			return domain.TickResult{}, fmt.Errorf("acquire queue lock: %w", err)
		}
		if !acquired {
			q.logger.Debug("queue_tick_lock_held_elsewhere")
			return domain.TickResult{}, domain.WrapError(domain.ErrAlreadyRunning, "queue tick", errors.New("lock held by another worker"))
		}
		defer func() {
			if err := q.lock.Release(context.WithoutCancel(ctx), queueLockName); err != nil {
				q.logger.Warn("queue_lock_release_failed", "error", err)
			}
		}()
	}

	return q.runTick(ctx)
}

func (q *QueueProcessor) runTick(ctx context.Context) (domain.TickResult, error) {
	started := time.Now()
	var result domain.TickResult
	defer func() {
		if q.metrics != nil {
			q.metrics.ObserveTick(time.Since(started), result)
		}
	}()

	docs, err := q.repo.ListByStatus(ctx, []domain.DocumentStatus{domain.StatusPending, domain.StatusQueued}, q.cfg.BatchSize)
	if err != nil {
		return result, fmt.Errorf("list queued documents: %w", err)
	}
	if len(docs) == 0 {
		return result, nil
	}

	q.logger.Info("queue_tick_started", "documents", len(docs))
	q.publish(domain.ProgressEvent{Kind: domain.ProgressTickStarted, Total: len(docs)})

	for i := range docs {
		if ctx.Err() != nil {
			q.logger.Warn("queue_tick_interrupted", "remaining", len(docs)-i)
			break
		}
		q.processOne(ctx, &docs[i], i+1, len(docs), &result)
	}

	q.logger.Info("queue_tick_finished",
		"processed", result.Processed,
		"completed", result.Completed,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	final := result
	q.publish(domain.ProgressEvent{Kind: domain.ProgressTickFinished, Total: len(docs), Result: &final})
	return result, nil
}

func (q *QueueProcessor) processOne(ctx context.Context, doc *domain.Document, index, total int, result *domain.TickResult) {
	logger := q.logger.With("document_id", doc.ID, "source_type", doc.SourceType)
	persistCtx := context.WithoutCancel(ctx)

	if err := q.repo.UpdateStatus(ctx, doc.ID, domain.StatusProcessing); err != nil {
		logger.Warn("document_claim_failed", "error", err)
		result.Skipped++
		return
	}

	started := time.Now()
	if q.metrics != nil {
		q.metrics.ObserveQueueLag(started.Sub(doc.CreatedAt))
		q.metrics.StartDocument()
	}
	q.publish(domain.ProgressEvent{Kind: domain.ProgressDocumentStarted, DocumentID: doc.ID, Filename: doc.Filename, Index: index, Total: total})
	logger.Info("document_processing_started", "filename", doc.Filename)

	err := q.processAndPersist(ctx, persistCtx, doc)
	duration := time.Since(started)
	if q.metrics != nil {
		q.metrics.FinishDocument(string(doc.SourceType), duration, err)
	}
	result.Processed++

	if err != nil {
		result.Failed++
		logger.Error("document_failed", "error", err, "error_kind", domain.KindName(err), "duration_ms", duration.Milliseconds())
		if failErr := q.repo.MarkFailed(persistCtx, doc.ID); failErr != nil {
			logger.Error("document_mark_failed_failed", "error", failErr)
		}
		q.publish(domain.ProgressEvent{Kind: domain.ProgressDocumentFailed, DocumentID: doc.ID, Filename: doc.Filename, Index: index, Total: total})
		return
	}

	result.Completed++
	logger.Info("document_completed", "duration_ms", duration.Milliseconds())
	q.publish(domain.ProgressEvent{Kind: domain.ProgressDocumentCompleted, DocumentID: doc.ID, Filename: doc.Filename, Index: index, Total: total})
}

func (q *QueueProcessor) processAndPersist(ctx, persistCtx context.Context, doc *domain.Document) error {
	docCtx := ctx
	if q.cfg.DocumentTimeout > 0 {
		var cancel context.CancelFunc
		docCtx, cancel = context.WithTimeout(ctx, q.cfg.DocumentTimeout)
		defer cancel()
	}

	res, err := q.dispatch(docCtx, doc)
	if err != nil {
		return err
	}
	if err := q.repo.Complete(persistCtx, doc.ID, res); err != nil {
		return fmt.Errorf("persist result: %w", err)
	}
	return nil
}

func (q *QueueProcessor) dispatch(ctx context.Context, doc *domain.Document) (domain.ProcessResult, error) {
	if doc.SourceType == domain.SourceContent {
		return q.processor.ProcessContentDocument(ctx, doc.ID)
	}
	return q.processor.ProcessDocument(ctx, doc.ID)
}

func (q *QueueProcessor) publish(event domain.ProgressEvent) {
	if q.progress != nil {
		q.progress.Publish(event)
	}
}

func (q *QueueProcessor) GetQueueStatus(ctx context.Context) (domain.QueueStatus, error) {
	counts, err := q.repo.CountByStatus(ctx)
	if err != nil {
		return domain.QueueStatus{}, fmt.Errorf("count documents by status: %w", err)
	}
	status := domain.QueueStatus{
		BySourceType: make(map[string]int),
		IsProcessing: q.IsProcessing(),
	}
	for _, c := range counts {
		switch c.Status {
		case domain.StatusPending:
			status.Pending += c.Count
		case domain.StatusQueued:
			status.Queued += c.Count
		case domain.StatusProcessing:
			status.Processing += c.Count
			continue
		default:
			continue
		}
		status.BySourceType[string(c.SourceType)] += c.Count
	}
	status.TotalInQueue = status.Pending + status.Queued
	return status, nil
}
