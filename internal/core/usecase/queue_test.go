package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

type processorFake struct {
	mu      sync.Mutex
	results map[string]domain.ProcessResult
	errs    map[string]error
	calls   []string
	entered chan struct{}
	release chan struct{}
}

func (f *processorFake) run(ctx context.Context, id string) (domain.ProcessResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	entered, release := f.entered, f.release
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return domain.ProcessResult{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[id]; err != nil {
		return domain.ProcessResult{}, err
	}
	if res, ok := f.results[id]; ok {
		return res, nil
	}
	return domain.ProcessResult{Text: "text of " + id}, nil
}

func (f *processorFake) ProcessDocument(ctx context.Context, id string) (domain.ProcessResult, error) {
	return f.run(ctx, id)
}

func (f *processorFake) ProcessContentDocument(ctx context.Context, id string) (domain.ProcessResult, error) {
	return f.run(ctx, "content:"+id)
}

func queuedDoc(id string, source domain.SourceType, status domain.DocumentStatus, age time.Duration) domain.Document {
	return domain.Document{
		ID:         id,
		SourceType: source,
		Filename:   id + ".pdf",
		Status:     status,
		CreatedAt:  time.Now().Add(-age),
	}
}

func newTestQueue(repo *repoFake, processor *processorFake, lock *lockFake, progress *ProgressBroadcaster, metrics *metricsFake) *QueueProcessor {
	cfg := QueueConfig{Interval: time.Hour, BatchSize: 5, LockTTL: time.Minute, DocumentTimeout: time.Second}
	q := NewQueueProcessor(repo, processor, nil, progress, nil, cfg, nil)
	if metrics != nil {
		q.metrics = metrics
	}
	if lock != nil {
		q.lock = lock
	}
	return q
}

func TestTriggerManualProcessHandlesBatch(t *testing.T) {
	repo := newRepoFake(
		queuedDoc("a", domain.SourceUpload, domain.StatusPending, 3*time.Minute),
		queuedDoc("b", domain.SourceContent, domain.StatusQueued, 2*time.Minute),
		queuedDoc("c", domain.SourceDownload, domain.StatusQueued, time.Minute),
		queuedDoc("done", domain.SourceUpload, domain.StatusCompleted, time.Hour),
	)
	processor := &processorFake{errs: map[string]error{"c": errors.New("storage down")}}
	metrics := &metricsFake{}
	q := newTestQueue(repo, processor, nil, nil, metrics)

	res, err := q.TriggerManualProcess(context.Background())
	if err != nil {
		t.Fatalf("TriggerManualProcess() error = %v", err)
	}
	want := domain.TickResult{Processed: 3, Completed: 2, Failed: 1}
	if res != want {
		t.Fatalf("unexpected tick result %+v, want %+v", res, want)
	}
	if repo.status("a") != domain.StatusCompleted || repo.status("b") != domain.StatusCompleted {
		t.Fatalf("expected a and b completed")
	}
	if repo.status("c") != domain.StatusFailed {
		t.Fatalf("expected c failed, got %s", repo.status("c"))
	}
	if _, ok := repo.completed["c"]; ok {
		t.Fatalf("failed documents must not persist partial data")
	}
	if len(processor.calls) != 3 || processor.calls[1] != "content:b" {
		t.Fatalf("unexpected dispatch order %v", processor.calls)
	}
	if len(metrics.ticks) != 1 || len(metrics.finished) != 3 {
		t.Fatalf("unexpected metrics %+v", metrics)
	}
}

func TestTickRespectsBatchSize(t *testing.T) {
	docs := make([]domain.Document, 0, 7)
	for _, id := range []string{"1", "2", "3", "4", "5", "6", "7"} {
		docs = append(docs, queuedDoc(id, domain.SourceUpload, domain.StatusQueued, time.Minute))
	}
	repo := newRepoFake(docs...)
	q := newTestQueue(repo, &processorFake{}, nil, nil, nil)

	res, err := q.TriggerManualProcess(context.Background())
	if err != nil {
		t.Fatalf("TriggerManualProcess() error = %v", err)
	}
	if res.Processed != 5 {
		t.Fatalf("expected batch of 5, got %d", res.Processed)
	}
	if repo.status("6") != domain.StatusQueued {
		t.Fatalf("expected documents beyond the batch to stay queued")
	}
}

func TestTickSkipsDocumentsThatCannotBeClaimed(t *testing.T) {
	repo := newRepoFake(
		queuedDoc("a", domain.SourceUpload, domain.StatusQueued, time.Minute),
		queuedDoc("b", domain.SourceUpload, domain.StatusQueued, time.Minute),
	)
	repo.claimErr["a"] = domain.WrapError(domain.ErrInvalidTransition, "update status", errors.New("already processing"))
	processor := &processorFake{}
	q := newTestQueue(repo, processor, nil, nil, nil)

	res, err := q.TriggerManualProcess(context.Background())
	if err != nil {
		t.Fatalf("TriggerManualProcess() error = %v", err)
	}
	if res.Skipped != 1 || res.Completed != 1 || res.Processed != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(processor.calls) != 1 || processor.calls[0] != "b" {
		t.Fatalf("expected only b to be dispatched, got %v", processor.calls)
	}
}

func TestManualTriggerDuringTickIsRejected(t *testing.T) {
	repo := newRepoFake(queuedDoc("a", domain.SourceUpload, domain.StatusQueued, time.Minute))
	processor := &processorFake{entered: make(chan struct{}, 1), release: make(chan struct{})}
	q := newTestQueue(repo, processor, nil, nil, nil)

	done := make(chan domain.TickResult, 1)
	go func() {
		res, _ := q.TriggerManualProcess(context.Background())
		done <- res
	}()
	<-processor.entered

	if !q.IsProcessing() {
		t.Fatalf("expected IsProcessing while a tick is in flight")
	}
	if _, err := q.TriggerManualProcess(context.Background()); !domain.IsKind(err, domain.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	// A busy ticker tick returns immediately without touching the repo.
	q.Tick(context.Background())

	close(processor.release)
	res := <-done
	if res.Completed != 1 {
		t.Fatalf("expected the first tick to complete its document, got %+v", res)
	}
	if len(processor.calls) != 1 {
		t.Fatalf("expected a single dispatch, got %v", processor.calls)
	}
}

func TestTickIsNoOpWhenLockHeldElsewhere(t *testing.T) {
	repo := newRepoFake(queuedDoc("a", domain.SourceUpload, domain.StatusQueued, time.Minute))
	processor := &processorFake{}
	lock := &lockFake{held: true}
	q := newTestQueue(repo, processor, lock, nil, nil)

	_, err := q.TriggerManualProcess(context.Background())
	if !domain.IsKind(err, domain.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if len(processor.calls) != 0 || repo.status("a") != domain.StatusQueued {
		t.Fatalf("expected no processing while the lock is held elsewhere")
	}
}

func TestTickReleasesLock(t *testing.T) {
	repo := newRepoFake(queuedDoc("a", domain.SourceUpload, domain.StatusQueued, time.Minute))
	lock := &lockFake{}
	q := newTestQueue(repo, &processorFake{}, lock, nil, nil)

	if _, err := q.TriggerManualProcess(context.Background()); err != nil {
		t.Fatalf("TriggerManualProcess() error = %v", err)
	}
	if lock.acquired != 1 || lock.released != 1 {
		t.Fatalf("expected acquire/release pair, got %d/%d", lock.acquired, lock.released)
	}
}

func TestTickPublishesProgress(t *testing.T) {
	repo := newRepoFake(queuedDoc("a", domain.SourceUpload, domain.StatusQueued, time.Minute))
	progress := NewProgressBroadcaster()
	events, unsubscribe := progress.Subscribe()
	defer unsubscribe()
	q := newTestQueue(repo, &processorFake{}, nil, progress, nil)

	if _, err := q.TriggerManualProcess(context.Background()); err != nil {
		t.Fatalf("TriggerManualProcess() error = %v", err)
	}

	want := []domain.ProgressKind{
		domain.ProgressTickStarted,
		domain.ProgressDocumentStarted,
		domain.ProgressDocumentCompleted,
		domain.ProgressTickFinished,
	}
	for i, kind := range want {
		select {
		case ev := <-events:
			if ev.Kind != kind {
				t.Fatalf("event %d: got %s, want %s", i, ev.Kind, kind)
			}
			if kind == domain.ProgressTickFinished && (ev.Result == nil || ev.Result.Completed != 1) {
				t.Fatalf("expected tick result on finish event, got %+v", ev.Result)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func newRealQueue(t *testing.T, repo *repoFake, ai *aiFake) *QueueProcessor {
	t.Helper()
	pipeline := NewPipeline(PipelineDeps{
		Resolver:   &resolverFake{},
		Expander:   &expanderFake{},
		Extractors: registryFake{},
		Pager:      &pagerFake{},
		AI:         ai,
	}, PipelineConfig{TempDir: t.TempDir()})
	processor := NewProcessDocumentUseCase(repo, &storageFake{root: t.TempDir()}, &fetcherFake{}, pipeline)
	return NewQueueProcessor(repo, processor, nil, nil, nil, QueueConfig{BatchSize: 5}, nil)
}

func TestTickEmptyTextMarksFailed(t *testing.T) {
	doc := queuedDoc("a", domain.SourceContent, domain.StatusQueued, time.Minute)
	doc.ContentText = " \n "
	repo := newRepoFake(doc)
	q := newRealQueue(t, repo, &aiFake{textReply: validDocumentJSON})

	res, err := q.TriggerManualProcess(context.Background())
	if err != nil {
		t.Fatalf("TriggerManualProcess() error = %v", err)
	}
	if res.Failed != 1 || repo.status("a") != domain.StatusFailed {
		t.Fatalf("expected empty text to fail the document, got %+v / %s", res, repo.status("a"))
	}
}

func TestTickUnparseableOutputCompletesWithNilAnalysis(t *testing.T) {
	doc := queuedDoc("a", domain.SourceContent, domain.StatusQueued, time.Minute)
	doc.ContentText = longText
	repo := newRepoFake(doc)
	q := newRealQueue(t, repo, &aiFake{textReply: "Sorry, here is a summary instead."})

	res, err := q.TriggerManualProcess(context.Background())
	if err != nil {
		t.Fatalf("TriggerManualProcess() error = %v", err)
	}
	if res.Completed != 1 || repo.status("a") != domain.StatusCompleted {
		t.Fatalf("expected completion, got %+v / %s", res, repo.status("a"))
	}
	stored := repo.completed["a"]
	if stored.Analysis != nil {
		t.Fatalf("expected nil analysis, got %+v", stored.Analysis)
	}
	if stored.Text != longText {
		t.Fatalf("expected extracted text to be stored")
	}
}

func TestTickAITemporaryFailureMarksFailed(t *testing.T) {
	doc := queuedDoc("a", domain.SourceContent, domain.StatusQueued, time.Minute)
	doc.ContentText = longText
	repo := newRepoFake(doc)
	ai := &aiFake{textErr: domain.WrapError(domain.ErrTemporary, "ollama generate", errors.New("connection refused"))}
	q := newRealQueue(t, repo, ai)

	if _, err := q.TriggerManualProcess(context.Background()); err != nil {
		t.Fatalf("TriggerManualProcess() error = %v", err)
	}
	if repo.status("a") != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", repo.status("a"))
	}
}

func TestStartRunsTickAndStopWaits(t *testing.T) {
	repo := newRepoFake(queuedDoc("a", domain.SourceUpload, domain.StatusQueued, time.Minute))
	q := newTestQueue(repo, &processorFake{}, nil, nil, nil)

	q.Start(context.Background())
	q.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for repo.status("a") != domain.StatusCompleted {
		if time.Now().After(deadline) {
			t.Fatalf("expected the initial tick to process the document")
		}
		time.Sleep(5 * time.Millisecond)
	}
	q.Stop()
	q.Stop()
	if q.IsProcessing() {
		t.Fatalf("expected no tick in flight after Stop")
	}
}

func TestGetQueueStatus(t *testing.T) {
	repo := newRepoFake()
	repo.counts = []domain.StatusCount{
		{Status: domain.StatusPending, SourceType: domain.SourceUpload, Count: 2},
		{Status: domain.StatusQueued, SourceType: domain.SourceUpload, Count: 1},
		{Status: domain.StatusQueued, SourceType: domain.SourceDownload, Count: 4},
		{Status: domain.StatusProcessing, SourceType: domain.SourceContent, Count: 1},
		{Status: domain.StatusCompleted, SourceType: domain.SourceUpload, Count: 9},
	}
	q := newTestQueue(repo, &processorFake{}, nil, nil, nil)

	status, err := q.GetQueueStatus(context.Background())
	if err != nil {
		t.Fatalf("GetQueueStatus() error = %v", err)
	}
	if status.Pending != 2 || status.Queued != 5 || status.Processing != 1 || status.TotalInQueue != 7 {
		t.Fatalf("unexpected counts %+v", status)
	}
	if status.BySourceType["upload"] != 3 || status.BySourceType["download"] != 4 {
		t.Fatalf("unexpected by-source counts %v", status.BySourceType)
	}
	if _, ok := status.BySourceType["content"]; ok {
		t.Fatalf("processing documents must not count as in queue")
	}
	if status.IsProcessing {
		t.Fatalf("expected idle queue")
	}
}
