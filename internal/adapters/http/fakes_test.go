package httpadapter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/kirillkom/document-pipeline/internal/config"
	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

type ingestFake struct {
	err      error
	uploaded string
}

func (f *ingestFake) document(source domain.SourceType, filename string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	now := time.Now().UTC()
	return &domain.Document{
		ID:         "doc-1",
		SourceType: source,
		Filename:   filename,
		Status:     domain.StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (f *ingestFake) Upload(_ context.Context, filename string, body io.Reader) (*domain.Document, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload", io.EOF)
	}
	f.uploaded = string(raw)
	return f.document(domain.SourceUpload, filename)
}

func (f *ingestFake) SubmitContent(_ context.Context, filename, content string) (*domain.Document, error) {
	if content == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit_content", errors.New("content is empty"))
	}
	return f.document(domain.SourceContent, filename)
}

func (f *ingestFake) SubmitDownload(_ context.Context, filename, storagePath, storageURL string) (*domain.Document, error) {
	if storagePath == "" && storageURL == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit_download", errors.New("no source"))
	}
	return f.document(domain.SourceDownload, filename)
}

func (f *ingestFake) Requeue(_ context.Context, documentID string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Document{ID: documentID, Status: domain.StatusQueued}, nil
}

type docsFake struct {
	err error
}

func (f docsFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Document{ID: id, Filename: "a.txt", SourceType: domain.SourceUpload, Status: domain.StatusCompleted}, nil
}

type queueControlFake struct {
	status domain.QueueStatus
	result domain.TickResult
	err    error
	ctxErr error
}

func (f *queueControlFake) Start(context.Context) {}
func (f *queueControlFake) Stop()                 {}

func (f *queueControlFake) TriggerManualProcess(ctx context.Context) (domain.TickResult, error) {
	f.ctxErr = ctx.Err()
	return f.result, f.err
}

func (f *queueControlFake) GetQueueStatus(context.Context) (domain.QueueStatus, error) {
	return f.status, f.err
}

type progressFake struct {
	events chan domain.ProgressEvent
}

func (f progressFake) Subscribe() (<-chan domain.ProgressEvent, func()) {
	return f.events, func() {}
}

type analyzerFake struct {
	result   domain.FileAnalysis
	err      error
	gotName  string
	gotBody  string
}

func (f *analyzerFake) AnalyzeFile(_ context.Context, path string) (domain.FileAnalysis, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.FileAnalysis{}, err
	}
	f.gotName = path
	f.gotBody = string(raw)
	return f.result, f.err
}

func newTestHandler(cfg config.Config, deps Dependencies) http.Handler {
	return NewRouter(cfg, deps).Handler()
}
