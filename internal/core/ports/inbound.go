package ports

import (
	"context"
	"io"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// DocumentIngestor creates documents and hands them to the queue.
type DocumentIngestor interface {
	Upload(ctx context.Context, filename string, body io.Reader) (*domain.Document, error)
	SubmitContent(ctx context.Context, filename, content string) (*domain.Document, error)
	SubmitDownload(ctx context.Context, filename, storagePath, storageURL string) (*domain.Document, error)
	Requeue(ctx context.Context, documentID string) (*domain.Document, error)
}

// DocumentReader is the inbound read model for document metadata/state.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}

// DocumentProcessor runs the extraction pipeline for one stored document.
type DocumentProcessor interface {
	ProcessDocument(ctx context.Context, documentID string) (domain.ProcessResult, error)
	ProcessContentDocument(ctx context.Context, documentID string) (domain.ProcessResult, error)
}

// FileAnalyzer is the synchronous single-file entry point used outside the queue.
type FileAnalyzer interface {
	AnalyzeFile(ctx context.Context, path string) (domain.FileAnalysis, error)
}

// QueueController is the control surface of the background processor.
type QueueController interface {
	Start(ctx context.Context)
	Stop()
	TriggerManualProcess(ctx context.Context) (domain.TickResult, error)
	GetQueueStatus(ctx context.Context) (domain.QueueStatus, error)
}

// ProgressSource lets transports follow queue progress.
type ProgressSource interface {
	Subscribe() (<-chan domain.ProgressEvent, func())
}
