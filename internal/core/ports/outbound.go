package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// DocumentRepository persists and reads document state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	// ListByStatus returns at most limit documents, oldest first.
	ListByStatus(ctx context.Context, statuses []domain.DocumentStatus, limit int) ([]domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus) error
	Complete(ctx context.Context, id string, result domain.ProcessResult) error
	MarkFailed(ctx context.Context, id string) error
	CountByStatus(ctx context.Context) ([]domain.StatusCount, error)
}

// ObjectStorage stores uploaded source documents on local disk.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Path(key string) (string, error)
}

// RemoteFetcher returns the bytes behind a remote storage reference.
type RemoteFetcher interface {
	Fetch(ctx context.Context, storagePath, directURL string) ([]byte, error)
}

// URLSigner issues short-lived read URLs for stored objects.
type URLSigner interface {
	SignedURL(ctx context.Context, storagePath string, ttl time.Duration) (string, error)
}

// MessageQueue publishes/consumes "document queued" wake-up events.
type MessageQueue interface {
	PublishDocumentQueued(ctx context.Context, documentID string) error
	SubscribeDocumentQueued(ctx context.Context, handler func(context.Context, string) error) error
}

// TextExtractor turns one file on disk into raw text.
type TextExtractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// ExtractorRegistry picks the extractor for a canonical extension.
type ExtractorRegistry interface {
	For(ext string) (TextExtractor, bool)
	Supported(ext string) bool
}

// TypeResolver detects the real format of a file on disk. refs are
// last-resort hints such as the download URL.
type TypeResolver interface {
	ResolveFile(path, name string, refs ...string) (string, error)
}

// ArchiveExpander unpacks an archive into a temporary directory.
type ArchiveExpander interface {
	Expand(ctx context.Context, path string) (Expansion, error)
}

type Expansion interface {
	Entries() []ArchiveEntry
	Cleanup()
}

type ArchiveEntry struct {
	Path string
	Ext  string
	Name string
}

// PDFPager counts and splits PDF pages for per-page vision calls.
type PDFPager interface {
	PageCount(path string) (int, error)
	// SplitPages writes single-page PDFs into dir and returns their paths in page order.
	SplitPages(path, dir string, maxPages int) ([]string, error)
	// PageImages returns one embedded image per scanned page, in page order.
	PageImages(path string, maxPages int) ([]PageImage, error)
}

type PageImage struct {
	Page     int
	Data     []byte
	MimeType string
}

// CompletionService is one external AI provider call.
type CompletionService interface {
	Complete(ctx context.Context, req domain.CompletionRequest) (string, error)
}

// StructuredExtractor builds task prompts and returns the raw, unparsed response.
type StructuredExtractor interface {
	AnalyzeText(ctx context.Context, kind domain.TaskKind, text string) (string, error)
	AnalyzeImage(ctx context.Context, kind domain.TaskKind, data []byte, mimeType string) (string, error)
}

// DistributedLock guards the queue tick across worker instances.
type DistributedLock interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}

// QueueMetrics records queue processor activity.
type QueueMetrics interface {
	ObserveTick(duration time.Duration, result domain.TickResult)
	StartDocument()
	FinishDocument(sourceType string, duration time.Duration, err error)
	ObserveQueueLag(lag time.Duration)
	RecordOCRFallback(applied bool)
}
