package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

type IngestDocumentUseCase struct {
	repo    ports.DocumentRepository
	storage ports.ObjectStorage
	queue   ports.MessageQueue
	logger  *slog.Logger
	now     func() time.Time
}

// NewIngestDocumentUseCase accepts a nil queue; queued documents are then
// only picked up by the ticker.
func NewIngestDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
	logger *slog.Logger,
) *IngestDocumentUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestDocumentUseCase{
		repo:    repo,
		storage: storage,
		queue:   queue,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (uc *IngestDocumentUseCase) Upload(ctx context.Context, filename string, body io.Reader) (*domain.Document, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload document", errors.New("filename is required"))
	}
	id := uuid.NewString()
	storageKey := fmt.Sprintf("%s_%s", id, sanitizeFilename(filename))

	if err := uc.storage.Save(ctx, storageKey, body); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	doc := uc.newDocument(id, domain.SourceUpload, filename)
	doc.FileReference = storageKey
	return uc.enqueue(ctx, doc)
}

// unnamedContentFilename marks inline text submitted without a name. Such
// text is classified rather than analyzed as a tender document.
const unnamedContentFilename = "content.txt"

func (uc *IngestDocumentUseCase) SubmitContent(ctx context.Context, filename, content string) (*domain.Document, error) {
	if strings.TrimSpace(content) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit content", errors.New("content is empty"))
	}
	if strings.TrimSpace(filename) == "" {
		filename = unnamedContentFilename
	}
	doc := uc.newDocument(uuid.NewString(), domain.SourceContent, filename)
	doc.ContentText = content
	return uc.enqueue(ctx, doc)
}

func (uc *IngestDocumentUseCase) SubmitDownload(ctx context.Context, filename, storagePath, storageURL string) (*domain.Document, error) {
	storagePath = strings.TrimSpace(storagePath)
	storageURL = strings.TrimSpace(storageURL)
	if storagePath == "" && storageURL == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit download", errors.New("storage_path or storage_url is required"))
	}
	if strings.TrimSpace(filename) == "" {
		filename = filepath.Base(firstNonEmpty(storagePath, storageURL))
	}
	doc := uc.newDocument(uuid.NewString(), domain.SourceDownload, filename)
	doc.FileReference = storagePath
	doc.StorageURL = storageURL
	return uc.enqueue(ctx, doc)
}

// Requeue moves a failed document back to queued. It is the only backward
// edge of the status machine.
func (uc *IngestDocumentUseCase) Requeue(ctx context.Context, documentID string) (*domain.Document, error) {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}
	if doc.Status != domain.StatusFailed {
		return nil, domain.WrapError(domain.ErrInvalidTransition, "requeue document",
			fmt.Errorf("document is %s, only failed documents can be re-queued", doc.Status))
	}
	if err := uc.repo.UpdateStatus(ctx, doc.ID, domain.StatusQueued); err != nil {
		return nil, fmt.Errorf("set status=queued: %w", err)
	}
	doc.Status = domain.StatusQueued
	doc.UpdatedAt = uc.now()
	uc.publish(ctx, doc.ID)
	return doc, nil
}

func (uc *IngestDocumentUseCase) newDocument(id string, source domain.SourceType, filename string) *domain.Document {
	now := uc.now()
	return &domain.Document{
		ID:         id,
		SourceType: source,
		Filename:   filename,
		Status:     domain.StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (uc *IngestDocumentUseCase) enqueue(ctx context.Context, doc *domain.Document) (*domain.Document, error) {
	if err := uc.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document metadata: %w", err)
	}
	uc.publish(ctx, doc.ID)
	return doc, nil
}

// publish is a wake-up only; the ticker picks the document up regardless.
func (uc *IngestDocumentUseCase) publish(ctx context.Context, documentID string) {
	if uc.queue == nil {
		return
	}
	if err := uc.queue.PublishDocumentQueued(ctx, documentID); err != nil {
		uc.logger.Warn("document_queued_publish_failed", "document_id", documentID, "error", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == "_" {
		return "document.bin"
	}
	return base
}
