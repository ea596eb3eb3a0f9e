package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

type ProcessDocumentUseCase struct {
	repo     ports.DocumentRepository
	storage  ports.ObjectStorage
	fetcher  ports.RemoteFetcher
	pipeline *Pipeline
}

func NewProcessDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	fetcher ports.RemoteFetcher,
	pipeline *Pipeline,
) *ProcessDocumentUseCase {
	return &ProcessDocumentUseCase{
		repo:     repo,
		storage:  storage,
		fetcher:  fetcher,
		pipeline: pipeline,
	}
}

// ProcessDocument runs the file pipeline for an upload or download document.
// It does not touch the document status; the queue owns transitions.
func (uc *ProcessDocumentUseCase) ProcessDocument(ctx context.Context, documentID string) (domain.ProcessResult, error) {
	doc, err := uc.loadDocument(ctx, documentID)
	if err != nil {
		return domain.ProcessResult{}, err
	}
	if doc.SourceType == domain.SourceContent {
		return uc.processContent(ctx, doc)
	}

	path, cleanup, err := uc.stage(ctx, doc)
	if err != nil {
		return domain.ProcessResult{}, err
	}
	defer cleanup()

	res, err := uc.pipeline.processFile(ctx, path, doc.Filename, sourceRefs(doc)...)
	if err != nil {
		return domain.ProcessResult{}, err
	}
	return toProcessResult(res), nil
}

// ProcessContentDocument analyzes inline text. OCR never applies.
func (uc *ProcessDocumentUseCase) ProcessContentDocument(ctx context.Context, documentID string) (domain.ProcessResult, error) {
	doc, err := uc.loadDocument(ctx, documentID)
	if err != nil {
		return domain.ProcessResult{}, err
	}
	if doc.SourceType != domain.SourceContent {
		return domain.ProcessResult{}, domain.WrapError(domain.ErrInvalidInput, "process content document",
			fmt.Errorf("document %s has source type %s", doc.ID, doc.SourceType))
	}
	return uc.processContent(ctx, doc)
}

func (uc *ProcessDocumentUseCase) processContent(ctx context.Context, doc *domain.Document) (domain.ProcessResult, error) {
	text := doc.ContentText
	if strings.TrimSpace(text) == "" {
		return domain.ProcessResult{}, domain.WrapError(domain.ErrEmptyText, "process content document", errors.New("content is empty"))
	}
	task := domain.TaskDocument
	if doc.Filename == unnamedContentFilename {
		task = domain.TaskClassify
	}
	rec, ok, err := uc.pipeline.structure(ctx, task, text)
	if err != nil {
		return domain.ProcessResult{}, err
	}
	if !ok {
		rec = nil
	}
	return domain.ProcessResult{Text: text, Analysis: rec}, nil
}

func (uc *ProcessDocumentUseCase) loadDocument(ctx context.Context, documentID string) (*domain.Document, error) {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}
	return doc, nil
}

// sourceRefs are the remote locations of a download, used for type hints
// when the filename has no usable extension.
func sourceRefs(doc *domain.Document) []string {
	if doc.SourceType != domain.SourceDownload {
		return nil
	}
	var refs []string
	for _, ref := range []string{doc.StorageURL, doc.FileReference} {
		if strings.TrimSpace(ref) != "" {
			refs = append(refs, ref)
		}
	}
	return refs
}

// stage returns a local path for the document bytes and a cleanup func.
func (uc *ProcessDocumentUseCase) stage(ctx context.Context, doc *domain.Document) (string, func(), error) {
	noop := func() {}
	switch doc.SourceType {
	case domain.SourceUpload:
		path, err := uc.storage.Path(doc.FileReference)
		if err != nil {
			return "", noop, fmt.Errorf("locate upload: %w", err)
		}
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return "", noop, domain.WrapError(domain.ErrDocumentNotFound, "locate upload", err)
			}
			return "", noop, fmt.Errorf("locate upload: %w", err)
		}
		return path, noop, nil

	case domain.SourceDownload:
		if uc.fetcher == nil {
			return "", noop, domain.WrapError(domain.ErrInvalidInput, "download document", errors.New("remote fetcher is not configured"))
		}
		data, err := uc.fetcher.Fetch(ctx, doc.FileReference, doc.StorageURL)
		if err != nil {
			return "", noop, fmt.Errorf("download document: %w", err)
		}
		dir, err := os.MkdirTemp(uc.pipeline.cfg.TempDir, "doc-stage-*")
		if err != nil {
			return "", noop, fmt.Errorf("create staging dir: %w", err)
		}
		cleanup := func() { _ = os.RemoveAll(dir) }
		path := filepath.Join(dir, "source"+strings.ToLower(filepath.Ext(doc.Filename)))
		if err := os.WriteFile(path, data, 0o600); err != nil {
			cleanup()
			return "", noop, fmt.Errorf("write staging file: %w", err)
		}
		return path, cleanup, nil

	default:
		return "", noop, domain.WrapError(domain.ErrInvalidInput, "stage document",
			fmt.Errorf("unknown source type %q", doc.SourceType))
	}
}

func toProcessResult(res fileResult) domain.ProcessResult {
	return domain.ProcessResult{Text: res.Text, OCR: res.OCR, Analysis: res.Analysis}
}
