package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kirillkom/document-pipeline/internal/core/analysis"
	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// Source kinds reported by AnalyzeFile.
const (
	SourceKindPDF          = "pdf"
	SourceKindPDFVision    = "pdf-vision"
	SourceKindWord         = "word"
	SourceKindSpreadsheet  = "spreadsheet"
	SourceKindPresentation = "presentation"
	SourceKindText         = "text"
	SourceKindImage        = "image"
	SourceKindArchive      = "archive"
)

// AnalyzeFileUseCase is the synchronous single-file path used by the CLI and
// the admin API. Nothing is persisted.
type AnalyzeFileUseCase struct {
	pipeline *Pipeline
}

func NewAnalyzeFileUseCase(pipeline *Pipeline) *AnalyzeFileUseCase {
	return &AnalyzeFileUseCase{pipeline: pipeline}
}

func (uc *AnalyzeFileUseCase) AnalyzeFile(ctx context.Context, path string) (domain.FileAnalysis, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return domain.FileAnalysis{}, domain.WrapError(domain.ErrDocumentNotFound, "analyze file", err)
		}
		return domain.FileAnalysis{}, fmt.Errorf("stat file: %w", err)
	}

	p := uc.pipeline
	ext, err := p.resolve(path, filepath.Base(path))
	if err != nil {
		return domain.FileAnalysis{}, err
	}

	switch {
	case ext == extPDF:
		return uc.analyzePDF(ctx, path)
	case ext == extZIP:
		return uc.analyzeArchive(ctx, path)
	default:
		if _, ok := domain.ImageMimeType(ext); ok {
			res, err := p.processResolved(ctx, path, ext)
			if err != nil {
				return domain.FileAnalysis{}, err
			}
			return fileAnalysis(res.Analysis, res.Text, 1, SourceKindImage), nil
		}
		text, _, err := p.extract(ctx, path, ext)
		if err != nil {
			return domain.FileAnalysis{}, err
		}
		rec, ok, err := p.structure(ctx, taskFor(ext), text)
		if err != nil {
			return domain.FileAnalysis{}, err
		}
		return domain.FileAnalysis{Success: ok, TotalPages: 1, Analysis: rec, SourceKind: sourceKindFor(ext)}, nil
	}
}

// analyzePDF goes page by page through the vision model when the text layer
// is too thin, otherwise through a single document task.
func (uc *AnalyzeFileUseCase) analyzePDF(ctx context.Context, path string) (domain.FileAnalysis, error) {
	p := uc.pipeline
	pages, err := p.pager.PageCount(path)
	if err != nil {
		p.logger.Warn("pdf_page_count_failed", "path", path, "error", err)
		pages = 0
	}

	text := ""
	var extractErr error
	if extractor, ok := p.extractors.For(extPDF); ok {
		extracted, err := extractor.ExtractText(ctx, path)
		if err != nil {
			p.logger.Warn("pdf_text_extraction_failed", "path", path, "error", err)
			extractErr = err
		} else {
			text = extracted
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return domain.FileAnalysis{}, fmt.Errorf("stat pdf: %w", err)
	}
	visionTried := ShouldOCR(textChars(text), info.Size(), p.cfg.OCR)
	if visionTried {
		res, err := uc.analyzePDFPages(ctx, path)
		if err == nil {
			res.TotalPages = pages
			return res, nil
		}
		p.logger.Warn("pdf_vision_failed", "path", path, "error", err)
	}

	if textChars(text) == 0 {
		if extractErr != nil && !visionTried {
			return domain.FileAnalysis{}, extractErr
		}
		return domain.FileAnalysis{}, domain.WrapError(domain.ErrEmptyText, "analyze pdf", errors.New("no text layer and vision failed"))
	}
	rec, ok, err := p.structure(ctx, domain.TaskDocument, text)
	if err != nil {
		return domain.FileAnalysis{}, err
	}
	return domain.FileAnalysis{Success: ok, TotalPages: pages, Analysis: rec, SourceKind: SourceKindPDF}, nil
}

func (uc *AnalyzeFileUseCase) analyzePDFPages(ctx context.Context, path string) (domain.FileAnalysis, error) {
	raws, err := uc.pipeline.visionPages(ctx, path, domain.TaskPage)
	if err != nil {
		return domain.FileAnalysis{}, err
	}
	records := make([]analysis.Record, 0, len(raws))
	parsed := 0
	for _, raw := range raws {
		rec, ok := analysis.Parse(raw, analysis.PageTemplate)
		if ok {
			parsed++
		}
		records = append(records, rec)
	}
	merged, err := analysis.MergePages(records)
	if err != nil {
		return domain.FileAnalysis{}, err
	}
	return domain.FileAnalysis{Success: parsed > 0, Analysis: merged, SourceKind: SourceKindPDFVision}, nil
}

func (uc *AnalyzeFileUseCase) analyzeArchive(ctx context.Context, path string) (domain.FileAnalysis, error) {
	res, err := uc.pipeline.processArchive(ctx, path)
	if err != nil {
		return domain.FileAnalysis{}, err
	}
	return fileAnalysis(res.Analysis, res.Text, 1, SourceKindArchive), nil
}

// fileAnalysis reports a degraded record as the fallback template so callers
// always get every field.
func fileAnalysis(rec analysis.Record, text string, pages int, kind string) domain.FileAnalysis {
	if rec == nil {
		return domain.FileAnalysis{
			Success:    false,
			TotalPages: pages,
			Analysis:   analysis.DocumentTemplate.Fallback(text),
			SourceKind: kind,
		}
	}
	return domain.FileAnalysis{Success: true, TotalPages: pages, Analysis: rec, SourceKind: kind}
}

func sourceKindFor(ext string) string {
	switch ext {
	case ".docx", ".doc":
		return SourceKindWord
	case ".xlsx", ".xls":
		return SourceKindSpreadsheet
	case ".pptx", ".ppt":
		return SourceKindPresentation
	default:
		return SourceKindText
	}
}
