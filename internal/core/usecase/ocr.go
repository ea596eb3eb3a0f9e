package usecase

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

const (
	ocrMethodVision = "vision"
	pdfMimeType     = "application/pdf"
)

// OCRPolicy decides when a PDF text layer is too thin to trust.
type OCRPolicy struct {
	MinTextChars   int
	MinFileKB      int64
	MaxVisionPages int
}

func DefaultOCRPolicy() OCRPolicy {
	return OCRPolicy{MinTextChars: 200, MinFileKB: 500, MaxVisionPages: 20}
}

// ShouldOCR fires for large files whose extracted text is suspiciously short,
// which is what a scanned PDF looks like.
func ShouldOCR(textChars int, fileSize int64, policy OCRPolicy) bool {
	return textChars < policy.MinTextChars && fileSize > policy.MinFileKB*1024
}

func textChars(text string) int {
	return utf8.RuneCountInString(strings.TrimSpace(text))
}

// applyOCR re-reads a PDF through the vision model when the policy fires.
// It never fails: every OCR error keeps the original text.
func (p *Pipeline) applyOCR(ctx context.Context, path, text string) (string, *domain.OCRResult) {
	info, err := os.Stat(path)
	if err != nil {
		p.logger.Warn("ocr_stat_failed", "path", path, "error", err)
		return text, nil
	}
	original := textChars(text)
	if !ShouldOCR(original, info.Size(), p.cfg.OCR) {
		return text, nil
	}

	result := &domain.OCRResult{Method: ocrMethodVision, OriginalChars: original}
	ocrText, pages, err := p.transcribePDF(ctx, path)
	if err != nil {
		p.logger.Warn("ocr_fallback_failed", "path", path, "original_chars", original, "error", err)
		p.recordOCR(false)
		return text, result
	}
	result.Pages = pages
	result.OCRChars = textChars(ocrText)

	if result.OCRChars <= original {
		p.logger.Info("ocr_fallback_discarded", "original_chars", original, "ocr_chars", result.OCRChars)
		p.recordOCR(false)
		return text, result
	}

	result.Applied = true
	p.logger.Info("ocr_fallback_applied", "original_chars", original, "ocr_chars", result.OCRChars, "pages", pages)
	p.recordOCR(true)
	return ocrText, result
}

// transcribePDF sends the whole PDF first; providers that refuse PDF input
// get the embedded page images instead.
func (p *Pipeline) transcribePDF(ctx context.Context, path string) (string, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, fmt.Errorf("read pdf: %w", err)
	}
	text, err := p.ai.AnalyzeImage(ctx, domain.TaskTranscribe, data, pdfMimeType)
	if err == nil {
		return text, 0, nil
	}
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		return "", 0, fmt.Errorf("transcribe pdf: %w", err)
	}

	images, err := p.pager.PageImages(path, p.cfg.OCR.MaxVisionPages)
	if err != nil {
		return "", 0, fmt.Errorf("page images: %w", err)
	}
	inputs := make([]visionInput, 0, len(images))
	for _, img := range images {
		inputs = append(inputs, visionInput{page: img.Page, data: img.Data, mimeType: img.MimeType})
	}
	texts, err := p.sendPages(ctx, domain.TaskTranscribe, inputs)
	if err != nil {
		return "", 0, err
	}
	return strings.Join(texts, "\n\n"), len(texts), nil
}

type visionInput struct {
	page     int
	data     []byte
	mimeType string
}

// sendPages runs one vision call per page. Failed pages are skipped; an
// ErrInvalidInput on any page aborts so the caller can switch input form.
func (p *Pipeline) sendPages(ctx context.Context, kind domain.TaskKind, inputs []visionInput) ([]string, error) {
	out := make([]string, 0, len(inputs))
	var lastErr error
	for _, in := range inputs {
		raw, err := p.ai.AnalyzeImage(ctx, kind, in.data, in.mimeType)
		if err != nil {
			if domain.IsKind(err, domain.ErrInvalidInput) || ctx.Err() != nil {
				return nil, err
			}
			p.logger.Warn("vision_page_failed", "page", in.page, "task", kind, "error", err)
			lastErr = err
			continue
		}
		out = append(out, raw)
	}
	if len(out) == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("no pages to send")
		}
		return nil, fmt.Errorf("vision pages: %w", lastErr)
	}
	return out, nil
}

// visionPages prefers single-page PDFs and falls back to page images.
func (p *Pipeline) visionPages(ctx context.Context, path string, kind domain.TaskKind) ([]string, error) {
	dir, err := os.MkdirTemp(p.cfg.TempDir, "doc-pages-*")
	if err != nil {
		return nil, fmt.Errorf("create page dir: %w", err)
	}
	defer os.RemoveAll(dir)

	maxPages := p.cfg.OCR.MaxVisionPages
	pages, err := p.pager.SplitPages(path, dir, maxPages)
	if err == nil {
		inputs := make([]visionInput, 0, len(pages))
		for i, page := range pages {
			data, readErr := os.ReadFile(page)
			if readErr != nil {
				return nil, fmt.Errorf("read split page: %w", readErr)
			}
			inputs = append(inputs, visionInput{page: i + 1, data: data, mimeType: pdfMimeType})
		}
		out, sendErr := p.sendPages(ctx, kind, inputs)
		if sendErr == nil || !domain.IsKind(sendErr, domain.ErrInvalidInput) {
			return out, sendErr
		}
	} else {
		p.logger.Warn("pdf_split_failed", "path", path, "error", err)
	}

	images, err := p.pager.PageImages(path, maxPages)
	if err != nil {
		return nil, fmt.Errorf("page images: %w", err)
	}
	inputs := make([]visionInput, 0, len(images))
	for _, img := range images {
		inputs = append(inputs, visionInput{page: img.Page, data: img.Data, mimeType: img.MimeType})
	}
	return p.sendPages(ctx, kind, inputs)
}

func (p *Pipeline) recordOCR(applied bool) {
	if p.metrics != nil {
		p.metrics.RecordOCRFallback(applied)
	}
}
