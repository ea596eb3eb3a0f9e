// Package pdftext reads the text layer of PDF files page by page.
package pdftext

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

type Extractor struct {
	logger *slog.Logger
}

func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

// ExtractText returns the concatenated plain text of every page. Scanned
// documents legitimately come back empty; the caller decides about OCR.
func (e *Extractor) ExtractText(ctx context.Context, path string) (text string, err error) {
	defer func() {
		// The parser panics on some malformed cross-reference tables.
		if r := recover(); r != nil {
			text = ""
			err = domain.WrapError(domain.ErrExtraction, "read pdf", fmt.Errorf("parser panic: %v", r))
		}
	}()

	f, r, err := pdf.Open(path)
	if f != nil {
		defer f.Close()
	}
	if err != nil {
		return "", domain.WrapError(domain.ErrExtraction, "open pdf", err)
	}

	var sb strings.Builder
	total := r.NumPage()
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			e.logger.Warn("pdf_page_text_failed", "path", path, "page", i, "error", err)
			continue
		}
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(pageText)
	}
	return sb.String(), nil
}
