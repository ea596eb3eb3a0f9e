package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/kirillkom/document-pipeline/internal/core/analysis"
	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

const (
	extPDF  = ".pdf"
	extZIP  = ".zip"
	extXLSX = ".xlsx"
)

type PipelineConfig struct {
	// TempDir roots staging, archive and page-split directories; "" means os.TempDir().
	TempDir string
	OCR     OCRPolicy
	// MinTextChars below which no AI call is made.
	MinTextChars int
}

type PipelineDeps struct {
	Resolver   ports.TypeResolver
	Expander   ports.ArchiveExpander
	Extractors ports.ExtractorRegistry
	Pager      ports.PDFPager
	AI         ports.StructuredExtractor
	Metrics    ports.QueueMetrics
	Logger     *slog.Logger
}

// Pipeline turns one file on disk into text plus a normalized analysis.
// It is shared by the queue-driven processor and the synchronous analyzer.
type Pipeline struct {
	resolver   ports.TypeResolver
	expander   ports.ArchiveExpander
	extractors ports.ExtractorRegistry
	pager      ports.PDFPager
	ai         ports.StructuredExtractor
	metrics    ports.QueueMetrics
	logger     *slog.Logger
	cfg        PipelineConfig
}

func NewPipeline(deps PipelineDeps, cfg PipelineConfig) *Pipeline {
	if cfg.OCR == (OCRPolicy{}) {
		cfg.OCR = DefaultOCRPolicy()
	}
	if cfg.MinTextChars < 0 {
		cfg.MinTextChars = 0
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		resolver:   deps.Resolver,
		expander:   deps.Expander,
		extractors: deps.Extractors,
		pager:      deps.Pager,
		ai:         deps.AI,
		metrics:    deps.Metrics,
		logger:     logger,
		cfg:        cfg,
	}
}

// fileResult is the outcome for one file. Analysis is nil when structuring
// degraded.
type fileResult struct {
	Text     string
	OCR      *domain.OCRResult
	Analysis analysis.Record
}

func (p *Pipeline) resolve(path, name string, refs ...string) (string, error) {
	ext, err := p.resolver.ResolveFile(path, name, refs...)
	if err != nil {
		return "", fmt.Errorf("resolve file type: %w", err)
	}
	if ext == "" {
		return "", domain.WrapError(domain.ErrUnsupportedType, "resolve file type", fmt.Errorf("cannot detect type of %q", name))
	}
	return ext, nil
}

// processFile is the queue path: archives are expanded and merged, every
// other type goes through processResolved.
func (p *Pipeline) processFile(ctx context.Context, path, name string, refs ...string) (fileResult, error) {
	ext, err := p.resolve(path, name, refs...)
	if err != nil {
		return fileResult{}, err
	}
	p.logger.Debug("file_type_resolved", "name", name, "ext", ext)
	if ext == extZIP {
		return p.processArchive(ctx, path)
	}
	return p.processResolved(ctx, path, ext)
}

func (p *Pipeline) processResolved(ctx context.Context, path, ext string) (fileResult, error) {
	if mime, ok := domain.ImageMimeType(ext); ok {
		return p.processImage(ctx, path, mime)
	}

	text, ocr, err := p.extract(ctx, path, ext)
	if err != nil {
		return fileResult{}, err
	}
	rec, ok, err := p.structure(ctx, taskFor(ext), text)
	if err != nil {
		return fileResult{}, err
	}
	if !ok {
		rec = nil
	}
	return fileResult{Text: text, OCR: ocr, Analysis: rec}, nil
}

// extract runs the format extractor and, for PDFs, the OCR fallback.
func (p *Pipeline) extract(ctx context.Context, path, ext string) (string, *domain.OCRResult, error) {
	extractor, ok := p.extractors.For(ext)
	if !ok {
		return "", nil, domain.WrapError(domain.ErrUnsupportedType, "extract text", fmt.Errorf("no extractor for %s", ext))
	}
	text, err := extractor.ExtractText(ctx, path)
	if err != nil {
		return "", nil, fmt.Errorf("extract text: %w", err)
	}

	var ocr *domain.OCRResult
	if ext == extPDF {
		text, ocr = p.applyOCR(ctx, path, text)
	}
	if strings.TrimSpace(text) == "" {
		return "", ocr, domain.WrapError(domain.ErrEmptyText, "extract text", fmt.Errorf("no text in %s file", ext))
	}
	return text, ocr, nil
}

// processImage sends the image bytes straight to the vision model. The
// stored text is the parsed full_text, or the raw response when parsing
// degraded.
func (p *Pipeline) processImage(ctx context.Context, path, mime string) (fileResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileResult{}, fmt.Errorf("read image: %w", err)
	}
	raw, err := p.ai.AnalyzeImage(ctx, domain.TaskDocument, data, mime)
	if err != nil {
		return fileResult{}, fmt.Errorf("analyze image: %w", err)
	}

	rec, ok := analysis.Parse(raw, analysis.DocumentTemplate)
	text := raw
	if ok {
		if full, _ := rec[analysis.DocumentTemplate.TextField].(string); strings.TrimSpace(full) != "" {
			text = full
		}
		if err := analysis.Validate(rec, analysis.DocumentTemplate); err != nil {
			p.logger.Warn("analysis_schema_invalid", "error", err)
			rec = nil
		}
	} else {
		p.logger.Warn("analysis_parse_degraded", "task", domain.TaskDocument, "chars", len(raw))
		rec = nil
	}
	if strings.TrimSpace(text) == "" {
		return fileResult{}, domain.WrapError(domain.ErrEmptyText, "analyze image", errors.New("vision model returned no text"))
	}
	return fileResult{Text: text, Analysis: rec}, nil
}

// processArchive handles every supported leaf; failed leaves are skipped as
// long as one succeeds.
func (p *Pipeline) processArchive(ctx context.Context, path string) (fileResult, error) {
	exp, err := p.expander.Expand(ctx, path)
	if err != nil {
		return fileResult{}, fmt.Errorf("expand archive: %w", err)
	}
	defer exp.Cleanup()

	var (
		texts    []string
		records  []analysis.Record
		ocr      *domain.OCRResult
		degraded bool
		lastErr  error
	)
	for _, entry := range exp.Entries() {
		if err := ctx.Err(); err != nil {
			return fileResult{}, err
		}
		res, err := p.processResolved(ctx, entry.Path, entry.Ext)
		if err != nil {
			p.logger.Warn("archive_entry_failed", "entry", entry.Name, "ext", entry.Ext, "error", err)
			lastErr = err
			continue
		}
		texts = append(texts, res.Text)
		if res.Analysis == nil {
			degraded = true
		} else {
			records = append(records, res.Analysis)
		}
		ocr = mergeOCR(ocr, res.OCR)
	}
	if len(texts) == 0 {
		if lastErr == nil {
			lastErr = errors.New("archive produced no entries")
		}
		return fileResult{}, domain.WrapError(domain.ErrNoSupportedContent, "process archive", lastErr)
	}

	result := fileResult{Text: strings.Join(texts, "\n\n---\n\n"), OCR: ocr}
	if len(records) > 0 {
		merged, err := analysis.MergeDocuments(records)
		if err != nil {
			return fileResult{}, fmt.Errorf("merge archive results: %w", err)
		}
		if degraded {
			// Keep full_text aligned with the stored text when some leaves had no analysis.
			merged[analysis.DocumentTemplate.TextField] = result.Text
		}
		result.Analysis = merged
	}
	return result, nil
}

func mergeOCR(acc, next *domain.OCRResult) *domain.OCRResult {
	if next == nil {
		return acc
	}
	if acc == nil {
		out := *next
		return &out
	}
	acc.Applied = acc.Applied || next.Applied
	acc.OriginalChars += next.OriginalChars
	acc.OCRChars += next.OCRChars
	acc.Pages += next.Pages
	return acc
}

// structure asks the AI for a document record. ok=false means the response
// could not be parsed or validated and rec is the fallback template.
func (p *Pipeline) structure(ctx context.Context, kind domain.TaskKind, text string) (analysis.Record, bool, error) {
	tmpl := analysis.DocumentTemplate
	if textChars(text) < p.cfg.MinTextChars {
		p.logger.Info("analysis_skipped_short_text", "chars", textChars(text), "min_chars", p.cfg.MinTextChars)
		return tmpl.Fallback(text), true, nil
	}

	raw, err := p.ai.AnalyzeText(ctx, kind, text)
	if err != nil {
		return nil, false, fmt.Errorf("analyze text: %w", err)
	}
	rec, ok := analysis.Parse(raw, tmpl)
	if !ok {
		p.logger.Warn("analysis_parse_degraded", "task", kind, "chars", len(raw))
		return rec, false, nil
	}
	if err := analysis.Validate(rec, tmpl); err != nil {
		p.logger.Warn("analysis_schema_invalid", "task", kind, "error", err)
		return tmpl.Fallback(raw), false, nil
	}
	return rec, true, nil
}

func taskFor(ext string) domain.TaskKind {
	if ext == extXLSX {
		return domain.TaskTable
	}
	return domain.TaskDocument
}
