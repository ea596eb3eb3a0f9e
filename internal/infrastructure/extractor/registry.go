// Package extractor maps canonical extensions to text extractors.
package extractor

import (
	"log/slog"

	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor/markup"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor/pdftext"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor/presentation"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor/spreadsheet"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor/word"
)

type Registry struct {
	byExt map[string]ports.TextExtractor
}

func NewRegistry() *Registry {
	return &Registry{byExt: make(map[string]ports.TextExtractor)}
}

// NewDefaultRegistry wires every built-in extractor. Legacy binary Office
// formats are deliberately absent.
func NewDefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry()
	text := plaintext.NewExtractor()
	r.Register(text, ".txt", ".csv", ".xml", ".json")
	r.Register(markup.NewExtractor(), ".html")
	r.Register(pdftext.NewExtractor(logger), ".pdf")
	r.Register(word.NewExtractor(), ".docx")
	r.Register(presentation.NewExtractor(), ".pptx")
	r.Register(spreadsheet.NewExtractor(), ".xlsx")
	return r
}

func (r *Registry) Register(ex ports.TextExtractor, exts ...string) {
	for _, ext := range exts {
		r.byExt[ext] = ex
	}
}

func (r *Registry) For(ext string) (ports.TextExtractor, bool) {
	ex, ok := r.byExt[ext]
	return ex, ok
}

func (r *Registry) Supported(ext string) bool {
	_, ok := r.byExt[ext]
	return ok
}
