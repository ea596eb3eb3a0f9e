// Package pdfpages counts PDF pages and splits documents into single-page
// files for per-page vision calls.
package pdfpages

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

type Pager struct{}

func New() *Pager {
	return &Pager{}
}

func relaxedConfig() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

func (p *Pager) PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, domain.WrapError(domain.ErrExtraction, "count pdf pages", err)
	}
	return n, nil
}

// SplitPages optimizes the source into dir, keeps the first maxPages pages
// and splits them one file per page. The returned paths are in page order.
func (p *Pager) SplitPages(path, dir string, maxPages int) ([]string, error) {
	source := filepath.Join(dir, "source.pdf")
	if err := api.OptimizeFile(path, source, relaxedConfig()); err != nil {
		return nil, domain.WrapError(domain.ErrExtraction, "optimize pdf", err)
	}

	count, err := p.PageCount(source)
	if err != nil {
		return nil, err
	}
	if maxPages > 0 && count > maxPages {
		trimmed := filepath.Join(dir, "trimmed.pdf")
		pages := []string{fmt.Sprintf("1-%d", maxPages)}
		if err := api.TrimFile(source, trimmed, pages, relaxedConfig()); err != nil {
			return nil, domain.WrapError(domain.ErrExtraction, "trim pdf", err)
		}
		if err := os.Rename(trimmed, source); err != nil {
			return nil, fmt.Errorf("replace trimmed pdf: %w", err)
		}
		count = maxPages
	}

	if err := api.SplitFile(source, dir, 1, relaxedConfig()); err != nil {
		return nil, domain.WrapError(domain.ErrExtraction, "split pdf", err)
	}

	paths := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		page := filepath.Join(dir, fmt.Sprintf("source_%d.pdf", i))
		if _, err := os.Stat(page); err != nil {
			return nil, fmt.Errorf("split page %d missing: %w", i, err)
		}
		paths = append(paths, page)
	}
	return paths, nil
}

// minImageBytes skips masks and decorations that carry no page content.
const minImageBytes = 1024

// PageImages returns the largest embedded image of each of the first
// maxPages pages. Scanned PDFs carry one full-page image per page, which
// vision providers that refuse PDF input can still read.
func (p *Pager) PageImages(path string, maxPages int) (images []ports.PageImage, err error) {
	defer func() {
		if r := recover(); r != nil {
			images, err = nil, domain.WrapError(domain.ErrExtraction, "extract pdf images", fmt.Errorf("panic: %v", r))
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var selected []string
	if maxPages > 0 {
		selected = []string{fmt.Sprintf("1-%d", maxPages)}
	}
	perPage, err := api.ExtractImagesRaw(f, selected, relaxedConfig())
	if err != nil {
		return nil, domain.WrapError(domain.ErrExtraction, "extract pdf images", err)
	}

	best := make(map[int]ports.PageImage)
	for _, objects := range perPage {
		for _, img := range objects {
			mime := imageMimeType(img.FileType)
			if mime == "" || img.Reader == nil {
				continue
			}
			data, err := io.ReadAll(img.Reader)
			if err != nil || len(data) < minImageBytes {
				continue
			}
			if cur, ok := best[img.PageNr]; ok && len(cur.Data) >= len(data) {
				continue
			}
			best[img.PageNr] = ports.PageImage{Page: img.PageNr, Data: bytes.Clone(data), MimeType: mime}
		}
	}
	if len(best) == 0 {
		return nil, domain.WrapError(domain.ErrExtraction, "extract pdf images", fmt.Errorf("no page images in %s", filepath.Base(path)))
	}

	images = make([]ports.PageImage, 0, len(best))
	for _, img := range best {
		images = append(images, img)
	}
	sort.Slice(images, func(i, j int) bool { return images[i].Page < images[j].Page })
	return images, nil
}

func imageMimeType(fileType string) string {
	switch strings.ToLower(fileType) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "tif", "tiff":
		return "image/tiff"
	default:
		return ""
	}
}
