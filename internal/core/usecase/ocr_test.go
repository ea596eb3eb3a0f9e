package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

func TestShouldOCRThresholds(t *testing.T) {
	policy := DefaultOCRPolicy()
	cases := []struct {
		name  string
		chars int
		size  int64
		want  bool
	}{
		{name: "small file with little text", chars: 50, size: 10 * 1024, want: false},
		{name: "large file with little text", chars: 10, size: 2 << 20, want: true},
		{name: "large file with enough text", chars: 500, size: 2 << 20, want: false},
		{name: "exactly at size threshold", chars: 0, size: 500 * 1024, want: false},
		{name: "one byte over size threshold", chars: 0, size: 500*1024 + 1, want: true},
		{name: "fraction of a KB over threshold", chars: 10, size: 512500, want: true},
	}
	for _, tc := range cases {
		if got := ShouldOCR(tc.chars, tc.size, policy); got != tc.want {
			t.Fatalf("%s: ShouldOCR(%d, %d) = %v, want %v", tc.name, tc.chars, tc.size, got, tc.want)
		}
	}
}

func newOCRPipeline(ai *aiFake, pager *pagerFake, metrics *metricsFake) *Pipeline {
	return NewPipeline(PipelineDeps{
		Resolver:   &resolverFake{},
		Extractors: registryFake{},
		Pager:      pager,
		AI:         ai,
		Metrics:    metrics,
	}, PipelineConfig{OCR: DefaultOCRPolicy()})
}

func TestApplyOCRDiscardsShorterResult(t *testing.T) {
	path := writeSized(t, t.TempDir(), "scan.pdf", 600*1024)
	ai := &aiFake{imageReply: map[string]string{pdfMimeType: "abc"}}
	metrics := &metricsFake{}
	p := newOCRPipeline(ai, &pagerFake{}, metrics)

	text, result := p.applyOCR(context.Background(), path, "short scan text")
	if text != "short scan text" {
		t.Fatalf("expected original text to be kept, got %q", text)
	}
	if result == nil || result.Applied {
		t.Fatalf("expected non-applied OCR metadata, got %+v", result)
	}
	if result.OriginalChars != 15 || result.OCRChars != 3 {
		t.Fatalf("unexpected char counts %+v", result)
	}
	if len(metrics.ocr) != 1 || metrics.ocr[0] {
		t.Fatalf("expected one discarded OCR metric, got %v", metrics.ocr)
	}
}

func TestApplyOCRReplacesThinText(t *testing.T) {
	path := writeSized(t, t.TempDir(), "scan.pdf", 600*1024)
	transcript := strings.Repeat("Daily meals for 120 persons. ", 10)
	ai := &aiFake{imageReply: map[string]string{pdfMimeType: transcript}}
	p := newOCRPipeline(ai, &pagerFake{}, &metricsFake{})

	text, result := p.applyOCR(context.Background(), path, "")
	if text != transcript {
		t.Fatalf("expected OCR text, got %q", text)
	}
	if !result.Applied || result.Method != "vision" {
		t.Fatalf("unexpected OCR metadata %+v", result)
	}
	if ai.calls[0].kind != domain.TaskTranscribe {
		t.Fatalf("expected transcribe task, got %s", ai.calls[0].kind)
	}
}

func TestApplyOCRSkipsSmallFiles(t *testing.T) {
	path := writeSized(t, t.TempDir(), "small.pdf", 10*1024)
	ai := &aiFake{}
	p := newOCRPipeline(ai, &pagerFake{}, &metricsFake{})

	text, result := p.applyOCR(context.Background(), path, "thin")
	if text != "thin" || result != nil {
		t.Fatalf("expected no OCR for small file, got %q %+v", text, result)
	}
	if ai.callCount() != 0 {
		t.Fatalf("expected no AI calls, got %d", ai.callCount())
	}
}

func TestApplyOCRFallsBackToPageImages(t *testing.T) {
	path := writeSized(t, t.TempDir(), "scan.pdf", 600*1024)
	ai := &aiFake{
		imageErr:   map[string]error{pdfMimeType: domain.WrapError(domain.ErrInvalidInput, "ollama generate", errors.New("pdf not supported"))},
		imageReply: map[string]string{"image/jpeg": "a transcribed page with enough words"},
	}
	pager := &pagerFake{images: []ports.PageImage{
		{Page: 1, Data: []byte{1}, MimeType: "image/jpeg"},
		{Page: 2, Data: []byte{2}, MimeType: "image/jpeg"},
	}}
	p := newOCRPipeline(ai, pager, &metricsFake{})

	text, result := p.applyOCR(context.Background(), path, "x")
	if !result.Applied || result.Pages != 2 {
		t.Fatalf("expected applied OCR over 2 pages, got %+v", result)
	}
	want := "a transcribed page with enough words\n\na transcribed page with enough words"
	if text != want {
		t.Fatalf("unexpected joined text %q", text)
	}
}

func TestApplyOCRSwallowsProviderErrors(t *testing.T) {
	path := writeSized(t, t.TempDir(), "scan.pdf", 600*1024)
	ai := &aiFake{imageErr: map[string]error{pdfMimeType: domain.WrapError(domain.ErrTemporary, "vertex generate", errors.New("unavailable"))}}
	p := newOCRPipeline(ai, &pagerFake{}, &metricsFake{})

	text, result := p.applyOCR(context.Background(), path, "thin text")
	if text != "thin text" {
		t.Fatalf("expected original text, got %q", text)
	}
	if result == nil || result.Applied {
		t.Fatalf("expected non-applied OCR metadata, got %+v", result)
	}
}
