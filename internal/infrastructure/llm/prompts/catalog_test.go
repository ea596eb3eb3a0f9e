package prompts

import (
	"strings"
	"testing"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

func TestDefaultCatalogCoversEveryTask(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	for _, kind := range []domain.TaskKind{domain.TaskDocument, domain.TaskPage, domain.TaskTable, domain.TaskClassify, domain.TaskTranscribe} {
		p, err := c.For(kind)
		if err != nil {
			t.Fatalf("For(%s) error = %v", kind, err)
		}
		if p.Instruction == "" || p.System == "" {
			t.Fatalf("empty prompt for %s: %+v", kind, p)
		}
	}

	transcribe, _ := c.For(domain.TaskTranscribe)
	if transcribe.JSON {
		t.Fatalf("transcription must be plain text")
	}
	page, _ := c.For(domain.TaskPage)
	if !page.JSON || !strings.Contains(page.Instruction, "page_text") {
		t.Fatalf("unexpected page prompt %+v", page)
	}
}

func TestParseRejectsIncompleteCatalogue(t *testing.T) {
	_, err := Parse([]byte("system: x\ntasks:\n  document:\n    json: true\n    instruction: go\n"))
	if err == nil || !strings.Contains(err.Error(), "missing task") {
		t.Fatalf("expected missing task error, got %v", err)
	}
}

func TestParseRejectsUnknownTask(t *testing.T) {
	_, err := Parse([]byte("tasks:\n  summarize:\n    instruction: go\n"))
	if err == nil || !strings.Contains(err.Error(), "unknown task") {
		t.Fatalf("expected unknown task error, got %v", err)
	}
}

func TestForUnknownKind(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if _, err := c.For(domain.TaskKind("poem")); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
