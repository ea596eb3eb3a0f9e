// Package prompts loads the task instructions sent to the AI provider.
package prompts

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

//go:embed templates.yaml
var defaultTemplates []byte

type Prompt struct {
	System      string
	Instruction string
	JSON        bool
}

type taskEntry struct {
	JSON        bool   `yaml:"json"`
	Instruction string `yaml:"instruction"`
}

type document struct {
	System string               `yaml:"system"`
	Tasks  map[string]taskEntry `yaml:"tasks"`
}

type Catalog struct {
	system string
	tasks  map[domain.TaskKind]taskEntry
}

// Default parses the embedded catalogue.
func Default() (*Catalog, error) {
	return Parse(defaultTemplates)
}

// Parse requires an entry for every task kind.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse prompt catalogue: %w", err)
	}
	c := &Catalog{
		system: strings.TrimSpace(doc.System),
		tasks:  make(map[domain.TaskKind]taskEntry, len(doc.Tasks)),
	}
	for name, entry := range doc.Tasks {
		kind := domain.TaskKind(name)
		if !kind.Valid() {
			return nil, fmt.Errorf("prompt catalogue: unknown task %q", name)
		}
		if strings.TrimSpace(entry.Instruction) == "" {
			return nil, fmt.Errorf("prompt catalogue: task %q has no instruction", name)
		}
		c.tasks[kind] = entry
	}
	for _, kind := range []domain.TaskKind{domain.TaskDocument, domain.TaskPage, domain.TaskTable, domain.TaskClassify, domain.TaskTranscribe} {
		if _, ok := c.tasks[kind]; !ok {
			return nil, fmt.Errorf("prompt catalogue: missing task %q", kind)
		}
	}
	return c, nil
}

func (c *Catalog) For(kind domain.TaskKind) (Prompt, error) {
	entry, ok := c.tasks[kind]
	if !ok {
		return Prompt{}, domain.WrapError(domain.ErrInvalidInput, "prompt lookup", fmt.Errorf("unknown task %q", kind))
	}
	return Prompt{
		System:      c.system,
		Instruction: strings.TrimSpace(entry.Instruction),
		JSON:        entry.JSON,
	}, nil
}
