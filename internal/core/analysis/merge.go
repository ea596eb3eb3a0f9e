package analysis

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

const (
	pageSeparator     = "\n\n"
	documentSeparator = "\n\n---\n\n"
)

// MergePages folds page records of one PDF into a single document record.
// Scalars are first-wins, lists concatenate, objects merge key by key with
// later non-empty values winning.
func MergePages(pages []Record) (Record, error) {
	if len(pages) == 0 {
		return nil, domain.WrapError(domain.ErrEmptyMerge, "merge pages", errors.New("zero page results"))
	}

	merged := DocumentTemplate.Empty()
	texts := make([]string, 0, len(pages))
	for _, page := range pages {
		if page == nil {
			continue
		}
		if text := stringValue(page[PageTemplate.TextField]); strings.TrimSpace(text) != "" {
			texts = append(texts, text)
		}
		findings, _ := page["findings"].(map[string]any)
		for _, f := range FindingsTemplate.Fields {
			mergeField(merged, f, findings[f.Name], false)
		}
	}
	merged[DocumentTemplate.TextField] = strings.Join(texts, pageSeparator)
	dedupeLists(merged, DocumentTemplate)
	return merged, nil
}

// MergeDocuments combines per-file results of one archive. A single result
// is returned untouched.
func MergeDocuments(docs []Record) (Record, error) {
	switch len(docs) {
	case 0:
		return nil, domain.WrapError(domain.ErrEmptyMerge, "merge documents", errors.New("zero document results"))
	case 1:
		return docs[0], nil
	}

	merged := DocumentTemplate.Empty()
	texts := make([]string, 0, len(docs))
	for _, doc := range docs {
		texts = append(texts, stringValue(doc[DocumentTemplate.TextField]))
		for _, f := range DocumentTemplate.Fields {
			if f.Name == DocumentTemplate.TextField {
				continue
			}
			mergeField(merged, f, doc[f.Name], true)
		}
	}
	merged[DocumentTemplate.TextField] = strings.Join(texts, documentSeparator)
	dedupeLists(merged, DocumentTemplate)
	return merged, nil
}

func mergeField(merged Record, f Field, value any, shallow bool) {
	switch f.Kind {
	case KindString:
		if stringValue(merged[f.Name]) == "" {
			if s := coerceString(value); s != "" {
				merged[f.Name] = s
			}
		}
	case KindList:
		current, _ := merged[f.Name].([]any)
		merged[f.Name] = append(current, coerceList(value)...)
	case KindObject:
		src, ok := value.(map[string]any)
		if !ok {
			return
		}
		dst, _ := merged[f.Name].(map[string]any)
		if dst == nil {
			dst = map[string]any{}
		}
		for k, v := range src {
			if !shallow && isEmpty(v) {
				continue
			}
			dst[k] = v
		}
		merged[f.Name] = dst
	}
}

func dedupeLists(rec Record, tmpl Template) {
	for _, f := range tmpl.Fields {
		if f.Kind != KindList || !f.Dedupe {
			continue
		}
		items, _ := rec[f.Name].([]any)
		rec[f.Name] = dedupe(items)
	}
}

func dedupe(items []any) []any {
	seen := make(map[string]struct{}, len(items))
	out := make([]any, 0, len(items))
	for _, item := range items {
		key := identity(item)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}

// identity gives strings and structured values distinct key spaces so "1"
// and 1 never collapse.
func identity(v any) string {
	if s, ok := v.(string); ok {
		return "s:" + s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "?"
	}
	return "j:" + string(raw)
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}
