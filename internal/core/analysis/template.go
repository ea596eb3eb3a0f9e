// Package analysis normalizes and reconciles structured-extraction results.
//
// AI responses are untrusted text. Nothing leaves this package as a Record
// until every field defined by its Template is present with the right shape.
package analysis

import (
	"encoding/json"
	"strconv"
)

// Record is one normalized extraction result.
type Record = map[string]any

type Kind int

const (
	KindString Kind = iota
	KindList
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindList:
		return "array"
	case KindObject:
		return "object"
	default:
		return "string"
	}
}

type Field struct {
	Name string
	Kind Kind
	// Dedupe drops repeated list values on merge, keeping the first occurrence.
	Dedupe bool
	// Nested shapes an object field; nil means free-form keys.
	Nested *Template
}

type Template struct {
	Name      string
	TextField string
	Fields    []Field
}

func (t Template) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Empty returns a record with every field at its empty default.
func (t Template) Empty() Record {
	out := make(Record, len(t.Fields))
	for _, f := range t.Fields {
		out[f.Name] = emptyValue(f)
	}
	return out
}

// Fallback keeps the raw response in the text field so nothing is lost
// when structuring fails.
func (t Template) Fallback(raw string) Record {
	out := t.Empty()
	if t.TextField != "" {
		out[t.TextField] = raw
	}
	return out
}

// Normalize defaults and coerces every template field. Keys the template
// does not know are kept as-is.
func (t Template) Normalize(in map[string]any) Record {
	out := make(Record, len(in)+len(t.Fields))
	for k, v := range in {
		out[k] = v
	}
	for _, f := range t.Fields {
		out[f.Name] = coerce(f, in[f.Name])
	}
	return out
}

func emptyValue(f Field) any {
	switch f.Kind {
	case KindList:
		return []any{}
	case KindObject:
		if f.Nested != nil {
			return f.Nested.Empty()
		}
		return map[string]any{}
	default:
		return ""
	}
}

func coerce(f Field, v any) any {
	switch f.Kind {
	case KindList:
		return coerceList(v)
	case KindObject:
		obj, ok := v.(map[string]any)
		if !ok {
			return emptyValue(f)
		}
		if f.Nested != nil {
			return f.Nested.Normalize(obj)
		}
		out := make(map[string]any, len(obj))
		for k, val := range obj {
			out[k] = val
		}
		return out
	default:
		return coerceString(v)
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

func coerceList(v any) []any {
	switch val := v.(type) {
	case nil:
		return []any{}
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			if item == nil {
				continue
			}
			out = append(out, item)
		}
		return out
	case string:
		if val == "" {
			return []any{}
		}
		return []any{val}
	default:
		return []any{val}
	}
}

func str(name string) Field  { return Field{Name: name, Kind: KindString} }
func list(name string) Field { return Field{Name: name, Kind: KindList} }
func obj(name string) Field  { return Field{Name: name, Kind: KindObject} }

func dedupedList(name string) Field {
	return Field{Name: name, Kind: KindList, Dedupe: true}
}

// findingFields are shared by the document and page templates.
func findingFields() []Field {
	return []Field{
		str("title"),
		str("institution"),
		str("date"),
		str("amount"),
		str("duration"),
		str("reference_no"),
		dedupedList("technical_requirements"),
		list("line_items"),
		obj("contact"),
		dedupedList("notes"),
		list("personnel"),
		list("meals"),
		dedupedList("work_sites"),
		obj("financial_criteria"),
		list("penalties"),
		obj("price_adjustment"),
		list("required_documents"),
		obj("guarantee_rates"),
		obj("service_hours"),
		str("threshold_coefficient"),
		str("similar_work"),
	}
}

var DocumentTemplate = Template{
	Name:      "document",
	TextField: "full_text",
	Fields: append([]Field{
		str("full_text"),
		str("daily_meals"),
		str("person_count"),
	}, findingFields()...),
}

var FindingsTemplate = Template{
	Name:   "findings",
	Fields: findingFields(),
}

var PageTemplate = Template{
	Name:      "page",
	TextField: "page_text",
	Fields: []Field{
		str("page_text"),
		{Name: "findings", Kind: KindObject, Nested: &FindingsTemplate},
	},
}
