package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	schemaMu    sync.Mutex
	schemaCache = map[string]*jsonschema.Schema{}
)

// JSONSchema describes the normalized shape of tmpl: every field required,
// extra keys allowed.
func (t Template) JSONSchema() map[string]any {
	props := make(map[string]any, len(t.Fields))
	required := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		if f.Kind == KindObject && f.Nested != nil {
			props[f.Name] = f.Nested.JSONSchema()
		} else {
			props[f.Name] = map[string]any{"type": f.Kind.String()}
		}
		required = append(required, f.Name)
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Validate checks a normalized record against its template schema.
func Validate(rec Record, tmpl Template) error {
	schema, err := compiledSchema(tmpl)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("unmarshal record: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("record does not match %s schema: %w", tmpl.Name, err)
	}
	return nil
}

func compiledSchema(tmpl Template) (*jsonschema.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	if s, ok := schemaCache[tmpl.Name]; ok {
		return s, nil
	}
	b, err := json.Marshal(tmpl.JSONSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	url := tmpl.Name + ".schema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	s, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	schemaCache[tmpl.Name] = s
	return s, nil
}
