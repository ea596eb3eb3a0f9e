package analysis

import (
	"encoding/json"
	"regexp"
	"strings"
)

var objectSpanRe = regexp.MustCompile(`(?s)\{.*\}`)

// Parse turns a raw AI response into a record shaped like tmpl. The bool is
// false when no JSON object could be recovered and the fallback was used.
func Parse(raw string, tmpl Template) (Record, bool) {
	obj, ok := ExtractJSON(raw)
	if !ok {
		return tmpl.Fallback(raw), false
	}
	return tmpl.Normalize(obj), true
}

// ExtractJSON recovers the first JSON object in raw: whole-string parse,
// then the outermost {...} span, then the same span after lenient repair.
func ExtractJSON(raw string) (map[string]any, bool) {
	if strings.TrimSpace(raw) == "" {
		return nil, false
	}
	if obj, ok := decodeObject(raw); ok {
		return obj, true
	}

	if span := objectSpanRe.FindString(raw); span != "" {
		if obj, ok := decodeObject(span); ok {
			return obj, true
		}
	}

	candidate := stripCodeFences(raw)
	start := strings.Index(candidate, "{")
	if start < 0 {
		return nil, false
	}
	candidate = candidate[start:]
	if end := strings.LastIndex(candidate, "}"); end >= 0 {
		if obj, ok := decodeObject(repairJSON(candidate[:end+1])); ok {
			return obj, true
		}
	}
	// Truncated output has no usable closing brace.
	return decodeObject(repairJSON(candidate))
}

func decodeObject(s string) (map[string]any, bool) {
	var v any
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &v); err != nil {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	return obj, ok
}
