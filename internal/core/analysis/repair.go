package analysis

import (
	"regexp"
	"strings"
)

var (
	codeFenceRe     = regexp.MustCompile("```(?:json)?\\s?")
	numericRangeRe  = regexp.MustCompile(`:\s*(\d+)\s*-\s*(\d+)\s*([,}])`)
	arrayRangeRe    = regexp.MustCompile(`\[\s*(\d+)\s*-\s*(\d+)\s*\]`)
	trailingCommaRe = regexp.MustCompile(`,\s*([\]}])`)
	danglingKeyRe   = regexp.MustCompile(`,\s*"[^"]*"\s*:\s*$`)
	finalCommaRe    = regexp.MustCompile(`,\s*$`)
)

func stripCodeFences(s string) string {
	return strings.TrimSpace(codeFenceRe.ReplaceAllString(s, ""))
}

// repairJSON fixes the mistakes models make most often: bare numeric
// ranges, trailing commas and output cut off mid-object.
func repairJSON(s string) string {
	s = numericRangeRe.ReplaceAllString(s, `: "$1-$2"$3`)
	s = arrayRangeRe.ReplaceAllString(s, `["$1-$2"]`)
	s = closeTruncated(s)
	return trailingCommaRe.ReplaceAllString(s, "$1")
}

func closeTruncated(s string) string {
	inString := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			inString = !inString
		}
	}
	if inString {
		s = strings.TrimSuffix(s, `\`) + `"`
	}

	s = finalCommaRe.ReplaceAllString(s, "")
	s = danglingKeyRe.ReplaceAllString(s, "")

	var stack []byte
	inString = false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch ch {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == ch {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(s)
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}
