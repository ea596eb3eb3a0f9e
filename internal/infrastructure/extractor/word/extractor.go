// Package word flattens .docx documents into plain text.
package word

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

const documentPart = "word/document.xml"

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// ExtractText emits one line per paragraph; tabs and breaks inside a
// paragraph are kept.
func (e *Extractor) ExtractText(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", domain.WrapError(domain.ErrExtraction, "open docx", err)
	}
	defer zr.Close()

	part, err := zr.Open(documentPart)
	if err != nil {
		return "", domain.WrapError(domain.ErrExtraction, "open docx", fmt.Errorf("missing %s: %w", documentPart, err))
	}
	defer part.Close()

	text, err := flatten(part)
	if err != nil {
		return "", domain.WrapError(domain.ErrExtraction, "parse docx", err)
	}
	return text, nil
}

func flatten(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		sb     strings.Builder
		line   strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				line.WriteByte('\t')
			case "br", "cr":
				line.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteString(strings.TrimRight(line.String(), " "))
				sb.WriteByte('\n')
				line.Reset()
			}
		case xml.CharData:
			if inText {
				line.Write(t)
			}
		}
	}
	if line.Len() > 0 {
		sb.WriteString(line.String())
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
