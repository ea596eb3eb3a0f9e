// Package presentation pulls slide text out of .pptx files.
package presentation

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

var slidePart = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

type slide struct {
	num  int
	file *zip.File
}

func (e *Extractor) ExtractText(ctx context.Context, path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", domain.WrapError(domain.ErrExtraction, "open pptx", err)
	}
	defer zr.Close()

	var slides []slide
	for _, f := range zr.File {
		m := slidePart.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: n, file: f})
	}
	if len(slides) == 0 {
		return "", domain.WrapError(domain.ErrExtraction, "open pptx", errors.New("no slides found"))
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var sb strings.Builder
	for _, s := range slides {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := slideText(s.file)
		if err != nil {
			return "", domain.WrapError(domain.ErrExtraction, fmt.Sprintf("parse slide %d", s.num), err)
		}
		fmt.Fprintf(&sb, "--- slide %d ---\n", s.num)
		if text != "" {
			sb.WriteString(text)
			sb.WriteByte('\n')
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// slideText collects a:t runs; every a:p ends a line.
func slideText(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	var (
		lines  []string
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
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if s := strings.TrimSpace(line.String()); s != "" {
					lines = append(lines, s)
				}
				line.Reset()
			}
		case xml.CharData:
			if inText {
				line.Write(t)
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}
