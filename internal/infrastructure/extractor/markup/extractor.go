// Package markup pulls the visible text out of HTML pages.
package markup

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) ExtractText(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("read source document: %w", err)
	}
	defer f.Close()

	doc, err := html.Parse(f)
	if err != nil {
		return "", domain.WrapError(domain.ErrExtraction, "parse html", err)
	}
	var sb strings.Builder
	walk(doc, &sb)
	return normalize(sb.String()), nil
}

func walk(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Template:
			return
		case atom.Br:
			sb.WriteByte('\n')
			return
		case atom.Td, atom.Th:
			sb.WriteByte('\t')
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, sb)
	}
	if n.Type == html.ElementNode && isBlock(n.DataAtom) {
		sb.WriteByte('\n')
	}
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Li, atom.Tr, atom.Table, atom.Title,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Section, atom.Article, atom.Header, atom.Footer, atom.Blockquote, atom.Pre:
		return true
	}
	return false
}

// normalize collapses runs of whitespace inside each line and drops blank lines.
func normalize(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
