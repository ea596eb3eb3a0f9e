// Package filetype detects the real format of a file from its content, with
// the filename and URL hints as fallbacks.
package filetype

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

const Unknown = ""

// HeadSize is enough for every signature checked here.
const HeadSize = 512

// SupportedExtensions is every extension the resolver may return from a
// filename. Content signatures can only produce a subset.
var SupportedExtensions = map[string]struct{}{
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
	".zip": {}, ".rar": {},
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".tiff": {}, ".tif": {}, ".bmp": {},
	".txt": {}, ".csv": {}, ".xml": {}, ".json": {}, ".html": {}, ".htm": {},
}

// IsImage reports whether ext is handed to the vision model as-is.
func IsImage(ext string) bool {
	_, ok := domain.ImageMimeType(ext)
	return ok
}

type Resolver struct{}

func NewResolver() *Resolver {
	return &Resolver{}
}

// ResolveFile reads path and resolves its type. A ZIP is reclassified by
// looking at its central directory. refs are source locations (download
// URL, storage reference) consulted after name.
func (r *Resolver) ResolveFile(filePath, name string, refs ...string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return Unknown, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Unknown, fmt.Errorf("stat file: %w", err)
	}
	head := make([]byte, HeadSize)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Unknown, fmt.Errorf("read file head: %w", err)
	}
	head = head[:n]

	if name == "" {
		name = filePath
	}
	ext := Resolve(head, name, refs...)
	if ext == ".zip" {
		if zr, err := zip.NewReader(f, info.Size()); err == nil {
			ext = classifyZip(zr.File)
		}
	}
	return ext, nil
}

// Resolve checks magic bytes first, then the extension of name and of each
// ref, then keyword hints in the same order. It never inspects archive
// contents, so a ZIP-based office file comes back as ".zip" here.
func Resolve(head []byte, name string, refs ...string) string {
	if ext, conclusive := sniff(head); conclusive {
		return ext
	}
	candidates := append([]string{name}, refs...)
	for _, c := range candidates {
		if ext := FromName(c); ext != Unknown {
			return ext
		}
	}
	for _, c := range candidates {
		if ext := FromURLHints(c); ext != Unknown {
			return ext
		}
	}
	return Unknown
}

func sniff(b []byte) (string, bool) {
	switch {
	case bytes.HasPrefix(b, []byte("%PDF")):
		return ".pdf", true
	case bytes.HasPrefix(b, []byte{0x50, 0x4b, 0x03, 0x04}):
		return ".zip", true
	case bytes.HasPrefix(b, []byte("Rar!")):
		return ".rar", true
	case bytes.HasPrefix(b, []byte{0x89, 0x50, 0x4e, 0x47}):
		return ".png", true
	case bytes.HasPrefix(b, []byte{0xff, 0xd8, 0xff}):
		return ".jpg", true
	case bytes.HasPrefix(b, []byte{0xd0, 0xcf, 0x11, 0xe0}):
		// Compound binary: doc, xls and ppt look the same.
		return Unknown, false
	case bytes.HasPrefix(b, []byte("GIF8")):
		return ".gif", true
	case bytes.HasPrefix(b, []byte("BM")):
		return ".bmp", true
	case bytes.HasPrefix(b, []byte{0x49, 0x49, 0x2a, 0x00}), bytes.HasPrefix(b, []byte{0x4d, 0x4d, 0x00, 0x2a}):
		return ".tiff", true
	case len(b) >= 12 && bytes.Equal(b[0:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WEBP")):
		return ".webp", true
	}
	return Unknown, false
}

func classifyZip(files []*zip.File) string {
	hasManifest := false
	var word, xl, ppt bool
	for _, f := range files {
		switch {
		case f.Name == "[Content_Types].xml":
			hasManifest = true
		case strings.HasPrefix(f.Name, "word/"):
			word = true
		case strings.HasPrefix(f.Name, "xl/"):
			xl = true
		case strings.HasPrefix(f.Name, "ppt/"):
			ppt = true
		}
	}
	if !hasManifest {
		return ".zip"
	}
	switch {
	case word:
		return ".docx"
	case xl:
		return ".xlsx"
	case ppt:
		return ".pptx"
	default:
		return ".zip"
	}
}

// FromName returns the supported extension of a filename, path or URL.
func FromName(name string) string {
	if name == "" {
		return Unknown
	}
	p := name
	if u, err := url.Parse(name); err == nil && u.Scheme != "" {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == ".jpeg" {
		return ".jpg"
	}
	if ext == ".tif" {
		return ".tiff"
	}
	if ext == ".htm" {
		return ".html"
	}
	if _, ok := SupportedExtensions[ext]; ok {
		return ext
	}
	return Unknown
}

// FromURLHints is the last resort for extension-less download links.
func FromURLHints(ref string) string {
	lower := strings.ToLower(ref)
	switch {
	case strings.Contains(lower, "idari"), strings.Contains(lower, "teknik"):
		return ".pdf"
	case strings.Contains(lower, ".zip"):
		return ".zip"
	default:
		return Unknown
	}
}
