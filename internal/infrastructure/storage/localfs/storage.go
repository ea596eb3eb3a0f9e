// Package localfs keeps uploaded source documents under one directory,
// addressed by storage key.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

type Storage struct {
	root string
}

func New(root string) (*Storage, error) {
	if root == "" {
		root = "./data/storage"
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Storage{root: abs}, nil
}

// Path resolves key to a file below the root. Keys that would leave the
// root are ErrInvalidInput.
func (s *Storage) Path(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "resolve storage key", errors.New("empty key"))
	}
	rel := filepath.FromSlash(key)
	if !filepath.IsLocal(rel) {
		return "", domain.WrapError(domain.ErrInvalidInput, "resolve storage key", fmt.Errorf("key %q escapes storage root", key))
	}
	return filepath.Join(s.root, rel), nil
}

// Save writes to a temp file next to the target and renames it into place,
// so the worker never sees a half-written upload.
func (s *Storage) Save(_ context.Context, key string, data io.Reader) (err error) {
	target, err := s.Path(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := io.Copy(tmp, data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("commit %s: %w", key, err)
	}
	return nil
}

func (s *Storage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "open stored document", err)
	case err != nil:
		return nil, fmt.Errorf("open stored document: %w", err)
	}
	return f, nil
}
