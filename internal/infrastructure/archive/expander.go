// Package archive unpacks ZIP archives into scratch directories and returns
// the leaves the pipeline can process.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

// Resolver is the slice of the type resolver the expander needs.
type Resolver interface {
	ResolveFile(path, name string, refs ...string) (string, error)
}

type Options struct {
	TempRoot string
	MaxDepth int
	MaxBytes int64
	// Supported filters leaves; nested archives are always descended into.
	Supported func(ext string) bool
	Logger    *slog.Logger
}

type Expander struct {
	resolver Resolver
	opts     Options
	logger   *slog.Logger
}

func NewExpander(resolver Resolver, opts Options) *Expander {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 3
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 512 << 20
	}
	if opts.Supported == nil {
		opts.Supported = func(string) bool { return true }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Expander{resolver: resolver, opts: opts, logger: logger}
}

type Expansion struct {
	dir     string
	entries []ports.ArchiveEntry
}

func (e *Expansion) Entries() []ports.ArchiveEntry { return e.entries }

func (e *Expansion) Cleanup() {
	if e == nil || e.dir == "" {
		return
	}
	_ = os.RemoveAll(e.dir)
}

// Expand unpacks archivePath. On error nothing is left on disk; on success
// the caller owns Cleanup.
func (x *Expander) Expand(ctx context.Context, archivePath string) (ports.Expansion, error) {
	dir, err := os.MkdirTemp(x.opts.TempRoot, "doc-archive-*")
	if err != nil {
		return nil, fmt.Errorf("create expansion dir: %w", err)
	}
	exp := &Expansion{dir: dir}

	budget := x.opts.MaxBytes
	if err := x.expandInto(ctx, archivePath, dir, 1, &budget, exp); err != nil {
		exp.Cleanup()
		return nil, err
	}
	if len(exp.entries) == 0 {
		exp.Cleanup()
		return nil, domain.WrapError(domain.ErrNoSupportedContent, "expand archive",
			fmt.Errorf("%s contains no supported files", filepath.Base(archivePath)))
	}
	return exp, nil
}

func (x *Expander) expandInto(ctx context.Context, archivePath, dest string, depth int, budget *int64, exp *Expansion) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := unzip(archivePath, dest, budget); err != nil {
		return domain.WrapError(domain.ErrExtraction, "unzip "+filepath.Base(archivePath), err)
	}

	return filepath.WalkDir(dest, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if p != dest && strings.HasSuffix(d.Name(), ".expanded") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		ext, err := x.resolver.ResolveFile(p, d.Name())
		if err != nil {
			x.logger.Warn("archive_entry_unreadable", "path", p, "error", err)
			return nil
		}
		if ext == ".zip" {
			if depth >= x.opts.MaxDepth {
				x.logger.Warn("archive_depth_exceeded", "path", p, "max_depth", x.opts.MaxDepth)
				return nil
			}
			nested := p + ".expanded"
			if err := os.MkdirAll(nested, 0o755); err != nil {
				return fmt.Errorf("create nested dir: %w", err)
			}
			err = x.expandInto(ctx, p, nested, depth+1, budget, exp)
			if err == nil || fatalExpandError(err) {
				return err
			}
			x.logger.Warn("archive_entry_unreadable", "path", p, "error", err)
			_ = os.RemoveAll(nested)
			return nil
		}
		if ext == "" || !x.opts.Supported(ext) {
			x.logger.Debug("archive_entry_skipped", "path", p, "ext", ext)
			return nil
		}
		exp.entries = append(exp.entries, ports.ArchiveEntry{Path: p, Ext: ext, Name: d.Name()})
		return nil
	})
}

func unzip(archivePath, dest string, budget *int64) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer zr.Close()

	clean := filepath.Clean(dest)
	root := clean + string(os.PathSeparator)
	for _, f := range zr.File {
		target := filepath.Join(dest, f.Name)
		if target == clean {
			// "./" and "dir/.." name the root itself.
			continue
		}
		if !strings.HasPrefix(target, root) {
			return fmt.Errorf("%w: %q", errEscapesRoot, f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractFile(f, target, budget); err != nil {
			return err
		}
	}
	return nil
}

var (
	errTooLarge    = errors.New("archive exceeds size limit")
	errEscapesRoot = errors.New("entry escapes archive root")
)

// fatalExpandError reports errors that abort the whole expansion rather
// than skipping one nested archive.
func fatalExpandError(err error) bool {
	return errors.Is(err, errTooLarge) || errors.Is(err, errEscapesRoot) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func extractFile(f *zip.File, target string, budget *int64) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry %q: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer out.Close()

	n, err := io.Copy(out, io.LimitReader(rc, *budget+1))
	if err != nil {
		return fmt.Errorf("write entry %q: %w", f.Name, err)
	}
	*budget -= n
	if *budget < 0 {
		return errTooLarge
	}
	return nil
}
