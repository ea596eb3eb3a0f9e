// Package remote downloads documents that live in object storage.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
)

type Options struct {
	// PublicBaseURL builds a direct URL when the document has none.
	PublicBaseURL string
	SignedURLTTL  time.Duration
	Timeout       time.Duration
	MaxBytes      int64
	Resilience    resilience.Config
	Logger        *slog.Logger
}

type Fetcher struct {
	signer     ports.URLSigner
	opts       Options
	httpClient *http.Client
	executor   *resilience.Executor
	logger     *slog.Logger
}

// strategy yields a URL to try, or "" when it does not apply.
type strategy struct {
	name string
	url  func(ctx context.Context, storagePath, directURL string) (string, error)
}

// NewFetcher accepts a nil signer; the signed-URL strategy is then skipped.
func NewFetcher(signer ports.URLSigner, opts Options) *Fetcher {
	if opts.SignedURLTTL <= 0 {
		opts.SignedURLTTL = time.Hour
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 512 << 20
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		signer:     signer,
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		executor:   resilience.NewExecutorWithLogger(opts.Resilience, logger),
		logger:     logger,
	}
}

func (f *Fetcher) strategies() []strategy {
	return []strategy{
		{name: "direct", url: f.directURL},
		{name: "signed", url: f.signedURL},
	}
}

func (f *Fetcher) directURL(_ context.Context, storagePath, directURL string) (string, error) {
	if strings.TrimSpace(directURL) != "" {
		return directURL, nil
	}
	if f.opts.PublicBaseURL == "" || storagePath == "" {
		return "", nil
	}
	return url.JoinPath(f.opts.PublicBaseURL, storagePath)
}

func (f *Fetcher) signedURL(ctx context.Context, storagePath, _ string) (string, error) {
	if f.signer == nil || storagePath == "" {
		return "", nil
	}
	return f.signer.SignedURL(ctx, storagePath, f.opts.SignedURLTTL)
}

// Fetch walks the strategies in order; the first success wins.
func (f *Fetcher) Fetch(ctx context.Context, storagePath, directURL string) ([]byte, error) {
	var errs []error
	for _, s := range f.strategies() {
		target, err := s.url(ctx, storagePath, directURL)
		if err != nil {
			f.logger.Warn("remote_fetch_strategy_unavailable", "strategy", s.name, "storage_path", storagePath, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		if target == "" {
			continue
		}

		data, err := f.get(ctx, s.name, target)
		if err == nil {
			f.logger.Info("remote_fetch_succeeded", "strategy", s.name, "storage_path", storagePath, "bytes", len(data))
			return data, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		f.logger.Warn("remote_fetch_strategy_failed", "strategy", s.name, "storage_path", storagePath, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
	}

	if len(errs) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "fetch remote document",
			errors.New("no storage path or url to download from"))
	}
	return nil, domain.WrapError(domain.ErrTemporary, "fetch remote document", errors.Join(errs...))
}

type statusError struct {
	code       int
	status     string
	retryAfter time.Duration
}

func (e *statusError) Error() string { return "download status: " + e.status }

func (e *statusError) RetryAfter() time.Duration { return e.retryAfter }

func (f *Fetcher) get(ctx context.Context, strategyName, target string) ([]byte, error) {
	return resilience.Do(ctx, f.executor, "remote_fetch_"+strategyName, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("create download request: %w", err)
		}
		resp, err := f.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("download request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return nil, &statusError{
				code:       resp.StatusCode,
				status:     resp.Status,
				retryAfter: resilience.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			}
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBytes+1))
		if err != nil {
			return nil, fmt.Errorf("read download body: %w", err)
		}
		if int64(len(data)) > f.opts.MaxBytes {
			return nil, fmt.Errorf("download exceeds %d bytes", f.opts.MaxBytes)
		}
		return data, nil
	}, classifyDownloadError)
}

func classifyDownloadError(err error) resilience.ErrorClassification {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{}
	}
	var se *statusError
	if errors.As(err, &se) {
		retry := se.code == http.StatusTooManyRequests || se.code >= 500
		return resilience.ErrorClassification{Retryable: retry, RecordFailure: retry, RetryAfter: se.retryAfter}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{}
}
