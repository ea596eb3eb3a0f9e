// Package structured turns extraction tasks into single provider calls and
// hands back the raw response for the parser.
package structured

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/llm/prompts"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
)

const DefaultMaxInputChars = 100000

type Options struct {
	MaxInputChars     int
	RequestsPerMinute int
	Resilience        resilience.Config
	Logger            *slog.Logger
}

type Adapter struct {
	provider ports.CompletionService
	catalog  *prompts.Catalog
	executor *resilience.Executor
	limiter  *rate.Limiter
	maxChars int
	logger   *slog.Logger
}

func NewAdapter(provider ports.CompletionService, catalog *prompts.Catalog, opts Options) *Adapter {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxChars := opts.MaxInputChars
	if maxChars <= 0 {
		maxChars = DefaultMaxInputChars
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	return &Adapter{
		provider: provider,
		catalog:  catalog,
		executor: resilience.NewExecutorWithLogger(opts.Resilience.SingleAttempt(), logger),
		limiter:  limiter,
		maxChars: maxChars,
		logger:   logger,
	}
}

func (a *Adapter) AnalyzeText(ctx context.Context, kind domain.TaskKind, text string) (string, error) {
	prompt, err := a.catalog.For(kind)
	if err != nil {
		return "", err
	}
	truncated, cut := truncateRunes(text, a.maxChars)
	if cut {
		a.logger.Info("ai_input_truncated", "task", kind, "max_chars", a.maxChars)
	}
	return a.complete(ctx, domain.CompletionRequest{
		Kind:        kind,
		System:      prompt.System,
		Instruction: prompt.Instruction,
		Text:        truncated,
		JSON:        prompt.JSON,
	})
}

func (a *Adapter) AnalyzeImage(ctx context.Context, kind domain.TaskKind, data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "analyze image", fmt.Errorf("empty %s payload", mimeType))
	}
	prompt, err := a.catalog.For(kind)
	if err != nil {
		return "", err
	}
	return a.complete(ctx, domain.CompletionRequest{
		Kind:        kind,
		System:      prompt.System,
		Instruction: prompt.Instruction,
		Data:        data,
		MimeType:    mimeType,
		JSON:        prompt.JSON,
	})
}

func (a *Adapter) complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	req.RequestID = uuid.NewString()
	logger := a.logger.With("request_id", req.RequestID, "task", req.Kind)

	if err := a.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for ai rate limit: %w", err)
	}

	started := time.Now()
	logger.Info("ai_request_started", "chars", len(req.Text), "bytes", len(req.Data), "mime_type", req.MimeType)

	var out string
	err := a.executor.Execute(ctx, "ai_complete", func(ctx context.Context) error {
		resp, err := a.provider.Complete(ctx, req)
		if err != nil {
			return err
		}
		out = resp
		return nil
	}, resilience.ClassifyTemporary)
	if err != nil {
		if resilience.IsCircuitOpen(err) {
			err = domain.WrapError(domain.ErrTemporary, "ai complete", err)
		}
		logger.Warn("ai_request_failed", "duration_ms", time.Since(started).Milliseconds(), "error", err)
		return "", err
	}

	logger.Info("ai_request_completed", "duration_ms", time.Since(started).Milliseconds(), "response_chars", len(out))
	return out, nil
}

func truncateRunes(s string, limit int) (string, bool) {
	if limit <= 0 || len(s) <= limit {
		return s, false
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i], true
		}
		n++
	}
	return s, false
}
