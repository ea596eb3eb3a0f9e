// Package resilience wraps calls to external systems (AI providers, remote
// storage, NATS) in classified retries and a per-operation circuit breaker.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
	// RetryAfter, when set, replaces the computed backoff for the next wait.
	RetryAfter time.Duration
}

type ErrorClassifier func(err error) ErrorClassification

// RetryAfterHinter is implemented by errors that carry a server delay hint,
// typically from a Retry-After header on 429/503 responses.
type RetryAfterHinter interface {
	RetryAfter() time.Duration
}

// RetryAfterOf returns the delay hint carried by err, or zero.
func RetryAfterOf(err error) time.Duration {
	var hinter RetryAfterHinter
	if errors.As(err, &hinter) {
		return hinter.RetryAfter()
	}
	return 0
}

type Executor struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func NewExecutor(cfg Config) *Executor {
	return NewExecutorWithLogger(cfg, nil)
}

func NewExecutorWithLogger(cfg Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		cfg:      cfg.normalize(),
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// Execute runs fn under the operation's breaker, retrying failures the
// classifier marks retryable.
func (e *Executor) Execute(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	if fn == nil {
		return fmt.Errorf("resilience: operation callback is nil")
	}
	_, err := Do(ctx, e, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, classifier)
	return err
}

// Do is Execute for calls that return a value.
func Do[T any](
	ctx context.Context,
	e *Executor,
	operation string,
	fn func(context.Context) (T, error),
	classifier ErrorClassifier,
) (T, error) {
	var zero T
	if fn == nil {
		return zero, fmt.Errorf("resilience: operation callback is nil")
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if classifier == nil {
		classifier = defaultClassifier
	}

	var out T
	attempt := func() error {
		return e.retry(ctx, op, classifier, func(ctx context.Context) error {
			v, err := fn(ctx)
			if err == nil {
				out = v
			}
			return err
		})
	}
	if !e.cfg.Breaker.Enabled {
		if err := attempt(); err != nil {
			return zero, err
		}
		return out, nil
	}

	breaker := e.circuitBreaker(op, classifier)
	if _, err := breaker.Execute(func() (any, error) { return nil, attempt() }); err != nil {
		return zero, err
	}
	return out, nil
}

func (e *Executor) retry(ctx context.Context, operation string, classifier ErrorClassifier, fn func(context.Context) error) error {
	maxAttempts := e.cfg.Retry.MaxAttempts
	backoff := e.cfg.Retry.InitialBackoff

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err = fn(ctx); err == nil {
			return nil
		}

		class := classifier(err)
		if !class.Retryable || attempt == maxAttempts {
			return err
		}

		wait := e.jitter(min(backoff, e.cfg.Retry.MaxBackoff))
		if class.RetryAfter > 0 {
			wait = min(class.RetryAfter, e.cfg.Retry.RetryAfterCap)
		}
		e.logger.Warn("retry_attempt",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"backoff_ms", float64(wait.Microseconds())/1000.0,
			"error", err,
		)
		if !sleep(ctx, wait) {
			return err
		}
		backoff = min(time.Duration(float64(backoff)*e.cfg.Retry.Multiplier), e.cfg.Retry.MaxBackoff)
	}
	return err
}

func (e *Executor) jitter(d time.Duration) time.Duration {
	if e.cfg.Retry.Jitter == 0 || d <= 0 {
		return d
	}
	spread := float64(d) * e.cfg.Retry.Jitter
	return time.Duration(float64(d) - spread + rand.Float64()*2*spread)
}

// sleep waits d or until ctx ends; it reports whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (e *Executor) circuitBreaker(operation string, classifier ErrorClassifier) *gobreaker.CircuitBreaker[any] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if breaker, ok := e.breakers[operation]; ok {
		return breaker
	}

	settings := gobreaker.Settings{
		Name:        operation,
		MaxRequests: e.cfg.Breaker.HalfOpenMaxCalls,
		Timeout:     e.cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < e.cfg.Breaker.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= e.cfg.Breaker.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classifier(err).RecordFailure
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			e.logger.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
			if e.cfg.OnStateChange != nil {
				e.cfg.OnStateChange(name, from.String(), to.String())
			}
		},
	}

	breaker := gobreaker.NewCircuitBreaker[any](settings)
	e.breakers[operation] = breaker
	return breaker
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// ClassifyTemporary retries and counts only failures already marked
// domain.ErrTemporary. Cancellation is neither retried nor counted.
func ClassifyTemporary(err error) ErrorClassification {
	switch {
	case err == nil:
		return ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorClassification{}
	case IsCircuitOpen(err), domain.IsKind(err, domain.ErrTemporary):
		return ErrorClassification{Retryable: true, RecordFailure: true, RetryAfter: RetryAfterOf(err)}
	default:
		return ErrorClassification{}
	}
}

func defaultClassifier(error) ErrorClassification {
	return ErrorClassification{RecordFailure: true}
}
