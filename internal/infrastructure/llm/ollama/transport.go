package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
)

// StatusError is a non-2xx answer from the Ollama server.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
	retryAfter time.Duration
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("ollama %s returned %d", e.Endpoint, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// RetryAfter exposes the server's Retry-After hint to the resilience layer.
func (e *StatusError) RetryAfter() time.Duration { return e.retryAfter }

// overloaded reports statuses Ollama uses while a model is loading or busy.
func (e *StatusError) overloaded() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return e.StatusCode >= 500 && e.StatusCode != http.StatusNotImplemented
}

// call posts payload as JSON and decodes the reply into out. Failures a
// later attempt may cure are tagged domain.ErrTemporary.
func (c *Client) call(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return classify(endpoint, &StatusError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
			retryAfter: resilience.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		})
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

func classify(endpoint string, err error) error {
	op := "ollama " + endpoint
	var statusErr *StatusError
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return domain.WrapError(domain.ErrTemporary, op, err)
	case errors.As(err, &statusErr):
		if statusErr.overloaded() {
			return domain.WrapError(domain.ErrTemporary, op, err)
		}
		return err
	case errors.As(err, &netErr):
		return domain.WrapError(domain.ErrTemporary, op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
