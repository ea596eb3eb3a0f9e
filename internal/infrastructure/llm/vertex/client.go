// Package vertex implements the completion port on Gemini models served by
// Vertex AI. Unlike Ollama it accepts PDF bytes directly.
package vertex

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

type Client struct {
	base  *genai.Client
	model string
}

func New(ctx context.Context, projectID, region, model string) (*Client, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("vertex: project and region cannot be empty")
	}
	if model == "" {
		model = "gemini-1.5-pro"
	}
	base, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &Client{base: base, model: model}, nil
}

func (c *Client) Close() error {
	if c.base != nil {
		return c.base.Close()
	}
	return nil
}

func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	model := c.base.GenerativeModel(c.model)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	model.GenerationConfig = genai.GenerationConfig{Temperature: genai.Ptr[float32](0)}
	if req.JSON {
		model.GenerationConfig.ResponseMIMEType = "application/json"
	}

	resp, err := model.GenerateContent(ctx, requestParts(req)...)
	if err != nil {
		return "", wrapTemporaryIfNeeded("vertex generate", err)
	}
	return responseText(resp)
}

func requestParts(req domain.CompletionRequest) []genai.Part {
	parts := make([]genai.Part, 0, 2)
	if req.HasBinary() {
		parts = append(parts, genai.Blob{MIMEType: req.MimeType, Data: req.Data})
	}
	prompt := strings.TrimSpace(req.Instruction)
	if req.Text != "" {
		prompt += "\n\nDocument:\n" + req.Text
	}
	if prompt != "" {
		parts = append(parts, genai.Text(prompt))
	}
	return parts
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("vertex generate: empty response")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

func wrapTemporaryIfNeeded(operation string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Internal, codes.Aborted:
		return domain.WrapError(domain.ErrTemporary, operation, err)
	case codes.InvalidArgument:
		return domain.WrapError(domain.ErrInvalidInput, operation, err)
	default:
		return err
	}
}
