package ollama

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// Client talks to the Ollama /api/generate endpoint. Image requests go to
// the vision model; Ollama has no PDF input, so other binaries are refused.
type Client struct {
	baseURL     string
	model       string
	visionModel string
	httpClient  *http.Client
}

func New(baseURL, model, visionModel string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if visionModel == "" {
		visionModel = model
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		visionModel: visionModel,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Images  []string       `json:"images,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	body := generateRequest{
		Model:   c.model,
		Prompt:  buildPrompt(req),
		System:  req.System,
		Stream:  false,
		Options: map[string]any{"temperature": 0},
	}
	if req.JSON {
		body.Format = "json"
	}
	if req.HasBinary() {
		if !strings.HasPrefix(req.MimeType, "image/") {
			return "", domain.WrapError(domain.ErrInvalidInput, "ollama generate",
				fmt.Errorf("mime type %q is not an image", req.MimeType))
		}
		body.Model = c.visionModel
		body.Images = []string{base64.StdEncoding.EncodeToString(req.Data)}
	}

	var response generateResponse
	if err := c.call(ctx, "/api/generate", body, &response); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}
