package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/object-cropper/pkg/detection"
	"github.com/menta2k/object-cropper/pkg/types"
)

// DefaultURL is the default Ollama chat endpoint
const DefaultURL = "http://localhost:11434/api/chat"

// Client wraps the Ollama API client
type Client struct {
	client *api.Client
	model  string
	prompt string
}

// NewClient creates a new Ollama client for a vision model
func NewClient(ollamaURL, model string) (*Client, error) {
	if ollamaURL == "" {
		ollamaURL = DefaultURL
	}
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q", ollamaURL)
	}

	// Base URL without a path like /api/chat
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	return &Client{
		client: api.NewClient(baseURL, http.DefaultClient),
		model:  model,
		prompt: detection.DefaultPrompt,
	}, nil
}

// LocalizeObjects asks the model for eyewear bounding boxes in an image
func (c *Client) LocalizeObjects(ctx context.Context, imageData []byte) ([]types.DetectedRegion, error) {
	// Vision models on CPU are slow
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 300*time.Second)
		defer cancel()
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: c.prompt,
				Images:  []api.ImageData{api.ImageData(imageData)},
			},
		},
		Stream:  &streamFalse,
		Options: modelOptions(c.model),
	}

	var responseContent string
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent += resp.Message.Content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat error: %w", err)
	}

	if strings.TrimSpace(responseContent) == "" {
		return nil, fmt.Errorf("empty response from ollama")
	}

	return detection.ParseModelResponse(responseContent)
}

// modelOptions returns sampling options; localization wants low temperature
func modelOptions(model string) map[string]any {
	options := map[string]any{
		"temperature": 0.1,
	}

	modelLower := strings.ToLower(model)
	if strings.Contains(modelLower, "minicpm-v4") ||
		strings.Contains(modelLower, "minicpm-v-4") ||
		strings.Contains(modelLower, "minicpmv4") {
		options["top_p"] = 0.8
		options["num_ctx"] = 4096
	}
	return options
}
