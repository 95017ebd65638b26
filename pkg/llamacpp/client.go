// Package llamacpp talks to an OpenAI-compatible chat completion server
// such as llama.cpp's llama-server.
package llamacpp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/menta2k/object-cropper/pkg/detection"
	"github.com/menta2k/object-cropper/pkg/types"
)

// DefaultURL is the default llama-server address
const DefaultURL = "http://localhost:8080"

type Client struct {
	baseURL    string
	model      string
	prompt     string
	httpClient *http.Client
}

// OpenAI-compatible message format
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []ContentPart
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

type ChatCompletionResponse struct {
	Choices []Choice `json:"choices"`
}

type Choice struct {
	Index   int     `json:"index"`
	Message Message `json:"message"`
}

func NewClient(serverURL, model string) (*Client, error) {
	if serverURL == "" {
		serverURL = DefaultURL
	}
	if !strings.HasPrefix(serverURL, "http://") && !strings.HasPrefix(serverURL, "https://") {
		return nil, fmt.Errorf("invalid server URL: %q", serverURL)
	}

	return &Client{
		baseURL: strings.TrimSuffix(serverURL, "/"),
		model:   model,
		prompt:  detection.DefaultPrompt,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}, nil
}

// LocalizeObjects asks the model for eyewear bounding boxes in an image
func (c *Client) LocalizeObjects(ctx context.Context, imageData []byte) ([]types.DetectedRegion, error) {
	req := ChatCompletionRequest{
		Model: c.model,
		Messages: []Message{
			{
				Role: "user",
				Content: []ContentPart{
					{Type: "text", Text: c.prompt},
					{
						Type:     "image_url",
						ImageURL: &ImageURL{URL: "data:" + http.DetectContentType(imageData) + ";base64," + base64.StdEncoding.EncodeToString(imageData)},
					},
				},
			},
		},
		Temperature: 0.1,
		MaxTokens:   1024,
		Stream:      false,
	}

	body, err := c.sendRequest(ctx, "/v1/chat/completions", req)
	if err != nil {
		return nil, err
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	text := messageText(resp.Choices[0].Message.Content)
	if text == "" {
		return nil, fmt.Errorf("no text content in response")
	}
	return detection.ParseModelResponse(text)
}

func (c *Client) sendRequest(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// messageText extracts text from string or content-part responses
func messageText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		for _, item := range v {
			if part, ok := item.(map[string]any); ok {
				if text, ok := part["text"].(string); ok && text != "" {
					return text
				}
			}
		}
	}
	return ""
}
