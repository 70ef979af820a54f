package utils

import (
	"context"
	"fmt"
	"net/http"
)

// AIProvider represents the type of media generation provider
type AIProvider string

const (
	// OpenAI provider
	OpenAI AIProvider = "openai"
	// Generic provider for custom OpenAI-compatible APIs
	Generic AIProvider = "generic"
)

// AIClient provides a unified interface for AI text and media generation.
// Processors receive one per execution, bound to the batch API key.
type AIClient struct {
	httpClient *HTTPClient
	provider   AIProvider
	apiKey     string
	baseURL    string
}

// Message represents a chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest represents a text generation request
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// MediaRequest represents an image/video/audio generation request
type MediaRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	Size    string `json:"size,omitempty"`
	Format  string `json:"response_format,omitempty"`
	Seconds int    `json:"seconds,omitempty"`
}

// MediaResult represents a generated media artifact
type MediaResult struct {
	URL     string `json:"url,omitempty"`
	B64Data string `json:"b64_json,omitempty"`
	Model   string `json:"model,omitempty"`
}

// NewAIClient creates a new AI client
func NewAIClient(provider AIProvider, apiKey string, baseURL string) *AIClient {
	client := &AIClient{
		httpClient: NewHTTPClient(),
		provider:   provider,
		apiKey:     apiKey,
	}

	switch provider {
	case OpenAI:
		client.baseURL = "https://api.openai.com/v1"
	case Generic:
		client.baseURL = baseURL
	}

	return client
}

// WithAPIKey returns a copy of the client bound to a different API key.
// Used to forward a batch's per-execution key into processors.
func (c *AIClient) WithAPIKey(apiKey string) *AIClient {
	clone := *c
	clone.apiKey = apiKey
	return &clone
}

// Chat executes a text generation request
func (c *AIClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	resp, err := c.post(ctx, "/chat/completions", req)
	if err != nil {
		return "", err
	}

	body, ok := resp.Body.(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("unexpected chat response shape: %T", resp.Body)
	}
	choices, ok := body["choices"].([]interface{})
	if !ok || len(choices) == 0 {
		return "", fmt.Errorf("chat response contained no choices")
	}
	choice, ok := choices[0].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("unexpected choice shape in chat response")
	}
	message, ok := choice["message"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("unexpected message shape in chat response")
	}
	content, _ := message["content"].(string)
	return content, nil
}

// GenerateImage executes an image generation request
func (c *AIClient) GenerateImage(ctx context.Context, req MediaRequest) (*MediaResult, error) {
	return c.generate(ctx, "/images/generations", req)
}

// GenerateVideo executes a video generation request
func (c *AIClient) GenerateVideo(ctx context.Context, req MediaRequest) (*MediaResult, error) {
	return c.generate(ctx, "/videos/generations", req)
}

// GenerateAudio executes an audio generation request
func (c *AIClient) GenerateAudio(ctx context.Context, req MediaRequest) (*MediaResult, error) {
	return c.generate(ctx, "/audio/generations", req)
}

func (c *AIClient) generate(ctx context.Context, path string, req MediaRequest) (*MediaResult, error) {
	resp, err := c.post(ctx, path, req)
	if err != nil {
		return nil, err
	}

	body, ok := resp.Body.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected media response shape: %T", resp.Body)
	}
	data, ok := body["data"].([]interface{})
	if !ok || len(data) == 0 {
		return nil, fmt.Errorf("media response contained no data")
	}
	item, ok := data[0].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected data shape in media response")
	}

	result := &MediaResult{Model: req.Model}
	if u, ok := item["url"].(string); ok {
		result.URL = u
	}
	if b64, ok := item["b64_json"].(string); ok {
		result.B64Data = b64
	}
	return result, nil
}

func (c *AIClient) post(ctx context.Context, path string, body interface{}) (*HTTPResponse, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("AI client base URL is not configured")
	}
	if c.apiKey == "" {
		return nil, fmt.Errorf("AI client API key is not configured")
	}

	resp, err := c.httpClient.Do(ctx, &HTTPRequest{
		URL:    c.baseURL + path,
		Method: http.MethodPost,
		Headers: map[string]string{
			"Authorization": "Bearer " + c.apiKey,
		},
		Body: body,
	})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(resp.RawBody))
	}

	return resp, nil
}
