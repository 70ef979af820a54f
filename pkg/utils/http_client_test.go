package utils

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientDoJSONRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "value", r.URL.Query().Get("key"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["message"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
	}))
	defer server.Close()

	client := NewHTTPClient()
	resp, err := client.Do(context.Background(), &HTTPRequest{
		URL:         server.URL,
		Method:      http.MethodPost,
		QueryParams: map[string]string{"key": "value"},
		Body:        map[string]interface{}{"message": "hello"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := resp.Body.(map[string]interface{})
	assert.Equal(t, true, body["ok"])
}

func TestHTTPClientNonJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("plain text"))
	}))
	defer server.Close()

	client := NewHTTPClient()
	resp, err := client.Do(context.Background(), &HTTPRequest{URL: server.URL})
	require.NoError(t, err)

	assert.Equal(t, "plain text", resp.Body)
}

func TestAIClientChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []interface{}{
				map[string]interface{}{
					"message": map[string]interface{}{"role": "assistant", "content": "a mountain at dawn"},
				},
			},
		})
	}))
	defer server.Close()

	client := NewAIClient(Generic, "test-key", server.URL)
	content, err := client.Chat(context.Background(), ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []Message{{Role: "user", Content: "describe a mountain"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "a mountain at dawn", content)
}

func TestAIClientGenerateImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/generations", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []interface{}{
				map[string]interface{}{"url": "https://cdn.example.com/img.png"},
			},
		})
	}))
	defer server.Close()

	client := NewAIClient(Generic, "test-key", server.URL)
	result, err := client.GenerateImage(context.Background(), MediaRequest{
		Model:  "image-model",
		Prompt: "a mountain at dawn",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/img.png", result.URL)
}

func TestAIClientProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer server.Close()

	client := NewAIClient(Generic, "test-key", server.URL)
	_, err := client.GenerateImage(context.Background(), MediaRequest{Model: "m", Prompt: "p"})
	assert.ErrorContains(t, err, "429")
}

func TestAIClientWithAPIKey(t *testing.T) {
	base := NewAIClient(Generic, "original", "http://example.com")
	scoped := base.WithAPIKey("per-batch")

	assert.Equal(t, "original", base.apiKey)
	assert.Equal(t, "per-batch", scoped.apiKey)
}
