package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientCreateChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model)
		require.NotNil(t, req.Temperature)
		assert.Equal(t, 0.0, *req.Temperature)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ChatCompletionResponse{
			Model:   "gpt-test",
			Choices: []Choice{{Message: &ChatMessage{Role: "assistant", Content: "hello"}}},
			Usage:   &Usage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15},
		})
	}))
	defer srv.Close()

	zero := 0.0
	c := NewClient(srv.URL+"/", "sk-test", 5*time.Second)
	resp, err := c.CreateChatCompletion(context.Background(), &ChatCompletionRequest{
		Model:       "gpt-test",
		Messages:    []ChatMessage{{Role: "user", Content: "hi"}},
		Temperature: &zero,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Choices[0].Message.Content)
	assert.Equal(t, 12, resp.Usage.PromptTokens)
}

func TestClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	_, err := c.CreateChatCompletion(context.Background(), &ChatCompletionRequest{Model: "m"})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.True(t, statusErr.Temporary())
	assert.Contains(t, err.Error(), "LLM API error [429]: slow down")
}

func TestMockClient(t *testing.T) {
	m := NewMockClient()
	resp, err := m.CreateChatCompletion(context.Background(), &ChatCompletionRequest{
		Model:    "mock",
		Messages: []ChatMessage{{Role: "user", Content: "what does this repo do?"}},
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Choices[0].Message.Content, "[MOCK]")
	assert.Equal(t, "mock", resp.Model)
}

func TestNewLLMClientMode(t *testing.T) {
	assert.IsType(t, &MockClient{}, NewLLMClient("mock", "", "", time.Second))
	assert.IsType(t, &Client{}, NewLLMClient("", "https://api.openai.com", "k", time.Second))
}
