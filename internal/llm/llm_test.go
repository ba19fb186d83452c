package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/docrag/internal/config"
)

func TestOllamaGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Model != "phi" || req.Stream || req.Prompt == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "  Paris.\n", Done: true})
	}))
	defer srv.Close()

	g := NewOllamaGenerator(srv.URL+"/", "phi", nil, srv.Client())
	out, err := g.Generate(context.Background(), "Capital of France?")
	require.NoError(t, err)
	assert.Equal(t, "Paris.", out)
	assert.Equal(t, "phi", g.Model())
}

func TestOllamaGenerator_Temperature(t *testing.T) {
	var got []*generateOptions
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		got = append(got, req.Options)
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "ok", Done: true})
	}))
	defer srv.Close()

	zero := 0.0
	_, err := NewOllamaGenerator(srv.URL, "phi", &zero, nil).Generate(context.Background(), "q")
	require.NoError(t, err)
	_, err = NewOllamaGenerator(srv.URL, "phi", nil, nil).Generate(context.Background(), "q")
	require.NoError(t, err)

	require.Len(t, got, 2)
	require.NotNil(t, got[0], "explicit zero temperature is sent")
	assert.Zero(t, got[0].Temperature)
	assert.Nil(t, got[1], "unset temperature keeps the model default")
}

func TestOllamaGenerator_Unavailable(t *testing.T) {
	t.Run("error status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model 'phi' not found", http.StatusNotFound)
		}))
		defer srv.Close()

		_, err := NewOllamaGenerator(srv.URL, "phi", nil, nil).Generate(context.Background(), "q")
		assert.ErrorIs(t, err, ErrModelUnavailable)
		assert.Contains(t, err.Error(), "status 404")
	})

	t.Run("empty completion", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(generateResponse{Response: "   ", Done: true})
		}))
		defer srv.Close()

		_, err := NewOllamaGenerator(srv.URL, "phi", nil, nil).Generate(context.Background(), "q")
		assert.ErrorIs(t, err, ErrModelUnavailable)
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := NewOllamaGenerator(url, "phi", nil, nil).Generate(context.Background(), "q")
		assert.ErrorIs(t, err, ErrModelUnavailable)
	})
}

func TestOpenAIGenerator(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": "Answer: " + req.Messages[0].Content},
			}},
			"usage": map[string]any{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
		})
	}))
	defer srv.Close()

	g := NewOpenAIGenerator("test-key", srv.URL+"/", "gpt-4o-mini", nil)
	out, err := g.Generate(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "Answer: hi", out)
	assert.Equal(t, "gpt-4o-mini", g.Model())

	_, err = NewOpenAIGenerator("wrong", srv.URL+"/", "m", nil, option.WithMaxRetries(0)).Generate(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

type slowGenerator struct{}

func (slowGenerator) Generate(ctx context.Context, _ string) (string, error) {
	select {
	case <-ctx.Done():
		return "", unavailable(ctx.Err())
	case <-time.After(5 * time.Second):
		return "late", nil
	}
}

func (slowGenerator) Model() string { return "slow" }

func TestWithTimeout(t *testing.T) {
	g := WithTimeout(slowGenerator{}, 20*time.Millisecond)
	start := time.Now()
	_, err := g.Generate(context.Background(), "q")
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, "slow", g.Model())

	assert.Equal(t, Generator(slowGenerator{}), WithTimeout(slowGenerator{}, 0))
}

func TestNew(t *testing.T) {
	g, err := New(config.LLMConfig{Provider: "ollama", BaseURL: "http://localhost:11434", Model: "phi", Timeout: time.Second}, nil)
	require.NoError(t, err)
	assert.Equal(t, "phi", g.Model())

	_, err = New(config.LLMConfig{Provider: "openai", Model: "gpt-4o-mini"}, nil)
	assert.Error(t, err, "openai without key")

	_, err = New(config.LLMConfig{Provider: "ollama"}, nil)
	assert.Error(t, err, "ollama without base url")

	_, err = New(config.LLMConfig{Provider: "bard", BaseURL: "x"}, nil)
	assert.Error(t, err)
}
