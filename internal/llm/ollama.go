package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OllamaGenerator calls the Ollama generate endpoint without streaming.
type OllamaGenerator struct {
	client      *http.Client
	baseURL     string
	model       string
	temperature *float64
}

type generateRequest struct {
	Model   string           `json:"model"`
	Prompt  string           `json:"prompt"`
	Stream  bool             `json:"stream"`
	Options *generateOptions `json:"options,omitempty"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaGenerator creates a generator for model served at baseURL. A nil
// temperature leaves the model default in place.
func NewOllamaGenerator(baseURL, model string, temperature *float64, client *http.Client) *OllamaGenerator {
	if client == nil {
		client = http.DefaultClient
	}
	return &OllamaGenerator{
		client:      client,
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		temperature: temperature,
	}
}

// Generate sends prompt and returns the trimmed completion.
func (g *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody := generateRequest{Model: g.model, Prompt: prompt}
	if g.temperature != nil {
		reqBody.Options = &generateOptions{Temperature: *g.temperature}
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", unavailable(fmt.Errorf("send request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", unavailable(fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(b))))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", unavailable(fmt.Errorf("decode response: %w", err))
	}
	return nonEmpty(out.Response)
}

// Model returns the model name.
func (g *OllamaGenerator) Model() string {
	return g.model
}
