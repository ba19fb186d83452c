package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// OpenAIGenerator answers prompts with an OpenAI-compatible chat completion API.
type OpenAIGenerator struct {
	client      openai.Client
	model       string
	temperature *float64
}

// NewOpenAIGenerator creates a generator. baseURL may be empty for the
// default OpenAI endpoint and a nil temperature keeps the server default.
func NewOpenAIGenerator(apiKey, baseURL, model string, temperature *float64, opts ...option.RequestOption) *OpenAIGenerator {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(1)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	reqOpts = append(reqOpts, opts...)
	return &OpenAIGenerator{
		client:      openai.NewClient(reqOpts...),
		model:       model,
		temperature: temperature,
	}
}

// Generate sends prompt as a single user message.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if g.temperature != nil {
		params.Temperature = openai.Float(*g.temperature)
	}
	completion, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", unavailable(fmt.Errorf("chat completion: %w", err))
	}
	if len(completion.Choices) == 0 {
		return "", unavailable(fmt.Errorf("no completion choices returned"))
	}
	return nonEmpty(completion.Choices[0].Message.Content)
}

// Model returns the model name.
func (g *OpenAIGenerator) Model() string {
	return g.model
}
