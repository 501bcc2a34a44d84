package engine

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kalambet/docqa/internal/errs"
)

// DefaultOpenAIBaseURL points at Groq's OpenAI-compatible endpoint.
const DefaultOpenAIBaseURL = "https://api.groq.com/openai/v1"

// OpenAIEngine talks to any server implementing the OpenAI chat completion
// and embedding endpoints.
type OpenAIEngine struct {
	client *openai.Client
}

// NewOpenAIEngine creates an OpenAIEngine. An empty baseURL selects
// DefaultOpenAIBaseURL.
func NewOpenAIEngine(baseURL, apiKey string) *OpenAIEngine {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	cfg.BaseURL = baseURL
	return &OpenAIEngine{client: openai.NewClientWithConfig(cfg)}
}

// Generate sends prompt as a single user message.
func (e *OpenAIEngine) Generate(ctx context.Context, model, prompt string, maxTokens int) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if maxTokens > 0 {
		req.MaxTokens = maxTokens
	}

	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", errs.Upstream("openai chat", err)
	}
	if len(resp.Choices) == 0 {
		return "", errs.Upstream("openai chat", errors.New("no choices returned"))
	}
	return resp.Choices[0].Message.Content, nil
}

func (e *OpenAIEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, errs.Upstream("openai embed", err)
	}
	if len(resp.Data) == 0 {
		return nil, errs.Upstream("openai embed", errors.New("no embedding data returned"))
	}
	return resp.Data[0].Embedding, nil
}

// IsRunning reports whether the models endpoint answers.
func (e *OpenAIEngine) IsRunning(ctx context.Context) bool {
	_, err := e.client.ListModels(ctx)
	return err == nil
}
