package engine

import (
	"context"

	"github.com/kalambet/docqa/internal/errs"
	"github.com/kalambet/docqa/internal/ollama"
)

// OllamaEngine serves Engine and ModelManager from a local Ollama server.
// Every failure is classified with errs.Upstream.
type OllamaEngine struct {
	c *ollama.Client
}

// NewOllamaEngine returns an engine for the Ollama server at baseURL.
func NewOllamaEngine(baseURL string) *OllamaEngine {
	return &OllamaEngine{c: ollama.New(baseURL)}
}

func (e *OllamaEngine) Generate(ctx context.Context, model, prompt string, maxTokens int) (string, error) {
	text, err := e.c.Generate(ctx, model, prompt, maxTokens)
	return text, errs.Upstream("ollama generate", err)
}

func (e *OllamaEngine) Embed(ctx context.Context, model, text string) ([]float32, error) {
	vec, err := e.c.Embed(ctx, model, text)
	return vec, errs.Upstream("ollama embed", err)
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool { return e.c.IsRunning(ctx) }

func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	return e.c.HasModel(ctx, name)
}

func (e *OllamaEngine) ListModels(ctx context.Context) ([]string, error) {
	names, err := e.c.ListModels(ctx)
	return names, errs.Upstream("ollama tags", err)
}

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var forward func(ollama.PullProgress)
	if onProgress != nil {
		forward = func(p ollama.PullProgress) { onProgress(PullProgress(p)) }
	}
	return errs.Upstream("ollama pull", e.c.PullModel(ctx, name, forward))
}
