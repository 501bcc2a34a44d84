// Package answer implements hybrid answering: retrieve chunks for a
// question, compose a grounded prompt and ask a generator.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/docqa/internal/composer"
	"github.com/kalambet/docqa/internal/engine"
	"github.com/kalambet/docqa/internal/errs"
	"github.com/kalambet/docqa/internal/retrieval"
)

// ErrGeneration marks an Answer that failed in the generator rather than in
// retrieval. It is always joined with an upstream kind.
var ErrGeneration = errors.New("generation failed")

// Searcher returns chunks for a query, best first.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]retrieval.SearchResult, error)
}

// Generator turns a prompt into text.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// EngineGenerator adapts an engine.Engine and a model name to Generator.
type EngineGenerator struct {
	Engine engine.Engine
	Model  string
}

func (g EngineGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return g.Engine.Generate(ctx, g.Model, prompt, maxTokens)
}

// Config bounds an answer. Zero values select the defaults.
type Config struct {
	MaxChunks int           // cap on k, default 8
	MaxTokens int           // generation limit, default 300
	Timeout   time.Duration // generation deadline, default 60s

	// BatchAttempts and BatchBackoff drive retries in AnswerAll only. A
	// single Answer surfaces the first generation error.
	BatchAttempts int           // default 1
	BatchBackoff  time.Duration // default 2s
}

// Result is a synthesized answer and the chunks that were in its prompt.
type Result struct {
	Answer           string                   `json:"answer"`
	SupportingChunks []retrieval.SearchResult `json:"supporting_chunks"`
	Truncated        bool                     `json:"truncated"`
}

// Engine answers questions from the indexed documents.
type Engine struct {
	search   Searcher
	composer *composer.Composer
	gen      Generator
	cfg      Config
	logger   *slog.Logger
}

// New creates an answer Engine.
func New(search Searcher, c *composer.Composer, gen Generator, cfg Config) *Engine {
	if cfg.MaxChunks <= 0 {
		cfg.MaxChunks = 8
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 300
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.BatchAttempts <= 0 {
		cfg.BatchAttempts = 1
	}
	return &Engine{search: search, composer: c, gen: gen, cfg: cfg, logger: slog.Default()}
}

// WithGenerator returns a copy of the engine that answers with gen.
func (e *Engine) WithGenerator(gen Generator) *Engine {
	cp := *e
	cp.gen = gen
	return &cp
}

// Answer retrieves up to k chunks (capped at MaxChunks) and asks the
// generator. With no chunks the generator is still called with a prompt that
// says so, and SupportingChunks is empty. Retrieval and generation errors are
// returned with their kind intact.
func (e *Engine) Answer(ctx context.Context, question string, k int) (Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Result{}, errs.Invalid("question must not be empty")
	}
	if k <= 0 {
		return Result{}, errs.Invalid("k must be positive, got %d", k)
	}
	if k > e.cfg.MaxChunks {
		k = e.cfg.MaxChunks
	}

	results, err := e.search.Search(ctx, question, k)
	if err != nil {
		return Result{}, err
	}

	prompt := e.composer.Compose(question, results)
	if prompt.Truncated {
		e.logger.Debug("prompt truncated", "retrieved", len(results), "included", len(prompt.Included))
	}

	genCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	out, err := e.gen.Generate(genCtx, prompt.Text, e.cfg.MaxTokens)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrGeneration, errs.Upstream("generate", err))
	}

	out = strings.TrimSpace(out)
	if out == "" {
		out = composer.NotFoundAnswer
	}

	supporting := prompt.Included
	if supporting == nil {
		supporting = []retrieval.SearchResult{}
	}
	return Result{Answer: out, SupportingChunks: supporting, Truncated: prompt.Truncated}, nil
}
