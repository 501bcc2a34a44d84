package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/docqa/internal/engine"
	"github.com/kalambet/docqa/internal/errs"
)

// EmbedderConfig tunes an Embedder. Zero values select the defaults.
type EmbedderConfig struct {
	// Dimension pins the expected vector length. Zero learns it from the
	// first successful call.
	Dimension int

	// Timeout bounds each provider call. Default 30s.
	Timeout time.Duration

	// RetryBackoff is the pause before the single retry after a timeout.
	// Default 250ms.
	RetryBackoff time.Duration

	// Concurrency bounds EmbedBatch fan-out. Default 4.
	Concurrency int
}

// Embedder wraps an Engine to generate text embeddings of a fixed dimension.
type Embedder struct {
	engine  engine.Engine
	model   string
	timeout time.Duration
	backoff time.Duration
	limit   int
	logger  *slog.Logger

	mu  sync.Mutex
	dim int
}

// NewEmbedder creates an Embedder using the given Engine and model name.
func NewEmbedder(e engine.Engine, model string, cfg EmbedderConfig) *Embedder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 250 * time.Millisecond
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Embedder{
		engine:  e,
		model:   model,
		timeout: cfg.Timeout,
		backoff: cfg.RetryBackoff,
		limit:   cfg.Concurrency,
		logger:  slog.Default(),
		dim:     cfg.Dimension,
	}
}

// Dimension returns the pinned vector length, or 0 if not yet known.
func (e *Embedder) Dimension() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dim
}

// Embed returns the embedding vector for a single text. A timed-out call is
// retried once after a short backoff; every other failure is returned as is.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.embedOnce(ctx, text)
	if errors.Is(err, errs.ErrUpstreamTimeout) && ctx.Err() == nil {
		e.logger.Warn("embedding timed out, retrying", "model", e.model, "backoff", e.backoff)
		select {
		case <-ctx.Done():
			return nil, errs.Upstream("embedding text", ctx.Err())
		case <-time.After(e.backoff):
		}
		vec, err = e.embedOnce(ctx, text)
	}
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, e.checkDimension(vec)
}

func (e *Embedder) embedOnce(ctx context.Context, text string) ([]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	vec, err := e.engine.Embed(callCtx, e.model, text)
	if err != nil {
		return nil, errs.Upstream("embed", err)
	}
	return vec, nil
}

func (e *Embedder) checkDimension(vec []float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(vec) == 0 {
		return fmt.Errorf("%w: provider returned an empty vector", errs.ErrUpstreamUnavailable)
	}
	if e.dim == 0 {
		e.dim = len(vec)
		return nil
	}
	if len(vec) != e.dim {
		return fmt.Errorf("%w: got %d dimensions, want %d", ErrDimensionMismatch, len(vec), e.dim)
	}
	return nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently.
// Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.limit)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
