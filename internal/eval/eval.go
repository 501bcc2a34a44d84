package eval

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/docqa/internal/dataset"
	"github.com/kalambet/docqa/internal/errs"
)

// Model is what the evaluator runs examples through.
type Model interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// lossModel is implemented by models that can report perplexity.
type lossModel interface {
	Loss(text string) (nll float64, tokens int)
}

// Config tunes an Evaluator. Zero values select the defaults.
type Config struct {
	Concurrency int           // parallel examples, default 4
	MaxTokens   int           // generation limit, default 128
	Timeout     time.Duration // per example, default 60s
}

// ExampleScore is the outcome for one example.
type ExampleScore struct {
	Index      int     `json:"index"`
	Prediction string  `json:"prediction"`
	Expected   string  `json:"expected"`
	Score      float64 `json:"score"`
}

// Result aggregates an evaluation.
type Result struct {
	Scorer       string         `json:"scorer"`
	AverageScore float64        `json:"average_score"`
	PerExample   []ExampleScore `json:"per_example_scores"`
	Perplexity   *float64       `json:"perplexity,omitempty"`
}

// Evaluator generates an output for every example and scores it.
type Evaluator struct {
	scorer Scorer
	cfg    Config
	logger *slog.Logger
}

// New creates an Evaluator using scorer.
func New(scorer Scorer, cfg Config) *Evaluator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 128
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Evaluator{scorer: scorer, cfg: cfg, logger: slog.Default()}
}

// Scorer returns the configured scorer's name.
func (e *Evaluator) Scorer() string {
	return e.scorer.Name()
}

// Evaluate runs every example through model. It only reads from model. The
// first generation or scoring error aborts the evaluation.
func (e *Evaluator) Evaluate(ctx context.Context, model Model, examples []dataset.TrainingExample) (Result, error) {
	if model == nil {
		return Result{}, errs.Invalid("no model to evaluate")
	}
	if len(examples) == 0 {
		return Result{}, errs.Invalid("no evaluation examples")
	}

	scores := make([]ExampleScore, len(examples))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, ex := range examples {
		g.Go(func() error {
			exCtx, cancel := context.WithTimeout(gctx, e.cfg.Timeout)
			defer cancel()

			out, err := model.Generate(exCtx, dataset.FormatQuery(ex.Instruction, ex.Input), e.cfg.MaxTokens)
			if err != nil {
				return fmt.Errorf("example %d: %w", i, errs.Upstream("generate", err))
			}
			out = trimResponse(out)
			s, err := e.scorer.Score(exCtx, out, ex.Output)
			if err != nil {
				return fmt.Errorf("scoring example %d: %w", i, err)
			}
			scores[i] = ExampleScore{Index: i, Prediction: out, Expected: ex.Output, Score: s}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var sum float64
	for _, s := range scores {
		sum += s.Score
	}
	res := Result{Scorer: e.scorer.Name(), AverageScore: sum / float64(len(scores)), PerExample: scores}

	if lm, ok := model.(lossModel); ok {
		var nll float64
		var tokens int
		for _, ex := range examples {
			l, n := lm.Loss(dataset.FormatPrompt(ex))
			nll += l
			tokens += n
		}
		if tokens > 0 {
			ppl := math.Exp(nll / float64(tokens))
			res.Perplexity = &ppl
		}
	}

	e.logger.Info("evaluation complete", "scorer", res.Scorer, "examples", len(examples), "average", res.AverageScore)
	return res, nil
}

// trimResponse cuts generated text at the template's end marker.
func trimResponse(s string) string {
	if i := strings.Index(s, dataset.EndMarker()); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
