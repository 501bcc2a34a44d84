package answer

import (
	"context"
	"errors"
	"time"

	"github.com/kalambet/docqa/internal/errs"
)

// FailedAnswer replaces an answer whose generation failed on every attempt.
const FailedAnswer = "Failed to get an answer from the API after multiple retries."

// Retrying wraps a Generator and retries upstream failures, doubling the
// pause after each attempt.
type Retrying struct {
	gen      Generator
	attempts int
	backoff  time.Duration
}

// NewRetrying returns a Generator making up to attempts calls. Defaults: 3
// attempts, 2s initial backoff.
func NewRetrying(gen Generator, attempts int, backoff time.Duration) *Retrying {
	if attempts <= 0 {
		attempts = 3
	}
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return &Retrying{gen: gen, attempts: attempts, backoff: backoff}
}

func (r *Retrying) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	wait := r.backoff
	var err error
	for attempt := 1; ; attempt++ {
		var out string
		out, err = r.gen.Generate(ctx, prompt, maxTokens)
		if err == nil {
			return out, nil
		}
		err = errs.Upstream("generate", err)
		if !retryable(err) || attempt == r.attempts {
			return "", err
		}
		select {
		case <-ctx.Done():
			return "", errs.Upstream("generate", ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
}

func retryable(err error) bool {
	if errors.Is(err, errs.ErrCancelled) || errors.Is(err, errs.ErrInvalidArgument) {
		return false
	}
	return errors.Is(err, errs.ErrUpstreamUnavailable) || errors.Is(err, errs.ErrUpstreamTimeout)
}

// AnswerAll answers every question in order against the current index. A
// question whose generation still fails after BatchAttempts tries gets
// FailedAnswer; retrieval failures and invalid questions abort the batch.
func (e *Engine) AnswerAll(ctx context.Context, questions []string, k int) ([]string, error) {
	batch := e
	if e.cfg.BatchAttempts > 1 {
		batch = e.WithGenerator(NewRetrying(e.gen, e.cfg.BatchAttempts, e.cfg.BatchBackoff))
	}
	answers := make([]string, 0, len(questions))
	for i, q := range questions {
		res, err := batch.Answer(ctx, q, k)
		switch {
		case err == nil:
			answers = append(answers, res.Answer)
		case errors.Is(err, errs.ErrCancelled):
			return nil, err
		case errors.Is(err, ErrGeneration):
			e.logger.Warn("answer generation failed", "question", i, "error", err)
			answers = append(answers, FailedAnswer)
		default:
			return nil, err
		}
	}
	return answers, nil
}
