package engine

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/kalambet/docqa/internal/errs"
)

// Limited wraps an Engine and spaces Generate calls with a token
// bucket. Embed and IsRunning pass through.
type Limited struct {
	Engine
	limiter *rate.Limiter
}

// NewLimited returns e unchanged when perSecond <= 0.
func NewLimited(e Engine, perSecond float64, burst int) Engine {
	if perSecond <= 0 {
		return e
	}
	if burst < 1 {
		burst = 1
	}
	return &Limited{Engine: e, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *Limited) wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return errs.Upstream("rate limit", ctx.Err())
		}
		// The limiter refuses waits that would outlive the deadline.
		return fmt.Errorf("rate limit: %w: %v", errs.ErrUpstreamTimeout, err)
	}
	return nil
}

func (l *Limited) Generate(ctx context.Context, model, prompt string, maxTokens int) (string, error) {
	if err := l.wait(ctx); err != nil {
		return "", err
	}
	return l.Engine.Generate(ctx, model, prompt, maxTokens)
}
