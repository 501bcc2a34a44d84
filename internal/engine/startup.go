package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrEngineDown is returned by EnsureReady when the backend does not answer.
var ErrEngineDown = errors.New("inference engine is not reachable")

// EnsureReady verifies the backend is up and, when it hosts models locally,
// pulls whichever of genModel and embedModel is missing. Progress goes to w.
func EnsureReady(ctx context.Context, e Engine, genModel, embedModel string, w io.Writer) error {
	if !e.IsRunning(ctx) {
		return fmt.Errorf("%w, start the backend first", ErrEngineDown)
	}
	mm, ok := unwrap(e).(ModelManager)
	if !ok {
		return nil
	}
	for _, model := range requiredModels(genModel, embedModel) {
		if !mm.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: pulling...\n", model)
			if err := mm.PullModel(ctx, model, progressPrinter(w)); err != nil {
				return fmt.Errorf("pulling model %s: %w", model, err)
			}
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}
	return nil
}

func requiredModels(names ...string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// progressPrinter writes one line per status change or whole percent step.
func progressPrinter(w io.Writer) func(PullProgress) {
	lastStatus, lastPct := "", -2
	return func(p PullProgress) {
		pct := p.Percent()
		if p.Status == lastStatus && pct == lastPct {
			return
		}
		lastStatus, lastPct = p.Status, pct
		if pct < 0 {
			fmt.Fprintf(w, "  %s\n", p.Status)
			return
		}
		fmt.Fprintf(w, "  %s %d%%\n", p.Status, pct)
	}
}

func unwrap(e Engine) Engine {
	if l, ok := e.(*Limited); ok {
		return l.Engine
	}
	return e
}
