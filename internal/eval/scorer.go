// Package eval scores a loaded model against held-out examples.
package eval

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/kalambet/docqa/internal/errs"
)

// Scorer compares a prediction with the expected output, returning a value
// in [0, 1].
type Scorer interface {
	Name() string
	Score(ctx context.Context, prediction, expected string) (float64, error)
}

// Scorer names accepted by NewScorer.
const (
	ScorerExact        = "exact"
	ScorerTokenOverlap = "token_overlap"
	ScorerEmbedding    = "embedding"
)

// TextEmbedder embeds text for the embedding scorer.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NewScorer returns the named scorer. The embedding scorer needs emb.
func NewScorer(name string, emb TextEmbedder) (Scorer, error) {
	switch name {
	case ScorerExact, "":
		return ExactMatch{}, nil
	case ScorerTokenOverlap:
		return TokenOverlap{}, nil
	case ScorerEmbedding:
		if emb == nil {
			return nil, errs.Invalid("embedding scorer requires an embedder")
		}
		return EmbeddingSimilarity{Embedder: emb}, nil
	default:
		return nil, errs.Invalid("unknown scorer %q", name)
	}
}

// ExactMatch scores 1 when both texts are equal after case folding and
// whitespace collapsing.
type ExactMatch struct{}

func (ExactMatch) Name() string { return ScorerExact }

func (ExactMatch) Score(_ context.Context, prediction, expected string) (float64, error) {
	if normalize(prediction) == normalize(expected) {
		return 1, nil
	}
	return 0, nil
}

// TokenOverlap scores the F1 of the word multisets.
type TokenOverlap struct{}

func (TokenOverlap) Name() string { return ScorerTokenOverlap }

func (TokenOverlap) Score(_ context.Context, prediction, expected string) (float64, error) {
	pred, want := words(prediction), words(expected)
	if len(pred) == 0 && len(want) == 0 {
		return 1, nil
	}
	if len(pred) == 0 || len(want) == 0 {
		return 0, nil
	}
	counts := map[string]int{}
	for _, w := range want {
		counts[w]++
	}
	common := 0
	for _, w := range pred {
		if counts[w] > 0 {
			counts[w]--
			common++
		}
	}
	if common == 0 {
		return 0, nil
	}
	precision := float64(common) / float64(len(pred))
	recall := float64(common) / float64(len(want))
	return 2 * precision * recall / (precision + recall), nil
}

// EmbeddingSimilarity scores the cosine similarity of the two embeddings,
// clamped at zero.
type EmbeddingSimilarity struct {
	Embedder TextEmbedder
}

func (EmbeddingSimilarity) Name() string { return ScorerEmbedding }

func (s EmbeddingSimilarity) Score(ctx context.Context, prediction, expected string) (float64, error) {
	if strings.TrimSpace(prediction) == "" {
		return 0, nil
	}
	a, err := s.Embedder.Embed(ctx, prediction)
	if err != nil {
		return 0, err
	}
	b, err := s.Embedder.Embed(ctx, expected)
	if err != nil {
		return 0, err
	}
	if len(a) != len(b) {
		return 0, errs.Invalid("embedding lengths differ: %d and %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(0, math.Min(1, cos)), nil
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
