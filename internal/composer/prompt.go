// Package composer builds the grounded prompt sent to the generator from
// retrieved chunks and a question, within a token budget.
package composer

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/docqa/internal/retrieval"
)

const (
	defaultMaxPromptTokens = 3000

	// minTruncatedTokens is the smallest tail worth keeping when a chunk
	// has to be cut to fit.
	minTruncatedTokens = 32
)

// NotFoundAnswer is the sentence the generator is told to use when the
// context does not contain the answer.
const NotFoundAnswer = "I could not find the answer in the document."

// NoContextNotice replaces the context section when retrieval found nothing.
const NoContextNotice = "No supporting context was found in the indexed documents."

const (
	header         = "Based only on the context provided, answer the question concisely. If the answer is not in the context, say \"" + NotFoundAnswer + "\"\n\nContext:\n---\n"
	chunkSeparator = "\n---\n"
	footerFormat   = "\n---\n\nQuestion: %s\n\nAnswer:"
)

// Composer assembles prompts under a token budget.
type Composer struct {
	MaxPromptTokens int
}

// New creates a Composer with the given prompt budget in tokens.
// If maxPromptTokens <= 0, the default (3000) is used.
func New(maxPromptTokens int) *Composer {
	if maxPromptTokens <= 0 {
		maxPromptTokens = defaultMaxPromptTokens
	}
	return &Composer{MaxPromptTokens: maxPromptTokens}
}

// Prompt is a composed prompt and the results that made it in.
type Prompt struct {
	Text      string
	Included  []retrieval.SearchResult
	Truncated bool
}

// Compose places results in descending similarity order between the
// instruction header and the question. The best result is always included
// whole. Later results are added whole while they fit; the first one that
// does not fit is cut to the remaining budget if at least minTruncatedTokens
// remain, and everything ranked below it is dropped.
func (c *Composer) Compose(question string, results []retrieval.SearchResult) Prompt {
	footer := strings.Replace(footerFormat, "%s", question, 1)

	if len(results) == 0 {
		return Prompt{Text: header + NoContextNotice + footer}
	}

	sorted := make([]retrieval.SearchResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Similarity > sorted[j].Similarity
	})

	remaining := c.MaxPromptTokens - EstimateTokens(header) - EstimateTokens(footer)

	var sb strings.Builder
	sb.WriteString(header)

	p := Prompt{}
	for i, r := range sorted {
		text := r.Chunk.Text
		cost := EstimateTokens(text)
		if i > 0 {
			cost += EstimateTokens(chunkSeparator)
		}

		if i > 0 && cost > remaining {
			budget := remaining - EstimateTokens(chunkSeparator)
			if budget >= minTruncatedTokens {
				sb.WriteString(chunkSeparator)
				sb.WriteString(truncate(text, budget*4))
				p.Included = append(p.Included, r)
			}
			p.Truncated = true
			break
		}

		if i > 0 {
			sb.WriteString(chunkSeparator)
		}
		sb.WriteString(text)
		p.Included = append(p.Included, r)
		remaining -= cost
	}

	sb.WriteString(footer)
	p.Text = sb.String()
	return p
}

// truncate cuts s to at most maxBytes bytes without splitting a rune.
func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
