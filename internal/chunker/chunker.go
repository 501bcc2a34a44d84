// Package chunker splits document text into overlapping fixed-size windows.
package chunker

import (
	"github.com/kalambet/docqa/internal/errs"
)

// Config holds the window size and overlap, both counted in characters (runes).
type Config struct {
	Size    int
	Overlap int
}

// DefaultConfig returns the window used when none is configured.
func DefaultConfig() Config {
	return Config{Size: 800, Overlap: 100}
}

// Validate checks 0 <= Overlap < Size.
func (c Config) Validate() error {
	if c.Size <= 0 {
		return errs.Invalid("chunk size must be positive, got %d", c.Size)
	}
	if c.Overlap < 0 {
		return errs.Invalid("chunk overlap must not be negative, got %d", c.Overlap)
	}
	if c.Overlap >= c.Size {
		return errs.Invalid("chunk overlap %d must be less than chunk size %d", c.Overlap, c.Size)
	}
	return nil
}

// Split partitions text into windows of size runes, each starting
// size-overlap runes after the previous one. The final window may be shorter
// and is always kept. Text no longer than size yields exactly one chunk;
// empty text yields none.
func Split(text string, size, overlap int) ([]string, error) {
	cfg := Config{Size: size, Overlap: overlap}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}

	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}, nil
	}

	step := size - overlap
	chunks := make([]string, 0, Count(len(runes), size, overlap))
	for start := 0; ; start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}

// Count returns the number of chunks Split produces for a text of n runes.
func Count(n, size, overlap int) int {
	if n == 0 {
		return 0
	}
	if n <= size {
		return 1
	}
	step := size - overlap
	return (n - overlap + step - 1) / step
}

// Reassemble concatenates chunks produced by Split with the given overlap,
// dropping the overlapping prefix of every chunk after the first.
func Reassemble(chunks []string, overlap int) string {
	var out []rune
	for i, c := range chunks {
		r := []rune(c)
		if i > 0 {
			if overlap > len(r) {
				r = nil
			} else {
				r = r[overlap:]
			}
		}
		out = append(out, r...)
	}
	return string(out)
}
