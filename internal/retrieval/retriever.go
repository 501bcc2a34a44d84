package retrieval

import (
	"context"
	"strings"

	"github.com/kalambet/docqa/internal/errs"
)

// SearchResult is a retrieved chunk with its similarity to the query.
// Similarity is 1 - distance under the store's cosine-distance convention,
// which is the cosine similarity itself, in [-1, 1].
type SearchResult struct {
	Chunk      Chunk   `json:"chunk"`
	Similarity float32 `json:"similarity"`
}

// Retriever combines embedding and vector search to find relevant chunks.
type Retriever struct {
	embedder *Embedder
	store    VectorStore
}

// NewRetriever creates a Retriever backed by the given Embedder and VectorStore.
func NewRetriever(embedder *Embedder, store VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Search embeds the query and returns up to k chunks, best match first.
// Embedding failures are returned with their upstream kind.
func (r *Retriever) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errs.Invalid("query must not be empty")
	}
	if k <= 0 {
		return nil, errs.Invalid("k must be positive, got %d", k)
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scored, err := r.store.Query(ctx, vec, k)
	if err != nil {
		return nil, err
	}
	return toResults(scored), nil
}

// toResults converts ascending distances to descending similarities. The
// transform is monotone decreasing, so the store's order is kept.
func toResults(scored []ScoredChunk) []SearchResult {
	results := make([]SearchResult, len(scored))
	for i, s := range scored {
		results[i] = SearchResult{Chunk: s.Chunk, Similarity: 1 - s.Distance}
	}
	return results
}
