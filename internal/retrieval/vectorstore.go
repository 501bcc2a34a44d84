package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/kalambet/docqa/internal/errs"
)

// VectorStore persists chunks with their embeddings and answers
// nearest-neighbour queries.
//
// Distance convention: Query returns cosine distance d = 1 - cos(q, v), so
// d lies in [0, 2] and 0 means identical direction. Results are ordered by
// ascending distance.
type VectorStore interface {
	// Add stores chunks and returns the IDs assigned to them, in order.
	Add(ctx context.Context, chunks []Chunk) ([]string, error)

	// Query returns up to k chunks closest to vec. k larger than the stored
	// count returns every chunk.
	Query(ctx context.Context, vec []float32, k int) ([]ScoredChunk, error)

	// DeleteDocument removes every chunk of a document in one step and
	// returns how many were removed.
	DeleteDocument(ctx context.Context, documentID string) (int, error)

	// Stats reports the collection size and where it is stored.
	Stats(ctx context.Context) (StoreStats, error)
}

// ErrDimensionMismatch is returned when a vector's length differs from the
// collection's fixed dimension.
var ErrDimensionMismatch = fmt.Errorf("%w: embedding dimension mismatch", errs.ErrInvalidArgument)

// Chunk is one embedded text segment of a document.
type Chunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Index      int               `json:"chunk_index"`
	Text       string            `json:"text"`
	Embedding  []float32         `json:"-"`
	Metadata   map[string]string `json:"metadata"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Metadata keys written for every chunk.
const (
	MetaDocumentID = "document_id"
	MetaFilename   = "filename"
	MetaUploadedAt = "uploaded_at"
	MetaChunkIndex = "chunk_index"
)

// ScoredChunk is a Chunk with its cosine distance to the query.
type ScoredChunk struct {
	Chunk
	Distance float32
}

// StoreStats describes the vector collection.
type StoreStats struct {
	Count     int    `json:"count"`
	Dimension int    `json:"dimension"`
	Location  string `json:"backing_location"`
}
