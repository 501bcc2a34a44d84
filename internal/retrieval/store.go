package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/docqa/internal/errs"
)

// Compile-time check that SQLiteStore implements VectorStore.
var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore keeps chunks in the chunks table and answers queries with a
// brute-force cosine scan. Mutations take the write lock; queries share the
// read lock, so a query sees the collection either before or after any Add
// or DeleteDocument.
type SQLiteStore struct {
	db       *sql.DB
	location string

	mu  sync.RWMutex
	dim int // 0 until the first Add or a persisted value is read
}

// NewSQLiteStore wraps an existing *sql.DB for vector operations.
// The chunks and vector_meta tables must already exist (created via migrations).
func NewSQLiteStore(ctx context.Context, db *sql.DB, location string) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, location: location}
	var v string
	err := db.QueryRowContext(ctx, `SELECT value FROM vector_meta WHERE key = 'dimension'`).Scan(&v)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, fmt.Errorf("reading vector dimension: %w", err)
	default:
		if s.dim, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("%w: vector dimension %q", errs.ErrStorageCorruption, v)
		}
	}
	return s, nil
}

// Dimension returns the collection's fixed embedding dimension, or 0 when
// nothing has been stored yet.
func (s *SQLiteStore) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Add inserts chunks in one transaction. Chunks without an ID get a new UUID.
// The first Add fixes the collection dimension.
func (s *SQLiteStore) Add(ctx context.Context, chunks []Chunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.dim
	if dim == 0 {
		dim = len(chunks[0].Embedding)
	}
	if dim == 0 {
		return nil, errs.Invalid("chunk %d has an empty embedding", chunks[0].Index)
	}
	for _, c := range chunks {
		if len(c.Embedding) != dim {
			return nil, fmt.Errorf("%w: chunk %d has %d dimensions, collection has %d", ErrDimensionMismatch, c.Index, len(c.Embedding), dim)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	if s.dim == 0 {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO vector_meta (key, value) VALUES ('dimension', ?)`, strconv.Itoa(dim)); err != nil {
			return nil, fmt.Errorf("recording vector dimension: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, chunk_index, text, embedding, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encoding metadata for chunk %d: %w", c.Index, err)
		}
		if c.Metadata == nil {
			meta = []byte("{}")
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.Index, c.Text, encodeFloat32s(c.Embedding), string(meta), createdAt.Format(time.RFC3339Nano)); err != nil {
			return nil, fmt.Errorf("inserting chunk %d of %s: %w", c.Index, c.DocumentID, err)
		}
		ids[i] = c.ID
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing chunks: %w", err)
	}
	s.dim = dim
	return ids, nil
}

// idScore holds only the ID and similarity during the scan phase of Query.
// Full rows are fetched only for the top-K winners.
type idScore struct {
	ID    string
	Score float32
}

// Query scans every stored vector and returns the k nearest by cosine distance.
// A stored vector that cannot be decoded fails this query with
// errs.ErrStorageCorruption; the store stays usable.
func (s *SQLiteStore) Query(ctx context.Context, vec []float32, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		return nil, errs.Invalid("k must be positive, got %d", k)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dim == 0 {
		return nil, nil
	}
	if len(vec) != s.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection has %d", ErrDimensionMismatch, len(vec), s.dim)
	}
	queryNorm := norm(vec)
	if queryNorm == 0 {
		return nil, errs.Invalid("query vector has zero norm")
	}

	top, err := s.scan(ctx, vec, queryNorm, k)
	if err != nil {
		return nil, err
	}
	if len(top) == 0 {
		return nil, nil
	}
	return s.fetch(ctx, top)
}

// scan runs phase one of Query and returns the winners best first.
func (s *SQLiteStore) scan(ctx context.Context, vec []float32, queryNorm float32, k int) ([]idScore, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %s: %v", errs.ErrStorageCorruption, id, err)
		}
		if len(buf) != s.dim {
			return nil, fmt.Errorf("%w: chunk %s has %d dimensions, collection has %d", errs.ErrStorageCorruption, id, len(buf), s.dim)
		}

		score := cosine(vec, buf, queryNorm)
		if h.Len() < k {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if better(idScore{ID: id, Score: score}, (*h)[0]) {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	top := make([]idScore, h.Len())
	for i := len(top) - 1; i >= 0; i-- {
		top[i] = heap.Pop(h).(idScore)
	}
	return top, nil
}

// fetch runs phase two of Query, loading the full rows for the winners.
func (s *SQLiteStore) fetch(ctx context.Context, top []idScore) ([]ScoredChunk, error) {
	args := make([]any, len(top))
	rank := make(map[string]int, len(top))
	for i, it := range top {
		args[i] = it.ID
		rank[it.ID] = i
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, document_id, chunk_index, text, metadata, created_at
		FROM chunks WHERE id IN (?`+strings.Repeat(",?", len(top)-1)+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K chunks: %w", err)
	}
	defer rows.Close()

	results := make([]ScoredChunk, len(top))
	found := 0
	for rows.Next() {
		c, err := scanChunk(rows, false)
		if err != nil {
			return nil, err
		}
		i := rank[c.ID]
		results[i] = ScoredChunk{Chunk: c, Distance: 1 - top[i].Score}
		found++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating top-K chunks: %w", err)
	}
	if found != len(top) {
		// Writers hold the lock, so missing rows were removed outside the store.
		return nil, fmt.Errorf("%w: %d of %d top-K chunks vanished", errs.ErrStorageCorruption, len(top)-found, len(top))
	}
	return results, nil
}

// DeleteDocument removes every chunk of a document in a single transaction.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID)
	if err != nil {
		return 0, fmt.Errorf("deleting chunks of %s: %w", documentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing delete of %s: %w", documentID, err)
	}
	return int(n), nil
}

// Stats returns the chunk count, dimension and database location.
func (s *SQLiteStore) Stats(ctx context.Context) (StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count); err != nil {
		return StoreStats{}, fmt.Errorf("counting chunks: %w", err)
	}
	return StoreStats{Count: count, Dimension: s.dim, Location: s.location}, nil
}

// ChunksByDocument returns a document's chunks ordered by index, embeddings included.
func (s *SQLiteStore) ChunksByDocument(ctx context.Context, documentID string) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, document_id, chunk_index, text, metadata, created_at, embedding
		FROM chunks WHERE document_id = ? ORDER BY chunk_index ASC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks of %s: %w", documentID, err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		c, err := scanChunk(rows, true)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func scanChunk(rows *sql.Rows, withEmbedding bool) (Chunk, error) {
	var c Chunk
	var meta, createdAt string
	var blob []byte
	dest := []any{&c.ID, &c.DocumentID, &c.Index, &c.Text, &meta, &createdAt}
	if withEmbedding {
		dest = append(dest, &blob)
	}
	if err := rows.Scan(dest...); err != nil {
		return Chunk{}, fmt.Errorf("scanning chunk: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
		return Chunk{}, fmt.Errorf("%w: metadata of chunk %s: %v", errs.ErrStorageCorruption, c.ID, err)
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Chunk{}, fmt.Errorf("%w: created_at of chunk %s: %v", errs.ErrStorageCorruption, c.ID, err)
	}
	c.CreatedAt = t
	if withEmbedding {
		if c.Embedding, err = decodeFloat32s(blob); err != nil {
			return Chunk{}, fmt.Errorf("%w: chunk %s: %v", errs.ErrStorageCorruption, c.ID, err)
		}
	}
	return c, nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
func decodeFloat32s(b []byte) ([]float32, error) {
	return decodeFloat32sInto(nil, b)
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during scans.
// The byte length must be a multiple of 4.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * |b|), clamped to [-1, 1].
// A zero vector b scores 0.
func cosine(a, b []float32, aNorm float32) float32 {
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	if bNormSq == 0 {
		return 0
	}
	c := dot / (float64(aNorm) * math.Sqrt(bNormSq))
	return float32(math.Max(-1, math.Min(1, c)))
}

// better orders candidates by score, breaking ties by ID so results are stable.
func better(a, b idScore) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.ID < b.ID
}

// idScoreHeap is a min-heap of idScore; the root is the worst kept candidate.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return better(h[j], h[i]) }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
