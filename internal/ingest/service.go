// Package ingest turns document text into indexed chunks and removes them
// again.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/docqa/internal/chunker"
	"github.com/kalambet/docqa/internal/errs"
	"github.com/kalambet/docqa/internal/extract"
	"github.com/kalambet/docqa/internal/retrieval"
	"github.com/kalambet/docqa/internal/storage"
)

// JobIngestDocument is the job type for deferred indexing.
const JobIngestDocument = "ingest_document"

const maxFetchSize = 20 << 20 // 20MB

// DocumentStore persists documents.
type DocumentStore interface {
	SaveDocument(ctx context.Context, d storage.Document) error
	GetDocument(ctx context.Context, id string) (storage.Document, error)
	MarkDocument(ctx context.Context, id, status string, chunkCount int) error
	DeleteDocument(ctx context.Context, id string) error
	CountDocuments(ctx context.Context) (int, error)
	ListDocuments(ctx context.Context, limit int) ([]storage.Document, error)
}

// JobQueue accepts deferred work.
type JobQueue interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
}

// BatchEmbedder embeds many texts, preserving order.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Stats summarizes what has been ingested.
type Stats struct {
	TotalDocuments  int    `json:"total_documents"`
	Chunks          int    `json:"chunks"`
	Dimension       int    `json:"dimension"`
	BackingLocation string `json:"backing_location"`
}

// Service indexes documents into a vector store.
type Service struct {
	docs     DocumentStore
	jobs     JobQueue
	embedder BatchEmbedder
	vectors  retrieval.VectorStore
	chunking chunker.Config
	client   *http.Client
	logger   *slog.Logger
}

// NewService validates the chunk window and creates a Service. jobs may be
// nil, in which case Enqueue is unavailable.
func NewService(docs DocumentStore, jobs JobQueue, embedder BatchEmbedder, vectors retrieval.VectorStore, chunking chunker.Config) (*Service, error) {
	if err := chunking.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		docs:     docs,
		jobs:     jobs,
		embedder: embedder,
		vectors:  vectors,
		chunking: chunking,
		client:   &http.Client{Timeout: 20 * time.Second},
		logger:   slog.Default(),
	}, nil
}

// WithHTTPClient replaces the client used by IngestURL.
func (s *Service) WithHTTPClient(c *http.Client) *Service {
	s.client = c
	return s
}

// Ingest stores text as a plain-text document under docID and indexes it,
// returning the number of chunks created.
func (s *Service) Ingest(ctx context.Context, docID, text string) (int, error) {
	doc, err := s.IngestDocument(ctx, storage.Document{
		ID:       docID,
		Filename: docID,
		FileType: extract.TypePlain,
		Text:     text,
	})
	return doc.ChunkCount, err
}

// IngestDocument saves d and indexes it synchronously. A missing ID is
// assigned. When indexing fails nothing is kept, so the caller can retry with
// the same ID.
func (s *Service) IngestDocument(ctx context.Context, d storage.Document) (storage.Document, error) {
	d, err := s.save(ctx, d)
	if err != nil {
		return storage.Document{}, err
	}
	n, err := s.indexChunks(ctx, d)
	if err != nil {
		s.discard(context.WithoutCancel(ctx), d.ID)
		return storage.Document{}, err
	}
	if err := s.markIndexed(ctx, d, n); err != nil {
		return storage.Document{}, err
	}
	d.Status = storage.DocumentIndexed
	d.ChunkCount = n
	return d, nil
}

// discard removes a document and any chunks of it after a failed ingest.
func (s *Service) discard(ctx context.Context, id string) {
	if _, err := s.vectors.DeleteDocument(ctx, id); err != nil {
		s.logger.Error("failed to drop chunks of failed document", "document_id", id, "error", err)
	}
	if err := s.docs.DeleteDocument(ctx, id); err != nil && !errors.Is(err, errs.ErrNotFound) {
		s.logger.Error("failed to drop failed document", "document_id", id, "error", err)
	}
}

// Enqueue saves d as pending and schedules an ingest_document job for it.
func (s *Service) Enqueue(ctx context.Context, d storage.Document) (storage.Document, error) {
	if s.jobs == nil {
		return storage.Document{}, errors.New("ingest: no job queue configured")
	}
	d, err := s.save(ctx, d)
	if err != nil {
		return storage.Document{}, err
	}
	payload, err := json.Marshal(jobPayload{DocumentID: d.ID})
	if err != nil {
		return storage.Document{}, err
	}
	job := storage.Job{ID: uuid.NewString(), Type: JobIngestDocument, PayloadJSON: string(payload)}
	if err := s.jobs.EnqueueJob(ctx, job); err != nil {
		return storage.Document{}, fmt.Errorf("enqueueing document %s: %w", d.ID, err)
	}
	return d, nil
}

// IngestFile extracts the text of an uploaded file and indexes it.
func (s *Service) IngestFile(ctx context.Context, filename string, data []byte) (storage.Document, error) {
	d, err := FileDocument(filename, data)
	if err != nil {
		return storage.Document{}, err
	}
	return s.IngestDocument(ctx, d)
}

// FileDocument builds an unsaved document from file bytes.
func FileDocument(filename string, data []byte) (storage.Document, error) {
	mimeType := extract.DetectType(filename, data)
	text, err := extract.Text(data, mimeType)
	if err != nil {
		return storage.Document{}, fmt.Errorf("extracting %s: %w", filename, err)
	}
	return storage.Document{Filename: filename, FileType: mimeType, Text: text}, nil
}

// IngestURL downloads a document and indexes it.
func (s *Service) IngestURL(ctx context.Context, rawURL string) (storage.Document, error) {
	filename, data, err := s.fetch(ctx, rawURL)
	if err != nil {
		return storage.Document{}, err
	}
	return s.IngestFile(ctx, filename, data)
}

func (s *Service) fetch(ctx context.Context, rawURL string) (string, []byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", nil, errs.Invalid("invalid document url %q", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", nil, errs.Invalid("invalid document url: %v", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", nil, errs.Upstream("fetching document", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", nil, fmt.Errorf("fetching document: %w: status %d", errs.ErrUpstreamUnavailable, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchSize))
	if err != nil {
		return "", nil, errs.Upstream("reading document", err)
	}

	filename := path.Base(u.Path)
	if filename == "/" || filename == "." {
		filename = u.Host
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && path.Ext(filename) == "" {
		if strings.HasPrefix(ct, extract.TypePDF) {
			filename += ".pdf"
		} else if strings.HasPrefix(ct, extract.TypeHTML) {
			filename += ".html"
		}
	}
	return filename, data, nil
}

// IndexDocument indexes an already saved document, as the worker does for
// queued documents.
func (s *Service) IndexDocument(ctx context.Context, id string) (int, error) {
	d, err := s.docs.GetDocument(ctx, id)
	if err != nil {
		return 0, err
	}
	if d.Status == storage.DocumentIndexed {
		return d.ChunkCount, nil
	}
	// Clear chunks left by an earlier attempt.
	if _, err := s.vectors.DeleteDocument(ctx, id); err != nil {
		return 0, err
	}
	return s.index(ctx, d)
}

// DeleteDocument removes a document and all of its chunks. Unknown IDs return
// ErrNotFound.
func (s *Service) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.docs.GetDocument(ctx, id); err != nil {
		return err
	}
	n, err := s.vectors.DeleteDocument(ctx, id)
	if err != nil {
		return err
	}
	if err := s.docs.DeleteDocument(ctx, id); err != nil {
		return err
	}
	s.logger.Info("document deleted", "document_id", id, "chunks", n)
	return nil
}

// Document returns the stored document with its text.
func (s *Service) Document(ctx context.Context, id string) (storage.Document, error) {
	return s.docs.GetDocument(ctx, id)
}

// ListDocuments returns up to limit documents, newest first, without text.
func (s *Service) ListDocuments(ctx context.Context, limit int) ([]storage.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	docs, err := s.docs.ListDocuments(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	if docs == nil {
		docs = []storage.Document{}
	}
	return docs, nil
}

// Stats reports the document and chunk counts and the index location.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	total, err := s.docs.CountDocuments(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("counting documents: %w", err)
	}
	vs, err := s.vectors.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{TotalDocuments: total, Chunks: vs.Count, Dimension: vs.Dimension, BackingLocation: vs.Location}, nil
}

func (s *Service) save(ctx context.Context, d storage.Document) (storage.Document, error) {
	if strings.TrimSpace(d.Text) == "" {
		return storage.Document{}, errs.Invalid("document text must not be empty")
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Filename == "" {
		d.Filename = d.ID
	}
	if d.FileType == "" {
		d.FileType = extract.TypePlain
	}
	if d.UploadedAt.IsZero() {
		d.UploadedAt = time.Now().UTC()
	}
	d.UploadedAt = d.UploadedAt.Truncate(time.Second)
	d.Status = storage.DocumentPending
	d.ChunkCount = 0

	existing, err := s.docs.GetDocument(ctx, d.ID)
	switch {
	case err == nil && existing.Status == storage.DocumentFailed:
		// A document whose indexing gave up may be ingested again.
		s.discard(ctx, d.ID)
	case err == nil:
		return storage.Document{}, errs.Conflict("document %s already exists", d.ID)
	case !errors.Is(err, errs.ErrNotFound):
		return storage.Document{}, err
	}
	// A concurrent insert of the same ID fails with ErrConflict.
	if err := s.docs.SaveDocument(ctx, d); err != nil {
		return storage.Document{}, err
	}
	return d, nil
}

func (s *Service) index(ctx context.Context, d storage.Document) (int, error) {
	n, err := s.indexChunks(ctx, d)
	if err != nil {
		if markErr := s.docs.MarkDocument(context.WithoutCancel(ctx), d.ID, storage.DocumentFailed, 0); markErr != nil {
			s.logger.Error("failed to mark document", "document_id", d.ID, "error", markErr)
		}
		return 0, err
	}
	if err := s.markIndexed(ctx, d, n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Service) markIndexed(ctx context.Context, d storage.Document, n int) error {
	if err := s.docs.MarkDocument(ctx, d.ID, storage.DocumentIndexed, n); err != nil {
		return fmt.Errorf("marking document %s indexed: %w", d.ID, err)
	}
	s.logger.Info("document indexed", "document_id", d.ID, "filename", d.Filename, "chunks", n)
	return nil
}

func (s *Service) indexChunks(ctx context.Context, d storage.Document) (int, error) {
	texts, err := chunker.Split(d.Text, s.chunking.Size, s.chunking.Overlap)
	if err != nil {
		return 0, err
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding document %s: %w", d.ID, err)
	}

	uploaded := d.UploadedAt.UTC().Format(time.RFC3339)
	chunks := make([]retrieval.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = retrieval.Chunk{
			DocumentID: d.ID,
			Index:      i,
			Text:       text,
			Embedding:  vecs[i],
			Metadata: map[string]string{
				retrieval.MetaDocumentID: d.ID,
				retrieval.MetaFilename:   d.Filename,
				retrieval.MetaUploadedAt: uploaded,
				retrieval.MetaChunkIndex: strconv.Itoa(i),
			},
		}
	}
	if _, err := s.vectors.Add(ctx, chunks); err != nil {
		return 0, fmt.Errorf("storing chunks of %s: %w", d.ID, err)
	}
	return len(chunks), nil
}

type jobPayload struct {
	DocumentID string `json:"document_id"`
}
