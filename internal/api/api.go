// Package api exposes docqa over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/docqa/internal/answer"
	"github.com/kalambet/docqa/internal/dataset"
	"github.com/kalambet/docqa/internal/errs"
	"github.com/kalambet/docqa/internal/eval"
	"github.com/kalambet/docqa/internal/finetune"
	"github.com/kalambet/docqa/internal/ingest"
	"github.com/kalambet/docqa/internal/registry"
	"github.com/kalambet/docqa/internal/retrieval"
	"github.com/kalambet/docqa/internal/storage"
)

const maxRequestBodySize = 10 << 20 // 10MB
const maxUploadSize = 32 << 20      // 32MB

// DocumentService ingests, lists and deletes documents.
type DocumentService interface {
	IngestDocument(ctx context.Context, d storage.Document) (storage.Document, error)
	IngestFile(ctx context.Context, filename string, data []byte) (storage.Document, error)
	IngestURL(ctx context.Context, rawURL string) (storage.Document, error)
	Enqueue(ctx context.Context, d storage.Document) (storage.Document, error)
	Document(ctx context.Context, id string) (storage.Document, error)
	ListDocuments(ctx context.Context, limit int) ([]storage.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	Stats(ctx context.Context) (ingest.Stats, error)
}

// Searcher runs semantic search over indexed chunks.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]retrieval.SearchResult, error)
}

// TrainingService drives fine-tuning runs.
type TrainingService interface {
	Start(ctx context.Context, examples []dataset.TrainingExample, baseModel string, hp finetune.Hyperparameters) (*finetune.Run, error)
	Resume(ctx context.Context, runID string) (*finetune.Run, error)
	Get(ctx context.Context, runID string) (finetune.Snapshot, error)
	List(ctx context.Context, limit int) ([]finetune.Snapshot, error)
	Cancel(ctx context.Context, runID string) error
	RunDir(runID string) string
}

type AppDeps struct {
	Documents DocumentService
	Search    Searcher
	Answers   *answer.Engine
	Training  TrainingService
	Registry  *registry.Registry

	// BaseGenerator answers evaluation requests that target the base model.
	BaseGenerator answer.Generator
	// ScoreEmbedder backs the embedding scorer; optional.
	ScoreEmbedder eval.TextEmbedder
	EvalConfig    eval.Config
	DefaultScorer string

	CheckpointRoot string
	TopK           int
	Token          string
	Logger         *slog.Logger
}

// NewAppHandler returns the HTTP API. Every route except /health requires
// the bearer token when one is configured.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.TopK <= 0 {
		deps.TopK = 5
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/documents", handleListDocuments(deps))
		r.Post("/documents", handleCreateDocument(deps))
		r.Post("/documents/upload", handleUpload(deps))
		r.Post("/documents/url", handleIngestURL(deps))
		r.Get("/documents/{id}", handleGetDocument(deps))
		r.Delete("/documents/{id}", handleDeleteDocument(deps))
		r.Get("/search", handleSearch(deps))
		r.Post("/answer", handleAnswer(deps))
		r.Get("/stats", handleStats(deps))
		r.Post("/run", handleRun(deps))

		r.Post("/training/prepare", handlePrepare)
		r.Get("/training/runs", handleListRuns(deps))
		r.Post("/training/runs", handleStartRun(deps))
		r.Get("/training/runs/{id}", handleGetRun(deps))
		r.Post("/training/runs/{id}/cancel", handleCancelRun(deps))
		r.Post("/training/runs/{id}/resume", handleResumeRun(deps))

		r.Get("/models", handleModels(deps))
		r.Post("/models/load", handleLoadModel(deps))
		r.Post("/models/unload", handleUnloadModel(deps))
		r.Get("/models/generate", handleGenerate(deps))
		r.Post("/models/evaluate", handleEvaluate(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps an error kind to an HTTP status and error type.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, errs.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, errs.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout, "upstream_timeout"
	case errors.Is(err, errs.ErrUpstreamUnavailable):
		return http.StatusBadGateway, "upstream_error"
	case errors.Is(err, errs.ErrCancelled):
		return http.StatusServiceUnavailable, "cancelled"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	code, typ := statusFor(err)
	if code >= http.StatusInternalServerError {
		logger.Error("request failed", "status", code, "error", err)
	}
	httpError(w, code, typ, "%v", err)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// decodeBody reads a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
