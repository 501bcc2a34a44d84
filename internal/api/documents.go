package api

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/docqa/internal/ingest"
	"github.com/kalambet/docqa/internal/retrieval"
	"github.com/kalambet/docqa/internal/storage"
)

type documentRequest struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	FileType string `json:"file_type"`
	Text     string `json:"text"`
}

type documentResponse struct {
	ID         string    `json:"document_id"`
	Filename   string    `json:"filename"`
	FileType   string    `json:"file_type"`
	UploadedAt time.Time `json:"uploaded_at"`
	Status     string    `json:"status"`
	Chunks     int       `json:"chunks"`
	Text       string    `json:"text,omitempty"`
}

func toDocumentResponse(d storage.Document) documentResponse {
	return documentResponse{
		ID:         d.ID,
		Filename:   d.Filename,
		FileType:   d.FileType,
		UploadedAt: d.UploadedAt,
		Status:     d.Status,
		Chunks:     d.ChunkCount,
		Text:       d.Text,
	}
}

func handleListDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := deps.Documents.ListDocuments(r.Context(), parseIntParam(r, "limit", 50, 500))
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		out := make([]documentResponse, len(docs))
		for i, d := range docs {
			out[i] = toDocumentResponse(d)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleCreateDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req documentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		d, err := deps.Documents.IngestDocument(r.Context(), storage.Document{
			ID:       req.ID,
			Filename: req.Filename,
			FileType: req.FileType,
			Text:     req.Text,
		})
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		d.Text = ""
		writeJSON(w, http.StatusCreated, toDocumentResponse(d))
	}
}

// handleUpload accepts a multipart "file" field. With ?async=1 the document
// is saved and indexed by the background worker.
func handleUpload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "multipart field \"file\" is required: %v", err)
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading upload: %v", err)
			return
		}

		var d storage.Document
		code := http.StatusCreated
		if async := r.URL.Query().Get("async"); async == "1" || async == "true" {
			d, err = ingest.FileDocument(header.Filename, data)
			if err == nil {
				d, err = deps.Documents.Enqueue(r.Context(), d)
			}
			code = http.StatusAccepted
		} else {
			d, err = deps.Documents.IngestFile(r.Context(), header.Filename, data)
		}
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		d.Text = ""
		writeJSON(w, code, toDocumentResponse(d))
	}
}

func handleIngestURL(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL string `json:"url"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		d, err := deps.Documents.IngestURL(r.Context(), req.URL)
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		d.Text = ""
		writeJSON(w, http.StatusCreated, toDocumentResponse(d))
	}
}

func handleGetDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := deps.Documents.Document(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toDocumentResponse(d))
	}
}

func handleDeleteDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Documents.DeleteDocument(r.Context(), id); err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "document_id": id})
	}
}

func handleSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		k := parseIntParam(r, "k", deps.TopK, 100)
		results, err := deps.Search.Search(r.Context(), r.URL.Query().Get("q"), k)
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		if results == nil {
			results = []retrieval.SearchResult{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	}
}

// Answer sources selectable per request.
const (
	modelBase      = "base"
	modelFineTuned = "finetuned"
)

func handleAnswer(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Question string `json:"question"`
			K        int    `json:"k"`
			Model    string `json:"model"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.K == 0 {
			req.K = deps.TopK
		}

		eng := deps.Answers
		switch strings.ToLower(req.Model) {
		case "", modelBase:
		case modelFineTuned:
			eng = eng.WithGenerator(deps.Registry)
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown model %q, want %q or %q", req.Model, modelBase, modelFineTuned)
			return
		}

		res, err := eng.Answer(r.Context(), req.Question, req.K)
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Documents.Stats(r.Context())
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// handleRun downloads one document, indexes it and answers every question
// against the index.
func handleRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Documents string   `json:"documents"`
			Questions []string `json:"questions"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Documents == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "documents url is required")
			return
		}
		if len(req.Questions) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one question is required")
			return
		}

		d, err := deps.Documents.IngestURL(r.Context(), req.Documents)
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		answers, err := deps.Answers.AnswerAll(r.Context(), req.Questions, deps.TopK)
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"document_id": d.ID, "answers": answers})
	}
}
