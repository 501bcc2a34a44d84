package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kalambet/docqa/internal/errs"
)

// fakeOllama serves the subset of the Ollama API the engine uses.
func fakeOllama(t *testing.T, models ...string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, r *http.Request) {
		type entry struct {
			Name string `json:"name"`
		}
		var resp struct {
			Models []entry `json:"models"`
		}
		for _, m := range models {
			resp.Models = append(resp.Models, entry{m})
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("POST /api/generate", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Options struct {
				NumPredict int `json:"num_predict"`
			} `json:"options"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Options.NumPredict != 32 {
			t.Errorf("num_predict = %d, want 32", req.Options.NumPredict)
		}
		json.NewEncoder(w).Encode(map[string]any{"response": "fire and flood"})
	})
	mux.HandleFunc("POST /api/embed", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{0.1, 0.2, 0.3}}})
	})
	mux.HandleFunc("POST /api/pull", func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 500})
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 1000})
		enc.Encode(PullProgress{Status: "success"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaEngine_Inference(t *testing.T) {
	e := NewOllamaEngine(fakeOllama(t).URL)
	ctx := context.Background()

	out, err := e.Generate(ctx, "llama3.1", "What is covered?", 32)
	if err != nil || out != "fire and flood" {
		t.Errorf("Generate = %q, %v", out, err)
	}
	vec, err := e.Embed(ctx, "nomic-embed-text", "hello")
	if err != nil || len(vec) != 3 {
		t.Errorf("Embed = %v, %v", vec, err)
	}
}

func TestOllamaEngine_ModelManagement(t *testing.T) {
	e := NewOllamaEngine(fakeOllama(t, "llama3.1:latest", "mistral-nemo:latest").URL)
	ctx := context.Background()

	if !e.IsRunning(ctx) {
		t.Error("IsRunning() = false, want true")
	}
	names, err := e.ListModels(ctx)
	if err != nil || len(names) != 2 {
		t.Errorf("ListModels = %v, %v", names, err)
	}
	if !e.HasModel(ctx, "llama3.1") {
		t.Error("HasModel(llama3.1) = false, want true")
	}
	if e.HasModel(ctx, "llama3") {
		t.Error("HasModel(llama3) = true, want false")
	}

	var pct []int
	if err := e.PullModel(ctx, "llama3.1", func(p PullProgress) { pct = append(pct, p.Percent()) }); err != nil {
		t.Fatalf("PullModel: %v", err)
	}
	if len(pct) != 3 || pct[0] != 50 || pct[1] != 100 || pct[2] != -1 {
		t.Errorf("progress percents = %v, want [50 100 -1]", pct)
	}
}

func TestOllamaEngine_Down(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	e := NewOllamaEngine(srv.URL)
	if e.IsRunning(context.Background()) {
		t.Error("IsRunning() = true, want false")
	}
	if _, err := e.ListModels(context.Background()); !errors.Is(err, errs.ErrUpstreamUnavailable) {
		t.Errorf("ListModels err = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestOllamaEngine_ErrorKinds(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer failing.Close()

	_, err := NewOllamaEngine(failing.URL).Generate(context.Background(), "llama3.1", "p", 0)
	if !errors.Is(err, errs.ErrUpstreamUnavailable) {
		t.Errorf("500 response: err = %v, want ErrUpstreamUnavailable", err)
	}

	// The handler reads the body so the server notices the client hanging up,
	// and release unblocks it before Close in any case.
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer slow.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = NewOllamaEngine(slow.URL).Embed(ctx, "nomic-embed-text", "x")
	if !errors.Is(err, errs.ErrUpstreamTimeout) {
		t.Errorf("slow server: err = %v, want ErrUpstreamTimeout", err)
	}
}
