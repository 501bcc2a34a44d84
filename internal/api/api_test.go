package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/docqa/internal/answer"
	"github.com/kalambet/docqa/internal/chunker"
	"github.com/kalambet/docqa/internal/composer"
	"github.com/kalambet/docqa/internal/errs"
	"github.com/kalambet/docqa/internal/eval"
	"github.com/kalambet/docqa/internal/finetune"
	"github.com/kalambet/docqa/internal/ingest"
	"github.com/kalambet/docqa/internal/registry"
	"github.com/kalambet/docqa/internal/retrieval"
	"github.com/kalambet/docqa/internal/storage"
)

const testToken = "test-token-12345"

// fakeEngine embeds text as keyword counts and answers every prompt with
// reply.
type fakeEngine struct {
	reply  string
	genErr error
}

var testVocab = []string{"fire", "flood", "premium", "claim"}

func (f *fakeEngine) Embed(_ context.Context, _ string, text string) ([]float32, error) {
	v := make([]float32, len(testVocab)+1)
	lower := strings.ToLower(text)
	for i, w := range testVocab {
		v[i] = float32(strings.Count(lower, w))
	}
	v[len(testVocab)] = 0.1
	return v, nil
}

func (f *fakeEngine) Generate(_ context.Context, _ string, _ string, _ int) (string, error) {
	return f.reply, f.genErr
}

func (f *fakeEngine) IsRunning(context.Context) bool { return true }

type testEnv struct {
	handler http.Handler
	deps    AppDeps
	store   *storage.Store
	svc     *ingest.Service
}

func setupAppHandler(t *testing.T, token string, eng *fakeEngine) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	vectors, err := retrieval.NewSQLiteStore(ctx, store.DB(), store.Location())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	embedder := retrieval.NewEmbedder(eng, "embed", retrieval.EmbedderConfig{Timeout: time.Second})
	svc, err := ingest.NewService(store, store, embedder, vectors, chunker.Config{Size: 200, Overlap: 20})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	retriever := retrieval.NewRetriever(embedder, vectors)
	gen := answer.EngineGenerator{Engine: eng, Model: "gen"}
	answers := answer.New(retriever, composer.New(1000), gen, answer.Config{
		Timeout:       time.Second,
		BatchAttempts: 2,
		BatchBackoff:  time.Millisecond,
	})

	root := t.TempDir()
	orch := finetune.NewOrchestrator(store, finetune.Config{CheckpointDir: root})
	t.Cleanup(orch.Close)

	deps := AppDeps{
		Documents:      svc,
		Search:         retriever,
		Answers:        answers,
		Training:       orch,
		Registry:       registry.New(),
		BaseGenerator:  answer.EngineGenerator{Engine: eng, Model: "gen"},
		ScoreEmbedder:  embedder,
		EvalConfig:     eval.Config{Concurrency: 2, MaxTokens: 16, Timeout: time.Second},
		DefaultScorer:  eval.ScorerTokenOverlap,
		CheckpointRoot: root,
		TopK:           3,
		Token:          token,
	}
	return &testEnv{handler: NewAppHandler(deps), deps: deps, store: store, svc: svc}
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func (e *testEnv) do(t *testing.T, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, authReq(method, url, body, testToken))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func TestHealth_NoAuth(t *testing.T) {
	env := setupAppHandler(t, testToken, &fakeEngine{})
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestAuth(t *testing.T) {
	env := setupAppHandler(t, testToken, &fakeEngine{})

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusUnauthorized},
		{"valid", testToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			env.handler.ServeHTTP(rr, authReq(http.MethodGet, "/stats", "", tt.token))
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestAuth_EmptyTokenDisablesCheck(t *testing.T) {
	env := setupAppHandler(t, "", &fakeEngine{})
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestDocuments_Lifecycle(t *testing.T) {
	env := setupAppHandler(t, testToken, &fakeEngine{reply: "Fire is covered."})

	rr := env.do(t, http.MethodPost, "/documents", `{"id":"policy","filename":"policy.txt","text":"The policy covers fire damage. Fire claims are paid in 30 days."}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var created documentResponse
	decode(t, rr, &created)
	if created.ID != "policy" || created.Status != storage.DocumentIndexed || created.Chunks != 1 {
		t.Errorf("created = %+v", created)
	}

	env.do(t, http.MethodPost, "/documents", `{"id":"recipe","text":"Flood the pan with water and add a premium spice."}`)

	rr = env.do(t, http.MethodGet, "/search?q=fire+claim&k=2", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("search status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var search struct {
		Results []retrieval.SearchResult `json:"results"`
	}
	decode(t, rr, &search)
	if len(search.Results) != 2 || search.Results[0].Chunk.DocumentID != "policy" {
		t.Fatalf("search results = %+v", search.Results)
	}
	if search.Results[0].Similarity < search.Results[1].Similarity {
		t.Error("results not ordered by similarity")
	}

	rr = env.do(t, http.MethodPost, "/answer", `{"question":"Is fire covered?","k":1}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("answer status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var ans answer.Result
	decode(t, rr, &ans)
	if ans.Answer != "Fire is covered." || len(ans.SupportingChunks) != 1 {
		t.Errorf("answer = %+v", ans)
	}

	rr = env.do(t, http.MethodGet, "/stats", "")
	var st ingest.Stats
	decode(t, rr, &st)
	if st.TotalDocuments != 2 || st.Chunks != 2 || st.BackingLocation != ":memory:" {
		t.Errorf("stats = %+v", st)
	}

	rr = env.do(t, http.MethodGet, "/documents", "")
	var listed []documentResponse
	decode(t, rr, &listed)
	if len(listed) != 2 {
		t.Errorf("listed %d documents, want 2", len(listed))
	}

	if rr := env.do(t, http.MethodDelete, "/documents/policy", ""); rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rr.Code)
	}
	rr = env.do(t, http.MethodDelete, "/documents/policy", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/documents/policy", ""); rr.Code != http.StatusNotFound {
		t.Errorf("get deleted status = %d, want 404", rr.Code)
	}
}

func TestCreateDocument_Errors(t *testing.T) {
	env := setupAppHandler(t, testToken, &fakeEngine{})
	env.do(t, http.MethodPost, "/documents", `{"id":"dup","text":"first"}`)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{"text":`, http.StatusBadRequest},
		{"empty text", `{"text":"   "}`, http.StatusBadRequest},
		{"duplicate id", `{"id":"dup","text":"second"}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := env.do(t, http.MethodPost, "/documents", tt.body); rr.Code != tt.want {
				t.Errorf("status = %d, want %d; body = %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func uploadReq(t *testing.T, url, filename string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, url, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+testToken)
	return req
}

func TestUpload(t *testing.T) {
	env := setupAppHandler(t, testToken, &fakeEngine{})

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, uploadReq(t, "/documents/upload", "page.html", []byte("<html><body><p>Fire is covered.</p><script>x()</script></body></html>")))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var d documentResponse
	decode(t, rr, &d)
	if d.FileType != "text/html" || d.Chunks != 1 {
		t.Errorf("uploaded = %+v", d)
	}
	stored, err := env.store.GetDocument(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if strings.Contains(stored.Text, "x()") || !strings.Contains(stored.Text, "Fire is covered.") {
		t.Errorf("stored text = %q", stored.Text)
	}
}

func TestUpload_Async(t *testing.T) {
	env := setupAppHandler(t, testToken, &fakeEngine{})

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, uploadReq(t, "/documents/upload?async=1", "notes.txt", []byte("Flood is excluded.")))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var d documentResponse
	decode(t, rr, &d)
	if d.Status != storage.DocumentPending {
		t.Errorf("status = %q, want pending", d.Status)
	}

	job, err := env.store.ClaimNextJob(context.Background(), []string{ingest.JobIngestDocument})
	if err != nil || job == nil {
		t.Fatalf("ClaimNextJob = %v, %v; want a queued job", job, err)
	}
	if !strings.Contains(job.PayloadJSON, d.ID) {
		t.Errorf("payload = %s, want document %s", job.PayloadJSON, d.ID)
	}
}

func TestUpload_Rejects(t *testing.T) {
	env := setupAppHandler(t, testToken, &fakeEngine{})

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, uploadReq(t, "/documents/upload", "scan.png", []byte("\x89PNG\r\n\x1a\n")))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("image status = %d, want 400", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/documents/upload", "not multipart")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing file status = %d, want 400", rr.Code)
	}
}

func TestRun(t *testing.T) {
	docServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "The premium is due monthly. Fire damage is covered.")
	}))
	defer docServer.Close()

	env := setupAppHandler(t, testToken, &fakeEngine{reply: "Monthly."})

	body := fmt.Sprintf(`{"documents":%q,"questions":["When is the premium due?","Is fire covered?"]}`, docServer.URL+"/policy.txt")
	rr := env.do(t, http.MethodPost, "/run", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		DocumentID string   `json:"document_id"`
		Answers    []string `json:"answers"`
	}
	decode(t, rr, &resp)
	if len(resp.Answers) != 2 || resp.Answers[0] != "Monthly." {
		t.Errorf("answers = %q", resp.Answers)
	}
	if resp.DocumentID == "" {
		t.Error("missing document_id")
	}
}

func TestRun_GenerationFailureYieldsPlaceholder(t *testing.T) {
	docServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "Flood is excluded.")
	}))
	defer docServer.Close()

	env := setupAppHandler(t, testToken, &fakeEngine{genErr: errors.New("429 rate limited")})

	rr := env.do(t, http.MethodPost, "/run", fmt.Sprintf(`{"documents":%q,"questions":["Is flood covered?"]}`, docServer.URL+"/doc.txt"))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Answers []string `json:"answers"`
	}
	decode(t, rr, &resp)
	if len(resp.Answers) != 1 || resp.Answers[0] != answer.FailedAnswer {
		t.Errorf("answers = %q", resp.Answers)
	}
}

func TestRun_Errors(t *testing.T) {
	docServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer docServer.Close()

	env := setupAppHandler(t, testToken, &fakeEngine{})
	tests := []struct {
		name string
		body string
		want int
	}{
		{"no url", `{"questions":["q"]}`, http.StatusBadRequest},
		{"no questions", `{"documents":"http://example.com/a.pdf"}`, http.StatusBadRequest},
		{"bad scheme", `{"documents":"file:///etc/passwd","questions":["q"]}`, http.StatusBadRequest},
		{"download fails", fmt.Sprintf(`{"documents":%q,"questions":["q"]}`, docServer.URL+"/a.pdf"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := env.do(t, http.MethodPost, "/run", tt.body); rr.Code != tt.want {
				t.Errorf("status = %d, want %d; body = %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestAnswer_FineTunedWithoutModel(t *testing.T) {
	env := setupAppHandler(t, testToken, &fakeEngine{reply: "x"})

	rr := env.do(t, http.MethodPost, "/answer", `{"question":"q","model":"finetuned"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400; body = %s", rr.Code, rr.Body.String())
	}
	rr = env.do(t, http.MethodPost, "/answer", `{"question":"q","model":"gpt-9"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown model status = %d, want 400", rr.Code)
	}
}

func TestAnswer_UpstreamTimeout(t *testing.T) {
	env := setupAppHandler(t, testToken, &fakeEngine{genErr: context.DeadlineExceeded})
	rr := env.do(t, http.MethodPost, "/answer", `{"question":"Is fire covered?"}`)
	if rr.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504; body = %s", rr.Code, rr.Body.String())
	}
}

func TestGenerate_NoModel(t *testing.T) {
	env := setupAppHandler(t, testToken, &fakeEngine{})
	if rr := env.do(t, http.MethodGet, "/models/generate?prompt=hello", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/models/generate", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("missing prompt status = %d, want 400", rr.Code)
	}
}

func TestPrepare(t *testing.T) {
	env := setupAppHandler(t, testToken, &fakeEngine{})
	body := `{
		"records":[{"document":"Fire  is\tcovered.","instruction":"Summarize.","output":"Fire."},{"document":"","instruction":"x","output":"y"}],
		"qa":[{"document":"The premium is monthly.","question":"When is it due?","answer":"Monthly."}]
	}`
	rr := env.do(t, http.MethodPost, "/training/prepare", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var res struct {
		Examples []struct {
			Instruction string `json:"instruction"`
			Input       string `json:"input"`
		} `json:"examples"`
		Skipped []struct {
			Index int `json:"index"`
		} `json:"skipped"`
	}
	decode(t, rr, &res)
	if len(res.Examples) != 2 || len(res.Skipped) != 1 || res.Skipped[0].Index != 1 {
		t.Fatalf("prepare = %+v", res)
	}
	if res.Examples[0].Input != "Fire is covered." {
		t.Errorf("input not normalized: %q", res.Examples[0].Input)
	}
	if !strings.HasPrefix(res.Examples[1].Input, "Document: The premium is monthly.") {
		t.Errorf("qa input = %q", res.Examples[1].Input)
	}
}

func waitForState(t *testing.T, env *testEnv, id string, want finetune.State) finetune.Snapshot {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		rr := env.do(t, http.MethodGet, "/training/runs/"+id, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("get run status = %d", rr.Code)
		}
		var s finetune.Snapshot
		decode(t, rr, &s)
		if s.State == want {
			return s
		}
		if s.State.Terminal() {
			t.Fatalf("run ended in %s (%s), want %s", s.State, s.Error, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s did not reach %s", id, want)
	return finetune.Snapshot{}
}

func TestTraining_Cycle(t *testing.T) {
	env := setupAppHandler(t, testToken, &fakeEngine{})

	body := `{
		"examples":[
			{"instruction":"What is covered?","input":"The policy covers fire.","output":"Fire is covered."},
			{"instruction":"What is excluded?","input":"The policy excludes flood.","output":"Flood is excluded."}
		],
		"hyperparameters":{"batch_size":1,"epochs":2}
	}`
	rr := env.do(t, http.MethodPost, "/training/runs", body)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("start status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var started struct {
		Run finetune.Snapshot `json:"run"`
	}
	decode(t, rr, &started)
	id := started.Run.ID

	s := waitForState(t, env, id, finetune.StateCompleted)
	if len(s.EpochLosses) != 2 {
		t.Errorf("epoch losses = %v, want 2", s.EpochLosses)
	}

	rr = env.do(t, http.MethodGet, "/training/runs", "")
	var runs []finetune.Snapshot
	decode(t, rr, &runs)
	if len(runs) != 1 {
		t.Errorf("listed %d runs, want 1", len(runs))
	}

	if rr := env.do(t, http.MethodPost, "/training/runs/"+id+"/cancel", ""); rr.Code != http.StatusConflict {
		t.Errorf("cancel finished run status = %d, want 409", rr.Code)
	}
	if rr := env.do(t, http.MethodPost, "/training/runs/"+id+"/resume", ""); rr.Code != http.StatusConflict {
		t.Errorf("resume completed run status = %d, want 409", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/models/load", fmt.Sprintf(`{"run_id":%q}`, id))
	if rr.Code != http.StatusOK {
		t.Fatalf("load status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var info registry.Info
	decode(t, rr, &info)
	if info.RunID != id || info.Epoch != 2 {
		t.Errorf("loaded = %+v", info)
	}

	rr = env.do(t, http.MethodGet, "/models/generate?prompt=What+is+covered%3F&max_tokens=8", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("generate status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var gen map[string]string
	decode(t, rr, &gen)
	if strings.TrimSpace(gen["text"]) == "" {
		t.Error("generate returned empty text")
	}

	rr = env.do(t, http.MethodPost, "/models/evaluate", `{"examples":[{"instruction":"What is covered?","input":"The policy covers fire.","output":"Fire is covered."}],"scorer":"exact"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("evaluate status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var res eval.Result
	decode(t, rr, &res)
	if res.Scorer != eval.ScorerExact || len(res.PerExample) != 1 || res.Perplexity == nil {
		t.Errorf("evaluate = %+v", res)
	}

	rr = env.do(t, http.MethodGet, "/models", "")
	var models struct {
		Loaded      *registry.Info       `json:"loaded"`
		Checkpoints []registry.Available `json:"checkpoints"`
	}
	decode(t, rr, &models)
	if models.Loaded == nil || len(models.Checkpoints) != 2 {
		t.Errorf("models = %+v", models)
	}

	if rr := env.do(t, http.MethodPost, "/models/unload", ""); rr.Code != http.StatusOK {
		t.Fatalf("unload status = %d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/models/generate?prompt=hi", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("generate after unload status = %d, want 400", rr.Code)
	}
}

func TestTraining_Errors(t *testing.T) {
	env := setupAppHandler(t, testToken, &fakeEngine{})

	if rr := env.do(t, http.MethodPost, "/training/runs", `{"examples":[{"instruction":"","input":"x","output":"y"}]}`); rr.Code != http.StatusBadRequest {
		t.Errorf("no valid examples status = %d, want 400", rr.Code)
	}
	if rr := env.do(t, http.MethodPost, "/training/runs", `{"examples":[{"instruction":"a","input":"b","output":"c"}],"hyperparameters":{"epochs":-1}}`); rr.Code != http.StatusBadRequest {
		t.Errorf("bad hyperparameters status = %d, want 400", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/training/runs/unknown", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown run status = %d, want 404", rr.Code)
	}
	if rr := env.do(t, http.MethodPost, "/training/runs/unknown/cancel", ""); rr.Code != http.StatusNotFound {
		t.Errorf("cancel unknown run status = %d, want 404", rr.Code)
	}
}

func TestLoadModel_Errors(t *testing.T) {
	env := setupAppHandler(t, testToken, &fakeEngine{})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty", `{}`, http.StatusBadRequest},
		{"both", `{"run_id":"a","path":"b"}`, http.StatusBadRequest},
		{"traversal run id", `{"run_id":"../etc"}`, http.StatusBadRequest},
		{"outside root", `{"path":"/etc"}`, http.StatusBadRequest},
		{"missing run", `{"run_id":"nope"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := env.do(t, http.MethodPost, "/models/load", tt.body); rr.Code != tt.want {
				t.Errorf("status = %d, want %d; body = %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestEvaluate_BaseAndErrors(t *testing.T) {
	env := setupAppHandler(t, testToken, &fakeEngine{reply: "Fire is covered."})
	example := `[{"instruction":"What is covered?","input":"The policy covers fire.","output":"Fire is covered."}]`

	rr := env.do(t, http.MethodPost, "/models/evaluate", `{"target":"base","examples":`+example+`}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var res eval.Result
	decode(t, rr, &res)
	if res.Scorer != eval.ScorerTokenOverlap || res.AverageScore != 1 {
		t.Errorf("result = %+v", res)
	}

	if rr := env.do(t, http.MethodPost, "/models/evaluate", `{"examples":`+example+`}`); rr.Code != http.StatusBadRequest {
		t.Errorf("no loaded model status = %d, want 400", rr.Code)
	}
	if rr := env.do(t, http.MethodPost, "/models/evaluate", `{"target":"base","scorer":"bleu","examples":`+example+`}`); rr.Code != http.StatusBadRequest {
		t.Errorf("unknown scorer status = %d, want 400", rr.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errs.Invalid("x"), http.StatusBadRequest},
		{fmt.Errorf("doc: %w", errs.ErrNotFound), http.StatusNotFound},
		{errs.Conflict("x"), http.StatusConflict},
		{errs.ErrUpstreamUnavailable, http.StatusBadGateway},
		{errs.ErrUpstreamTimeout, http.StatusGatewayTimeout},
		{errs.ErrStorageCorruption, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
