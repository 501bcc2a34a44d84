package api

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/docqa/internal/dataset"
	"github.com/kalambet/docqa/internal/errs"
	"github.com/kalambet/docqa/internal/eval"
	"github.com/kalambet/docqa/internal/finetune"
	"github.com/kalambet/docqa/internal/registry"
)

type qaPair struct {
	Document string `json:"document"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// trainingData is the shared body shape of the dataset endpoints. Records
// and QA pairs go through Prepare; examples are validated the same way.
type trainingData struct {
	Records  []dataset.RawRecord       `json:"records"`
	QA       []qaPair                  `json:"qa"`
	Examples []dataset.TrainingExample `json:"examples"`
}

func (td trainingData) prepare() dataset.PrepareResult {
	records := make([]dataset.RawRecord, 0, len(td.Records)+len(td.QA)+len(td.Examples))
	records = append(records, td.Records...)
	for _, p := range td.QA {
		records = append(records, dataset.FromQA(p.Document, p.Question, p.Answer))
	}
	for _, ex := range td.Examples {
		records = append(records, dataset.RawRecord{Document: ex.Input, Instruction: ex.Instruction, Output: ex.Output})
	}
	return dataset.Prepare(records)
}

func handlePrepare(w http.ResponseWriter, r *http.Request) {
	var req trainingData
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, req.prepare())
}

func handleStartRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			trainingData
			BaseModel       string                   `json:"base_model"`
			Hyperparameters finetune.Hyperparameters `json:"hyperparameters"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		prepared := req.prepare()
		if len(prepared.Examples) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no valid training examples (%d skipped)", len(prepared.Skipped))
			return
		}

		run, err := deps.Training.Start(r.Context(), prepared.Examples, req.BaseModel, req.Hyperparameters)
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"run":     run.Snapshot(),
			"skipped": prepared.Skipped,
		})
	}
}

func handleListRuns(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := deps.Training.List(r.Context(), parseIntParam(r, "limit", 20, 100))
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		if runs == nil {
			runs = []finetune.Snapshot{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func handleGetRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := deps.Training.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

func handleCancelRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Training.Cancel(r.Context(), id); err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		s, err := deps.Training.Get(r.Context(), id)
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusAccepted, s)
	}
}

func handleResumeRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := deps.Training.Resume(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusAccepted, run.Snapshot())
	}
}

func handleModels(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var loaded *registry.Info
		if m := deps.Registry.Current(); m != nil {
			info := m.Info()
			loaded = &info
		}
		available, err := deps.Registry.Checkpoints(deps.CheckpointRoot)
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"loaded": loaded, "checkpoints": available})
	}
}

func handleLoadModel(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RunID string `json:"run_id"`
			Epoch int    `json:"epoch"`
			Path  string `json:"path"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		path, err := checkpointPath(deps, req.RunID, req.Epoch, req.Path)
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		m, err := deps.Registry.Load(path)
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, m.Info())
	}
}

func handleUnloadModel(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Registry.Unload()
		writeJSON(w, http.StatusOK, map[string]string{"status": "unloaded"})
	}
}

// checkpointPath resolves a load request to a directory under the
// checkpoint root.
func checkpointPath(deps AppDeps, runID string, epoch int, path string) (string, error) {
	switch {
	case runID != "" && path != "":
		return "", errs.Invalid("give either run_id or path, not both")
	case runID != "":
		if strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
			return "", errs.Invalid("invalid run id %q", runID)
		}
		dir := deps.Training.RunDir(runID)
		if epoch > 0 {
			dir = filepath.Join(dir, finetune.EpochDir(epoch))
		}
		return dir, nil
	case path != "":
		root, err := filepath.Abs(deps.CheckpointRoot)
		if err != nil {
			return "", err
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", errs.Invalid("invalid path %q", path)
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", errs.Invalid("path %q is outside the checkpoint directory", path)
		}
		return abs, nil
	default:
		return "", errs.Invalid("run_id or path is required")
	}
}

func handleGenerate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prompt := r.URL.Query().Get("prompt")
		if strings.TrimSpace(prompt) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "prompt is required")
			return
		}
		maxTokens := parseIntParam(r, "max_tokens", 128, 2048)
		text, err := deps.Registry.Generate(r.Context(), prompt, maxTokens)
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"text": text})
	}
}

func handleEvaluate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			trainingData
			Scorer string `json:"scorer"`
			Target string `json:"target"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		prepared := req.prepare()
		if len(prepared.Examples) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no valid evaluation examples (%d skipped)", len(prepared.Skipped))
			return
		}

		name := req.Scorer
		if name == "" {
			name = deps.DefaultScorer
		}
		scorer, err := eval.NewScorer(name, deps.ScoreEmbedder)
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}

		var model eval.Model
		switch strings.ToLower(req.Target) {
		case "", modelFineTuned:
			m := deps.Registry.Current()
			if m == nil {
				writeError(w, deps.Logger, registry.ErrNoModel)
				return
			}
			model = m
		case modelBase:
			if deps.BaseGenerator == nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "no base generator configured")
				return
			}
			model = deps.BaseGenerator
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown target %q", req.Target)
			return
		}

		res, err := eval.New(scorer, deps.EvalConfig).Evaluate(r.Context(), model, prepared.Examples)
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
