// Package registry tracks fine-tuned checkpoints and holds the one model
// loaded for inference.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kalambet/docqa/internal/errs"
	"github.com/kalambet/docqa/internal/finetune"
)

// ErrNoModel is returned by Generate when nothing is loaded.
var ErrNoModel = fmt.Errorf("%w: no model loaded", errs.ErrInvalidArgument)

// LoadedModel is a model bound to one verified checkpoint.
type LoadedModel struct {
	Path     string
	Manifest finetune.Manifest
	LoadedAt time.Time

	model finetune.Model
}

// NewLoadedModel wraps an already opened model.
func NewLoadedModel(path string, m finetune.Manifest, model finetune.Model) *LoadedModel {
	return &LoadedModel{Path: path, Manifest: m, LoadedAt: time.Now().UTC(), model: model}
}

// Generate runs inference on the checkpoint.
func (m *LoadedModel) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return m.model.Generate(ctx, prompt, maxTokens)
}

// Loss scores text when the backend supports it; tokens is zero otherwise.
func (m *LoadedModel) Loss(text string) (nll float64, tokens int) {
	if lm, ok := m.model.(finetune.LossModel); ok {
		return lm.Loss(text)
	}
	return 0, 0
}

// Info describes a loaded model.
type Info struct {
	Path      string    `json:"path"`
	RunID     string    `json:"run_id"`
	Epoch     int       `json:"epoch"`
	Format    string    `json:"format"`
	BaseModel string    `json:"base_model"`
	Loss      float64   `json:"loss"`
	LoadedAt  time.Time `json:"loaded_at"`
}

// Info returns the model's description.
func (m *LoadedModel) Info() Info {
	return Info{
		Path:      m.Path,
		RunID:     m.Manifest.RunID,
		Epoch:     m.Manifest.Epoch,
		Format:    m.Manifest.Format,
		BaseModel: m.Manifest.BaseModel,
		Loss:      m.Manifest.Loss,
		LoadedAt:  m.LoadedAt,
	}
}

// Registry holds at most one active model. Loads are serialized; inference
// reads the current model without blocking other readers.
type Registry struct {
	loadMu  sync.Mutex
	mu      sync.RWMutex
	current *LoadedModel
	open    func(path string) (finetune.Model, finetune.Manifest, error)
	logger  *slog.Logger
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{open: finetune.OpenCheckpoint, logger: slog.Default()}
}

// Load verifies and opens the checkpoint at path, a run directory or an epoch
// directory, and makes it the active model. On error the previous model
// stays active.
func (r *Registry) Load(path string) (*LoadedModel, error) {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	dir, err := finetune.ResolveCheckpoint(path)
	if err != nil {
		return nil, err
	}
	model, manifest, err := r.open(dir)
	if err != nil {
		return nil, err
	}
	lm := NewLoadedModel(dir, manifest, model)

	r.mu.Lock()
	prev := r.current
	r.current = lm
	r.mu.Unlock()

	if prev != nil {
		r.logger.Info("model replaced", "previous", prev.Path, "path", dir)
	} else {
		r.logger.Info("model loaded", "path", dir, "run_id", manifest.RunID, "epoch", manifest.Epoch)
	}
	return lm, nil
}

// Current returns the active model or nil.
func (r *Registry) Current() *LoadedModel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Unload drops the active model.
func (r *Registry) Unload() {
	r.mu.Lock()
	r.current = nil
	r.mu.Unlock()
}

// Generate runs inference on the active model. It lets a Registry stand in
// for a remote generator.
func (r *Registry) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	m := r.Current()
	if m == nil {
		return "", ErrNoModel
	}
	return m.Generate(ctx, prompt, maxTokens)
}

// Available is a checkpoint found on disk.
type Available struct {
	RunID   string `json:"run_id"`
	Path    string `json:"path"`
	Epoch   int    `json:"epoch"`
	Current bool   `json:"current"`
}

// Checkpoints lists every epoch checkpoint under root, one directory per run.
// Checkpoints whose manifest is unreadable are skipped.
func (r *Registry) Checkpoints(root string) ([]Available, error) {
	runs, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return []Available{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := []Available{}
	for _, run := range runs {
		if !run.IsDir() {
			continue
		}
		runDir := filepath.Join(root, run.Name())
		dirs, err := finetune.ListCheckpoints(runDir)
		if err != nil {
			continue
		}
		current, _ := finetune.ResolveCheckpoint(runDir)
		for _, d := range dirs {
			m, err := finetune.VerifyCheckpoint(d)
			if err != nil {
				r.logger.Warn("skipping checkpoint", "path", d, "error", err)
				continue
			}
			out = append(out, Available{RunID: run.Name(), Path: d, Epoch: m.Epoch, Current: d == current})
		}
	}
	return out, nil
}
