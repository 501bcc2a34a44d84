package finetune

import (
	"context"

	"github.com/kalambet/docqa/internal/dataset"
)

// Trainer is a training backend. The orchestrator calls Init or Restore
// once, then TrainBatch for every batch and Save after every epoch. Calls
// are never concurrent.
type Trainer interface {
	// Format names the checkpoint format Save writes.
	Format() string

	// Init prepares a fresh model from baseModel.
	Init(ctx context.Context, baseModel string, hp Hyperparameters) error

	// Restore loads parameters from a verified checkpoint directory.
	Restore(dir string, hp Hyperparameters) error

	// TrainBatch performs one update and returns the batch loss.
	TrainBatch(ctx context.Context, batch []dataset.TrainingExample) (float64, error)

	// Save writes the current parameters into dir.
	Save(dir string) error
}

// Model generates text from a loaded checkpoint. Implementations must be
// safe for concurrent use and must not change during Generate.
type Model interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// LossModel is implemented by models that can score text, which the
// evaluator uses to report perplexity.
type LossModel interface {
	// Loss returns the summed negative log-likelihood of text in nats and
	// the number of predicted tokens.
	Loss(text string) (nll float64, tokens int)
}

// TrainerFactory returns a fresh Trainer for a run.
type TrainerFactory func() Trainer
