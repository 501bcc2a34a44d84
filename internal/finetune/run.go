// Package finetune drives instruction-tuning runs: batching, loss tracking,
// atomic checkpoints and cooperative cancellation.
package finetune

import (
	"context"
	"sync"
	"time"

	"github.com/kalambet/docqa/internal/errs"
)

// State is a run's lifecycle stage.
type State string

const (
	StatePreparing     State = "PREPARING"
	StateTraining      State = "TRAINING"
	StateCheckpointing State = "CHECKPOINTING"
	StateCompleted     State = "COMPLETED"
	StateFailed        State = "FAILED"
)

// Terminal reports whether no further transitions follow.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Failure reasons.
const (
	ReasonCancelled       = "Cancelled"
	ReasonInterrupted     = "Interrupted"
	ReasonTrainerError    = "TrainerError"
	ReasonCheckpointWrite = "CheckpointWriteFailed"
	ReasonPrepare         = "PrepareFailed"
)

// Defaults applied to zero hyperparameters.
const (
	DefaultLearningRate = 5e-5
	DefaultBatchSize    = 4
	DefaultEpochs       = 3
)

// Hyperparameters control a training run.
type Hyperparameters struct {
	LearningRate float64 `json:"learning_rate"`
	BatchSize    int     `json:"batch_size"`
	Epochs       int     `json:"epochs"`
}

// WithDefaults fills zero fields.
func (hp Hyperparameters) WithDefaults() Hyperparameters {
	if hp.LearningRate == 0 {
		hp.LearningRate = DefaultLearningRate
	}
	if hp.BatchSize == 0 {
		hp.BatchSize = DefaultBatchSize
	}
	if hp.Epochs == 0 {
		hp.Epochs = DefaultEpochs
	}
	return hp
}

// Validate rejects non-positive values.
func (hp Hyperparameters) Validate() error {
	if hp.LearningRate <= 0 {
		return errs.Invalid("learning rate must be positive, got %g", hp.LearningRate)
	}
	if hp.BatchSize <= 0 {
		return errs.Invalid("batch size must be positive, got %d", hp.BatchSize)
	}
	if hp.Epochs <= 0 {
		return errs.Invalid("epochs must be positive, got %d", hp.Epochs)
	}
	return nil
}

// Snapshot is a consistent copy of a run's observable state.
type Snapshot struct {
	ID              string          `json:"id"`
	BaseModel       string          `json:"base_model"`
	Hyperparameters Hyperparameters `json:"hyperparameters"`
	State           State           `json:"state"`
	Reason          string          `json:"reason,omitempty"`
	Error           string          `json:"error,omitempty"`
	Epoch           int             `json:"epoch"`
	CheckpointPath  string          `json:"checkpoint_path,omitempty"`
	EpochLosses     []float64       `json:"epoch_losses"`
	BatchLosses     []float64       `json:"batch_losses,omitempty"`
	Examples        int             `json:"examples"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Event reports progress. Batch is zero for state transitions.
type Event struct {
	State State   `json:"state"`
	Epoch int     `json:"epoch"`
	Batch int     `json:"batch,omitempty"`
	Loss  float64 `json:"loss,omitempty"`
}

// Run is the handle of a training run executing on its own goroutine.
type Run struct {
	mu      sync.RWMutex
	snap    Snapshot
	tailCap int

	cancel context.CancelFunc
	done   chan struct{}
	events chan Event
}

func newRun(snap Snapshot, tailCap int, cancel context.CancelFunc) *Run {
	return &Run{
		snap:    snap,
		tailCap: tailCap,
		cancel:  cancel,
		done:    make(chan struct{}),
		events:  make(chan Event, 64),
	}
}

// ID returns the run identifier.
func (r *Run) ID() string {
	return r.snap.ID
}

// Snapshot returns a copy of the current state.
func (r *Run) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap.clone()
}

// Done is closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Events delivers progress until the run ends, then is closed. Events are
// dropped when the buffer is full.
func (r *Run) Events() <-chan Event {
	return r.events
}

// Cancel asks the run to stop at the next batch boundary.
func (r *Run) Cancel() {
	r.cancel()
}

// Wait blocks until the run ends or ctx is done.
func (r *Run) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-r.done:
		return r.Snapshot(), nil
	case <-ctx.Done():
		return r.Snapshot(), ctx.Err()
	}
}

func (r *Run) update(fn func(s *Snapshot)) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.snap)
	r.snap.UpdatedAt = time.Now().UTC()
	return r.snap.clone()
}

func (r *Run) transition(state State, epoch int) Snapshot {
	s := r.update(func(s *Snapshot) {
		s.State = state
		s.Epoch = epoch
	})
	r.emit(Event{State: state, Epoch: epoch})
	return s
}

func (r *Run) recordBatch(epoch, batch int, loss float64) {
	r.update(func(s *Snapshot) {
		s.BatchLosses = append(s.BatchLosses, loss)
		if over := len(s.BatchLosses) - r.tailCap; over > 0 {
			s.BatchLosses = append(s.BatchLosses[:0:0], s.BatchLosses[over:]...)
		}
	})
	r.emit(Event{State: StateTraining, Epoch: epoch, Batch: batch, Loss: loss})
}

func (r *Run) emit(ev Event) {
	select {
	case r.events <- ev:
	default:
	}
}

func (r *Run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *Run) finish() {
	close(r.events)
	close(r.done)
}

func (s Snapshot) clone() Snapshot {
	s.EpochLosses = append([]float64{}, s.EpochLosses...)
	s.BatchLosses = append([]float64(nil), s.BatchLosses...)
	return s
}
