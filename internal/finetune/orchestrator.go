package finetune

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/docqa/internal/dataset"
	"github.com/kalambet/docqa/internal/errs"
	"github.com/kalambet/docqa/internal/storage"
)

// RunStore persists run records.
type RunStore interface {
	SaveRun(ctx context.Context, r storage.RunRecord) error
	GetRun(ctx context.Context, id string) (storage.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]storage.RunRecord, error)
}

// Config configures an Orchestrator. Zero values select the defaults.
type Config struct {
	// CheckpointDir holds one directory per run.
	CheckpointDir string

	// NewTrainer builds the backend for each run. Default NewBigramTrainer.
	NewTrainer TrainerFactory

	// BatchLossTail bounds the batch losses kept in a Snapshot. Default 256.
	BatchLossTail int
}

// Orchestrator starts training runs and tracks the ones active in this
// process.
type Orchestrator struct {
	store  RunStore
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	runs map[string]*Run
	wg   sync.WaitGroup
}

// NewOrchestrator creates an Orchestrator writing checkpoints under
// cfg.CheckpointDir.
func NewOrchestrator(store RunStore, cfg Config) *Orchestrator {
	if cfg.NewTrainer == nil {
		cfg.NewTrainer = NewBigramTrainer
	}
	if cfg.BatchLossTail <= 0 {
		cfg.BatchLossTail = 256
	}
	return &Orchestrator{store: store, cfg: cfg, logger: slog.Default(), runs: map[string]*Run{}}
}

// RunDir returns the checkpoint directory of a run.
func (o *Orchestrator) RunDir(runID string) string {
	return filepath.Join(o.cfg.CheckpointDir, runID)
}

// Start records a new run and trains it on a separate goroutine. It returns
// once the run is persisted in PREPARING. The run outlives ctx; stop it with
// Run.Cancel or Close.
func (o *Orchestrator) Start(ctx context.Context, examples []dataset.TrainingExample, baseModel string, hp Hyperparameters) (*Run, error) {
	if len(examples) == 0 {
		return nil, errs.Invalid("no training examples")
	}
	hp = hp.WithDefaults()
	if err := hp.Validate(); err != nil {
		return nil, err
	}
	if baseModel == "" {
		baseModel = DefaultBaseModel
	}
	if o.cfg.CheckpointDir == "" {
		return nil, errs.Invalid("no checkpoint directory configured")
	}

	examplesJSON, err := json.Marshal(examples)
	if err != nil {
		return nil, fmt.Errorf("encoding examples: %w", err)
	}
	now := time.Now().UTC()
	snap := Snapshot{
		ID:              uuid.NewString(),
		BaseModel:       baseModel,
		Hyperparameters: hp,
		State:           StatePreparing,
		EpochLosses:     []float64{},
		Examples:        len(examples),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	rec := toRecord(snap)
	rec.ExamplesJSON = string(examplesJSON)
	if err := o.store.SaveRun(ctx, rec); err != nil {
		return nil, err
	}

	return o.launch(ctx, snap, examples, ""), nil
}

// Resume continues a FAILED run from its last checkpoint with the examples
// it was started with. A run without any checkpoint starts over.
func (o *Orchestrator) Resume(ctx context.Context, runID string) (*Run, error) {
	if r, ok := o.Run(runID); ok && !r.finished() {
		return nil, errs.Conflict("run %s is still active", runID)
	}

	rec, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	snap, err := fromRecord(rec)
	if err != nil {
		return nil, err
	}
	if snap.State != StateFailed {
		return nil, errs.Conflict("run %s is %s; only failed runs can be resumed", runID, snap.State)
	}
	var examples []dataset.TrainingExample
	if err := json.Unmarshal([]byte(rec.ExamplesJSON), &examples); err != nil {
		return nil, fmt.Errorf("%w: examples of run %s: %v", errs.ErrStorageCorruption, runID, err)
	}
	if len(examples) == 0 {
		return nil, fmt.Errorf("%w: run %s has no stored examples", errs.ErrStorageCorruption, runID)
	}

	checkpoint := ""
	snap.Epoch = 0
	if snap.CheckpointPath != "" {
		m, err := VerifyCheckpoint(snap.CheckpointPath)
		if err != nil {
			return nil, fmt.Errorf("verifying last checkpoint of %s: %w", runID, err)
		}
		checkpoint = snap.CheckpointPath
		snap.Epoch = m.Epoch
	}
	if len(snap.EpochLosses) > snap.Epoch {
		snap.EpochLosses = snap.EpochLosses[:snap.Epoch]
	}
	snap.State = StatePreparing
	snap.Reason = ""
	snap.Error = ""
	snap.Examples = len(examples)
	snap.BatchLosses = nil
	if err := o.store.SaveRun(ctx, toRecord(snap)); err != nil {
		return nil, err
	}

	o.logger.Info("resuming run", "run_id", runID, "from_epoch", snap.Epoch)
	return o.launch(ctx, snap, examples, checkpoint), nil
}

func (o *Orchestrator) launch(ctx context.Context, snap Snapshot, examples []dataset.TrainingExample, checkpoint string) *Run {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run := newRun(snap, o.cfg.BatchLossTail, cancel)

	o.mu.Lock()
	o.runs[snap.ID] = run
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		o.execute(runCtx, run, examples, checkpoint)
		run.finish()
		o.evict(run)
	}()
	return run
}

// evict drops a finished run from memory once its terminal state is in the
// store, so Get and List serve it from there. A run whose final write failed
// stays in memory.
func (o *Orchestrator) evict(run *Run) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, err := o.store.GetRun(ctx, run.ID())
	if err != nil || !State(rec.State).Terminal() {
		return
	}
	o.mu.Lock()
	if o.runs[run.ID()] == run {
		delete(o.runs, run.ID())
	}
	o.mu.Unlock()
}

// execute runs the state machine. Every failure ends in FAILED; nothing
// escapes the goroutine.
func (o *Orchestrator) execute(ctx context.Context, run *Run, examples []dataset.TrainingExample, checkpoint string) {
	snap := run.Snapshot()
	log := o.logger.With("run_id", snap.ID)
	hp := snap.Hyperparameters

	defer func() {
		if p := recover(); p != nil {
			o.fail(run, ReasonTrainerError, fmt.Errorf("trainer panic: %v", p))
		}
	}()

	trainer := o.cfg.NewTrainer()
	var err error
	if checkpoint != "" {
		err = trainer.Restore(checkpoint, hp)
	} else {
		err = trainer.Init(ctx, snap.BaseModel, hp)
	}
	if err != nil {
		o.fail(run, ReasonPrepare, err)
		return
	}

	for epoch := snap.Epoch + 1; epoch <= hp.Epochs; epoch++ {
		o.persist(run.transition(StateTraining, epoch))

		var sum float64
		batches := 0
		for start := 0; start < len(examples); start += hp.BatchSize {
			if ctx.Err() != nil {
				o.cancelled(run)
				return
			}
			end := min(start+hp.BatchSize, len(examples))
			loss, err := trainer.TrainBatch(ctx, examples[start:end])
			if err != nil {
				if ctx.Err() != nil {
					o.cancelled(run)
				} else {
					o.fail(run, ReasonTrainerError, err)
				}
				return
			}
			batches++
			sum += loss
			run.recordBatch(epoch, batches, loss)
		}
		if ctx.Err() != nil {
			o.cancelled(run)
			return
		}

		epochLoss := sum / float64(batches)
		run.transition(StateCheckpointing, epoch)
		path, err := writeCheckpoint(o.RunDir(snap.ID), Manifest{
			Format:    trainer.Format(),
			RunID:     snap.ID,
			BaseModel: snap.BaseModel,
			Epoch:     epoch,
			Loss:      epochLoss,
		}, trainer.Save)
		if err != nil {
			o.fail(run, ReasonCheckpointWrite, err)
			return
		}
		o.persist(run.update(func(s *Snapshot) {
			s.CheckpointPath = path
			s.EpochLosses = append(s.EpochLosses, epochLoss)
		}))
		log.Info("epoch complete", "epoch", epoch, "loss", epochLoss, "checkpoint", path)
	}

	o.persist(run.transition(StateCompleted, hp.Epochs))
	log.Info("run completed", "epochs", hp.Epochs)
}

func (o *Orchestrator) cancelled(run *Run) {
	s := run.update(func(s *Snapshot) {
		s.State = StateFailed
		s.Reason = ReasonCancelled
	})
	run.emit(Event{State: StateFailed, Epoch: s.Epoch})
	o.persist(s)
	o.logger.Info("run cancelled", "run_id", s.ID, "epoch", s.Epoch, "checkpoint", s.CheckpointPath)
}

func (o *Orchestrator) fail(run *Run, reason string, err error) {
	s := run.update(func(s *Snapshot) {
		s.State = StateFailed
		s.Reason = reason
		s.Error = err.Error()
	})
	run.emit(Event{State: StateFailed, Epoch: s.Epoch})
	o.persist(s)
	o.logger.Error("run failed", "run_id", s.ID, "reason", reason, "error", err)
}

func (o *Orchestrator) persist(s Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.store.SaveRun(ctx, toRecord(s)); err != nil {
		o.logger.Error("failed to persist run", "run_id", s.ID, "state", s.State, "error", err)
	}
}

// Get returns the state of a run, live if it is active in this process.
func (o *Orchestrator) Get(ctx context.Context, runID string) (Snapshot, error) {
	o.mu.Lock()
	run, ok := o.runs[runID]
	o.mu.Unlock()
	if ok {
		return run.Snapshot(), nil
	}
	rec, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return Snapshot{}, err
	}
	return fromRecord(rec)
}

// Run returns the in-process handle of a run, if any.
func (o *Orchestrator) Run(runID string) (*Run, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.runs[runID]
	return r, ok
}

// List returns the most recent runs.
func (o *Orchestrator) List(ctx context.Context, limit int) ([]Snapshot, error) {
	recs, err := o.store.ListRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(recs))
	for _, rec := range recs {
		if r, ok := o.Run(rec.ID); ok {
			out = append(out, r.Snapshot())
			continue
		}
		s, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Cancel stops an active run at its next batch boundary.
func (o *Orchestrator) Cancel(ctx context.Context, runID string) error {
	if r, ok := o.Run(runID); ok {
		if r.finished() || r.Snapshot().State.Terminal() {
			return errs.Conflict("run %s already finished", runID)
		}
		r.Cancel()
		return nil
	}
	if _, err := o.store.GetRun(ctx, runID); err != nil {
		return err
	}
	return errs.Conflict("run %s is not active", runID)
}

// Recover marks runs left non-terminal by a previous process as FAILED with
// reason Interrupted so they can be resumed.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	recs, err := o.store.ListRuns(ctx, 1000)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range recs {
		if State(rec.State).Terminal() {
			continue
		}
		if _, ok := o.Run(rec.ID); ok {
			continue
		}
		rec.State = string(StateFailed)
		rec.Reason = ReasonInterrupted
		if err := o.store.SaveRun(ctx, rec); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		o.logger.Warn("marked interrupted runs as failed", "count", n)
	}
	return n, nil
}

// Close cancels every active run and waits for them to stop.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	for _, r := range o.runs {
		r.Cancel()
	}
	o.mu.Unlock()
	o.wg.Wait()
}

func toRecord(s Snapshot) storage.RunRecord {
	losses, _ := json.Marshal(s.EpochLosses)
	return storage.RunRecord{
		ID:             s.ID,
		BaseModel:      s.BaseModel,
		LearningRate:   s.Hyperparameters.LearningRate,
		BatchSize:      s.Hyperparameters.BatchSize,
		Epochs:         s.Hyperparameters.Epochs,
		State:          string(s.State),
		Reason:         s.Reason,
		CheckpointPath: s.CheckpointPath,
		EpochLosses:    string(losses),
		Error:          s.Error,
		CreatedAt:      s.CreatedAt,
	}
}

func fromRecord(rec storage.RunRecord) (Snapshot, error) {
	s := Snapshot{
		ID:        rec.ID,
		BaseModel: rec.BaseModel,
		Hyperparameters: Hyperparameters{
			LearningRate: rec.LearningRate,
			BatchSize:    rec.BatchSize,
			Epochs:       rec.Epochs,
		},
		State:          State(rec.State),
		Reason:         rec.Reason,
		Error:          rec.Error,
		CheckpointPath: rec.CheckpointPath,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(rec.EpochLosses), &s.EpochLosses); err != nil {
		return Snapshot{}, fmt.Errorf("%w: epoch losses of run %s: %v", errs.ErrStorageCorruption, rec.ID, err)
	}
	if s.EpochLosses == nil {
		s.EpochLosses = []float64{}
	}
	s.Epoch = len(s.EpochLosses)
	if rec.ExamplesJSON != "" {
		var examples []json.RawMessage
		if err := json.Unmarshal([]byte(rec.ExamplesJSON), &examples); err == nil {
			s.Examples = len(examples)
		}
	}
	return s, nil
}
