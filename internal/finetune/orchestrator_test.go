package finetune

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/docqa/internal/dataset"
	"github.com/kalambet/docqa/internal/errs"
	"github.com/kalambet/docqa/internal/storage"
)

func testExamples(n int) []dataset.TrainingExample {
	out := make([]dataset.TrainingExample, n)
	for i := range out {
		out[i] = dataset.TrainingExample{
			Instruction: "Answer the question.",
			Input:       fmt.Sprintf("Policy %d covers fire and flood damage.", i),
			Output:      fmt.Sprintf("Policy %d covers fire and flood.", i),
		}
	}
	return out
}

func newTestOrchestrator(t *testing.T, factory TrainerFactory) (*Orchestrator, *storage.Store) {
	t.Helper()
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	o := NewOrchestrator(st, Config{CheckpointDir: t.TempDir(), NewTrainer: factory})
	t.Cleanup(func() {
		o.Close()
		st.Close()
	})
	return o, st
}

func waitRun(t *testing.T, run *Run) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := run.Wait(ctx)
	if err != nil {
		t.Fatalf("run did not finish: %v (state %s)", err, s.State)
	}
	return s
}

// gatedTrainer blocks the first batch of the second epoch until released.
type gatedTrainer struct {
	Trainer
	perEpoch int
	batches  int
	reached  chan struct{}
	release  chan struct{}
}

func newGated(perEpoch int) *gatedTrainer {
	return &gatedTrainer{
		Trainer:  NewBigramTrainer(),
		perEpoch: perEpoch,
		reached:  make(chan struct{}),
		release:  make(chan struct{}),
	}
}

func (g *gatedTrainer) TrainBatch(ctx context.Context, batch []dataset.TrainingExample) (float64, error) {
	g.batches++
	if g.batches == g.perEpoch+1 {
		close(g.reached)
		<-g.release
	}
	return g.Trainer.TrainBatch(ctx, batch)
}

type failingTrainer struct {
	Trainer
	batchErr error
	saveErr  error
}

func (f *failingTrainer) TrainBatch(ctx context.Context, batch []dataset.TrainingExample) (float64, error) {
	if f.batchErr != nil {
		return 0, f.batchErr
	}
	return f.Trainer.TrainBatch(ctx, batch)
}

func (f *failingTrainer) Save(dir string) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.Trainer.Save(dir)
}

func TestStart_Completes(t *testing.T) {
	o, st := newTestOrchestrator(t, nil)
	ctx := context.Background()

	run, err := o.Start(ctx, testExamples(6), "", Hyperparameters{BatchSize: 2, Epochs: 3})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	s := waitRun(t, run)

	if s.State != StateCompleted {
		t.Fatalf("state = %s (%s: %s), want COMPLETED", s.State, s.Reason, s.Error)
	}
	if len(s.EpochLosses) != 3 {
		t.Fatalf("epoch losses = %v, want 3 values", s.EpochLosses)
	}
	if s.EpochLosses[1] >= s.EpochLosses[0] {
		t.Errorf("loss did not decrease: %v", s.EpochLosses)
	}
	if len(s.BatchLosses) != 9 {
		t.Errorf("batch losses = %d, want 9", len(s.BatchLosses))
	}
	if filepath.Base(s.CheckpointPath) != "epoch-0003" {
		t.Errorf("CheckpointPath = %q", s.CheckpointPath)
	}
	cur, err := os.ReadFile(filepath.Join(o.RunDir(s.ID), CurrentFile))
	if err != nil || strings.TrimSpace(string(cur)) != "epoch-0003" {
		t.Errorf("CURRENT = %q, %v", cur, err)
	}

	rec, err := st.GetRun(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if rec.State != string(StateCompleted) || rec.CheckpointPath != s.CheckpointPath {
		t.Errorf("persisted record = %+v", rec)
	}
	if s.BaseModel != DefaultBaseModel {
		t.Errorf("BaseModel = %q, want default", s.BaseModel)
	}
}

func TestFinishedRunLeavesMemory(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	ctx := context.Background()

	run, err := o.Start(ctx, testExamples(2), "", Hyperparameters{Epochs: 1})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitRun(t, run)
	o.wg.Wait()

	if _, ok := o.Run(run.ID()); ok {
		t.Error("finished run is still held in memory")
	}
	s, err := o.Get(ctx, run.ID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.State != StateCompleted || s.Epoch != 1 || s.Examples != 2 {
		t.Errorf("stored snapshot = %+v", s)
	}
	if err := o.Cancel(ctx, run.ID()); !errors.Is(err, errs.ErrConflict) {
		t.Errorf("Cancel after finish = %v, want ErrConflict", err)
	}
}

func TestStart_EventsClosedAfterDone(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	run, err := o.Start(context.Background(), testExamples(2), "", Hyperparameters{BatchSize: 1, Epochs: 2})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	var states []State
	for ev := range run.Events() {
		if ev.Batch == 0 {
			states = append(states, ev.State)
		}
	}
	<-run.Done()
	want := []State{StateTraining, StateCheckpointing, StateTraining, StateCheckpointing, StateCompleted}
	if fmt.Sprint(states) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", states, want)
	}
}

func TestCancel_AfterFirstEpoch(t *testing.T) {
	gate := newGated(2)
	o, st := newTestOrchestrator(t, func() Trainer { return gate })
	ctx := context.Background()

	run, err := o.Start(ctx, testExamples(4), "", Hyperparameters{BatchSize: 2, Epochs: 5})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-gate.reached:
	case <-time.After(10 * time.Second):
		t.Fatal("second epoch never started")
	}
	if err := o.Cancel(ctx, run.ID()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(gate.release)
	s := waitRun(t, run)

	if s.State != StateFailed || s.Reason != ReasonCancelled {
		t.Fatalf("state = %s/%s, want FAILED/Cancelled", s.State, s.Reason)
	}
	if len(s.EpochLosses) != 1 {
		t.Errorf("epoch losses = %v, want 1 value", s.EpochLosses)
	}
	if filepath.Base(s.CheckpointPath) != "epoch-0001" {
		t.Errorf("CheckpointPath = %q, want epoch-0001", s.CheckpointPath)
	}
	if _, err := os.Stat(filepath.Join(o.RunDir(s.ID), "epoch-0002")); !os.IsNotExist(err) {
		t.Errorf("epoch-0002 exists after cancellation: %v", err)
	}

	model, m, err := OpenCheckpoint(o.RunDir(s.ID))
	if err != nil {
		t.Fatalf("OpenCheckpoint: %v", err)
	}
	if m.Epoch != 1 || m.RunID != s.ID {
		t.Errorf("manifest = %+v", m)
	}
	out, err := model.Generate(ctx, dataset.FormatQuery("Answer the question.", "Policy 1 covers fire and flood damage."), 20)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if strings.TrimSpace(out) == "" {
		t.Error("generation from epoch-1 checkpoint is empty")
	}

	rec, _ := st.GetRun(ctx, s.ID)
	if rec.State != string(StateFailed) || rec.Reason != ReasonCancelled {
		t.Errorf("persisted state = %s/%s", rec.State, rec.Reason)
	}
	if err := o.Cancel(ctx, s.ID); !errors.Is(err, errs.ErrConflict) {
		t.Errorf("Cancel of finished run err = %v, want ErrConflict", err)
	}
}

func TestResume_ContinuesFromCheckpoint(t *testing.T) {
	gate := newGated(2)
	var mu sync.Mutex
	calls := 0
	o, _ := newTestOrchestrator(t, func() Trainer {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return gate
		}
		return NewBigramTrainer()
	})
	ctx := context.Background()

	run, err := o.Start(ctx, testExamples(4), "", Hyperparameters{BatchSize: 2, Epochs: 3})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-gate.reached
	run.Cancel()
	close(gate.release)
	first := waitRun(t, run)
	if first.Reason != ReasonCancelled {
		t.Fatalf("first run reason = %q", first.Reason)
	}

	resumed, err := o.Resume(ctx, run.ID())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	s := waitRun(t, resumed)
	if s.State != StateCompleted {
		t.Fatalf("resumed state = %s (%s)", s.State, s.Error)
	}
	if len(s.EpochLosses) != 3 || s.EpochLosses[0] != first.EpochLosses[0] {
		t.Errorf("epoch losses = %v, first run had %v", s.EpochLosses, first.EpochLosses)
	}
	if filepath.Base(s.CheckpointPath) != "epoch-0003" {
		t.Errorf("CheckpointPath = %q", s.CheckpointPath)
	}

	if _, err := o.Resume(ctx, run.ID()); !errors.Is(err, errs.ErrConflict) {
		t.Errorf("Resume of completed run err = %v, want ErrConflict", err)
	}
}

func TestStart_Invalid(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	ctx := context.Background()
	if _, err := o.Start(ctx, nil, "", Hyperparameters{}); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("no examples err = %v", err)
	}
	if _, err := o.Start(ctx, testExamples(1), "", Hyperparameters{BatchSize: -1}); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("negative batch err = %v", err)
	}
}

func TestTrainerError_FailsRun(t *testing.T) {
	o, _ := newTestOrchestrator(t, func() Trainer {
		return &failingTrainer{Trainer: NewBigramTrainer(), batchErr: errors.New("out of memory")}
	})
	run, err := o.Start(context.Background(), testExamples(3), "", Hyperparameters{Epochs: 2})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	s := waitRun(t, run)
	if s.State != StateFailed || s.Reason != ReasonTrainerError || !strings.Contains(s.Error, "out of memory") {
		t.Errorf("snapshot = %+v", s)
	}
	if s.CheckpointPath != "" {
		t.Errorf("CheckpointPath = %q, want empty", s.CheckpointPath)
	}
}

func TestCheckpointWriteFailure(t *testing.T) {
	o, _ := newTestOrchestrator(t, func() Trainer {
		return &failingTrainer{Trainer: NewBigramTrainer(), saveErr: errors.New("disk full")}
	})
	run, err := o.Start(context.Background(), testExamples(3), "", Hyperparameters{Epochs: 2})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	s := waitRun(t, run)
	if s.State != StateFailed || s.Reason != ReasonCheckpointWrite {
		t.Errorf("state = %s/%s, want FAILED/%s", s.State, s.Reason, ReasonCheckpointWrite)
	}
	if _, err := os.Stat(filepath.Join(o.RunDir(s.ID), CurrentFile)); !os.IsNotExist(err) {
		t.Errorf("CURRENT exists after failed write: %v", err)
	}
	entries, _ := os.ReadDir(o.RunDir(s.ID))
	if len(entries) != 0 {
		t.Errorf("run directory not clean: %v", entries)
	}
}

func TestRecover_InterruptedRun(t *testing.T) {
	o, st := newTestOrchestrator(t, nil)
	ctx := context.Background()
	rec := storage.RunRecord{
		ID:           "stale",
		BaseModel:    DefaultBaseModel,
		LearningRate: DefaultLearningRate,
		BatchSize:    2,
		Epochs:       1,
		State:        string(StateTraining),
		ExamplesJSON: `[{"instruction":"i","input":"d","output":"o"}]`,
	}
	if err := st.SaveRun(ctx, rec); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	n, err := o.Recover(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Recover = %d, %v; want 1, nil", n, err)
	}
	s, err := o.Get(ctx, "stale")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.State != StateFailed || s.Reason != ReasonInterrupted {
		t.Errorf("state = %s/%s", s.State, s.Reason)
	}
	if s.Examples != 1 {
		t.Errorf("Examples = %d, want 1", s.Examples)
	}

	run, err := o.Resume(ctx, "stale")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got := waitRun(t, run); got.State != StateCompleted {
		t.Errorf("resumed state = %s (%s)", got.State, got.Error)
	}
}

func TestGetAndCancel_Unknown(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	ctx := context.Background()
	if _, err := o.Get(ctx, "nope"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Get err = %v, want ErrNotFound", err)
	}
	if err := o.Cancel(ctx, "nope"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Cancel err = %v, want ErrNotFound", err)
	}
	if _, err := o.Resume(ctx, "nope"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Resume err = %v, want ErrNotFound", err)
	}
}

func TestList(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		run, err := o.Start(ctx, testExamples(2), "", Hyperparameters{Epochs: 1})
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		waitRun(t, run)
	}
	runs, err := o.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("List = %d runs, want 2", len(runs))
	}
}
