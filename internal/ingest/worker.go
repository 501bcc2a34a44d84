package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/docqa/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
}

// Indexer indexes a saved document by ID.
type Indexer interface {
	IndexDocument(ctx context.Context, id string) (int, error)
}

// Worker processes ingest_document jobs from the SQLite job queue.
type Worker struct {
	store   JobStore
	indexer Indexer
	poll    time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, indexer Indexer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:   store,
		indexer: indexer,
		poll:    pollInterval,
		logger:  slog.Default(),
	}
}

// Run drains the queue, then sleeps for the poll interval, until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("ingest worker started", "poll", w.poll)
	defer w.logger.Info("ingest worker stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if _, err := w.Drain(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("draining ingest queue", "error", err)
		}
		timer.Reset(w.poll)
	}
}

// Drain processes ready jobs until none remain and returns how many it
// handled, failed ones included.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	n := 0
	for ctx.Err() == nil {
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			return n, err
		}
		if !didWork {
			break
		}
		n++
	}
	return n, nil
}

// RunOnce claims and processes a single ingest_document job. It reports
// whether a job was claimed; a job whose indexing failed still counts and is
// rescheduled by the store.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{JobIngestDocument})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	docID, n, err := w.index(ctx, job)
	if err != nil {
		final := job.Attempts+1 >= job.MaxAttempts
		w.logger.Warn("ingest job failed", "job_id", job.ID, "document_id", docID, "attempt", job.Attempts+1, "final", final, "error", err)
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			return true, fmt.Errorf("marking job %s failed: %w", job.ID, failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	w.logger.Info("document indexed", "job_id", job.ID, "document_id", docID, "chunks", n)
	return true, nil
}

func (w *Worker) index(ctx context.Context, job *storage.Job) (string, int, error) {
	var payload jobPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return "", 0, fmt.Errorf("parsing payload: %w", err)
	}
	if payload.DocumentID == "" {
		return "", 0, fmt.Errorf("payload has no document_id")
	}
	n, err := w.indexer.IndexDocument(ctx, payload.DocumentID)
	return payload.DocumentID, n, err
}
