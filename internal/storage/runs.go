package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveRun inserts or replaces a fine-tuning run record.
func (s *Store) SaveRun(ctx context.Context, r RunRecord) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.EpochLosses == "" {
		r.EpochLosses = "[]"
	}
	if r.ExamplesJSON == "" {
		r.ExamplesJSON = "[]"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO finetune_runs (id, base_model, learning_rate, batch_size, epochs, state, reason,
			checkpoint_path, epoch_losses, examples_json, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			reason = excluded.reason,
			checkpoint_path = excluded.checkpoint_path,
			epoch_losses = excluded.epoch_losses,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		r.ID, r.BaseModel, r.LearningRate, r.BatchSize, r.Epochs, r.State, r.Reason,
		r.CheckpointPath, r.EpochLosses, r.ExamplesJSON, r.Error,
		r.CreatedAt.UTC().Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", r.ID, err)
	}
	return nil
}

// GetRun returns a run record by ID or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, base_model, learning_rate, batch_size, epochs, state, reason,
			checkpoint_path, epoch_losses, examples_json, error, created_at, updated_at
		FROM finetune_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return RunRecord{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return r, err
}

// ListRuns returns the most recent runs, newest first. ExamplesJSON is left empty.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, base_model, learning_rate, batch_size, epochs, state, reason,
			checkpoint_path, epoch_losses, '', error, created_at, updated_at
		FROM finetune_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func scanRun(row scanner) (RunRecord, error) {
	var r RunRecord
	var createdAt, updatedAt string
	err := row.Scan(&r.ID, &r.BaseModel, &r.LearningRate, &r.BatchSize, &r.Epochs, &r.State, &r.Reason,
		&r.CheckpointPath, &r.EpochLosses, &r.ExamplesJSON, &r.Error, &createdAt, &updatedAt)
	if err != nil {
		return RunRecord{}, err
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return RunRecord{}, fmt.Errorf("parsing created_at for run %s: %w", r.ID, err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return RunRecord{}, fmt.Errorf("parsing updated_at for run %s: %w", r.ID, err)
	}
	return r, nil
}
