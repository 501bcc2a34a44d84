package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kalambet/docqa/internal/errs"
)

// SaveDocument inserts a document. A blank status is stored as pending and an
// existing ID is an ErrConflict.
func (s *Store) SaveDocument(ctx context.Context, d Document) error {
	status := d.Status
	if status == "" {
		status = DocumentPending
	}
	uploadedAt := d.UploadedAt
	if uploadedAt.IsZero() {
		uploadedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, filename, file_type, text, uploaded_at, status, chunk_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Filename, d.FileType, d.Text, uploadedAt.UTC().Format(time.RFC3339), status, d.ChunkCount,
	)
	if isDuplicateKey(err) {
		return errs.Conflict("document %s already exists", d.ID)
	}
	if err != nil {
		return fmt.Errorf("saving document %s: %w", d.ID, err)
	}
	return nil
}

// GetDocument returns the document with the given ID or ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, filename, file_type, text, uploaded_at, status, chunk_count
		FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return d, err
}

// ListDocuments returns the most recently uploaded documents without their text.
func (s *Store) ListDocuments(ctx context.Context, limit int) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, file_type, '', uploaded_at, status, chunk_count
		FROM documents ORDER BY uploaded_at DESC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// MarkDocument records the indexing outcome of a document.
func (s *Store) MarkDocument(ctx context.Context, id, status string, chunkCount int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET status = ?, chunk_count = ? WHERE id = ?`, status, chunkCount, id)
	if err != nil {
		return err
	}
	return affectedOne(res, id)
}

// DeleteDocument removes the document row. Chunks are removed by the vector store.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	return affectedOne(res, id)
}

// CountDocuments returns the number of stored documents.
func (s *Store) CountDocuments(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (Document, error) {
	var d Document
	var uploadedAt string
	if err := row.Scan(&d.ID, &d.Filename, &d.FileType, &d.Text, &uploadedAt, &d.Status, &d.ChunkCount); err != nil {
		return Document{}, err
	}
	t, err := time.Parse(time.RFC3339, uploadedAt)
	if err != nil {
		return Document{}, fmt.Errorf("parsing uploaded_at for document %s: %w", d.ID, err)
	}
	d.UploadedAt = t
	return d, nil
}

func affectedOne(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}
