package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"studygen/internal/logging"
	"studygen/internal/models"
)

type DocumentService struct {
	db      *sql.DB
	storage Storage
	log     *logrus.Entry
}

func NewDocumentService(db *sql.DB, storage Storage) *DocumentService {
	return &DocumentService{db: db, storage: storage, log: logging.New("documents")}
}

func (s *DocumentService) GetByID(ctx context.Context, id int64) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, storage_path, size, file_type, created_at
		FROM documents WHERE id = ?;
	`, id)
	var doc models.Document
	if err := row.Scan(
		&doc.ID,
		&doc.UserID,
		&doc.Title,
		&doc.StoragePath,
		&doc.Size,
		&doc.FileType,
		&doc.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: document %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return &doc, nil
}

// ListByUser returns the caller's documents, newest first.
func (s *DocumentService) ListByUser(ctx context.Context, userID string) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, storage_path, size, file_type, created_at
		FROM documents
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC;
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var doc models.Document
		if err := rows.Scan(&doc.ID, &doc.UserID, &doc.Title, &doc.StoragePath, &doc.Size, &doc.FileType, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// OpenFile returns the stored upload of a document owned by userID.
// The caller closes the reader.
func (s *DocumentService) OpenFile(ctx context.Context, userID string, id int64) (*models.Document, io.ReadCloser, error) {
	doc, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if doc.UserID != userID {
		return nil, nil, fmt.Errorf("%w: document %d", ErrForbidden, id)
	}
	if s.storage == nil || doc.StoragePath == "" {
		return nil, nil, fmt.Errorf("%w: document %d has no stored file", ErrNotFound, id)
	}
	rc, err := s.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return nil, nil, err
	}
	return doc, rc, nil
}

// Delete removes a document owned by userID. Lists, flashcards, quizzes and
// questions go with it through the foreign keys; the stored file is removed
// afterwards.
func (s *DocumentService) Delete(ctx context.Context, userID string, id int64) error {
	doc, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if doc.UserID != userID {
		return fmt.Errorf("%w: document %d", ErrForbidden, id)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?;`, id); err != nil {
		return fmt.Errorf("%w: delete document %d: %w", ErrPersistenceFailed, id, err)
	}

	if s.storage != nil && doc.StoragePath != "" {
		if err := s.storage.Delete(ctx, doc.StoragePath); err != nil {
			// the row is gone; an orphaned object is only logged
			s.log.WithError(err).WithField("path", doc.StoragePath).Warn("failed to remove stored document")
		}
	}
	return nil
}
