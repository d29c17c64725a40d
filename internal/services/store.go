package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs"

	"studygen/internal/models"
)

// ContentStore persists one generation result: the source document and
// the generated collection with all of its rows, or nothing at all.
type ContentStore interface {
	SaveFlashcards(ctx context.Context, doc models.Document, list models.FlashcardList, items []models.FlashcardItem) (models.Document, models.FlashcardList, error)
	SaveQuiz(ctx context.Context, doc models.Document, quiz models.Quiz, items []models.QuizItem) (models.Document, models.Quiz, error)
}

// Store is the SQLite ContentStore.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) SaveFlashcards(ctx context.Context, doc models.Document, list models.FlashcardList, items []models.FlashcardItem) (_ models.Document, _ models.FlashcardList, err error) {
	if len(items) == 0 {
		return doc, list, fmt.Errorf("%w: no flashcards to save", ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return doc, list, fmt.Errorf("%w: begin tx: %w", ErrPersistenceFailed, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now()
	if doc, err = insertDocument(ctx, tx, doc, now); err != nil {
		return doc, list, err
	}

	list.UserID = doc.UserID
	list.DocumentID = doc.ID
	list.CardCount = len(items)
	list.CreatedAt = now
	res, err := tx.ExecContext(ctx, `
		INSERT INTO flashcard_lists (user_id, document_id, title, description, card_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?);
	`, list.UserID, list.DocumentID, list.Title, list.Description, list.CardCount, list.CreatedAt)
	if err != nil {
		return doc, list, fmt.Errorf("%w: insert flashcard list: %w", ErrPersistenceFailed, err)
	}
	if list.ID, err = res.LastInsertId(); err != nil {
		return doc, list, fmt.Errorf("%w: flashcard list id: %w", ErrPersistenceFailed, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO flashcards (user_id, document_id, list_id, question, answer, due, stability, difficulty,
		                        elapsed_days, scheduled_days, reps, lapses, state, last_review, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`)
	if err != nil {
		return doc, list, fmt.Errorf("%w: prepare flashcard insert: %w", ErrPersistenceFailed, err)
	}
	defer stmt.Close()

	for _, item := range items {
		card := models.Flashcard{
			Question: item.Question,
			Answer:   item.Answer,
		}
		// new cards are due immediately
		card.ApplyFSRSCard(fsrs.Card{Due: now, State: fsrs.New})

		if _, err = stmt.ExecContext(ctx,
			list.UserID,
			list.DocumentID,
			list.ID,
			card.Question,
			card.Answer,
			nullTimePtr(card.Due),
			card.Stability,
			card.Difficulty,
			card.ElapsedDays,
			card.ScheduledDays,
			card.Reps,
			card.Lapses,
			card.State,
			nullTimePtr(card.LastReview),
			now,
			now,
		); err != nil {
			return doc, list, fmt.Errorf("%w: insert flashcard %q: %w", ErrPersistenceFailed, card.Question, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return doc, list, fmt.Errorf("%w: commit flashcards: %w", ErrPersistenceFailed, err)
	}
	return doc, list, nil
}

func (s *Store) SaveQuiz(ctx context.Context, doc models.Document, quiz models.Quiz, items []models.QuizItem) (_ models.Document, _ models.Quiz, err error) {
	if len(items) == 0 {
		return doc, quiz, fmt.Errorf("%w: no questions to save", ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return doc, quiz, fmt.Errorf("%w: begin tx: %w", ErrPersistenceFailed, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now()
	if doc, err = insertDocument(ctx, tx, doc, now); err != nil {
		return doc, quiz, err
	}

	quiz.UserID = doc.UserID
	quiz.DocumentID = doc.ID
	quiz.QuestionCount = len(items)
	quiz.CreatedAt = now
	res, err := tx.ExecContext(ctx, `
		INSERT INTO quizzes (user_id, document_id, title, description, question_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?);
	`, quiz.UserID, quiz.DocumentID, quiz.Title, quiz.Description, quiz.QuestionCount, quiz.CreatedAt)
	if err != nil {
		return doc, quiz, fmt.Errorf("%w: insert quiz: %w", ErrPersistenceFailed, err)
	}
	if quiz.ID, err = res.LastInsertId(); err != nil {
		return doc, quiz, fmt.Errorf("%w: quiz id: %w", ErrPersistenceFailed, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO quiz_questions (quiz_id, position, question, options, correct_options, explanation)
		VALUES (?, ?, ?, ?, ?, ?);
	`)
	if err != nil {
		return doc, quiz, fmt.Errorf("%w: prepare question insert: %w", ErrPersistenceFailed, err)
	}
	defer stmt.Close()

	for i, item := range items {
		if _, err = stmt.ExecContext(ctx,
			quiz.ID,
			i,
			item.Question,
			models.StringList(item.Options),
			models.IndexList(item.CorrectOptions),
			item.Explanation,
		); err != nil {
			return doc, quiz, fmt.Errorf("%w: insert question %d: %w", ErrPersistenceFailed, i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return doc, quiz, fmt.Errorf("%w: commit quiz: %w", ErrPersistenceFailed, err)
	}
	return doc, quiz, nil
}

func insertDocument(ctx context.Context, tx *sql.Tx, doc models.Document, now time.Time) (models.Document, error) {
	doc.CreatedAt = now
	res, err := tx.ExecContext(ctx, `
		INSERT INTO documents (user_id, title, storage_path, size, file_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?);
	`, doc.UserID, doc.Title, doc.StoragePath, doc.Size, doc.FileType, doc.CreatedAt)
	if err != nil {
		return doc, fmt.Errorf("%w: insert document: %w", ErrPersistenceFailed, err)
	}
	if doc.ID, err = res.LastInsertId(); err != nil {
		return doc, fmt.Errorf("%w: document id: %w", ErrPersistenceFailed, err)
	}
	return doc, nil
}

func nullTimePtr(t sql.NullTime) any {
	if t.Valid {
		return t.Time
	}
	return nil
}
