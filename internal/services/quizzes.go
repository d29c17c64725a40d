package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"studygen/internal/models"
)

type QuizService struct {
	db *sql.DB
}

func NewQuizService(db *sql.DB) *QuizService {
	return &QuizService{db: db}
}

// List returns the caller's quizzes, newest first.
func (s *QuizService) List(ctx context.Context, userID string) ([]models.Quiz, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, document_id, title, description, question_count, created_at
		FROM quizzes
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC;
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	defer rows.Close()

	var quizzes []models.Quiz
	for rows.Next() {
		var q models.Quiz
		if err := rows.Scan(&q.ID, &q.UserID, &q.DocumentID, &q.Title, &q.Description, &q.QuestionCount, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan quiz: %w", err)
		}
		quizzes = append(quizzes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quizzes: %w", err)
	}
	return quizzes, nil
}

// Get returns a quiz owned by userID with its questions in order.
func (s *QuizService) Get(ctx context.Context, userID string, quizID int64) (*models.Quiz, []models.QuizQuestion, error) {
	var q models.Quiz
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, document_id, title, description, question_count, created_at
		FROM quizzes WHERE id = ?;
	`, quizID).Scan(&q.ID, &q.UserID, &q.DocumentID, &q.Title, &q.Description, &q.QuestionCount, &q.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: quiz %d", ErrNotFound, quizID)
		}
		return nil, nil, fmt.Errorf("load quiz %d: %w", quizID, err)
	}
	if q.UserID != userID {
		return nil, nil, fmt.Errorf("%w: quiz %d", ErrForbidden, quizID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, quiz_id, position, question, options, correct_options, explanation
		FROM quiz_questions
		WHERE quiz_id = ?
		ORDER BY position ASC;
	`, quizID)
	if err != nil {
		return nil, nil, fmt.Errorf("list quiz questions: %w", err)
	}
	defer rows.Close()

	var questions []models.QuizQuestion
	for rows.Next() {
		var qq models.QuizQuestion
		if err := rows.Scan(&qq.ID, &qq.QuizID, &qq.Position, &qq.Question, &qq.Options, &qq.CorrectOptions, &qq.Explanation); err != nil {
			return nil, nil, fmt.Errorf("scan quiz question: %w", err)
		}
		questions = append(questions, qq)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate quiz questions: %w", err)
	}
	return &q, questions, nil
}
