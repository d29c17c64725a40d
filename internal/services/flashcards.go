package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs"

	"studygen/internal/models"
)

var (
	// ErrNoDueCards indicates that there are no cards ready to review.
	ErrNoDueCards = errors.New("no due cards")
)

const flashcardColumns = `id, user_id, document_id, list_id, question, answer, due, stability, difficulty,
	elapsed_days, scheduled_days, reps, lapses, state, last_review, created_at, updated_at`

// FlashcardService reads flashcard lists and schedules reviews with FSRS.
type FlashcardService struct {
	db     *sql.DB
	params fsrs.Parameters
	now    func() time.Time
}

func NewFlashcardService(db *sql.DB) *FlashcardService {
	return &FlashcardService{
		db:     db,
		params: fsrs.DefaultParam(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ListLists returns the caller's flashcard lists, newest first.
func (s *FlashcardService) ListLists(ctx context.Context, userID string) ([]models.FlashcardList, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, document_id, title, description, card_count, created_at
		FROM flashcard_lists
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC;
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list flashcard lists: %w", err)
	}
	defer rows.Close()

	var lists []models.FlashcardList
	for rows.Next() {
		var l models.FlashcardList
		if err := rows.Scan(&l.ID, &l.UserID, &l.DocumentID, &l.Title, &l.Description, &l.CardCount, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan flashcard list: %w", err)
		}
		lists = append(lists, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flashcard lists: %w", err)
	}
	return lists, nil
}

// GetList returns a list owned by userID together with its cards.
func (s *FlashcardService) GetList(ctx context.Context, userID string, listID int64) (*models.FlashcardList, []models.Flashcard, error) {
	var l models.FlashcardList
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, document_id, title, description, card_count, created_at
		FROM flashcard_lists WHERE id = ?;
	`, listID).Scan(&l.ID, &l.UserID, &l.DocumentID, &l.Title, &l.Description, &l.CardCount, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: flashcard list %d", ErrNotFound, listID)
		}
		return nil, nil, fmt.Errorf("load flashcard list %d: %w", listID, err)
	}
	if l.UserID != userID {
		return nil, nil, fmt.Errorf("%w: flashcard list %d", ErrForbidden, listID)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+flashcardColumns+` FROM flashcards WHERE list_id = ? ORDER BY id ASC;`, listID)
	if err != nil {
		return nil, nil, fmt.Errorf("list flashcards: %w", err)
	}
	defer rows.Close()

	var cards []models.Flashcard
	for rows.Next() {
		card, err := scanFlashcard(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("scan flashcard: %w", err)
		}
		cards = append(cards, *card)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate flashcards: %w", err)
	}
	return &l, cards, nil
}

// NextCard returns the card of a list that has been due the longest.
func (s *FlashcardService) NextCard(ctx context.Context, userID string, listID int64) (*models.Flashcard, error) {
	if _, err := s.listOwner(ctx, userID, listID); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+flashcardColumns+`
		FROM flashcards
		WHERE list_id = ? AND (due IS NULL OR due <= ?)
		ORDER BY due IS NOT NULL, due ASC, id ASC
		LIMIT 1;
	`, listID, s.now())
	card, err := scanFlashcard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoDueCards
		}
		return nil, fmt.Errorf("next card: %w", err)
	}
	return card, nil
}

// ReviewCard updates the scheduling information based on the user's rating.
func (s *FlashcardService) ReviewCard(ctx context.Context, userID string, cardID int64, rating fsrs.Rating) (_ *models.Flashcard, _ *models.ReviewLog, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	card, err := scanFlashcard(tx.QueryRowContext(ctx, `SELECT `+flashcardColumns+` FROM flashcards WHERE id = ?;`, cardID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: flashcard %d", ErrNotFound, cardID)
		}
		return nil, nil, fmt.Errorf("load card %d: %w", cardID, err)
	}
	if card.UserID != userID {
		return nil, nil, fmt.Errorf("%w: flashcard %d", ErrForbidden, cardID)
	}

	now := s.now()
	scheduling := s.params.Repeat(card.ToFSRSCard(), now)
	info, ok := scheduling[rating]
	if !ok {
		return nil, nil, fmt.Errorf("%w: rating %d not supported", ErrInvalidInput, rating)
	}
	card.ApplyFSRSCard(info.Card)
	card.UpdatedAt = now

	if _, err = tx.ExecContext(ctx, `
		UPDATE flashcards
		SET due = ?, stability = ?, difficulty = ?, elapsed_days = ?, scheduled_days = ?,
		    reps = ?, lapses = ?, state = ?, last_review = ?, updated_at = ?
		WHERE id = ?;
	`,
		nullTimePtr(card.Due),
		card.Stability,
		card.Difficulty,
		card.ElapsedDays,
		card.ScheduledDays,
		card.Reps,
		card.Lapses,
		card.State,
		nullTimePtr(card.LastReview),
		card.UpdatedAt,
		card.ID,
	); err != nil {
		return nil, nil, fmt.Errorf("update card %d: %w", card.ID, err)
	}

	entry := &models.ReviewLog{
		FlashcardID:   card.ID,
		Rating:        int(info.ReviewLog.Rating),
		ScheduledDays: int(info.ReviewLog.ScheduledDays),
		ElapsedDays:   int(info.ReviewLog.ElapsedDays),
		State:         int(info.ReviewLog.State),
		ReviewedAt:    now,
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO review_logs (flashcard_id, rating, scheduled_days, elapsed_days, state, reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?);
	`, entry.FlashcardID, entry.Rating, entry.ScheduledDays, entry.ElapsedDays, entry.State, entry.ReviewedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("insert review log: %w", err)
	}
	if entry.ID, err = res.LastInsertId(); err != nil {
		return nil, nil, fmt.Errorf("review log id: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit review: %w", err)
	}
	return card, entry, nil
}

// ListStats counts the cards of a list by FSRS state and due date.
func (s *FlashcardService) ListStats(ctx context.Context, userID string, listID int64) (map[string]int, error) {
	if _, err := s.listOwner(ctx, userID, listID); err != nil {
		return nil, err
	}

	var total, due, fresh, learning, review, relearning int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN due IS NULL OR due <= ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0)
		FROM flashcards WHERE list_id = ?;
	`, s.now(), int(fsrs.New), int(fsrs.Learning), int(fsrs.Review), int(fsrs.Relearning), listID,
	).Scan(&total, &due, &fresh, &learning, &review, &relearning)
	if err != nil {
		return nil, fmt.Errorf("list stats: %w", err)
	}
	return map[string]int{
		"total":      total,
		"due":        due,
		"new":        fresh,
		"learning":   learning,
		"review":     review,
		"relearning": relearning,
	}, nil
}

func (s *FlashcardService) listOwner(ctx context.Context, userID string, listID int64) (string, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM flashcard_lists WHERE id = ?;`, listID).Scan(&owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: flashcard list %d", ErrNotFound, listID)
		}
		return "", fmt.Errorf("load flashcard list %d: %w", listID, err)
	}
	if owner != userID {
		return "", fmt.Errorf("%w: flashcard list %d", ErrForbidden, listID)
	}
	return owner, nil
}

// ParseRating accepts again|hard|good|easy or the numbers 1 to 4.
func ParseRating(raw string) (fsrs.Rating, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "again", "1":
		return fsrs.Again, nil
	case "hard", "2":
		return fsrs.Hard, nil
	case "good", "3":
		return fsrs.Good, nil
	case "easy", "4":
		return fsrs.Easy, nil
	default:
		return 0, fmt.Errorf("%w: unknown rating %s", ErrInvalidInput, strconv.Quote(raw))
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlashcard(row rowScanner) (*models.Flashcard, error) {
	card := &models.Flashcard{}
	if err := row.Scan(
		&card.ID,
		&card.UserID,
		&card.DocumentID,
		&card.ListID,
		&card.Question,
		&card.Answer,
		&card.Due,
		&card.Stability,
		&card.Difficulty,
		&card.ElapsedDays,
		&card.ScheduledDays,
		&card.Reps,
		&card.Lapses,
		&card.State,
		&card.LastReview,
		&card.CreatedAt,
		&card.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return card, nil
}
