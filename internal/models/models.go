package models

import (
	"database/sql"
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs"
)

// Kind selects the generated content format.
type Kind string

const (
	KindFlashcards Kind = "flashcards"
	KindQuiz       Kind = "quiz"
)

func (k Kind) Valid() bool {
	return k == KindFlashcards || k == KindQuiz
}

// Document is one uploaded source file.
type Document struct {
	ID          int64
	UserID      string
	Title       string
	StoragePath string
	Size        int64
	FileType    string
	CreatedAt   time.Time
}

type FlashcardList struct {
	ID          int64
	UserID      string
	DocumentID  int64
	Title       string
	Description string
	CardCount   int
	CreatedAt   time.Time
}

// Flashcard is a persisted question/answer pair with its FSRS scheduling state.
type Flashcard struct {
	ID            int64
	UserID        string
	DocumentID    int64
	ListID        int64
	Question      string
	Answer        string
	Due           sql.NullTime
	Stability     float64
	Difficulty    float64
	ElapsedDays   int
	ScheduledDays int
	Reps          int
	Lapses        int
	State         int
	LastReview    sql.NullTime
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Quiz struct {
	ID            int64
	UserID        string
	DocumentID    int64
	Title         string
	Description   string
	QuestionCount int
	CreatedAt     time.Time
}

type QuizQuestion struct {
	ID             int64
	QuizID         int64
	Position       int
	Question       string
	Options        StringList
	CorrectOptions IndexList
	Explanation    string
}

type ReviewLog struct {
	ID            int64
	FlashcardID   int64
	Rating        int
	ScheduledDays int
	ElapsedDays   int
	State         int
	ReviewedAt    time.Time
}

// FlashcardItem is one parsed flashcard before persistence.
type FlashcardItem struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// QuizItem is one parsed multiple-choice question before persistence.
type QuizItem struct {
	Question       string   `json:"question"`
	Options        []string `json:"options"`
	CorrectOptions []int    `json:"correctOptions"`
	Explanation    string   `json:"explanation,omitempty"`
}

func (c *Flashcard) ToFSRSCard() fsrs.Card {
	card := fsrs.Card{
		Stability:     c.Stability,
		Difficulty:    c.Difficulty,
		ElapsedDays:   uint64(max(c.ElapsedDays, 0)),
		ScheduledDays: uint64(max(c.ScheduledDays, 0)),
		Reps:          uint64(max(c.Reps, 0)),
		Lapses:        uint64(max(c.Lapses, 0)),
		State:         fsrs.State(max(c.State, 0)),
	}
	if c.Due.Valid {
		card.Due = c.Due.Time
	}
	if c.LastReview.Valid {
		card.LastReview = c.LastReview.Time
	}
	return card
}

func (c *Flashcard) ApplyFSRSCard(f fsrs.Card) {
	c.Due = sql.NullTime{Time: f.Due, Valid: !f.Due.IsZero()}
	c.Stability = f.Stability
	c.Difficulty = f.Difficulty
	c.ElapsedDays = int(f.ElapsedDays)
	c.ScheduledDays = int(f.ScheduledDays)
	c.Reps = int(f.Reps)
	c.Lapses = int(f.Lapses)
	c.State = int(f.State)
	c.LastReview = sql.NullTime{Time: f.LastReview, Valid: !f.LastReview.IsZero()}
}
