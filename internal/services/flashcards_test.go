package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs"

	"studygen/internal/models"
)

func seedList(t *testing.T, conn *sql.DB, userID string, items ...models.FlashcardItem) models.FlashcardList {
	t.Helper()
	_, list, err := newTestStore(conn).SaveFlashcards(context.Background(),
		models.Document{UserID: userID, Title: "Notes", StoragePath: userID + "/notes.pdf", FileType: "pdf"},
		models.FlashcardList{Title: "Notes"},
		items,
	)
	if err != nil {
		t.Fatalf("seed list: %v", err)
	}
	return list
}

func newTestFlashcards(conn *sql.DB, now time.Time) *FlashcardService {
	s := NewFlashcardService(conn)
	s.now = func() time.Time { return now }
	return s
}

func TestGetListChecksOwner(t *testing.T) {
	conn := newTestDB(t)
	list := seedList(t, conn, "owner", models.FlashcardItem{Question: "Q", Answer: "A"})
	svc := newTestFlashcards(conn, testNow)
	ctx := context.Background()

	got, cards, err := svc.GetList(ctx, "owner", list.ID)
	if err != nil {
		t.Fatalf("get list: %v", err)
	}
	if got.CardCount != 1 || len(cards) != 1 || cards[0].Question != "Q" {
		t.Fatalf("unexpected list %+v cards %+v", got, cards)
	}

	if _, _, err := svc.GetList(ctx, "intruder", list.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, _, err := svc.GetList(ctx, "owner", list.ID+100); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	lists, err := svc.ListLists(ctx, "owner")
	if err != nil || len(lists) != 1 {
		t.Fatalf("list lists: %v (%d)", err, len(lists))
	}
	if lists, _ := svc.ListLists(ctx, "intruder"); len(lists) != 0 {
		t.Fatalf("other users must not see the list, got %d", len(lists))
	}
}

func TestReviewSchedulesCardAndLogs(t *testing.T) {
	conn := newTestDB(t)
	list := seedList(t, conn, "u1",
		models.FlashcardItem{Question: "First", Answer: "1"},
		models.FlashcardItem{Question: "Second", Answer: "2"},
	)
	reviewAt := testNow.Add(time.Minute)
	svc := newTestFlashcards(conn, reviewAt)
	ctx := context.Background()

	next, err := svc.NextCard(ctx, "u1", list.ID)
	if err != nil {
		t.Fatalf("next card: %v", err)
	}
	if next.Question != "First" {
		t.Fatalf("expected the oldest due card first, got %q", next.Question)
	}

	card, entry, err := svc.ReviewCard(ctx, "u1", next.ID, fsrs.Easy)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if card.Reps != 1 || card.State == int(fsrs.New) {
		t.Fatalf("card not scheduled: %+v", card)
	}
	if !card.Due.Valid || !card.Due.Time.After(reviewAt) {
		t.Fatalf("easy review should push due into the future, got %v", card.Due)
	}
	if entry.ID == 0 || entry.Rating != int(fsrs.Easy) {
		t.Fatalf("unexpected review log %+v", entry)
	}
	if got := countRows(t, conn, "review_logs"); got != 1 {
		t.Fatalf("expected 1 review log, got %d", got)
	}

	next, err = svc.NextCard(ctx, "u1", list.ID)
	if err != nil {
		t.Fatalf("next card after review: %v", err)
	}
	if next.Question != "Second" {
		t.Fatalf("reviewed card should no longer be due, got %q", next.Question)
	}

	stats, err := svc.ListStats(ctx, "u1", list.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats["total"] != 2 || stats["due"] != 1 || stats["new"] != 1 {
		t.Fatalf("unexpected stats %v", stats)
	}
}

func TestNextCardNoneDue(t *testing.T) {
	conn := newTestDB(t)
	list := seedList(t, conn, "u1", models.FlashcardItem{Question: "Only", Answer: "card"})
	svc := newTestFlashcards(conn, testNow.Add(time.Minute))
	ctx := context.Background()

	card, err := svc.NextCard(ctx, "u1", list.ID)
	if err != nil {
		t.Fatalf("next card: %v", err)
	}
	if _, _, err := svc.ReviewCard(ctx, "u1", card.ID, fsrs.Good); err != nil {
		t.Fatalf("review: %v", err)
	}
	if _, err := svc.NextCard(ctx, "u1", list.ID); !errors.Is(err, ErrNoDueCards) {
		t.Fatalf("expected ErrNoDueCards, got %v", err)
	}
}

func TestReviewCardForbidden(t *testing.T) {
	conn := newTestDB(t)
	list := seedList(t, conn, "owner", models.FlashcardItem{Question: "Q", Answer: "A"})
	svc := newTestFlashcards(conn, testNow)
	ctx := context.Background()

	_, cards, err := svc.GetList(ctx, "owner", list.ID)
	if err != nil {
		t.Fatalf("get list: %v", err)
	}
	if _, _, err := svc.ReviewCard(ctx, "intruder", cards[0].ID, fsrs.Good); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if got := countRows(t, conn, "review_logs"); got != 0 {
		t.Fatalf("forbidden review must not log, got %d", got)
	}
}

func TestParseRating(t *testing.T) {
	tests := []struct {
		in   string
		want fsrs.Rating
	}{
		{"again", fsrs.Again},
		{" Hard ", fsrs.Hard},
		{"GOOD", fsrs.Good},
		{"4", fsrs.Easy},
	}
	for _, tt := range tests {
		got, err := ParseRating(tt.in)
		if err != nil || got != tt.want {
			t.Fatalf("ParseRating(%q) = %v, %v", tt.in, got, err)
		}
	}
	if _, err := ParseRating("perfect"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
