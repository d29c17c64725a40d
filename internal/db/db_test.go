package db

import (
	"path/filepath"
	"testing"
	"time"
)

func TestOpenMigratesAndCascades(t *testing.T) {
	conn, err := Open(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	now := time.Now().UTC()
	res, err := conn.Exec(`INSERT INTO documents (user_id, title, storage_path, size, file_type, created_at)
		VALUES ('u1', 'notes.pdf', 'k', 10, 'pdf', ?)`, now)
	if err != nil {
		t.Fatalf("insert document: %v", err)
	}
	docID, _ := res.LastInsertId()

	res, err = conn.Exec(`INSERT INTO quizzes (user_id, document_id, title, created_at) VALUES ('u1', ?, 'q', ?)`, docID, now)
	if err != nil {
		t.Fatalf("insert quiz: %v", err)
	}
	quizID, _ := res.LastInsertId()
	if _, err := conn.Exec(`INSERT INTO quiz_questions (quiz_id, position, question, options, correct_options)
		VALUES (?, 0, 'Q', '["a","b","c","d"]', '[0]')`, quizID); err != nil {
		t.Fatalf("insert question: %v", err)
	}

	if _, err := conn.Exec(`DELETE FROM documents WHERE id = ?`, docID); err != nil {
		t.Fatalf("delete document: %v", err)
	}

	var remaining int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM quiz_questions`).Scan(&remaining); err != nil {
		t.Fatalf("count: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected cascade delete, %d questions remain", remaining)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	for i := 0; i < 2; i++ {
		conn, err := Open(path)
		if err != nil {
			t.Fatalf("open #%d: %v", i+1, err)
		}
		conn.Close()
	}
}

func TestFlashcardRejectsEmptyAnswer(t *testing.T) {
	conn, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	now := time.Now().UTC()
	res, _ := conn.Exec(`INSERT INTO documents (user_id, title, storage_path, file_type, created_at) VALUES ('u', 't', 'k', 'pdf', ?)`, now)
	docID, _ := res.LastInsertId()
	res, _ = conn.Exec(`INSERT INTO flashcard_lists (user_id, document_id, title, created_at) VALUES ('u', ?, 'l', ?)`, docID, now)
	listID, _ := res.LastInsertId()

	_, err = conn.Exec(`INSERT INTO flashcards (user_id, document_id, list_id, question, answer, created_at, updated_at)
		VALUES ('u', ?, ?, 'Q', '', ?, ?)`, docID, listID, now, now)
	if err == nil {
		t.Fatal("expected check constraint violation for empty answer")
	}
}
