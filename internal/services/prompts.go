package services

import (
	"fmt"
	"math"
	"strings"

	"studygen/internal/models"
)

const (
	defaultMaxContentRunes = 60000
	maxFocusTopicRunes     = 500
)

// Prompt is a chat request ready to hand to a Completer.
type Prompt struct {
	System string
	User   string
}

type PromptOptions struct {
	// FocusTopics is free text naming topics to emphasise.
	FocusTopics string
	// Language is a locale code (en, fr) or a language name.
	Language string
	// MaxContentRunes bounds the embedded document text. Zero means the default.
	MaxContentRunes int
}

// BuildPrompt assembles the system and user messages for one generation
// request. It performs no I/O.
func BuildPrompt(kind models.Kind, content string, count int, opts PromptOptions) Prompt {
	limit := opts.MaxContentRunes
	if limit <= 0 {
		limit = defaultMaxContentRunes
	}
	content = truncateRunes(strings.TrimSpace(content), limit)
	language := languageName(opts.Language)
	focus := sanitizeForPrompt(opts.FocusTopics, maxFocusTopicRunes)

	if kind == models.KindQuiz {
		return quizPrompt(content, count, language, focus)
	}
	return flashcardPrompt(content, count, language, focus)
}

func flashcardPrompt(content string, count int, language, focus string) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Create exactly %d flashcards (question/answer pairs) from the course content below.\n", count)
	b.WriteString("Rules:\n")
	b.WriteString("- Each question tests a single idea and can be answered from the content.\n")
	b.WriteString("- Answers are concise, accurate and self-contained.\n")
	fmt.Fprintf(&b, "- Write every question and answer in %s.\n", language)
	if focus != "" {
		fmt.Fprintf(&b, "- Give particular emphasis to these topics: %s\n", focus)
	}
	b.WriteString("\nReturn ONLY a JSON array of objects with the string fields \"question\" and \"answer\", for example:\n")
	b.WriteString(`[{"question":"...","answer":"..."}]` + "\n")
	b.WriteString("Do not add any text before or after the array and do not wrap it in markdown code fences.\n")
	writeContent(&b, content)

	return Prompt{
		System: "You are an expert educator who turns course material into clear flashcards for active recall.",
		User:   b.String(),
	}
}

func quizPrompt(content string, count int, language, focus string) Prompt {
	one, two, three := correctAnswerSplit(count)

	var b strings.Builder
	fmt.Fprintf(&b, "Create exactly %d multiple-choice questions from the course content below.\n", count)
	b.WriteString("Rules:\n")
	b.WriteString("- Every question has exactly 4 options.\n")
	b.WriteString("- \"correctOptions\" lists the zero-based indices (0 to 3) of the correct options.\n")
	b.WriteString("- Distribution of correct answers: about 60% of the questions have exactly 1 correct option, " +
		"about 30% have exactly 2 and about 10% have exactly 3.\n")
	fmt.Fprintf(&b, "  For this quiz: %d questions with exactly 1 correct option, %d with exactly 2, %d with exactly 3.\n", one, two, three)
	b.WriteString("- Never make 0 or all 4 options correct.\n")
	b.WriteString("- Place the correct options at random positions among the 4; they must not always come first.\n")
	b.WriteString("- Add a short explanation of why the correct options are right.\n")
	fmt.Fprintf(&b, "- Write every question, option and explanation in %s.\n", language)
	if focus != "" {
		fmt.Fprintf(&b, "- Focus the questions on these topics and give them particular emphasis: %s\n", focus)
	}
	b.WriteString("\nReturn ONLY a JSON array of objects with this shape:\n")
	b.WriteString(`[{"question":"...","options":["...","...","...","..."],"correctOptions":[2],"explanation":"..."}]` + "\n")
	b.WriteString("Do not add any text before or after the array and do not wrap it in markdown code fences.\n")
	writeContent(&b, content)

	return Prompt{
		System: "You are an expert educator who writes rigorous multiple-choice quizzes to assess understanding of course material.",
		User:   b.String(),
	}
}

func writeContent(b *strings.Builder, content string) {
	b.WriteString("\nCourse content:\n\"\"\"\n")
	b.WriteString(content)
	b.WriteString("\n\"\"\"\n")
}

// correctAnswerSplit spreads count questions over 1, 2 and 3 correct
// options following a 60/30/10 split.
func correctAnswerSplit(count int) (one, two, three int) {
	if count <= 0 {
		return 0, 0, 0
	}
	one = int(math.Round(float64(count) * 0.6))
	two = int(math.Round(float64(count) * 0.3))
	if one+two > count {
		two = count - one
	}
	three = count - one - two
	return one, two, three
}

func languageName(code string) string {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "", "en":
		return "English"
	case "fr":
		return "French"
	default:
		return code
	}
}

func sanitizeForPrompt(input string, limit int) string {
	collapsed := strings.Join(strings.Fields(strings.TrimSpace(input)), " ")
	if limit <= 0 {
		return collapsed
	}
	runes := []rune(collapsed)
	if len(runes) <= limit {
		return collapsed
	}
	if limit > 3 {
		return string(runes[:limit-3]) + "..."
	}
	return string(runes[:limit])
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
