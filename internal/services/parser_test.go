package services

import (
	"encoding/json"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"studygen/internal/models"
)

var oneCard = []models.FlashcardItem{{Question: "Q1", Answer: "A1"}}

func TestParseFlashcardScenarios(t *testing.T) {
	p := NewParser("en")
	tests := []struct {
		name  string
		raw   string
		stage Stage
	}{
		{"clean json", `[{"question":"Q1","answer":"A1"}]`, StageDirect},
		{"fenced json", "```json\n[{\"question\":\"Q1\",\"answer\":\"A1\"}]\n```", StageFenced},
		{"fenced without tag", "```\n[{\"question\":\"Q1\",\"answer\":\"A1\"}]\n```", StageFenced},
		{"embedded in prose", "Here are your flashcards:\n[{\"question\":\"Q1\",\"answer\":\"A1\"}]\nHope this helps!", StageBracket},
		{"wrapped object", `{"flashcards":[{"question":"Q1","answer":"A1"}]}`, StageDirect},
		{"front and back", `[{"front":"Q1","back":"A1"}]`, StageDirect},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, stage := p.Flashcards(tt.raw)
			if !reflect.DeepEqual(items, oneCard) {
				t.Fatalf("unexpected items %+v", items)
			}
			if stage != tt.stage {
				t.Fatalf("expected stage %s, got %s", tt.stage, stage)
			}
		})
	}
}

func TestParseQuizSentinel(t *testing.T) {
	items, stage := NewParser("en").Quiz("not json at all")
	if stage != StageSentinel {
		t.Fatalf("expected sentinel stage, got %s", stage)
	}
	if len(items) != 1 {
		t.Fatalf("expected one sentinel item, got %d", len(items))
	}
	item := items[0]
	if len(item.Options) != 4 {
		t.Fatalf("expected 4 options, got %d", len(item.Options))
	}
	if !reflect.DeepEqual(item.CorrectOptions, []int{0}) {
		t.Fatalf("expected correctOptions [0], got %v", item.CorrectOptions)
	}
	if item.Explanation == "" || item.Question == "" {
		t.Fatal("sentinel must carry a question and an explanation")
	}
}

func TestParseFlashcardSentinel(t *testing.T) {
	for _, raw := range []string{"", "not json at all", "{{{{", "[1, 2, 3]", `{"foo": "bar"}`} {
		items, stage := NewParser("en").Flashcards(raw)
		if stage != StageSentinel {
			t.Fatalf("%q: expected sentinel stage, got %s", raw, stage)
		}
		if len(items) != 1 || items[0].Question == "" || items[0].Answer == "" {
			t.Fatalf("%q: unexpected sentinel %+v", raw, items)
		}
	}
}

func TestParseRoundTrip(t *testing.T) {
	p := NewParser("en")

	cards := []models.FlashcardItem{
		{Question: "What is ATP?", Answer: "The energy currency of the cell."},
		{Question: `Quote "this"`, Answer: "Braces {} and [brackets] survive"},
	}
	raw, _ := json.Marshal(cards)
	gotCards, stage := p.Flashcards(string(raw))
	if stage != StageDirect || !reflect.DeepEqual(gotCards, cards) {
		t.Fatalf("flashcard round trip failed: %s %+v", stage, gotCards)
	}

	quiz := []models.QuizItem{
		{Question: "Pick one", Options: []string{"a", "b", "c", "d"}, CorrectOptions: []int{2}, Explanation: "c is right"},
		{Question: "Pick two", Options: []string{"a", "b", "c", "d"}, CorrectOptions: []int{3, 1}},
		{Question: "Pick three", Options: []string{"w", "x", "y", "z"}, CorrectOptions: []int{0, 1, 2}, Explanation: "all but z"},
	}
	raw, _ = json.Marshal(quiz)
	gotQuiz, stage := p.Quiz(string(raw))
	if stage != StageDirect || !reflect.DeepEqual(gotQuiz, quiz) {
		t.Fatalf("quiz round trip failed: %s %+v", stage, gotQuiz)
	}

	fenced, _ := p.Quiz("```json\n" + string(raw) + "\n```")
	if !reflect.DeepEqual(fenced, quiz) {
		t.Fatalf("fenced quiz differs: %+v", fenced)
	}
	embedded, _ := p.Quiz("Sure! Here is the quiz.\n" + string(raw) + "\nGood luck.")
	if !reflect.DeepEqual(embedded, quiz) {
		t.Fatalf("embedded quiz differs: %+v", embedded)
	}
}

func TestParseBracketSkipsUnparsableCandidates(t *testing.T) {
	raw := "Note [1] above. The answer set is:\n[{\"question\":\"Q1\",\"answer\":\"A1\"}] done."
	items, stage := NewParser("en").Flashcards(raw)
	if stage != StageBracket || !reflect.DeepEqual(items, oneCard) {
		t.Fatalf("unexpected result %s %+v", stage, items)
	}
}

func TestParseBracketIgnoresDelimitersInStrings(t *testing.T) {
	raw := `Result: [{"question":"What does ] close?","answer":"A [bracket]"}] end`
	items, _ := NewParser("en").Flashcards(raw)
	want := []models.FlashcardItem{{Question: "What does ] close?", Answer: "A [bracket]"}}
	if !reflect.DeepEqual(items, want) {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestParseFlashcardMissingAnswer(t *testing.T) {
	items, _ := NewParser("en").Flashcards(`[{"question":"Q1"},{"question":"","answer":"orphan"},{"question":"Q2","answer":"  "}]`)
	want := []models.FlashcardItem{
		{Question: "Q1", Answer: "No answer provided"},
		{Question: "Q2", Answer: "No answer provided"},
	}
	if !reflect.DeepEqual(items, want) {
		t.Fatalf("unexpected items %+v", items)
	}

	fr, _ := NewParser("fr").Flashcards(`[{"question":"Q1"}]`)
	if fr[0].Answer != "Pas de réponse fournie" {
		t.Fatalf("expected French placeholder, got %q", fr[0].Answer)
	}
}

func TestParseFlashcardLines(t *testing.T) {
	raw := strings.Join([]string{
		"Here are some cards for you:",
		"1. Question: What is the capital of France?",
		"   Answer: Paris",
		"2. **Q2:** Who wrote Hamlet?",
		"**A:** Shakespeare",
		"- What is the boiling point of water?",
		"",
		`"question": "What is H2O?",`,
		`"answer": "Water",`,
		"Why is the sky blue?",
	}, "\n")

	items, stage := NewParser("en").Flashcards(raw)
	if stage != StageLines {
		t.Fatalf("expected line stage, got %s", stage)
	}
	want := []models.FlashcardItem{
		{Question: "What is the capital of France?", Answer: "Paris"},
		{Question: "Who wrote Hamlet?", Answer: "Shakespeare"},
		{Question: "What is the boiling point of water?", Answer: "No answer provided"},
		{Question: "What is H2O?", Answer: "Water"},
		{Question: "Why is the sky blue?", Answer: "No answer provided"},
	}
	if !reflect.DeepEqual(items, want) {
		t.Fatalf("unexpected items:\n got %+v\nwant %+v", items, want)
	}
}

func TestParseFlashcardLinesEdgeCases(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []models.FlashcardItem
	}{
		{
			name: "array cut off mid item",
			raw:  "[\n {\"question\":\"Q1\",\"answer\":\"A1\"},\n {\"question\":\"Q2\",\"answer\":\"A2\"},\n {\"question\":\"Q3\",\"ans",
			want: []models.FlashcardItem{
				{Question: "Q1", Answer: "A1"},
				{Question: "Q2", Answer: "A2"},
				{Question: "Q3", Answer: "No answer provided"},
			},
		},
		{
			name: "questions starting with a letter or enumerator",
			raw: strings.Join([]string{
				"Question: What is mitosis?",
				"Answer: Cell division",
				"R-squared measures what?",
				"Answer: Explained variance",
				"A) Which organelle makes ATP?",
				"Answer: Mitochondria",
			}, "\n"),
			want: []models.FlashcardItem{
				{Question: "What is mitosis?", Answer: "Cell division"},
				{Question: "R-squared measures what?", Answer: "Explained variance"},
				{Question: "Which organelle makes ATP?", Answer: "Mitochondria"},
			},
		},
		{
			name: "later answer keeps the first",
			raw:  "Q: What is 2+2?\nA: 4\nAnswer: 5",
			want: []models.FlashcardItem{{Question: "What is 2+2?", Answer: "4"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, stage := NewParser("en").Flashcards(tt.raw)
			if stage != StageLines {
				t.Fatalf("expected line stage, got %s", stage)
			}
			if !reflect.DeepEqual(items, tt.want) {
				t.Fatalf("unexpected items:\n got %+v\nwant %+v", items, tt.want)
			}
		})
	}
}

func TestBalancedSubstringsStopsAtUnclosedBracket(t *testing.T) {
	got := balancedSubstrings(`[ {"a":1}, {"b":2}`, maxBracketStarts)
	if len(got) != 0 {
		t.Fatalf("expected no candidates inside an unclosed array, got %q", got)
	}
	got = balancedSubstrings(`see [1] then {"a":1}`, maxBracketStarts)
	want := []string{"[1]", `{"a":1}`}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestParseFlashcardLinesFrench(t *testing.T) {
	raw := "Question : Quelle est la capitale de l'Italie ?\nRéponse : Rome"
	items, stage := NewParser("fr").Flashcards(raw)
	if stage != StageLines {
		t.Fatalf("expected line stage, got %s", stage)
	}
	want := []models.FlashcardItem{{Question: "Quelle est la capitale de l'Italie ?", Answer: "Rome"}}
	if !reflect.DeepEqual(items, want) {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestParseQuizNormalisation(t *testing.T) {
	raw := `[
		{"question":"letters","options":["a","b","c","d"],"correctOptions":["B","d"]},
		{"question":"strings","options":["a","b","c","d"],"correct_options":["0","2","2"]},
		{"question":"option text","choices":["red","green","blue","black"],"answer":"Blue"},
		{"question":"flags","options":[{"text":"x","correct":false},{"text":"y","isCorrect":true},{"text":"z"},{"text":"w"}]},
		{"question":"five options","options":["a","b","c","d","e"],"correctOptions":[1,4]},
		{"question":"three options","options":["a","b","c"],"correctOptions":[0]},
		{"question":"all correct","options":["a","b","c","d"],"correctOptions":[0,1,2,3]},
		{"question":"none correct","options":["a","b","c","d"],"correctOptions":[]},
		{"question":"out of range","options":["a","b","c","d"],"correctOptions":[7]},
		{"question":"","options":["a","b","c","d"],"correctOptions":[0]},
		{"question":"blank option","options":["a"," ","c","d"],"correctOptions":[0]}
	]`
	items, stage := NewParser("en").Quiz(raw)
	if stage != StageDirect {
		t.Fatalf("expected direct stage, got %s", stage)
	}

	want := []models.QuizItem{
		{Question: "letters", Options: []string{"a", "b", "c", "d"}, CorrectOptions: []int{1, 3}},
		{Question: "strings", Options: []string{"a", "b", "c", "d"}, CorrectOptions: []int{0, 2}},
		{Question: "option text", Options: []string{"red", "green", "blue", "black"}, CorrectOptions: []int{2}},
		{Question: "flags", Options: []string{"x", "y", "z", "w"}, CorrectOptions: []int{1}},
		{Question: "five options", Options: []string{"a", "b", "c", "d"}, CorrectOptions: []int{1}},
	}
	if !reflect.DeepEqual(items, want) {
		t.Fatalf("unexpected items:\n got %+v\nwant %+v", items, want)
	}
}

func TestParseQuizAllInvalidFallsBack(t *testing.T) {
	items, stage := NewParser("en").Quiz(`[{"question":"q","options":["a","b"],"correctOptions":[0]}]`)
	if stage != StageSentinel || len(items) != 1 {
		t.Fatalf("expected sentinel, got %s %+v", stage, items)
	}
}

func TestParseQuizHasNoLineFallback(t *testing.T) {
	_, stage := NewParser("en").Quiz("Question: What is 2+2?\nAnswer: 4")
	if stage != StageSentinel {
		t.Fatalf("expected sentinel stage, got %s", stage)
	}
}

// adversarial and random inputs must always yield well-formed items
func TestParseTotality(t *testing.T) {
	inputs := []string{
		"",
		" ",
		"```",
		"``````",
		"```json\n[{\"question\":",
		"[",
		"]",
		"{\"question\": ",
		`[{"question": "Q", "answer": ]`,
		`{"questions": {"questions": {"questions": []}}}`,
		"null",
		"true",
		`"just a string"`,
		"?",
		"question",
		"answer: dangling",
		strings.Repeat("[", 10000),
		strings.Repeat("{\"a\":", 500),
		`[{"question":"q","options":{"A":"1","B":"2","C":"3","D":"4"},"correctOptions":"C"}]`,
	}
	rng := rand.New(rand.NewSource(42))
	alphabet := []byte("{}[]\"':,?\\ \nabcqQA0123456789`-")
	for i := 0; i < 300; i++ {
		n := rng.Intn(120)
		b := make([]byte, n)
		for j := range b {
			if rng.Intn(10) == 0 {
				b[j] = byte(rng.Intn(256))
			} else {
				b[j] = alphabet[rng.Intn(len(alphabet))]
			}
		}
		inputs = append(inputs, string(b))
	}

	p := NewParser("en")
	for _, raw := range inputs {
		cards, _ := p.Flashcards(raw)
		if len(cards) == 0 {
			t.Fatalf("%q: no flashcards returned", raw)
		}
		for _, c := range cards {
			if c.Question == "" || c.Answer == "" {
				t.Fatalf("%q: empty flashcard field %+v", raw, c)
			}
		}

		quiz, _ := p.Quiz(raw)
		if len(quiz) == 0 {
			t.Fatalf("%q: no quiz items returned", raw)
		}
		for _, q := range quiz {
			if len(q.Options) != 4 {
				t.Fatalf("%q: expected 4 options, got %d", raw, len(q.Options))
			}
			if n := len(q.CorrectOptions); n < 1 || n > 3 {
				t.Fatalf("%q: %d correct options", raw, n)
			}
			for _, idx := range q.CorrectOptions {
				if idx < 0 || idx > 3 {
					t.Fatalf("%q: correct index %d out of range", raw, idx)
				}
			}
		}
	}
}

func TestStageDegraded(t *testing.T) {
	for stage, want := range map[Stage]bool{
		StageDirect:   false,
		StageFenced:   false,
		StageBracket:  false,
		StageLines:    true,
		StageSentinel: true,
	} {
		if stage.Degraded() != want {
			t.Errorf("%s: expected degraded=%v", stage, want)
		}
	}
}
