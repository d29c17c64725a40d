package services

import (
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"studygen/internal/logging"
	"studygen/internal/models"
)

// Stage names the parsing strategy that produced a result.
type Stage string

const (
	StageDirect   Stage = "direct"
	StageFenced   Stage = "fenced"
	StageBracket  Stage = "bracket"
	StageLines    Stage = "lines"
	StageSentinel Stage = "sentinel"
)

// Degraded reports whether the result was reconstructed rather than decoded.
func (s Stage) Degraded() bool {
	return s == StageLines || s == StageSentinel
}

const (
	quizOptionCount  = 4
	maxBracketStarts = 32
)

var (
	fencePattern = regexp.MustCompile("```(?:[A-Za-z]+)?[ \\t]*\\r?\\n?([\\s\\S]*?)```")

	listNoise      = regexp.MustCompile(`^(?:[-*•>#]+|\d+[.)]|\(\d+\))\s*`)
	questionPrefix = regexp.MustCompile(`(?i)^"?(?:question|q)"?\s*\d*\s*[:：.)-]\s*`)
	answerKey      = regexp.MustCompile(`(?i)^"?(?:answer|réponse|reponse)"?\s*\d*\s*[:：.)-]`)
	answerPrefix   = regexp.MustCompile(`(?i)^"?(?:(?:answer|réponse|reponse)"?\s*\d*\s*[:：.)-]|[ar]"?\s*\d*\s*[:：])\s*`)
	letterEnum     = regexp.MustCompile(`^[A-Za-z][.)]\s+`)
	quotedQuestion = regexp.MustCompile(`(?i)"(?:question|front)"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	quotedAnswer   = regexp.MustCompile(`(?i)"(?:answer|réponse|reponse|back)"\s*:\s*"((?:[^"\\]|\\.)*)"`)

	letterIndex = regexp.MustCompile(`^(?i)([a-d])\s*[.):]?$`)
)

// keys under which models wrap their item arrays
var containerKeys = []string{"flashcards", "cards", "questions", "quiz", "items", "data"}

type localizedText struct {
	noAnswer        string
	failedQuestion  string
	failedAnswer    string
	quizQuestion    string
	quizOptions     [quizOptionCount]string
	quizExplanation string
}

var parserTexts = map[string]localizedText{
	"en": {
		noAnswer:       "No answer provided",
		failedQuestion: "Flashcard generation failed",
		failedAnswer:   "The model response could not be read. Please try generating these flashcards again.",
		quizQuestion:   "The quiz could not be generated. What should you do?",
		quizOptions: [quizOptionCount]string{
			"Retry the generation",
			"Answer this question",
			"Upload a different file type",
			"Nothing",
		},
		quizExplanation: "The model response could not be read. Please retry the quiz generation.",
	},
	"fr": {
		noAnswer:       "Pas de réponse fournie",
		failedQuestion: "La génération des flashcards a échoué",
		failedAnswer:   "La réponse du modèle est illisible. Veuillez relancer la génération de ces flashcards.",
		quizQuestion:   "Le quiz n'a pas pu être généré. Que faut-il faire ?",
		quizOptions: [quizOptionCount]string{
			"Relancer la génération",
			"Répondre à cette question",
			"Envoyer un autre type de fichier",
			"Rien",
		},
		quizExplanation: "La réponse du modèle est illisible. Veuillez relancer la génération du quiz.",
	},
}

// Parser turns raw model completions into typed items. It never fails:
// when nothing can be recovered it returns a single placeholder item.
type Parser struct {
	text localizedText
	log  *logrus.Entry
}

func NewParser(locale string) *Parser {
	text, ok := parserTexts[strings.ToLower(locale)]
	if !ok {
		text = parserTexts["en"]
	}
	return &Parser{text: text, log: logging.New("parser")}
}

// Flashcards parses a flashcard completion.
func (p *Parser) Flashcards(raw string) ([]models.FlashcardItem, Stage) {
	items, stage, ok := structured(raw, p.flashcardsFromObjects)
	if !ok {
		if items = p.flashcardsFromLines(raw); len(items) > 0 {
			stage = StageLines
		} else {
			items = []models.FlashcardItem{{Question: p.text.failedQuestion, Answer: p.text.failedAnswer}}
			stage = StageSentinel
		}
	}
	p.report(models.KindFlashcards, stage, raw, len(items))
	return items, stage
}

// Quiz parses a quiz completion. Quizzes have no line-based fallback.
func (p *Parser) Quiz(raw string) ([]models.QuizItem, Stage) {
	items, stage, ok := structured(raw, p.quizFromObjects)
	if !ok {
		items = []models.QuizItem{{
			Question:       p.text.quizQuestion,
			Options:        append([]string(nil), p.text.quizOptions[:]...),
			CorrectOptions: []int{0},
			Explanation:    p.text.quizExplanation,
		}}
		stage = StageSentinel
	}
	p.report(models.KindQuiz, stage, raw, len(items))
	return items, stage
}

func (p *Parser) report(kind models.Kind, stage Stage, raw string, n int) {
	entry := p.log.WithFields(logrus.Fields{
		"kind":    kind,
		"stage":   stage,
		"raw_len": len(raw),
		"items":   n,
	})
	switch {
	case stage == StageSentinel:
		entry.Warn("model output unreadable, substituted placeholder")
	case stage.Degraded():
		entry.Warn("model output reconstructed from text lines")
	case stage != StageDirect:
		entry.Debug("model output recovered from surrounding text")
	}
}

// structured tries the JSON stages in order and returns the first batch
// that converts to at least one item.
func structured[T any](raw string, convert func([]map[string]any) []T) ([]T, Stage, bool) {
	try := func(text string) []T {
		objs, ok := decodeObjects(text)
		if !ok {
			return nil
		}
		return convert(objs)
	}

	if items := try(raw); len(items) > 0 {
		return items, StageDirect, true
	}
	for _, m := range fencePattern.FindAllStringSubmatch(raw, -1) {
		if items := try(m[1]); len(items) > 0 {
			return items, StageFenced, true
		}
	}
	for _, sub := range balancedSubstrings(raw, maxBracketStarts) {
		if items := try(sub); len(items) > 0 {
			return items, StageBracket, true
		}
	}
	return nil, "", false
}

// decodeObjects parses text as exactly one JSON value and collects the
// item objects it holds.
func decodeObjects(text string) ([]map[string]any, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, false
	}
	objs := collectObjects(v, 0)
	return objs, len(objs) > 0
}

func collectObjects(v any, depth int) []map[string]any {
	switch t := v.(type) {
	case []any:
		var out []map[string]any
		for _, el := range t {
			if m, ok := el.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	case map[string]any:
		if depth < 2 {
			for _, key := range containerKeys {
				if inner, ok := t[key]; ok {
					switch inner.(type) {
					case []any, map[string]any:
						return collectObjects(inner, depth+1)
					}
				}
			}
		}
		return []map[string]any{t}
	}
	return nil
}

// balancedSubstrings returns, for each of the first limit positions
// holding '{' or '[', the substring up to the matching close delimiter.
// Delimiters inside JSON strings are ignored. A bracket that never closes
// ends the scan, since every later position sits inside it.
func balancedSubstrings(text string, limit int) []string {
	var out []string
	starts := 0
	for i := 0; i < len(text) && starts < limit; i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		starts++
		end := matchingClose(text, i)
		if end < 0 {
			break
		}
		out = append(out, text[i:end+1])
	}
	return out
}

func matchingClose(text string, start int) int {
	open := text[start]
	closeCh := byte('}')
	if open == '[' {
		closeCh = ']'
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func (p *Parser) flashcardsFromObjects(objs []map[string]any) []models.FlashcardItem {
	var items []models.FlashcardItem
	for _, m := range objs {
		question := firstString(m, "question", "front", "q", "term")
		if question == "" {
			continue
		}
		answer := firstString(m, "answer", "back", "a", "definition", "réponse")
		if answer == "" {
			answer = p.text.noAnswer
		}
		items = append(items, models.FlashcardItem{Question: question, Answer: answer})
	}
	return items
}

func (p *Parser) quizFromObjects(objs []map[string]any) []models.QuizItem {
	var items []models.QuizItem
	for _, m := range objs {
		if item, ok := quizItem(m); ok {
			items = append(items, item)
		}
	}
	return items
}

// quizItem validates one question: exactly 4 non-empty options (longer
// lists are cut to 4) and 1 to 3 distinct correct indices.
func quizItem(m map[string]any) (models.QuizItem, bool) {
	question := firstString(m, "question", "prompt", "text")
	if question == "" {
		return models.QuizItem{}, false
	}

	var rawOptions any
	for _, key := range []string{"options", "choices"} {
		if v, ok := m[key]; ok {
			rawOptions = v
			break
		}
	}
	options, flagged := parseOptions(rawOptions)
	if len(options) < quizOptionCount {
		return models.QuizItem{}, false
	}
	options = options[:quizOptionCount]
	for _, opt := range options {
		if opt == "" {
			return models.QuizItem{}, false
		}
	}

	var correct []int
	found := false
	for _, key := range []string{"correctOptions", "correct_options", "correctAnswers", "correct_answers", "correctIndices", "correct", "answer"} {
		if v, ok := m[key]; ok {
			correct = parseIndices(v, options)
			found = true
			break
		}
	}
	if !found {
		correct = flagged
	}

	correct = normalizeIndices(correct)
	if len(correct) < 1 || len(correct) >= quizOptionCount {
		return models.QuizItem{}, false
	}

	return models.QuizItem{
		Question:       question,
		Options:        options,
		CorrectOptions: correct,
		Explanation:    firstString(m, "explanation", "rationale"),
	}, true
}

// parseOptions accepts a list of strings, a list of {text, correct}
// objects or a letter-keyed object such as {"A": "...", "B": "..."}.
func parseOptions(v any) ([]string, []int) {
	switch t := v.(type) {
	case []any:
		options := make([]string, 0, len(t))
		var flagged []int
		for i, el := range t {
			switch opt := el.(type) {
			case map[string]any:
				options = append(options, firstString(opt, "text", "option", "label", "value", "content"))
				for _, key := range []string{"correct", "isCorrect", "is_correct"} {
					if b, ok := opt[key].(bool); ok && b {
						flagged = append(flagged, i)
						break
					}
				}
			default:
				options = append(options, scalarString(el))
			}
		}
		return options, flagged
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		options := make([]string, 0, len(keys))
		for _, k := range keys {
			options = append(options, scalarString(t[k]))
		}
		return options, nil
	}
	return nil, nil
}

// parseIndices reads correct answers given as numbers, numeric strings,
// letters A-D, or the text of an option.
func parseIndices(v any, options []string) []int {
	var out []int
	var add func(x any)
	add = func(x any) {
		switch t := x.(type) {
		case []any:
			for _, el := range t {
				add(el)
			}
		case json.Number:
			if n, err := strconv.Atoi(t.String()); err == nil {
				out = append(out, n)
			}
		case string:
			s := strings.TrimSpace(t)
			if n, err := strconv.Atoi(s); err == nil {
				out = append(out, n)
				return
			}
			if m := letterIndex.FindStringSubmatch(s); m != nil {
				out = append(out, int(strings.ToLower(m[1])[0]-'a'))
				return
			}
			for i, opt := range options {
				if strings.EqualFold(opt, s) {
					out = append(out, i)
					return
				}
			}
		}
	}
	add(v)
	return out
}

// normalizeIndices keeps in-range indices once, in first-seen order.
func normalizeIndices(in []int) []int {
	seen := make(map[int]bool, len(in))
	out := make([]int, 0, len(in))
	for _, i := range in {
		if i < 0 || i >= quizOptionCount || seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, i)
	}
	return out
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := scalarString(m[key]); s != "" {
			return s
		}
	}
	return ""
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	}
	return ""
}

type lineItem struct {
	question string
	answer   string
}

// flashcardsFromLines rebuilds question/answer pairs from loosely
// formatted text, one field per line.
func (p *Parser) flashcardsFromLines(raw string) []models.FlashcardItem {
	var pending []lineItem
	var cur *lineItem
	// an answer never replaces one already recorded
	setAnswer := func(line string) {
		if cur != nil && cur.answer == "" {
			cur.answer = lineAnswer(line)
		}
	}

	for _, line := range strings.Split(raw, "\n") {
		line = stripNoise(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)

		switch {
		case answerKey.MatchString(line) && !quotedQuestion.MatchString(line):
			setAnswer(line)
		case strings.Contains(lower, "question") || strings.Contains(line, "?"):
			pending = append(pending, lineItem{question: lineQuestion(line)})
			cur = &pending[len(pending)-1]
			if m := quotedAnswer.FindStringSubmatch(line); m != nil {
				cur.answer = unquote(m[1])
			}
		case answerPrefix.MatchString(line),
			strings.Contains(lower, "answer") || strings.Contains(lower, "réponse") || strings.Contains(lower, "reponse"):
			setAnswer(line)
		}
	}

	var items []models.FlashcardItem
	for _, it := range pending {
		if it.question == "" {
			continue
		}
		if it.answer == "" {
			it.answer = p.text.noAnswer
		}
		items = append(items, models.FlashcardItem{Question: it.question, Answer: it.answer})
	}
	return items
}

// stripNoise removes list markers and markdown emphasis in front of a line.
func stripNoise(line string) string {
	line = strings.TrimSpace(line)
	for {
		next := strings.TrimLeft(listNoise.ReplaceAllString(line, ""), "*_ \t")
		if next == line {
			return line
		}
		line = next
	}
}

func lineQuestion(line string) string {
	if m := quotedQuestion.FindStringSubmatch(line); m != nil {
		return unquote(m[1])
	}
	line = questionPrefix.ReplaceAllString(line, "")
	return cleanField(letterEnum.ReplaceAllString(line, ""))
}

func lineAnswer(line string) string {
	if m := quotedAnswer.FindStringSubmatch(line); m != nil {
		return unquote(m[1])
	}
	return cleanField(answerPrefix.ReplaceAllString(line, ""))
}

func cleanField(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "\"'`*,{}[] \t"))
}

// unquote resolves JSON escapes in a captured string body.
func unquote(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(out)
}
