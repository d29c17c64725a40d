package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"

	"studygen/internal/logging"
	"studygen/internal/models"
)

const (
	DefaultItemCount = 10
	MaxItemCount     = 100

	baseCompletionTokens = 500
	flashcardTokens      = 150
	quizQuestionTokens   = 350
	maxCompletionTokens  = 16000
)

// ProgressCallback is called while a document moves through the pipeline.
type ProgressCallback func(step, message string, current, total int)

// Extractor turns an uploaded file into plain text.
type Extractor interface {
	ExtractText(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Upload is one file received from a client.
type Upload struct {
	Filename string
	MimeType string
	Data     []byte
	UserID   string
	Title    string
}

// GenerationResult identifies what a Create call persisted.
type GenerationResult struct {
	Kind       models.Kind
	DocumentID int64
	ListID     int64
	QuizID     int64
	ItemCount  int
	Stage      Stage
}

type GenerationOptions struct {
	Locale          string
	StrictParsing   bool
	MaxUploadBytes  int64
	MaxContentRunes int
}

// GenerationService runs upload → extract → prompt → complete → parse → store.
type GenerationService struct {
	extractor Extractor
	completer Completer
	parser    *Parser
	store     ContentStore
	storage   Storage
	opts      GenerationOptions
	log       *logrus.Entry
}

func NewGenerationService(extractor Extractor, completer Completer, store ContentStore, storage Storage, opts GenerationOptions) *GenerationService {
	if opts.Locale == "" {
		opts.Locale = "en"
	}
	return &GenerationService{
		extractor: extractor,
		completer: completer,
		parser:    NewParser(opts.Locale),
		store:     store,
		storage:   storage,
		opts:      opts,
		log:       logging.New("generation"),
	}
}

// GenerateFlashcards returns parsed flashcards without persisting anything.
func (s *GenerationService) GenerateFlashcards(ctx context.Context, up Upload, count int) ([]models.FlashcardItem, Stage, error) {
	raw, err := s.complete(ctx, models.KindFlashcards, &up, count, "", nil)
	if err != nil {
		return nil, "", err
	}
	items, stage := s.parser.Flashcards(raw)
	if err := s.checkStage(stage); err != nil {
		return nil, stage, err
	}
	return items, stage, nil
}

// GenerateQuiz returns parsed quiz questions without persisting anything.
func (s *GenerationService) GenerateQuiz(ctx context.Context, up Upload, count int, focusTopics string) ([]models.QuizItem, Stage, error) {
	raw, err := s.complete(ctx, models.KindQuiz, &up, count, focusTopics, nil)
	if err != nil {
		return nil, "", err
	}
	items, stage := s.parser.Quiz(raw)
	if err := s.checkStage(stage); err != nil {
		return nil, stage, err
	}
	return items, stage, nil
}

func (s *GenerationService) CreateFlashcards(ctx context.Context, up Upload, count int) (*GenerationResult, error) {
	return s.CreateFlashcardsWithProgress(ctx, up, count, nil)
}

// CreateFlashcardsWithProgress stores the upload, generates a flashcard list
// and persists document, list and cards together.
func (s *GenerationService) CreateFlashcardsWithProgress(ctx context.Context, up Upload, count int, progress ProgressCallback) (result *GenerationResult, err error) {
	key, err := s.save(ctx, &up, count, progress)
	if err != nil {
		return nil, err
	}
	defer s.cleanupOnError(key, &err)

	raw, err := s.complete(ctx, models.KindFlashcards, &up, count, "", progress)
	if err != nil {
		return nil, err
	}
	items, stage := s.parser.Flashcards(raw)
	if err = s.checkStage(stage); err != nil {
		return nil, err
	}

	report(progress, "save", fmt.Sprintf("Saving %d flashcards", len(items)), 90, 100)
	title := documentTitle(up)
	doc, list, err := s.store.SaveFlashcards(ctx,
		s.document(up, key),
		models.FlashcardList{Title: title, Description: fmt.Sprintf("Flashcards generated from %s", title)},
		items,
	)
	if err != nil {
		return nil, err
	}
	report(progress, "complete", "Processing complete", 100, 100)

	s.log.WithFields(logrus.Fields{
		"user_id":     doc.UserID,
		"document_id": doc.ID,
		"list_id":     list.ID,
		"cards":       list.CardCount,
		"stage":       stage,
	}).Info("flashcard list created")

	return &GenerationResult{
		Kind:       models.KindFlashcards,
		DocumentID: doc.ID,
		ListID:     list.ID,
		ItemCount:  list.CardCount,
		Stage:      stage,
	}, nil
}

func (s *GenerationService) CreateQuiz(ctx context.Context, up Upload, count int, focusTopics string) (*GenerationResult, error) {
	return s.CreateQuizWithProgress(ctx, up, count, focusTopics, nil)
}

// CreateQuizWithProgress stores the upload, generates a quiz and persists
// document, quiz and questions together.
func (s *GenerationService) CreateQuizWithProgress(ctx context.Context, up Upload, count int, focusTopics string, progress ProgressCallback) (result *GenerationResult, err error) {
	key, err := s.save(ctx, &up, count, progress)
	if err != nil {
		return nil, err
	}
	defer s.cleanupOnError(key, &err)

	raw, err := s.complete(ctx, models.KindQuiz, &up, count, focusTopics, progress)
	if err != nil {
		return nil, err
	}
	items, stage := s.parser.Quiz(raw)
	if err = s.checkStage(stage); err != nil {
		return nil, err
	}

	report(progress, "save", fmt.Sprintf("Saving %d questions", len(items)), 90, 100)
	title := documentTitle(up)
	doc, quiz, err := s.store.SaveQuiz(ctx,
		s.document(up, key),
		models.Quiz{Title: title, Description: fmt.Sprintf("Quiz generated from %s", title)},
		items,
	)
	if err != nil {
		return nil, err
	}
	report(progress, "complete", "Processing complete", 100, 100)

	s.log.WithFields(logrus.Fields{
		"user_id":     doc.UserID,
		"document_id": doc.ID,
		"quiz_id":     quiz.ID,
		"questions":   quiz.QuestionCount,
		"stage":       stage,
	}).Info("quiz created")

	return &GenerationResult{
		Kind:       models.KindQuiz,
		DocumentID: doc.ID,
		QuizID:     quiz.ID,
		ItemCount:  quiz.QuestionCount,
		Stage:      stage,
	}, nil
}

// save validates the upload and writes it to storage.
func (s *GenerationService) save(ctx context.Context, up *Upload, count int, progress ProgressCallback) (string, error) {
	if err := s.validateUpload(up); err != nil {
		return "", err
	}
	if _, err := NormalizeCount(count); err != nil {
		return "", err
	}
	if s.storage == nil {
		return "", nil
	}

	report(progress, "upload", "Storing document", 5, 100)
	key := ObjectKey(up.UserID, up.Filename)
	if err := s.storage.Save(ctx, key, up.MimeType, up.Data); err != nil {
		return "", fmt.Errorf("%w: store upload: %w", ErrPersistenceFailed, err)
	}
	return key, nil
}

func (s *GenerationService) cleanupOnError(key string, errp *error) {
	if *errp == nil || key == "" || s.storage == nil {
		return
	}
	// the request context may already be cancelled
	if err := s.storage.Delete(context.Background(), key); err != nil {
		s.log.WithError(err).WithField("path", key).Warn("failed to remove stored upload after error")
	}
}

// complete extracts the text of an upload and asks the model for content.
func (s *GenerationService) complete(ctx context.Context, kind models.Kind, up *Upload, count int, focusTopics string, progress ProgressCallback) (string, error) {
	if err := s.validateUpload(up); err != nil {
		return "", err
	}
	count, err := NormalizeCount(count)
	if err != nil {
		return "", err
	}

	report(progress, "extract", "Extracting text from document", 15, 100)
	text, err := s.extractor.ExtractText(ctx, up.Data, up.MimeType)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: document contains no readable text", ErrExtractionFailed)
	}

	prompt := BuildPrompt(kind, text, count, PromptOptions{
		FocusTopics:     focusTopics,
		Language:        s.opts.Locale,
		MaxContentRunes: s.opts.MaxContentRunes,
	})

	report(progress, "generate", fmt.Sprintf("Generating %d %s items", count, kind), 40, 100)
	raw, err := s.completer.Complete(ctx, prompt.System, prompt.User, completionTokens(kind, count))
	if err != nil {
		if !errors.Is(err, ErrGenerationFailed) {
			err = fmt.Errorf("%w: %w", ErrGenerationFailed, err)
		}
		return "", err
	}
	report(progress, "parse", "Reading model output", 80, 100)
	return raw, nil
}

func (s *GenerationService) checkStage(stage Stage) error {
	if s.opts.StrictParsing && stage == StageSentinel {
		return fmt.Errorf("%w: model output could not be parsed", ErrGenerationFailed)
	}
	return nil
}

// validateUpload checks size and content type, filling in the sniffed type
// when the client did not send a useful one.
func (s *GenerationService) validateUpload(up *Upload) error {
	if len(up.Data) == 0 {
		return fmt.Errorf("%w: empty file", ErrInvalidInput)
	}
	if s.opts.MaxUploadBytes > 0 && int64(len(up.Data)) > s.opts.MaxUploadBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, len(up.Data), s.opts.MaxUploadBytes)
	}

	sniffed := baseMediaType(mimetype.Detect(up.Data).String())
	declared := baseMediaType(up.MimeType)
	if declared == "" || declared == "application/octet-stream" {
		declared = sniffed
	}

	switch {
	case declared == "application/pdf":
		if sniffed != "application/pdf" {
			return fmt.Errorf("%w: declared %s but content is %s", ErrUnsupportedFormat, declared, sniffed)
		}
	case strings.HasPrefix(declared, "image/"):
		if !strings.HasPrefix(sniffed, "image/") {
			return fmt.Errorf("%w: declared %s but content is %s", ErrUnsupportedFormat, declared, sniffed)
		}
		// trust the bytes for the concrete image subtype
		declared = sniffed
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, declared)
	}
	up.MimeType = declared
	return nil
}

func (s *GenerationService) document(up Upload, key string) models.Document {
	return models.Document{
		UserID:      up.UserID,
		Title:       documentTitle(up),
		StoragePath: key,
		Size:        int64(len(up.Data)),
		FileType:    FileType(up.MimeType),
	}
}

// NormalizeCount applies the default item count and rejects values outside
// 1..MaxItemCount.
func NormalizeCount(count int) (int, error) {
	if count == 0 {
		return DefaultItemCount, nil
	}
	if count < 0 || count > MaxItemCount {
		return 0, fmt.Errorf("%w: count must be between 1 and %d", ErrInvalidInput, MaxItemCount)
	}
	return count, nil
}

// FileType maps a media type to the stored file type: pdf or the image subtype.
func FileType(mimeType string) string {
	mt := baseMediaType(mimeType)
	if mt == "application/pdf" {
		return "pdf"
	}
	if sub, ok := strings.CutPrefix(mt, "image/"); ok {
		return sub
	}
	return mt
}

func documentTitle(up Upload) string {
	if t := strings.TrimSpace(up.Title); t != "" {
		return t
	}
	name := strings.TrimSpace(up.Filename)
	if i := strings.LastIndex(name, "."); i > 0 {
		name = name[:i]
	}
	if name == "" {
		return "Untitled document"
	}
	return name
}

func completionTokens(kind models.Kind, count int) int {
	per := flashcardTokens
	if kind == models.KindQuiz {
		per = quizQuestionTokens
	}
	return min(baseCompletionTokens+per*count, maxCompletionTokens)
}

func report(progress ProgressCallback, step, message string, current, total int) {
	if progress != nil {
		progress(step, message, current, total)
	}
}
