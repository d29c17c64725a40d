package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"

	"studygen/internal/logging"
	"studygen/internal/models"
	"studygen/internal/services"
)

const (
	maxMultipartMemory = 8 << 20 // 8 MB
	multipartOverhead  = 1 << 20
	timeLayout         = time.RFC3339
	sniffLen           = 3072
)

type Options struct {
	MaxUploadBytes int64
	RequestTimeout time.Duration
}

type Server struct {
	mux        *http.ServeMux
	generation *services.GenerationService
	flashcards *services.FlashcardService
	quizzes    *services.QuizService
	documents  *services.DocumentService
	auth       *Authenticator
	jobs       *JobManager
	opts       Options
	log        *logrus.Entry
}

func NewServer(
	generation *services.GenerationService,
	flashcards *services.FlashcardService,
	quizzes *services.QuizService,
	documents *services.DocumentService,
	auth *Authenticator,
	opts Options,
) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 20 << 20
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 3 * time.Minute
	}
	s := &Server{
		mux:        http.NewServeMux(),
		generation: generation,
		flashcards: flashcards,
		quizzes:    quizzes,
		documents:  documents,
		auth:       auth,
		jobs:       NewJobManager(),
		opts:       opts,
		log:        logging.New("api"),
	}
	s.routes()
	return s
}

// Handler returns the API with request logging and authentication applied.
func (s *Server) Handler() http.Handler {
	return s.requestLogger(s.auth.Middleware(s.mux))
}

// Jobs exposes the job manager so the caller can prune finished jobs.
func (s *Server) Jobs() *JobManager {
	return s.jobs
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/flashcards/generate", s.handleGenerate(models.KindFlashcards))
	s.mux.HandleFunc("/api/quizzes/generate", s.handleGenerate(models.KindQuiz))
	s.mux.HandleFunc("/api/flashcards/", s.handleFlashcardActions)
	s.mux.HandleFunc("/api/flashcard-lists", s.handleListFlashcardLists)
	s.mux.HandleFunc("/api/flashcard-lists/", s.handleFlashcardListActions)
	s.mux.HandleFunc("/api/quizzes", s.handleListQuizzes)
	s.mux.HandleFunc("/api/quizzes/", s.handleGetQuiz)
	s.mux.HandleFunc("/api/documents", s.handleListDocuments)
	s.mux.HandleFunc("/api/documents/", s.handleDocumentActions)
	s.mux.HandleFunc("/api/jobs", s.handleCreateJob)
	s.mux.HandleFunc("/api/jobs/", s.handleJobStatus)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type generationRequest struct {
	upload      services.Upload
	count       int
	focusTopics string
}

func (s *Server) handleGenerate(kind models.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}

		req, err := s.readGenerationRequest(w, r)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
		defer cancel()

		result, err := s.runGeneration(ctx, kind, req, nil)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, generationDTO(result))
	}
}

func (s *Server) runGeneration(ctx context.Context, kind models.Kind, req generationRequest, progress services.ProgressCallback) (*services.GenerationResult, error) {
	if kind == models.KindQuiz {
		return s.generation.CreateQuizWithProgress(ctx, req.upload, req.count, req.focusTopics, progress)
	}
	return s.generation.CreateFlashcardsWithProgress(ctx, req.upload, req.count, progress)
}

// readGenerationRequest reads the multipart upload fully into memory so
// it outlives the request when handed to a background job.
func (s *Server) readGenerationRequest(w http.ResponseWriter, r *http.Request) (generationRequest, error) {
	var req generationRequest

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, services.ErrFileTooLarge
		}
		return req, fmt.Errorf("%w: invalid multipart form", services.ErrInvalidInput)
	}
	if form := r.MultipartForm; form != nil {
		defer form.RemoveAll()
	}

	userID, err := resolveUser(r, r.FormValue("userId"))
	if err != nil {
		return req, err
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return req, fmt.Errorf("%w: no file uploaded", services.ErrInvalidInput)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.opts.MaxUploadBytes+1))
	if err != nil {
		return req, fmt.Errorf("%w: read upload: %w", services.ErrInvalidInput, err)
	}
	if int64(len(data)) > s.opts.MaxUploadBytes {
		return req, services.ErrFileTooLarge
	}

	if raw := strings.TrimSpace(r.FormValue("count")); raw != "" {
		if req.count, err = strconv.Atoi(raw); err != nil {
			return req, fmt.Errorf("%w: count must be an integer", services.ErrInvalidInput)
		}
	}
	if _, err := services.NormalizeCount(req.count); err != nil {
		return req, err
	}

	req.focusTopics = r.FormValue("focusTopics")
	req.upload = services.Upload{
		Filename: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Data:     data,
		UserID:   userID,
		Title:    r.FormValue("title"),
	}
	return req, nil
}

func (s *Server) handleListFlashcardLists(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	userID, err := UserID(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	lists, err := s.flashcards.ListLists(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	out := make([]map[string]any, 0, len(lists))
	for _, l := range lists {
		out = append(out, flashcardListJSON(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{"lists": out})
}

func (s *Server) handleFlashcardListActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	userID, err := UserID(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	parts := pathParts(r.URL.Path, "/api/flashcard-lists/")
	if len(parts) == 0 || len(parts) > 2 {
		http.NotFound(w, r)
		return
	}
	listID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid list id")
		return
	}

	if len(parts) == 1 {
		list, cards, err := s.flashcards.GetList(r.Context(), userID, listID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out := make([]map[string]any, 0, len(cards))
		for _, card := range cards {
			out = append(out, flashcardJSON(card))
		}
		body := flashcardListJSON(*list)
		body["flashcards"] = out
		writeJSON(w, http.StatusOK, body)
		return
	}

	switch parts[1] {
	case "next":
		card, err := s.flashcards.NextCard(r.Context(), userID, listID)
		if err != nil {
			if errors.Is(err, services.ErrNoDueCards) {
				writeJSON(w, http.StatusOK, map[string]any{
					"card":    nil,
					"message": "No cards due. Come back later!",
				})
				return
			}
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"card": flashcardJSON(*card)})
	case "stats":
		stats, err := s.flashcards.ListStats(r.Context(), userID, listID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
	default:
		http.NotFound(w, r)
	}
}

type reviewRequest struct {
	Rating string `json:"rating"`
}

func (s *Server) handleFlashcardActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	parts := pathParts(r.URL.Path, "/api/flashcards/")
	if len(parts) != 2 || parts[1] != "review" {
		http.NotFound(w, r)
		return
	}
	cardID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid card id")
		return
	}
	userID, err := UserID(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var payload reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	rating, err := services.ParseRating(payload.Rating)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	card, logEntry, err := s.flashcards.ReviewCard(r.Context(), userID, cardID, rating)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"card": flashcardJSON(*card),
		"log": map[string]any{
			"rating":  logEntry.Rating,
			"due_in":  logEntry.ScheduledDays,
			"updated": logEntry.ReviewedAt.Format(timeLayout),
		},
	})
}

func (s *Server) handleListQuizzes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	userID, err := UserID(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	quizzes, err := s.quizzes.List(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(quizzes))
	for _, q := range quizzes {
		out = append(out, quizJSON(q))
	}
	writeJSON(w, http.StatusOK, map[string]any{"quizzes": out})
}

func (s *Server) handleGetQuiz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	parts := pathParts(r.URL.Path, "/api/quizzes/")
	if len(parts) != 1 {
		http.NotFound(w, r)
		return
	}
	quizID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid quiz id")
		return
	}
	userID, err := UserID(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	quiz, questions, err := s.quizzes.Get(r.Context(), userID, quizID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	out := make([]map[string]any, 0, len(questions))
	for _, q := range questions {
		out = append(out, map[string]any{
			"id":             q.ID,
			"position":       q.Position,
			"question":       q.Question,
			"options":        []string(q.Options),
			"correctOptions": []int(q.CorrectOptions),
			"explanation":    q.Explanation,
		})
	}
	body := quizJSON(*quiz)
	body["questions"] = out
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	userID, err := UserID(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	docs, err := s.documents.ListByUser(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		out = append(out, map[string]any{
			"id":         doc.ID,
			"title":      doc.Title,
			"size":       doc.Size,
			"fileType":   doc.FileType,
			"created_at": doc.CreatedAt.Format(timeLayout),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out})
}

func (s *Server) handleDocumentActions(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/api/documents/")
	if len(parts) == 0 || len(parts) > 2 || (len(parts) == 2 && parts[1] != "file") {
		http.NotFound(w, r)
		return
	}
	want := http.MethodDelete
	if len(parts) == 2 {
		want = http.MethodGet
	}
	if r.Method != want {
		methodNotAllowed(w, want)
		return
	}
	docID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}
	userID, err := UserID(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if len(parts) == 2 {
		s.serveDocumentFile(w, r, userID, docID)
		return
	}
	if err := s.documents.Delete(r.Context(), userID, docID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// serveDocumentFile streams the original upload back to its owner. The
// content type is sniffed from the leading bytes.
func (s *Server) serveDocumentFile(w http.ResponseWriter, r *http.Request, userID string, docID int64) {
	doc, rc, err := s.documents.OpenFile(r.Context(), userID, docID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer rc.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(rc, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		s.fail(w, r, fmt.Errorf("read stored document %d: %w", docID, err))
		return
	}
	head = head[:n]

	mt := mimetype.Detect(head)
	w.Header().Set("Content-Type", mt.String())
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": downloadName(doc.Title, mt.Extension()),
	}))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(head); err != nil {
		return
	}
	if _, err := io.Copy(w, rc); err != nil {
		s.log.WithError(err).WithField("document_id", docID).Warn("document download interrupted")
	}
}

func downloadName(title, ext string) string {
	name := strings.TrimSpace(title)
	if name == "" {
		name = "document"
	}
	if ext != "" && !strings.HasSuffix(strings.ToLower(name), ext) {
		name += ext
	}
	return name
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	req, err := s.readGenerationRequest(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	kind := models.Kind(strings.ToLower(strings.TrimSpace(r.FormValue("kind"))))
	if kind == "" {
		kind = models.KindFlashcards
	}
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "kind must be 'flashcards' or 'quiz'")
		return
	}

	jobID, snapshot := s.jobs.CreateJob(req.upload.UserID, kind, req.upload.Filename)
	go s.runJob(jobID, kind, req)

	writeJSON(w, http.StatusAccepted, snapshot)
}

func (s *Server) runJob(jobID string, kind models.Kind, req generationRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.RequestTimeout)
	defer cancel()

	s.jobs.MarkProcessing(jobID)
	progress := func(step, message string, current, total int) {
		s.jobs.UpdateProgress(jobID, step, message, current, total)
	}
	result, err := s.runGeneration(ctx, kind, req, progress)
	if err != nil {
		s.log.WithError(err).WithField("job_id", jobID).Warn("generation job failed")
		s.jobs.MarkFailed(jobID, publicMessage(err))
		return
	}
	s.jobs.MarkCompleted(jobID, generationDTO(result))
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	parts := pathParts(r.URL.Path, "/api/jobs/")
	if len(parts) != 1 {
		http.NotFound(w, r)
		return
	}
	userID, err := UserID(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	job, ok := s.jobs.GetJob(parts[0])
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.UserID != userID {
		writeError(w, http.StatusForbidden, "job belongs to another user")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// fail writes the error with the status its kind maps to.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
	}
	writeError(w, status, publicMessage(err))
}

// serverFailures are the 5xx causes whose own text is safe to show.
var serverFailures = []error{
	services.ErrExtractionFailed,
	services.ErrGenerationFailed,
	services.ErrPersistenceFailed,
}

// publicMessage returns the client-facing text for err. Client errors
// carry their full message; server errors are reduced to their kind so
// wrapped SQL, storage and provider details stay in the log.
func publicMessage(err error) string {
	if statusFor(err) < http.StatusInternalServerError {
		return err.Error()
	}
	for _, kind := range serverFailures {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "internal server error"
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func generationDTO(result *services.GenerationResult) GenerationDTO {
	return GenerationDTO{
		DocumentID: result.DocumentID,
		ListID:     result.ListID,
		QuizID:     result.QuizID,
		ItemCount:  result.ItemCount,
		Stage:      string(result.Stage),
	}
}

func flashcardListJSON(l models.FlashcardList) map[string]any {
	return map[string]any{
		"id":          l.ID,
		"documentId":  l.DocumentID,
		"title":       l.Title,
		"description": l.Description,
		"cardCount":   l.CardCount,
		"created_at":  l.CreatedAt.Format(timeLayout),
	}
}

func flashcardJSON(card models.Flashcard) map[string]any {
	return map[string]any{
		"id":        card.ID,
		"listId":    card.ListID,
		"question":  card.Question,
		"answer":    card.Answer,
		"due":       nullTimeToString(card.Due),
		"state":     card.State,
		"stability": card.Stability,
		"reps":      card.Reps,
	}
}

func quizJSON(q models.Quiz) map[string]any {
	return map[string]any{
		"id":            q.ID,
		"documentId":    q.DocumentID,
		"title":         q.Title,
		"description":   q.Description,
		"questionCount": q.QuestionCount,
		"created_at":    q.CreatedAt.Format(timeLayout),
	}
}

func pathParts(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func nullTimeToString(t sql.NullTime) *string {
	if t.Valid {
		str := t.Time.Format(timeLayout)
		return &str
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
