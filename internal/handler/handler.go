// Package handler exposes sessions, answers, evaluation and settings over a JSON API.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pavelanni/mockboard/internal/evaluator"
	appI18n "github.com/pavelanni/mockboard/internal/i18n"
	"github.com/pavelanni/mockboard/internal/model"
	"github.com/pavelanni/mockboard/internal/settings"
	"github.com/pavelanni/mockboard/internal/storage"
	"github.com/pavelanni/mockboard/internal/store"
)

const maxUploadBytes = 10 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store     *store.Store
	evaluator *evaluator.Evaluator
	settings  *settings.Provider
	images    *storage.FSStore
}

// New creates a new Handler. With a nil images store, uploaded answer images
// are kept inline as data URLs.
func New(s *store.Store, ev *evaluator.Evaluator, sp *settings.Provider, images *storage.FSStore) *Handler {
	return &Handler{store: s, evaluator: ev, settings: sp, images: images}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", h.handleCreateSession)
		r.Get("/sessions", h.handleListSessions)
		r.Get("/sessions/{sessionID}", h.handleGetSession)
		r.Post("/sessions/{sessionID}/answers", h.handleSubmitAnswer)
		r.Post("/sessions/{sessionID}/proctoring", h.handleProctoring)
		r.Post("/evaluate", h.handleEvaluate)
		r.Get("/results/{sessionID}", h.handleGetResult)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Get("/settings", h.handleGetSettings)
			r.Post("/settings", h.handleUpdateSettings)
			r.Post("/papers", h.handleUploadPaper)
		})
	})
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var paper model.PaperImport
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes)).Decode(&paper); err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrInvalidRequest", nil)
		return
	}
	view, err := h.createSession(r, paper)
	if err != nil {
		h.writePaperError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// createSession validates a paper and stores it as a new active session.
func (h *Handler) createSession(r *http.Request, paper model.PaperImport) (*model.SessionView, error) {
	sess, questions, err := paper.ToPaper()
	if err != nil {
		return nil, invalidPaperError{err}
	}
	id, err := h.store.CreateSession(r.Context(), sess, questions)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	slog.Info("session created", "session", id, "mode", sess.Mode, "subject", sess.Subject, "questions", len(questions))
	return h.store.GetSessionView(r.Context(), id)
}

type invalidPaperError struct{ err error }

func (e invalidPaperError) Error() string { return e.err.Error() }
func (e invalidPaperError) Unwrap() error { return e.err }

func (h *Handler) writePaperError(w http.ResponseWriter, r *http.Request, err error) {
	var invalid invalidPaperError
	if errors.As(err, &invalid) {
		writeError(w, r, http.StatusBadRequest, "ErrInvalidPaper", map[string]any{"Reason": invalid.Error()})
		return
	}
	slog.Error("failed to create session", "error", err)
	writeError(w, r, http.StatusInternalServerError, "ErrInternal", nil)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListSessions(r.Context())
	if err != nil {
		slog.Error("failed to list sessions", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal", nil)
		return
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.store.GetSessionView(r.Context(), chi.URLParam(r, "sessionID"))
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "ErrSessionNotFound", nil)
		return
	}
	if err != nil {
		slog.Error("failed to get session", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal", nil)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, r, http.StatusBadRequest, "ErrInvalidRequest", nil)
			return
		}
	}

	sess, err := h.store.GetSession(ctx, sessionID)
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "ErrSessionNotFound", nil)
		return
	}
	if err != nil {
		slog.Error("failed to get session", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal", nil)
		return
	}
	if sess.Status == model.StatusCompleted {
		writeError(w, r, http.StatusConflict, "ErrSessionClosed", nil)
		return
	}

	questionID := r.FormValue("questionId")
	if _, err := h.store.GetQuestion(ctx, sessionID, questionID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "ErrQuestionNotFound", nil)
			return
		}
		slog.Error("failed to get question", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal", nil)
		return
	}

	text := r.FormValue("answerText")
	imageRef, err := h.saveAnswerImage(r, sessionID, questionID)
	if err != nil {
		slog.Warn("failed to store answer image", "session", sessionID, "question", questionID, "error", err)
		writeError(w, r, http.StatusBadRequest, "ErrInvalidImage", nil)
		return
	}
	if text == "" && imageRef == "" {
		writeError(w, r, http.StatusBadRequest, "ErrAnswerRequired", nil)
		return
	}

	a, err := h.store.SaveAnswer(ctx, model.Answer{
		SessionID:      sessionID,
		QuestionID:     questionID,
		AnswerText:     &text,
		AnswerImageURL: &imageRef,
	})
	if err != nil {
		slog.Error("failed to save answer", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal", nil)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// saveAnswerImage stores the uploaded answerImage file, if any, and returns
// its reference.
func (h *Handler) saveAnswerImage(r *http.Request, sessionID, questionID string) (string, error) {
	if r.MultipartForm == nil {
		return "", nil
	}
	file, header, err := r.FormFile("answerImage")
	if errors.Is(err, http.ErrMissingFile) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer file.Close()

	mime := header.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = storage.MIMEType(header.Filename)
	}
	if !strings.HasPrefix(mime, "image/") {
		return "", fmt.Errorf("unsupported content type %q", mime)
	}

	if h.images == nil {
		data, err := io.ReadAll(file)
		if err != nil {
			return "", err
		}
		return storage.EncodeDataURL(data, mime), nil
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext == "" {
		ext = ".jpg"
	}
	key := fmt.Sprintf("answers/%s/%s-%s%s", sessionID, questionID, uuid.NewString(), ext)
	return h.images.Put(key, file)
}

type proctoringRequest struct {
	ViolationCount *int  `json:"violationCount"`
	AutoSubmitted  *bool `json:"autoSubmitted"`
}

func (h *Handler) handleProctoring(w http.ResponseWriter, r *http.Request) {
	var req proctoringRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrInvalidRequest", nil)
		return
	}
	if req.ViolationCount != nil && *req.ViolationCount < 0 {
		writeError(w, r, http.StatusBadRequest, "ErrInvalidRequest", nil)
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	sess, err := h.store.RecordProctoring(r.Context(), sessionID, req.ViolationCount, req.AutoSubmitted)
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "ErrSessionNotFound", nil)
		return
	}
	if err != nil {
		slog.Error("failed to record proctoring", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal", nil)
		return
	}
	if req.AutoSubmitted != nil && *req.AutoSubmitted {
		slog.Info("session auto-submitted", "session", sessionID, "violations", sess.ViolationCount)
	}
	writeJSON(w, http.StatusOK, sess)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msgID string, data map[string]any) {
	msg := appI18n.Td(r.Context(), msgID, data)
	writeJSON(w, status, map[string]string{"error": msg})
}
