package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/mockboard/internal/evaluator"
	"github.com/pavelanni/mockboard/internal/model"
)

type evaluateRequest struct {
	SessionID string `json:"sessionId"`
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrInvalidRequest", nil)
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		writeError(w, r, http.StatusBadRequest, "ErrSessionIDRequired", nil)
		return
	}

	result, err := h.evaluator.EvaluateSession(r.Context(), req.SessionID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "ErrSessionNotFound", nil)
		return
	case errors.Is(err, evaluator.ErrInvalidSession):
		slog.Warn("refusing to evaluate session", "session", req.SessionID, "error", err)
		writeError(w, r, http.StatusUnprocessableEntity, "ErrEvaluationFailed", nil)
		return
	case err != nil:
		slog.Error("evaluation failed", "session", req.SessionID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrEvaluationFailed", nil)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetResult(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.store.GetSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "ErrSessionNotFound", nil)
			return
		}
		slog.Error("failed to get session", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal", nil)
		return
	}

	result, err := h.store.GetResult(r.Context(), sessionID)
	if err != nil {
		slog.Error("failed to get result", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal", nil)
		return
	}
	if result == nil {
		writeError(w, r, http.StatusNotFound, "ErrResultNotFound", nil)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
