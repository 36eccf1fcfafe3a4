package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	appI18n "github.com/pavelanni/mockboard/internal/i18n"
	"github.com/pavelanni/mockboard/internal/model"
	"github.com/pavelanni/mockboard/internal/store"
)

func (h *Handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.settings.Masked(r.Context()))
}

type settingsResponse struct {
	Message  string            `json:"message"`
	Updated  []string          `json:"updated"`
	Settings map[string]string `json:"settings"`
}

func (h *Handler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var incoming map[string]string
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrInvalidRequest", nil)
		return
	}

	updated, err := h.settings.Update(r.Context(), incoming)
	if err != nil {
		slog.Error("failed to update settings", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal", nil)
		return
	}
	if updated == nil {
		updated = []string{}
	}
	slog.Info("settings updated", "keys", updated)

	writeJSON(w, http.StatusOK, settingsResponse{
		Message:  appI18n.T(r.Context(), "SettingsUpdated"),
		Updated:  updated,
		Settings: h.settings.Masked(r.Context()),
	})
}

type uploadResponse struct {
	Duplicate bool               `json:"duplicate"`
	Message   string             `json:"message,omitempty"`
	Session   *model.SessionView `json:"session"`
}

// handleUploadPaper creates a session from an uploaded paper file. Uploading
// the same file again returns the session it created the first time.
func (h *Handler) handleUploadPaper(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrInvalidRequest", nil)
		return
	}

	file, header, err := r.FormFile("paper")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrInvalidRequest", nil)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrInvalidRequest", nil)
		return
	}

	hash := store.PaperHash(data)
	existing, err := h.store.ImportedSession(ctx, hash)
	if err != nil {
		slog.Error("failed to check import status", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal", nil)
		return
	}
	if existing != "" {
		view, err := h.store.GetSessionView(ctx, existing)
		if err != nil {
			slog.Error("failed to get imported session", "error", err)
			writeError(w, r, http.StatusInternalServerError, "ErrInternal", nil)
			return
		}
		writeJSON(w, http.StatusOK, uploadResponse{
			Duplicate: true,
			Message:   appI18n.T(ctx, "PaperAlreadyImported"),
			Session:   view,
		})
		return
	}

	paper, err := model.DecodePaper(header.Filename, data)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrInvalidPaper", map[string]any{"Reason": err.Error()})
		return
	}
	view, err := h.createSession(r, paper)
	if err != nil {
		h.writePaperError(w, r, err)
		return
	}

	if err := h.store.RecordImport(ctx, hash, view.Session.ID, header.Filename); err != nil {
		slog.Error("failed to record import", "error", err)
	}
	slog.Info("uploaded paper", "filename", header.Filename, "session", view.Session.ID)
	writeJSON(w, http.StatusCreated, uploadResponse{Session: view})
}
