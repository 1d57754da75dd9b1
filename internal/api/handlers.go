package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/notesync/internal/apperr"
	"github.com/starford/notesync/internal/models"
	"github.com/starford/notesync/internal/noteservice"
)

// maxPushBytes bounds a push request body.
const maxPushBytes = 64 << 20

// Handler holds API route handlers.
type Handler struct {
	svc    *noteservice.Service
	logger *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(svc *noteservice.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Index handles GET /api/index.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Index(r.Context())
	if err != nil {
		h.logger.Error("index failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Content handles GET /api/notes/{id}. The body is returned as stored, with
// its plaintext hash in X-Content-Hash.
func (h *Handler) Content(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	content, hash, err := h.svc.Content(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			h.logger.Error("read note failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	w.Header().Set(models.HeaderContentHash, hash)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

// Push handles POST /api/push.
func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPushBytes)
	var req models.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	rev, err := h.svc.Push(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrConflict):
			writeJSON(w, http.StatusConflict, models.ErrorResponse{Error: "conflict", Revision: rev})
		case errors.Is(err, apperr.ErrInvalidNote):
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		default:
			h.logger.Error("push failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, models.PushResponse{Revision: rev})
}
