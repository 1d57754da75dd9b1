package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/starford/notesync/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

func errorBody(msg string) models.ErrorResponse {
	return models.ErrorResponse{Error: msg}
}
