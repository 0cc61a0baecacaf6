package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"huddle/internal/apperr"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// respondWithJSON writes a JSON response with the given status code
func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// respondWithError maps a service error to its HTTP status and a stable error
// body. Unclassified errors become 500s with a generic message so internals
// never leak to clients.
func respondWithError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		respondWithJSON(w, appErr.HTTPStatus(), errorResponse{
			Error:   string(appErr.Kind),
			Message: appErr.Message,
		})
		return
	}

	slog.Error("request failed", "error", err)
	respondWithJSON(w, http.StatusInternalServerError, errorResponse{
		Error:   "internal",
		Message: "internal server error",
	})
}
