package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"huddle/internal/apperr"
	"huddle/internal/domain/mood"
	"huddle/internal/service/moods"
)

// MoodHandler handles mood-related HTTP requests
type MoodHandler struct {
	aggregator *moods.Aggregator
}

// NewMoodHandler creates a new mood handler
func NewMoodHandler(aggregator *moods.Aggregator) *MoodHandler {
	return &MoodHandler{aggregator: aggregator}
}

// RecordVote records or replaces the caller's mood vote for a moment and
// returns the recomputed summary.
func (h *MoodHandler) RecordVote(w http.ResponseWriter, r *http.Request) {
	type voteRequest struct {
		Mood      mood.Mood `json:"mood"`
		Intensity int       `json:"intensity"`
	}

	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, apperr.Validation("invalid request body"))
		return
	}

	id := chi.URLParam(r, "id")
	summary, err := h.aggregator.RecordVote(r.Context(), id, CurrentUserID(r), req.Mood, req.Intensity)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, summary)
}

// GetSummary returns the current mood summary for a moment
func (h *MoodHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	summary, err := h.aggregator.Summary(r.Context(), id)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, summary)
}
