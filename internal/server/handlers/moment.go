package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"huddle/internal/apperr"
	"huddle/internal/domain/moment"
	"huddle/internal/domain/mood"
	"huddle/internal/service/moments"
	"huddle/internal/service/moods"
)

// MomentHandler handles moment-related HTTP requests
type MomentHandler struct {
	moments *moments.Service
	moods   *moods.Aggregator
}

// NewMomentHandler creates a new moment handler
func NewMomentHandler(momentService *moments.Service, moodAggregator *moods.Aggregator) *MomentHandler {
	return &MomentHandler{
		moments: momentService,
		moods:   moodAggregator,
	}
}

type locationResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type timeWindowResponse struct {
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type momentResponse struct {
	ID               string             `json:"id"`
	Name             string             `json:"name,omitempty"`
	Status           moment.Status      `json:"status"`
	Inactive         bool               `json:"inactive"`
	Location         locationResponse   `json:"location"`
	TimeWindow       timeWindowResponse `json:"time_window"`
	ParticipantCount int                `json:"participant_count"`
	PostCount        int                `json:"post_count"`
	Joined           bool               `json:"joined"`
	MoodSummary      *mood.Summary      `json:"mood_summary,omitempty"`
}

func newMomentResponse(m *moment.Moment, userID string, summary *mood.Summary) momentResponse {
	return momentResponse{
		ID:       m.ID,
		Name:     m.Name,
		Status:   m.Status,
		Inactive: m.Inactive,
		Location: locationResponse{
			Latitude:  m.Latitude,
			Longitude: m.Longitude,
		},
		TimeWindow: timeWindowResponse{
			CreatedAt: m.CreatedAt,
			ExpiresAt: m.ExpiresAt,
		},
		ParticipantCount: m.ParticipantCount(),
		PostCount:        m.PostCount,
		Joined:           m.IsParticipant(userID),
		MoodSummary:      summary,
	}
}

// CreateOrJoin resolves the caller's coordinates to an existing nearby moment
// or creates a new one. 201 signals creation, 200 a join.
func (h *MomentHandler) CreateOrJoin(w http.ResponseWriter, r *http.Request) {
	type createRequest struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, apperr.Validation("invalid request body"))
		return
	}

	userID := CurrentUserID(r)
	m, created, err := h.moments.CreateOrJoin(r.Context(), req.Latitude, req.Longitude, userID)
	if err != nil {
		respondWithError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondWithJSON(w, status, newMomentResponse(m, userID, nil))
}

// GetNearby returns active moments near a location, closest first.
func (h *MomentHandler) GetNearby(w http.ResponseWriter, r *http.Request) {
	latStr := r.URL.Query().Get("lat")
	lngStr := r.URL.Query().Get("lng")
	if latStr == "" || lngStr == "" {
		respondWithError(w, apperr.Validation("missing location parameters"))
		return
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		respondWithError(w, apperr.Validation("invalid latitude"))
		return
	}
	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		respondWithError(w, apperr.Validation("invalid longitude"))
		return
	}

	radiusKm := 0.0
	if radiusStr := r.URL.Query().Get("radius_km"); radiusStr != "" {
		radiusKm, err = strconv.ParseFloat(radiusStr, 64)
		if err != nil {
			respondWithError(w, apperr.Validation("invalid radius"))
			return
		}
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	found, err := h.moments.Discover(r.Context(), lat, lng, radiusKm, limit)
	if err != nil {
		respondWithError(w, err)
		return
	}

	userID := CurrentUserID(r)
	result := make([]momentResponse, 0, len(found))
	for i := range found {
		result = append(result, newMomentResponse(&found[i], userID, nil))
	}
	respondWithJSON(w, http.StatusOK, result)
}

// GetMoment returns a moment by ID together with its live mood summary.
// Expired and archived moments remain readable until purged.
func (h *MomentHandler) GetMoment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	m, err := h.moments.Get(r.Context(), id)
	if err != nil {
		respondWithError(w, err)
		return
	}

	summary, err := h.moods.Summary(r.Context(), id)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, newMomentResponse(m, CurrentUserID(r), &summary))
}

// LeaveMoment removes the caller from a moment's participant set.
func (h *MomentHandler) LeaveMoment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID := CurrentUserID(r)

	m, err := h.moments.RemoveParticipant(r.Context(), id, userID)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, newMomentResponse(m, userID, nil))
}

// CreatePost adds a post to a moment
func (h *MomentHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	type postRequest struct {
		Text     string    `json:"text"`
		Mood     mood.Mood `json:"mood,omitempty"`
		MediaURL string    `json:"media_url,omitempty"`
	}

	var req postRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, apperr.Validation("invalid request body"))
		return
	}

	id := chi.URLParam(r, "id")
	p, err := h.moments.AddPost(r.Context(), id, CurrentUserID(r), req.Text, req.Mood, req.MediaURL)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, p)
}

// ListPosts returns posts for a moment, newest first
func (h *MomentHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	posts, err := h.moments.ListPosts(r.Context(), id, limit)
	if err != nil {
		respondWithError(w, err)
		return
	}
	if posts == nil {
		posts = []moment.Post{}
	}

	respondWithJSON(w, http.StatusOK, posts)
}

// ReactToPost records the caller's reaction to a post, replacing any prior one.
func (h *MomentHandler) ReactToPost(w http.ResponseWriter, r *http.Request) {
	type reactionRequest struct {
		Reaction string `json:"reaction"`
	}

	var req reactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, apperr.Validation("invalid request body"))
		return
	}

	momentID := chi.URLParam(r, "id")
	postID := chi.URLParam(r, "postID")

	p, err := h.moments.ReactToPost(r.Context(), momentID, postID, CurrentUserID(r), req.Reaction)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, p)
}
