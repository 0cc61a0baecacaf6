package moment

import (
	"time"

	"huddle/internal/domain/mood"
)

// Status represents the current stage in a moment's lifecycle.
// Transitions are one-directional: active -> expired -> archived -> purged
// (purged moments no longer exist in storage).
type Status string

const (
	StatusActive   Status = "active"
	StatusExpired  Status = "expired"
	StatusArchived Status = "archived"
)

// Participant is an anonymous identity joined to a moment.
type Participant struct {
	UserID       string    `json:"user_id"`
	JoinedAt     time.Time `json:"joined_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// Moment represents a geographically anchored, time-boxed social space.
type Moment struct {
	ID        string  `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`

	Status Status `json:"status"`
	// Inactive is a sub-state of active meaning "no live members".
	// It never blocks writes and is distinct from expiry.
	Inactive bool `json:"inactive"`

	CreatedAt time.Time `json:"created_at"`
	// ExpiresAt is immutable once set.
	ExpiresAt time.Time `json:"expires_at"`

	PostCount    int                    `json:"post_count"`
	Participants map[string]Participant `json:"-"`
}

// Writable reports whether the moment still accepts joins, posts and votes.
func (m *Moment) Writable() bool {
	return m.Status == StatusActive
}

// ParticipantCount returns the size of the participant set.
func (m *Moment) ParticipantCount() int {
	return len(m.Participants)
}

// IsParticipant reports whether the user has joined this moment.
func (m *Moment) IsParticipant(userID string) bool {
	_, ok := m.Participants[userID]
	return ok
}

// Post is a piece of content owned by a moment and sharing its time window.
type Post struct {
	ID       string    `json:"id"`
	MomentID string    `json:"moment_id"`
	AuthorID string    `json:"author_id"`
	Text     string    `json:"text"`
	Mood     mood.Mood `json:"mood,omitempty"`
	MediaURL string    `json:"media_url,omitempty"`
	// Reactions maps userID to reaction type; one reaction per user,
	// re-reacting replaces the previous type.
	Reactions map[string]string `json:"reactions,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
