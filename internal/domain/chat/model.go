package chat

import "time"

// MessageType defines the type of chat message.
type MessageType string

const TypeText MessageType = "text"

// Message is an ephemeral chat message scoped to a moment's room.
// It carries its own expiry timestamp and is purged strictly by time,
// independent of the parent moment's archival transition.
type Message struct {
	ID        string      `json:"id"`
	MomentID  string      `json:"moment_id"`
	AuthorID  string      `json:"author_id"`
	Type      MessageType `json:"type"`
	Text      string      `json:"text"`
	CreatedAt time.Time   `json:"created_at"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Expired reports whether the message's own time window has elapsed.
func (m Message) Expired(now time.Time) bool {
	return !now.Before(m.ExpiresAt)
}
