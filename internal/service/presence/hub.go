// Package presence tracks which connections belong to which moment room and
// fans real-time events out to room members.
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"huddle/internal/apperr"
	"huddle/internal/domain/chat"
	"huddle/internal/domain/moment"
	"huddle/internal/metrics"
)

// Conn is the transport-side half of a connection: anything that can deliver
// a named event with a payload to one client.
type Conn interface {
	Send(event string, payload any) error
}

// MomentDirectory provides the moment operations the hub needs to authorize
// joins and refresh participant activity.
type MomentDirectory interface {
	Get(ctx context.Context, id string) (*moment.Moment, error)
	AddParticipant(ctx context.Context, momentID, userID string) (*moment.Moment, error)
}

// ChatStore defines the storage interface for ephemeral chat messages.
type ChatStore interface {
	// SaveMessage persists a message.
	SaveMessage(ctx context.Context, m chat.Message) error

	// History returns the most recent non-expired messages for a moment,
	// ordered oldest-first, bounded by limit. Re-fetchable.
	History(ctx context.Context, momentID string, limit int, now time.Time) ([]chat.Message, error)

	// DeleteExpired removes up to limit messages whose expiry has passed,
	// returning the number deleted. Already-purged data is a no-op.
	DeleteExpired(ctx context.Context, now time.Time, limit int) (int, error)

	// DeleteForMoment removes all messages for a moment.
	DeleteForMoment(ctx context.Context, momentID string) error
}

// Config contains configuration for the presence hub.
type Config struct {
	MaxMessageLength int
	HistoryLimit     int
	MessageTTL       time.Duration
}

// binding is the explicit per-connection record: which room a connection is
// bound to and as whom. Disconnect cleanup is a single lookup on it.
type binding struct {
	connID   string
	conn     Conn
	momentID string
	userID   string
}

// Hub implements room membership and best-effort event fan-out.
// Within one room, events are delivered to every connection in the order the
// store accepted them; across rooms there is no ordering guarantee. The hub
// mutex orders the fan-out itself; the per-room send locks extend that order
// across the persist step of the message path.
type Hub struct {
	moments MomentDirectory
	chats   ChatStore
	clock   clockwork.Clock
	config  Config

	mu    sync.Mutex
	conns map[string]*binding
	rooms map[string]map[string]*binding

	sendMu    sync.Mutex
	sendLocks map[string]*sync.Mutex
}

// NewHub creates a new presence hub.
func NewHub(moments MomentDirectory, chats ChatStore, clock clockwork.Clock, config Config) *Hub {
	return &Hub{
		moments:   moments,
		chats:     chats,
		clock:     clock,
		config:    config,
		conns:     make(map[string]*binding),
		rooms:     make(map[string]map[string]*binding),
		sendLocks: make(map[string]*sync.Mutex),
	}
}

// Join binds a connection to a moment's room. Participants of an active
// moment get full access; anyone may view an expired or archived moment
// read-only. On success the room (including the joining connection) receives
// participantJoined with the updated count, then the joining connection
// alone receives the chatHistory backfill.
func (h *Hub) Join(ctx context.Context, connID string, conn Conn, momentID, userID string) error {
	if userID == "" {
		return apperr.Unauthenticated("missing anonymous identity")
	}

	m, err := h.moments.Get(ctx, momentID)
	if err != nil {
		return err
	}

	if m.Writable() {
		if !m.IsParticipant(userID) {
			return apperr.NotParticipant("join the moment before entering its room")
		}
		// Entering the room counts as activity.
		if _, err := h.moments.AddParticipant(ctx, momentID, userID); err != nil {
			return err
		}
	}

	h.mu.Lock()
	if prev, ok := h.conns[connID]; ok {
		h.unbindLocked(prev)
	}

	b := &binding{connID: connID, conn: conn, momentID: momentID, userID: userID}
	h.conns[connID] = b
	room, ok := h.rooms[momentID]
	if !ok {
		room = make(map[string]*binding)
		h.rooms[momentID] = room
	}
	room[connID] = b
	count := len(room)
	h.broadcastLocked(momentID, "participantJoined", map[string]any{
		"moment_id": momentID,
		"user_id":   userID,
		"count":     count,
	})
	h.mu.Unlock()

	history, err := h.chats.History(ctx, momentID, h.config.HistoryLimit, h.clock.Now())
	if err != nil {
		slog.Warn("failed to load chat history", "moment_id", momentID, "error", err)
		history = nil
	}
	if history == nil {
		history = []chat.Message{}
	}
	if err := conn.Send("chatHistory", history); err != nil {
		slog.Debug("failed to send chat history", "conn_id", connID, "error", err)
	}

	return nil
}

// Leave unbinds a connection from its room and notifies the room. Safe to
// call for unknown or already-left connections.
func (h *Hub) Leave(ctx context.Context, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.conns[connID]
	if !ok {
		return
	}
	h.unbindLocked(b)
}

// Broadcast delivers an event to every connection currently bound to the
// room. Delivery is best-effort; there is no persistence or replay beyond
// the chat-history backfill on join.
func (h *Hub) Broadcast(momentID, event string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastLocked(momentID, event, payload)
}

// CloseRoom broadcasts a final event to the room, then unbinds every
// connection in it. Used when a moment's data is about to disappear.
func (h *Hub) CloseRoom(momentID, event string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.broadcastLocked(momentID, event, payload)
	for _, b := range h.rooms[momentID] {
		delete(h.conns, b.connID)
	}
	delete(h.rooms, momentID)
}

// SendMessage validates and persists a chat message from a bound connection,
// then broadcasts newMessage to the room. The stored message is returned to
// the sender as confirmation. Persist and broadcast happen under the room's
// send lock, so every connection sees messages in store-accept order and the
// chat-history backfill can never contradict what live connections saw.
func (h *Hub) SendMessage(ctx context.Context, connID, text string) (*chat.Message, error) {
	h.mu.Lock()
	b, ok := h.conns[connID]
	h.mu.Unlock()
	if !ok {
		return nil, apperr.NotParticipant("connection is not bound to a room")
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.Validation("message must not be empty")
	}
	if len(text) > h.config.MaxMessageLength {
		return nil, apperr.Validation(fmt.Sprintf("message exceeds %d characters", h.config.MaxMessageLength))
	}

	m, err := h.moments.Get(ctx, b.momentID)
	if err != nil {
		return nil, err
	}
	if !m.Writable() {
		return nil, apperr.Inactive("moment is no longer active")
	}
	if !m.IsParticipant(b.userID) {
		return nil, apperr.NotParticipant("sender has not joined this moment")
	}

	unlock := h.sendLock(b.momentID)
	defer unlock()

	now := h.clock.Now()
	msg := chat.Message{
		ID:        uuid.New().String(),
		MomentID:  b.momentID,
		AuthorID:  b.userID,
		Type:      chat.TypeText,
		Text:      text,
		CreatedAt: now,
		ExpiresAt: now.Add(h.config.MessageTTL),
	}

	if err := h.chats.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("error saving chat message: %w", err)
	}

	h.Broadcast(b.momentID, "newMessage", msg)

	return &msg, nil
}

// sendLock acquires the room's send mutex, creating it on first use, and
// returns its unlock func. Holding it across SaveMessage and the broadcast
// keeps a concurrent sender from fanning out between this sender's persist
// and fan-out.
func (h *Hub) sendLock(momentID string) func() {
	h.sendMu.Lock()
	mu, ok := h.sendLocks[momentID]
	if !ok {
		mu = &sync.Mutex{}
		h.sendLocks[momentID] = mu
	}
	h.sendMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// Typing relays a typing indicator to the sender's room, excluding the
// sender. Stateless: nothing is persisted or validated beyond the binding.
func (h *Hub) Typing(ctx context.Context, connID string, isTyping bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.conns[connID]
	if !ok {
		return apperr.NotParticipant("connection is not bound to a room")
	}

	payload := map[string]any{
		"moment_id": b.momentID,
		"user_id":   b.userID,
		"is_typing": isTyping,
	}
	for id, other := range h.rooms[b.momentID] {
		if id == connID {
			continue
		}
		if err := other.conn.Send("typing", payload); err != nil {
			slog.Debug("failed to relay typing indicator", "conn_id", id, "error", err)
		}
	}

	return nil
}

// RoomCount returns the number of connections bound to a room.
func (h *Hub) RoomCount(momentID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[momentID])
}

// unbindLocked removes a binding and notifies its former room. Callers must
// hold h.mu.
func (h *Hub) unbindLocked(b *binding) {
	delete(h.conns, b.connID)

	room, ok := h.rooms[b.momentID]
	if !ok {
		return
	}
	delete(room, b.connID)
	if len(room) == 0 {
		delete(h.rooms, b.momentID)
	}

	h.broadcastLocked(b.momentID, "participantLeft", map[string]any{
		"moment_id": b.momentID,
		"user_id":   b.userID,
		"count":     len(room),
	})
}

// broadcastLocked delivers an event to a room. Callers must hold h.mu; the
// single lock is what preserves per-room delivery order.
func (h *Hub) broadcastLocked(momentID, event string, payload any) {
	room, ok := h.rooms[momentID]
	if !ok {
		return
	}

	metrics.RoomBroadcasts.WithLabelValues(event).Inc()
	for id, b := range room {
		if err := b.conn.Send(event, payload); err != nil {
			slog.Debug("failed to deliver event", "conn_id", id, "event", event, "error", err)
		}
	}
}
