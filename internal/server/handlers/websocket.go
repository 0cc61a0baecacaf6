package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"huddle/internal/apperr"
	"huddle/internal/metrics"
	"huddle/internal/service/presence"
)

// WebSocketConfig contains timing configuration for WebSocket connections
type WebSocketConfig struct {
	// Time allowed to write a message to the peer
	WriteWait time.Duration

	// Time allowed to read the next pong message from the peer
	PongWait time.Duration

	// Send pings to peer with this period
	PingPeriod time.Duration

	// Maximum message size allowed from peer
	MaxMessageSize int64

	// Sustained and burst inbound frame rates per connection
	FrameRate  rate.Limit
	FrameBurst int
}

// DefaultWebSocketConfig returns the default WebSocket configuration
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     (60 * time.Second * 9) / 10,
		MaxMessageSize: 4096,
		FrameRate:      rate.Limit(10),
		FrameBurst:     20,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Cookie-based identity carries no privileges worth forging; the
		// deployment fronts this with CORS at the LB when it matters.
		return true
	},
}

// envelope is the wire format for every server-to-client event.
type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// inboundFrame is the wire format for client-to-server frames.
type inboundFrame struct {
	Type     string `json:"type"`
	MomentID string `json:"moment_id,omitempty"`
	Text     string `json:"text,omitempty"`
	IsTyping bool   `json:"is_typing,omitempty"`
}

// wsClient bridges one WebSocket connection and the presence hub. The send
// channel decouples hub broadcasts from the peer's write speed; a peer that
// cannot keep up loses events rather than blocking the room.
type wsClient struct {
	connID  string
	userID  string
	conn    *websocket.Conn
	send    chan []byte
	hub     *presence.Hub
	config  WebSocketConfig
	limiter *rate.Limiter
}

// Send implements the hub's connection interface. It never blocks: when the
// outbound buffer is full the event is dropped for this client only.
func (c *wsClient) Send(event string, payload any) error {
	data, err := json.Marshal(envelope{Event: event, Data: payload})
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// WebSocketHandler upgrades the connection and runs the read/write pumps.
// All room interaction flows through the presence hub.
func WebSocketHandler(hub *presence.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := CurrentUserID(r)
		if userID == "" {
			respondWithError(w, apperr.Unauthenticated("missing anonymous identity"))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "error", err)
			return
		}

		config := DefaultWebSocketConfig()
		client := &wsClient{
			connID:  uuid.New().String(),
			userID:  userID,
			conn:    conn,
			send:    make(chan []byte, 256),
			hub:     hub,
			config:  config,
			limiter: rate.NewLimiter(config.FrameRate, config.FrameBurst),
		}

		metrics.WSConnections.Inc()
		go client.writePump()
		go client.readPump()
	}
}

// readPump reads frames from the peer and dispatches them to the hub.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.Leave(context.Background(), c.connID)
		c.conn.Close()
		close(c.send)
		metrics.WSConnections.Dec()
	}()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("websocket read error", "conn_id", c.connID, "error", err)
			}
			return
		}

		if !c.limiter.Allow() {
			c.sendError(apperr.Validation("too many frames, slow down"))
			continue
		}

		c.handleFrame(message)
	}
}

// writePump writes outbound events and keepalive pings to the peer.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame dispatches one inbound frame. Failures are reported to this
// connection only; they never tear the connection down.
func (c *wsClient) handleFrame(message []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		c.sendError(apperr.Validation("malformed frame"))
		return
	}

	ctx := context.Background()

	switch frame.Type {
	case "join":
		if frame.MomentID == "" {
			c.sendError(apperr.Validation("missing moment_id"))
			return
		}
		if err := c.hub.Join(ctx, c.connID, c, frame.MomentID, c.userID); err != nil {
			c.sendError(err)
			return
		}
		if err := c.Send("joined", map[string]any{"moment_id": frame.MomentID}); err != nil {
			slog.Debug("failed to confirm join", "conn_id", c.connID, "error", err)
		}

	case "leave":
		c.hub.Leave(ctx, c.connID)

	case "message":
		if _, err := c.hub.SendMessage(ctx, c.connID, frame.Text); err != nil {
			c.sendError(err)
		}

	case "typing":
		if err := c.hub.Typing(ctx, c.connID, frame.IsTyping); err != nil {
			c.sendError(err)
		}

	default:
		c.sendError(apperr.Validation("unknown frame type"))
	}
}

// sendError delivers a structured error event to this connection.
func (c *wsClient) sendError(err error) {
	kind := apperr.KindOf(err)
	message := "internal error"

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	} else {
		kind = "internal"
		slog.Error("websocket frame failed", "conn_id", c.connID, "error", err)
	}

	if sendErr := c.Send("error", map[string]any{
		"kind":    string(kind),
		"message": message,
	}); sendErr != nil {
		slog.Debug("failed to deliver error event", "conn_id", c.connID, "error", sendErr)
	}
}
