package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agape-peninsula/counsel-api/internal/app/chat"
	"github.com/agape-peninsula/counsel-api/internal/domain"
	"github.com/agape-peninsula/counsel-api/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 16 * 1024
	sendBuffer     = 16
)

// Event is the wire shape for both directions of the push channel.
// UserType refines the reply framing on send-message; absent reads as
// student, matching the REST identity default.
type Event struct {
	Event        string `json:"event"`
	UserID       string `json:"user_id,omitempty"`
	UserType     string `json:"user_type,omitempty"`
	SessionToken string `json:"session_token,omitempty"`
	Message      string `json:"message,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
}

// Hub is the push-style ingress: clients join a room keyed by their user
// id, send chat turns, and receive the ai reply asynchronously. Delivery
// to room members is best-effort; durability lives in the stores.
type Hub struct {
	svc      *chat.Service
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[domain.UserID]map[*client]struct{}
}

type client struct {
	conn   *websocket.Conn
	send   chan Event
	room   domain.UserID
	closed bool
}

func NewHub(svc *chat.Service, allowedOrigin string) *Hub {
	return &Hub{
		svc: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" || allowedOrigin == "*" {
					return true
				}
				return r.Header.Get("Origin") == allowedOrigin
			},
		},
		rooms: make(map[domain.UserID]map[*client]struct{}),
	}
}

// ServeHTTP upgrades the connection and runs the client's read loop.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		observability.Logger().Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan Event, sendBuffer),
	}
	go c.writePump()
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.drop(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			h.send(c, Event{Event: "error", Message: "invalid event payload"})
			continue
		}

		switch ev.Event {
		case "join-chat":
			h.join(c, domain.UserID(ev.UserID))
		case "send-message":
			// The turn runs to completion even if this client goes away;
			// the reply is broadcast to whoever is still in the room.
			go h.handleSend(ev)
		default:
			h.send(c, Event{Event: "error", Message: "unknown event"})
		}
	}
}

func (h *Hub) join(c *client, room domain.UserID) {
	if room == "" {
		h.send(c, Event{Event: "error", Message: "user_id is required to join"})
		return
	}

	h.mu.Lock()
	if c.room != "" {
		delete(h.rooms[c.room], c)
	}
	c.room = room
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*client]struct{})
	}
	h.rooms[room][c] = struct{}{}
	h.mu.Unlock()

	observability.Logger().Info("client joined chat room", "user_id", room)
}

// drop removes a departed client and closes its outbound channel so the
// write pump drains and exits.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.room != "" {
		delete(h.rooms[c.room], c)
		if len(h.rooms[c.room]) == 0 {
			delete(h.rooms, c.room)
		}
	}
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (h *Hub) handleSend(ev Event) {
	room := domain.UserID(ev.UserID)
	log := observability.Logger().With("user_id", ev.UserID, "session_token", ev.SessionToken)

	out, err := h.svc.SendMessage(context.Background(), chat.SendMessageInput{
		Token: domain.SessionToken(ev.SessionToken),
		Identity: domain.Identity{
			UserID:   room,
			UserType: domain.ParseUserType(ev.UserType),
		},
		Body: ev.Message,
	})
	if err != nil {
		log.Error("push-channel turn failed", "error", err)
		h.broadcast(room, Event{Event: "error", Message: "Failed to process message"})
		return
	}

	h.broadcast(room, Event{
		Event:     "ai-response",
		Message:   out.AIMessage.Body,
		Timestamp: out.AIMessage.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// broadcast delivers an event to every member of a room. Clients with a
// full send buffer miss the event rather than stall the room.
func (h *Hub) broadcast(room domain.UserID, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.rooms[room] {
		c.trySend(ev)
	}
}

// send delivers an event to a single client. Must not hold h.mu.
func (h *Hub) send(c *client, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.trySend(ev)
}

// trySend requires the hub lock, which also guards the closed flag.
func (c *client) trySend(ev Event) {
	if c.closed {
		return
	}
	select {
	case c.send <- ev:
	default:
	}
}

func (c *client) writePump() {
	for ev := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(ev); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}
