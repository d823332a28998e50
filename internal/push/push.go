// Package push fans enriched events out to websocket clients. The hub
// is delivery-only: clients receive the reconciled event stream as JSON
// frames and send nothing back but control messages.
package push

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/louisbranch/squadops/internal/reconcile"
	"github.com/louisbranch/squadops/internal/squad"
)

const (
	writeTimeout = 10 * time.Second
	// sendBuffer bounds per-client queueing; a client that cannot keep
	// up is dropped rather than allowed to stall the fanout.
	sendBuffer = 64
)

// Frame is the JSON unit sent to clients: the event envelope plus the
// annotations resolved during reconciliation.
type Frame struct {
	Event    json.RawMessage `json:"event"`
	Player   *squad.Player   `json:"player,omitempty"`
	Squad    *squad.Squad    `json:"squad,omitempty"`
	Victim   *squad.Player   `json:"victim,omitempty"`
	Attacker *squad.Player   `json:"attacker,omitempty"`
	Admin    bool            `json:"admin,omitempty"`
	Noop     string          `json:"noop,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Hub tracks connected clients and broadcasts frames to all of them.
type Hub struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub returns an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		log: logger.With().Str("module", "push").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		clients: map[*client]struct{}{},
	}
}

// Broadcast sends one enriched event to every connected client. admin
// marks the event's subject as a listed admin; it annotates the frame
// only.
func (h *Hub) Broadcast(event reconcile.Enriched, admin bool) {
	envelope, err := squad.MarshalEvent(event.Event)
	if err != nil {
		h.log.Error().Err(err).Str("kind", event.Kind()).Msg("event encode failed, frame dropped")
		return
	}
	data, err := json.Marshal(Frame{
		Event:    envelope,
		Player:   event.Player,
		Squad:    event.Squad,
		Victim:   event.Victim,
		Attacker: event.Attacker,
		Admin:    admin,
		Noop:     event.NoopReason,
	})
	if err != nil {
		h.log.Error().Err(err).Str("kind", event.Kind()).Msg("frame encode failed, frame dropped")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Warn().Msg("slow websocket client dropped")
			delete(h.clients, c)
			c.close()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

// ServeHTTP upgrades the request and streams frames until the client
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)

	// The read loop only exists to observe the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.drop(c)
}

func (h *Hub) writePump(c *client) {
	defer func() { _ = c.conn.Close() }()
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.drop(c)
			return
		}
	}
	message := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
	_ = c.conn.WriteMessage(websocket.CloseMessage, message)
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}
