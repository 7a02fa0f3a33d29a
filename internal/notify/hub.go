package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ssd-technologies/arbiter/internal/escrow"
	"github.com/ssd-technologies/arbiter/internal/ratelimit"
)

// WSMessage is the JSON message format for WebSocket communication.
type WSMessage struct {
	Type    string          `json:"type"` // "subscribe", "ping"
	Payload json.RawMessage `json:"payload"`
}

// WSResponse is a JSON message sent to the client.
type WSResponse struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// SubscribePayload narrows the stream to the listed event types. An empty
// list subscribes to everything.
type SubscribePayload struct {
	Types []string `json:"types"`
}

const (
	sendBuffer   = 256
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans published events out to websocket subscribers. Subscribers that
// fall behind by more than the send buffer are disconnected.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	log     zerolog.Logger
}

type client struct {
	conn *websocket.Conn
	send chan WSResponse

	mu     sync.Mutex
	filter map[string]bool
}

func (c *client) wants(typ string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.filter) == 0 || c.filter[typ]
}

func (c *client) setFilter(types []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = make(map[string]bool, len(types))
	for _, t := range types {
		c.filter[t] = true
	}
}

// NewHub returns an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		log:     log.With().Str("component", "hub").Logger(),
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish queues events for every interested subscriber. It never blocks on
// a slow subscriber.
func (h *Hub) Publish(_ context.Context, events []escrow.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !queue(c, events) {
			h.log.Warn().Msg("dropping slow subscriber")
			delete(h.clients, c)
			close(c.send)
		}
	}
	return nil
}

// queue reports false when c's buffer is full.
func queue(c *client, events []escrow.Event) bool {
	for _, ev := range events {
		if !c.wants(ev.Type) {
			continue
		}
		select {
		case c.send <- WSResponse{Type: "event", Payload: ev}:
		default:
			return false
		}
	}
	return true
}

// ServeHTTP upgrades the connection and streams events until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade")
		return
	}
	c := &client{conn: conn, send: make(chan WSResponse, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(msg); err != nil {
			h.log.Debug().Err(err).Msg("websocket write")
			h.remove(c)
			// drain so Publish never sees a full buffer on a dead client
			for range c.send {
			}
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}

func (h *Hub) readLoop(c *client) {
	defer h.remove(c)

	limiter := ratelimit.New(60, time.Minute)
	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Msg("websocket read")
			}
			return
		}

		if !limiter.Allow() {
			h.reply(c, errorResponse("rate limit exceeded"))
			continue
		}

		switch msg.Type {
		case "subscribe":
			var payload SubscribePayload
			if len(msg.Payload) > 0 {
				if err := json.Unmarshal(msg.Payload, &payload); err != nil {
					h.reply(c, errorResponse("invalid subscribe payload"))
					continue
				}
			}
			c.setFilter(payload.Types)
			h.reply(c, WSResponse{Type: "subscribed", Payload: map[string]any{"types": payload.Types}})
		case "ping":
			h.reply(c, WSResponse{Type: "pong", Payload: map[string]string{"status": "ok"}})
		default:
			h.reply(c, errorResponse("unknown message type: "+msg.Type))
		}
	}
}

// reply queues msg unless the client has already been dropped.
func (h *Hub) reply(c *client, msg WSResponse) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func errorResponse(message string) WSResponse {
	return WSResponse{Type: "error", Payload: map[string]string{"error": message}}
}
