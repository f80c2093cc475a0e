package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/absens/internal/models"
	"github.com/your-org/absens/internal/observability"
	"github.com/your-org/absens/pkg/apperr"
	"github.com/your-org/absens/pkg/dto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a connected WebSocket client.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	kind string // optional filter
}

type message struct {
	kind string
	data []byte
}

// Hub maintains active WebSocket clients and fans record activity out to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub event loop until ctx is done. Call this in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.remove(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			observability.WSConnections.Inc()
			slog.Debug("ws client connected", "filter", client.kind)

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			slog.Debug("ws client disconnected")

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if client.kind != "" && client.kind != msg.kind {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// slow client: drop it rather than block the feed
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with mu held.
func (h *Hub) remove(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		observability.WSConnections.Dec()
	}
}

// BroadcastRecordEvent sends a record event to all subscribed clients. It never
// blocks; events are dropped while the hub is saturated.
func (h *Hub) BroadcastRecordEvent(evt models.RecordEvent) {
	data, err := json.Marshal(dto.WSEvent{
		Type:     evt.Type,
		Kind:     string(evt.Kind),
		RecordID: evt.RecordID,
		Status:   string(evt.Status),
		SentAt:   time.Now().UTC().Format("2006-01-02T15:04:05Z"),
	})
	if err != nil {
		slog.Error("marshal ws event", "error", err)
		return
	}
	select {
	case h.broadcast <- message{kind: string(evt.Kind), data: data}:
	default:
		slog.Warn("ws broadcast buffer full, dropping event", "record_id", evt.RecordID)
	}
}

// HandleWS handles WebSocket upgrade requests. ?kind= limits the feed to one record kind.
func (h *Hub) HandleWS(c *gin.Context) {
	var filter string
	if k := c.Query("kind"); k != "" {
		kind, err := models.ParseKind(k)
		if err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), Code: string(apperr.CodeValidation)})
			return
		}
		filter = string(kind)
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 64),
		kind: filter,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	// Incoming messages are ignored; the loop only detects disconnection.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
