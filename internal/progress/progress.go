// Package progress broadcasts pipeline progress frames to websocket
// subscribers, grounded on memento's web/handlers/websocket.go hub
// (register/unregister/broadcast channels drained by one Run loop),
// generalized from chat-session broadcast to PipelineController stage
// progress. Ambient and optional: a Hub with no subscribers just drops
// frames, so a headless pipeline run never blocks on this package.
package progress

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// Frame is one progress update passed to Hub.Publish.
type Frame struct {
	Stage          string    `json:"stage"`
	CompletedItems int       `json:"completed_items"`
	TotalItems     int       `json:"total_items"`
	FailedItems    int       `json:"failed_items"`
	Message        string    `json:"message,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

type client interface {
	sendChannel() chan []byte
	close()
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *wsClient) sendChannel() chan []byte { return c.send }
func (c *wsClient) close()                   { _ = c.conn.Close(websocket.StatusNormalClosure, "") }

// Hub fans a stream of Frames out to every subscribed websocket connection.
type Hub struct {
	clients    map[client]bool
	broadcast  chan Frame
	register   chan client
	unregister chan client
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc

	// AllowedOrigins restricts which Origin header values Upgrade accepts.
	// Empty means accept any origin (suitable for a local CLI tool with no
	// browser-facing deployment).
	AllowedOrigins map[string]bool
}

// NewHub creates a Hub. Call Run in a goroutine before Upgrade-ing any
// connection.
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[client]bool),
		broadcast:  make(chan Frame, 256),
		register:   make(chan client),
		unregister: make(chan client),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run processes register/unregister/broadcast events until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.sendChannel())
			}
			h.mu.Unlock()

		case frame := <-h.broadcast:
			h.mu.Lock()
			data, err := json.Marshal(frame)
			if err != nil {
				log.Printf("progress: marshal frame: %v", err)
				h.mu.Unlock()
				continue
			}
			for c := range h.clients {
				select {
				case c.sendChannel() <- data:
				default:
					close(c.sendChannel())
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// Stop disconnects every subscriber and ends Run's loop.
func (h *Hub) Stop() {
	h.cancel()

	h.mu.Lock()
	for c := range h.clients {
		close(c.sendChannel())
		c.close()
	}
	h.clients = make(map[client]bool)
	h.mu.Unlock()
}

// Publish emits a frame to every connected subscriber. Non-blocking: if the
// broadcast buffer is full the frame is dropped and logged, since stale
// progress is harmless and a full buffer usually means nobody's watching.
func (h *Hub) Publish(frame Frame) {
	select {
	case h.broadcast <- frame:
	default:
		log.Println("progress: broadcast buffer full, dropping frame")
	}
}

// ServeHTTP upgrades the request to a websocket and subscribes it to every
// future Publish call until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var opts *websocket.AcceptOptions
	if len(h.AllowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" && !h.AllowedOrigins[origin] {
			http.Error(w, "Forbidden: invalid origin", http.StatusForbidden)
			return
		}
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		log.Printf("progress: upgrade failed: %v", err)
		return
	}

	c := &wsClient{hub: h, conn: conn, send: make(chan []byte, 64)}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (c *wsClient) writePump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for message := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, message)
		cancel()
		if err != nil {
			return
		}
	}
}

// readPump drains inbound messages purely to detect disconnects; subscribers
// have nothing to send the hub.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			return
		}
	}
}
