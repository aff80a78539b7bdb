package web

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"AI-Adventure/server/internal/engine"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512
	sendBuffer     = 32
)

// Client is one websocket subscriber of a session's events
type Client struct {
	ID        string
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte
	Hub       *SessionHub
	closed    atomic.Bool
}

type hubMessage struct {
	sessionID string
	data      []byte
}

// SessionHub fans engine events out to the websocket clients of the session
// they belong to. It implements engine.Notifier.
type SessionHub struct {
	clients    map[string]map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan hubMessage
	done       chan struct{}
	mu         sync.RWMutex

	delivered atomic.Int64
	dropped   atomic.Int64
}

// HubStats are delivery counters of the hub
type HubStats struct {
	Clients   int   `json:"clients"`
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
}

// NewSessionHub creates a hub; Run must be started for it to deliver
func NewSessionHub() *SessionHub {
	return &SessionHub{
		clients:    make(map[string]map[string]*Client),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		broadcast:  make(chan hubMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until ctx is done, then closes
// every client
func (h *SessionHub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.deliver(msg)

		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return
		}
	}
}

// Notify queues an event for the session's clients without blocking
func (h *SessionHub) Notify(event engine.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[Hub] Failed to marshal event: %v", err)
		return
	}
	select {
	case h.broadcast <- hubMessage{sessionID: event.SessionID, data: data}:
	default:
		h.dropped.Inc()
		log.Printf("[Hub] Broadcast channel full, dropping %s event", event.Type)
	}
}

// ClientCount returns the number of connected clients
func (h *SessionHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.clients {
		n += len(clients)
	}
	return n
}

// Stats returns the delivery counters
func (h *SessionHub) Stats() HubStats {
	return HubStats{
		Clients:   h.ClientCount(),
		Delivered: h.delivered.Load(),
		Dropped:   h.dropped.Load(),
	}
}

// Attach queues a connection for registration; the hub starts its pumps once
// it is registered. It returns nil once the hub has stopped.
func (h *SessionHub) Attach(sessionID string, conn *websocket.Conn) *Client {
	client := &Client{
		ID:        newClientID(),
		SessionID: sessionID,
		Conn:      conn,
		Send:      make(chan []byte, sendBuffer),
		Hub:       h,
	}
	select {
	case <-h.done:
		_ = conn.Close()
		return nil
	default:
	}
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return nil
	}
	return client
}

func newClientID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func (h *SessionHub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.clients[client.SessionID]
	if !ok {
		clients = make(map[string]*Client)
		h.clients[client.SessionID] = clients
	}
	clients[client.ID] = client
	log.Printf("[Hub] Client connected: %s (session clients: %d)", client.ID, len(clients))

	go client.writePump()
	go client.readPump()
}

func (h *SessionHub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.clients[client.SessionID]
	if _, ok := clients[client.ID]; !ok {
		return
	}
	delete(clients, client.ID)
	if len(clients) == 0 {
		delete(h.clients, client.SessionID)
	}
	close(client.Send)
	log.Printf("[Hub] Client disconnected: %s", client.ID)
}

func (h *SessionHub) deliver(msg hubMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients[msg.sessionID] {
		select {
		case client.Send <- msg.data:
			h.delivered.Inc()
		default:
			h.dropped.Inc()
			log.Printf("[Hub] Client send buffer full: %s", client.ID)
		}
	}
}

func (h *SessionHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sessionID, clients := range h.clients {
		for _, client := range clients {
			close(client.Send)
		}
		delete(h.clients, sessionID)
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[Client] Error writing to %s: %v", c.ID, err)
				return
			}

		case <-ticker.C:
			if c.closed.Load() {
				return
			}
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only consumes control frames; clients never send commands here
func (c *Client) readPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Client] Unexpected close from %s: %v", c.ID, err)
			}
			return
		}
	}
}

// Close closes the connection once
func (c *Client) Close() {
	if c.closed.CompareAndSwap(false, true) {
		_ = c.Conn.Close()
	}
}
