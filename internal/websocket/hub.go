// Package websocket provides WebSocket connection management and per-user
// notification delivery.
package websocket

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrQueueFull is returned when the hub cannot accept another delivery.
var ErrQueueFull = errors.New("websocket delivery queue full")

// delivery is a serialized message addressed to a set of users, or to a
// single connection when client is set.
type delivery struct {
	recipients []string
	client     *Client
	data       []byte
}

// Hub maintains the set of active WebSocket clients, indexed by user.
type Hub struct {
	// Registered clients per user
	clients map[string]map[*Client]bool

	// Outbound messages addressed to users
	deliveries chan delivery

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	// Mutex for thread-safe client access
	mu sync.RWMutex

	logger *slog.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		deliveries: make(chan delivery, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's main event loop and returns when ctx is done.
// This should be called in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			close(h.done)
			return

		case client := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[client.userID]
			if !ok {
				set = make(map[*Client]bool)
				h.clients[client.userID] = set
			}
			set[client] = true
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", "user_id", client.userID, "total", h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			h.logger.Debug("websocket client disconnected", "user_id", client.userID, "total", h.ClientCount())

		case d := <-h.deliveries:
			h.mu.Lock()
			if d.client != nil {
				if h.clients[d.client.userID][d.client] {
					h.push(d.client, d.data)
				}
			}
			for _, userID := range d.recipients {
				for client := range h.clients[userID] {
					h.push(client, d.data)
				}
			}
			h.mu.Unlock()
		}
	}
}

// push queues data on client. Callers hold h.mu.
func (h *Hub) push(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		// Client send buffer full, close connection
		h.remove(client)
	}
}

// remove drops client and closes its send channel. Callers hold h.mu.
func (h *Hub) remove(client *Client) {
	set, ok := h.clients[client.userID]
	if !ok || !set[client] {
		return
	}
	delete(set, client)
	close(client.send)
	if len(set) == 0 {
		delete(h.clients, client.userID)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.clients {
		for client := range set {
			h.remove(client)
		}
	}
}

// Send queues data for every connection of the given users.
func (h *Hub) Send(recipients []string, data []byte) error {
	select {
	case h.deliveries <- delivery{recipients: recipients, data: data}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Reply queues data for a single connection.
func (h *Hub) Reply(client *Client, data []byte) error {
	select {
	case h.deliveries <- delivery{client: client, data: data}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Register adds a client to the hub. It reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// Connected reports whether userID has at least one open connection.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// Client represents a WebSocket connection of one user.
type Client struct {
	hub    *Hub
	userID string
	send   chan []byte
}

// NewClient creates a new WebSocket client for userID.
func NewClient(hub *Hub, userID string) *Client {
	return &Client{
		hub:    hub,
		userID: userID,
		send:   make(chan []byte, 256),
	}
}

// UserID returns the user the connection belongs to.
func (c *Client) UserID() string {
	return c.userID
}

// Send returns the send channel for the client.
func (c *Client) Send() chan []byte {
	return c.send
}
