// Package ws is the broadcast channel: one Hub fans every server event out to
// all connected WebSocket clients and hands their inbound frames to a
// MessageHandler.
package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/lagz0ne/claude-web/internal/metrics"
)

// sendBufferSize is the number of frames a client may have queued before it
// is considered dead.
const sendBufferSize = 256

// MessageHandler consumes raw inbound client frames.
type MessageHandler interface {
	Handle(ctx context.Context, raw []byte)
}

// MessageHandlerFunc adapts a function to MessageHandler.
type MessageHandlerFunc func(ctx context.Context, raw []byte)

func (f MessageHandlerFunc) Handle(ctx context.Context, raw []byte) { f(ctx, raw) }

// Client is one WebSocket connection subscribed to the hub.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.Mutex
	closed bool
}

// NewClient creates a client for conn. conn may be nil in tests.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
}

// Send queues data for the client. It returns false if the client is closed
// or its buffer is full, in which case the client is closed.
func (c *Client) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		c.closeLocked()
		return false
	}
}

// Close closes the client's send queue.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed reports whether the client has been closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// SendChan returns the client's outbound queue.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// Hub owns the set of connected clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	metrics *metrics.Metrics
}

// NewHub creates an empty hub. m may be nil.
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		metrics: m,
	}
}

// Register subscribes client to every subsequent publish.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.ClientsConnected(n)
	log.Debug().Int("clients", n).Msg("Client connected")
}

// Unregister removes client and closes it.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	client.Close()
	if ok {
		h.metrics.ClientsConnected(n)
		log.Debug().Int("clients", n).Msg("Client disconnected")
	}
}

// Publish sends data to every client. Clients that cannot take the frame are
// removed; the rest still receive it.
func (h *Hub) Publish(data []byte) {
	h.mu.RLock()
	var dead []*Client
	for client := range h.clients {
		if !client.Send(data) {
			dead = append(dead, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range dead {
		log.Warn().Msg("Dropping unresponsive client")
		h.Unregister(client)
	}
}

// PublishJSON marshals v and publishes it.
func (h *Hub) PublishJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Publish(data)
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
	h.metrics.ClientsConnected(0)
}
