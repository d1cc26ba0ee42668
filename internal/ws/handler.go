package ws

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tagstream/internal/subscription"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// Handler handles WebSocket connections
type Handler struct {
	manager *subscription.Manager
	opts    Options
	logger  zerolog.Logger

	mu      sync.Mutex
	clients map[string]*Client
	closed  bool
}

// NewHandler creates a new WebSocket handler
func NewHandler(manager *subscription.Manager, opts Options, logger zerolog.Logger) *Handler {
	return &Handler{
		manager: manager,
		opts:    opts,
		logger:  logger.With().Str("component", "ws").Logger(),
		clients: make(map[string]*Client),
	}
}

// ServeHTTP handles WebSocket upgrade requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := NewClient(conn, h.manager, h.opts, r.RemoteAddr, h.logger)
	client.onClose = h.remove

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client.ID()] = client
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info().
		Str("client", client.ID()).
		Str("remoteAddr", r.RemoteAddr).
		Int("clients", count).
		Msg("new WebSocket connection")

	client.Run(r.Context())
}

func (h *Handler) remove(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ID())
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients
func (h *Handler) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// SubscriptionCount returns the number of subscriptions held by connected clients
func (h *Handler) SubscriptionCount() int {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	n := 0
	for _, c := range clients {
		n += c.SubscriptionCount()
	}
	return n
}

// Close disconnects every client and rejects new connections
func (h *Handler) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}

	h.logger.Info().Int("clients", len(clients)).Msg("WebSocket handler closed")
}
